package integration_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/audit"
	"github.com/jcheng510/coingame-sub001/internal/config"
	"github.com/jcheng510/coingame-sub001/internal/database"
	"github.com/jcheng510/coingame-sub001/internal/domain"
	"github.com/jcheng510/coingame-sub001/internal/integration"
	"github.com/jcheng510/coingame-sub001/internal/logger"
	"github.com/jcheng510/coingame-sub001/internal/repository"
	"github.com/jcheng510/coingame-sub001/internal/rules"
	"github.com/jcheng510/coingame-sub001/internal/scorer"
	"github.com/jcheng510/coingame-sub001/internal/snapshot"
	"github.com/jcheng510/coingame-sub001/internal/task"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

type fixture struct {
	db     *gorm.DB
	log    audit.Log
	store  integration.TaskStore
	domain *fakeDomain
}

func newFixture(t *testing.T) *fixture {
	db := setupTestDB(t)
	log := audit.NewLog(db)
	return &fixture{
		db:     db,
		log:    log,
		store:  integration.NewTaskStore(db, log),
		domain: newFakeDomain(),
	}
}

func (f *fixture) executor(timeout time.Duration) *integration.Executor {
	return integration.NewExecutor(f.store, domain.NewServices(f.domain), timeout, logger.Discard())
}

func (f *fixture) logs(t *testing.T, taskID string) []*audit.Entry {
	t.Helper()
	entries, err := f.log.List(context.Background(), &audit.Filter{TaskID: &taskID})
	require.NoError(t, err)
	return entries
}

func (f *fixture) actions(t *testing.T, taskID string) []string {
	entries := f.logs(t, taskID)
	out := make([]string, 0, len(entries))
	// List 按写入倒序返回
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i].Action)
	}
	return out
}

func (f *fixture) seedRule(t *testing.T, r *rules.Rule) {
	t.Helper()
	require.NoError(t, r.Validate())
	m, err := r.ToModel()
	require.NoError(t, err)
	require.NoError(t, repository.NewRuleRepository(f.db).Create(context.Background(), m))
}

func conf(v float64) *float64 { return &v }

func strPtr(s string) *string { return &s }

func poProposal(materialID int64, confidence float64, ruleID *string) *task.Proposal {
	return &task.Proposal{
		TaskType:   types.TaskTypeGeneratePO,
		Priority:   types.PriorityHigh,
		Payload:    &task.GeneratePOPayload{VendorID: 2, RawMaterialID: materialID, Quantity: 500, TotalAmount: "5000.00"},
		Reasoning:  "stock below reorder point",
		Confidence: conf(confidence),
		RuleID:     ruleID,
	}
}

func lowStockRule(id string, threshold *float64) *rules.Rule {
	return &rules.Rule{
		ID:                   id,
		Name:                 "Low stock " + id,
		RuleType:             types.RuleTypeLowStock,
		TriggerCondition:     rules.Condition{Field: "current_stock", Operator: rules.OpLte, Ref: "reorder_point"},
		ActionType:           types.TaskTypeGeneratePO,
		Priority:             types.PriorityHigh,
		AutoApproveThreshold: threshold,
		IsActive:             true,
	}
}

func sampleSnapshot() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		TakenAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Materials: []snapshot.Material{
			{ID: 1, Name: "Steel rod", CurrentStock: 40, ReorderPoint: 250, PreferredVendorID: 2, LastUnitCost: 11},
			{ID: 2, Name: "Copper wire", CurrentStock: 900, ReorderPoint: 300, PreferredVendorID: 3, LastUnitCost: 4},
		},
		Quotes: []snapshot.Quote{
			{RawMaterialID: 1, VendorID: 2, UnitCost: 10, QuotedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		},
		Vendors: []snapshot.Vendor{{ID: 2, Name: "Acme"}, {ID: 3, Name: "Cuprum"}},
	}
}

func staticSnapshot(s *snapshot.Snapshot) snapshot.Provider {
	return snapshot.ProviderFunc(func(ctx context.Context) (*snapshot.Snapshot, error) {
		return s, nil
	})
}

// fakeScorer 固定置信度, 可按规则注入失败
type fakeScorer struct {
	confidence float64
	suggest    map[string]interface{}
	failRules  map[string]error
}

func (s *fakeScorer) Score(ctx context.Context, req *scorer.Request) (*scorer.Score, error) {
	if err, ok := s.failRules[req.RuleID]; ok {
		return nil, err
	}
	return &scorer.Score{
		Reasoning:           "matched " + req.Subject,
		Confidence:          s.confidence,
		SuggestedParameters: s.suggest,
	}, nil
}

// fakeDomain 在 DryRun 之上注入失败或挂起
type fakeDomain struct {
	*domain.DryRun
	failOn string
	hangOn string
}

func newFakeDomain() *fakeDomain {
	return &fakeDomain{DryRun: domain.NewDryRun()}
}

func (f *fakeDomain) intercept(ctx context.Context, method string) error {
	if f.hangOn == method {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.failOn == method {
		return &domain.Error{Code: "UNAVAILABLE", Message: method + " is down", Retryable: true}
	}
	return nil
}

func (f *fakeDomain) CreatePurchaseOrder(ctx context.Context, key string, po *domain.PurchaseOrder) (string, error) {
	if err := f.intercept(ctx, "CreatePurchaseOrder"); err != nil {
		return "", err
	}
	return f.DryRun.CreatePurchaseOrder(ctx, key, po)
}

func (f *fakeDomain) CreateRFQ(ctx context.Context, key string, rfq *domain.RFQ) (string, error) {
	if err := f.intercept(ctx, "CreateRFQ"); err != nil {
		return "", err
	}
	return f.DryRun.CreateRFQ(ctx, key, rfq)
}

func (f *fakeDomain) InviteVendor(ctx context.Context, key string, rfqID string, vendorID int64) (string, error) {
	if err := f.intercept(ctx, "InviteVendor"); err != nil {
		return "", err
	}
	return f.DryRun.InviteVendor(ctx, key, rfqID, vendorID)
}

func (f *fakeDomain) SendEmail(ctx context.Context, key string, msg *domain.EmailMessage) (string, error) {
	if err := f.intercept(ctx, "SendEmail"); err != nil {
		return "", err
	}
	return f.DryRun.SendEmail(ctx, key, msg)
}

func (f *fakeDomain) MarkOnOrder(ctx context.Context, key string, materialID int64, purchaseOrderID string) (string, error) {
	if err := f.intercept(ctx, "MarkOnOrder"); err != nil {
		return "", err
	}
	return f.DryRun.MarkOnOrder(ctx, key, materialID, purchaseOrderID)
}

func (f *fakeDomain) count(method string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// recordingEnqueuer 记录入队顺序
type recordingEnqueuer struct {
	mu  sync.Mutex
	ids []string
}

func (e *recordingEnqueuer) Enqueue(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, id)
	return true
}

func (e *recordingEnqueuer) queued() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ids...)
}

var errScorerDown = errors.New("scorer unavailable")
