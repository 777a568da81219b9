package container_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jcheng510/coingame-sub001/internal/api"
	"github.com/jcheng510/coingame-sub001/internal/config"
	"github.com/jcheng510/coingame-sub001/internal/container"
	"github.com/jcheng510/coingame-sub001/internal/database"
	"github.com/jcheng510/coingame-sub001/internal/domain"
	"github.com/jcheng510/coingame-sub001/internal/logger"
	"github.com/jcheng510/coingame-sub001/internal/rules"
	"github.com/jcheng510/coingame-sub001/internal/snapshot"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threshold(v float64) *float64 { return &v }

// TestContainer_AutoApprovedTaskRunsToCompletion 测试评估触发后自动审批任务经执行池完成
func TestContainer_AutoApprovedTaskRunsToCompletion(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api.SetLogger(logger.Discard())

	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Orchestrator.EvaluationSchedule = ""
	cfg.Orchestrator.SweepSchedule = ""
	cfg.RateLimit.Enabled = false

	dryRun := domain.NewDryRun()
	snap := &snapshot.Snapshot{
		TakenAt: time.Now(),
		Materials: []snapshot.Material{
			{ID: 1, Name: "Steel rod", CurrentStock: 40, ReorderPoint: 250, PreferredVendorID: 2, LastUnitCost: 11},
		},
		Vendors: []snapshot.Vendor{{ID: 2, Name: "Acme"}},
	}
	ctr, err := container.NewContainer(cfg, logger.Discard(),
		container.WithDB(db),
		container.WithDomainClient(dryRun),
		container.WithSnapshotProvider(snapshot.ProviderFunc(func(ctx context.Context) (*snapshot.Snapshot, error) {
			return snap, nil
		})),
	)
	require.NoError(t, err)
	ctr.Start()
	t.Cleanup(func() {
		ctr.Close()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	_, err = ctr.Rules().Create(context.Background(), &rules.Rule{
		ID:       "low-steel",
		Name:     "Low steel stock",
		RuleType: types.RuleTypeLowStock,
		TriggerCondition: rules.Condition{
			Field:    "current_stock",
			Operator: rules.OpLte,
			Ref:      "reorder_point",
		},
		ActionType:           types.TaskTypeGeneratePO,
		AutoApproveThreshold: threshold(0),
		IsActive:             true,
	}, "test")
	require.NoError(t, err)

	router := ctr.Router()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/triggers", bytes.NewBufferString(`{"source":"data_mutation"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks?status=completed", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		var body struct {
			Data api.PageData `json:"data"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			return false
		}
		return body.Data.Pagination.Total == 1
	}, 5*time.Second, 20*time.Millisecond)

	calls := dryRun.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "CreatePurchaseOrder", calls[0].Method)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestContainer_RejectsUnknownProviders 测试非法的外部协作方配置
func TestContainer_RejectsUnknownProviders(t *testing.T) {
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	cfg := config.Default()
	cfg.Domain.Provider = "carrier-pigeon"
	_, err = container.NewContainer(cfg, logger.Discard(), container.WithDB(db))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")

	cfg = config.Default()
	cfg.Snapshot.Provider = "crystal-ball"
	_, err = container.NewContainer(cfg, logger.Discard(), container.WithDB(db))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crystal-ball")
}
