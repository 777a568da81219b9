package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/audit"
	"github.com/jcheng510/coingame-sub001/internal/metrics"
	"github.com/jcheng510/coingame-sub001/internal/repository"
	"github.com/jcheng510/coingame-sub001/internal/rules"
	"github.com/jcheng510/coingame-sub001/internal/scorer"
	"github.com/jcheng510/coingame-sub001/internal/snapshot"
	"github.com/jcheng510/coingame-sub001/internal/task"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/jcheng510/coingame-sub001/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// defaultReplyBody 评分服务未给出正文时的邮件回复
const defaultReplyBody = "Thank you for your message. We have received it and will follow up shortly."

// Trigger 触发一次评估的来源
type Trigger struct {
	Source   string         `json:"source"`              // schedule, data_mutation, inbound_email, manual
	RuleType types.RuleType `json:"rule_type,omitempty"` // 为空时评估全部规则
}

// Outcome 单条规则对单个主体的评估结果
type Outcome struct {
	Rule     *rules.Rule
	Subject  string
	Proposal *task.Proposal
	Err      error
}

// RuleReport 单条规则在一次评估中的统计
type RuleReport struct {
	RuleID       string `json:"rule_id"`
	Matches      int    `json:"matches"`
	Created      int    `json:"created"`
	AutoApproved int    `json:"auto_approved"`
	Suppressed   int    `json:"suppressed"`
	Failed       int    `json:"failed"`
}

// CycleReport 一次评估周期的统计
type CycleReport struct {
	Source    string         `json:"source"`
	Coalesced bool           `json:"coalesced"` // 同一来源已有评估在进行,本次合并到其后
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Rules     []*RuleReport  `json:"rules"`
	Tasks     []*task.Task   `json:"tasks,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
	Snapshot  *time.Time     `json:"snapshot_taken_at,omitempty"`
	Totals    map[string]int `json:"totals"`
}

// cycleState 正在进行的评估, again 表示期间又收到同源触发
type cycleState struct {
	again bool
}

// RuleEngine 规则引擎
type RuleEngine struct {
	db            *gorm.DB
	store         TaskStore
	scorer        scorer.Scorer
	snapshots     snapshot.Provider
	log           audit.Log
	enqueuer      Enqueuer
	maxConcurrent int
	logger        *logrus.Logger
	now           func() time.Time

	mu      sync.Mutex
	running map[string]*cycleState
}

// RuleEngineOptions 规则引擎依赖
type RuleEngineOptions struct {
	DB            *gorm.DB
	Store         TaskStore
	Scorer        scorer.Scorer
	Snapshots     snapshot.Provider
	Log           audit.Log
	Enqueuer      Enqueuer // 自动审批的任务直接入队, 可为空
	MaxConcurrent int
	Logger        *logrus.Logger
}

// NewRuleEngine 创建规则引擎
func NewRuleEngine(opts RuleEngineOptions) *RuleEngine {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	return &RuleEngine{
		db:            opts.DB,
		store:         opts.Store,
		scorer:        opts.Scorer,
		snapshots:     opts.Snapshots,
		log:           opts.Log,
		enqueuer:      opts.Enqueuer,
		maxConcurrent: opts.MaxConcurrent,
		logger:        opts.Logger,
		now:           time.Now,
		running:       map[string]*cycleState{},
	}
}

// RunCycle 拉取快照并评估启用的规则。同一来源的评估不重叠,
// 进行中收到的触发合并为结束后的一次重跑。
func (e *RuleEngine) RunCycle(ctx context.Context, trig Trigger) (*CycleReport, error) {
	if trig.Source == "" {
		trig.Source = "manual"
	}
	if trig.RuleType != "" && !trig.RuleType.Valid() {
		return nil, utils.NewValidationError("rule_type", "unsupported rule type %q", trig.RuleType)
	}

	key := trig.Source + "|" + string(trig.RuleType)
	e.mu.Lock()
	if st, ok := e.running[key]; ok {
		st.again = true
		e.mu.Unlock()
		return &CycleReport{Source: trig.Source, Coalesced: true, StartedAt: e.now()}, nil
	}
	st := &cycleState{}
	e.running[key] = st
	e.mu.Unlock()

	for {
		report, err := e.runCycle(ctx, trig)

		e.mu.Lock()
		if !st.again || err != nil || ctx.Err() != nil {
			delete(e.running, key)
			e.mu.Unlock()
			return report, err
		}
		st.again = false
		e.mu.Unlock()
	}
}

func (e *RuleEngine) runCycle(ctx context.Context, trig Trigger) (*CycleReport, error) {
	report := &CycleReport{Source: trig.Source, StartedAt: e.now(), Totals: map[string]int{}}
	log := e.logger.WithFields(logrus.Fields{"source": trig.Source, "rule_type": trig.RuleType})

	snap, err := e.snapshots.Snapshot(ctx)
	if err != nil {
		e.record(ctx, &audit.Entry{
			Action:  types.ActionEvaluationCycle,
			Status:  types.LogStatusError,
			Actor:   types.ActorSystem,
			Message: fmt.Sprintf("evaluation cycle aborted: %v", err),
			Details: map[string]interface{}{"source": trig.Source},
		})
		return nil, fmt.Errorf("failed to take snapshot: %w", err)
	}
	report.Snapshot = &snap.TakenAt

	models, err := repository.NewRuleRepository(e.db).FindActive(ctx, string(trig.RuleType))
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}

	var active []*rules.Rule
	for _, m := range models {
		r, err := rules.FromModel(m)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			e.recordEvaluationError(ctx, m.ID, &utils.RuleEvaluationError{RuleID: m.ID, Err: err})
			continue
		}
		active = append(active, r)
	}

	outcomes := e.Evaluate(ctx, snap, active)

	byRule := make(map[string]*RuleReport, len(active))
	for _, r := range active {
		rr := &RuleReport{RuleID: r.ID}
		byRule[r.ID] = rr
		report.Rules = append(report.Rules, rr)
	}

	for _, o := range outcomes {
		rr := byRule[o.Rule.ID]
		if o.Err != nil {
			rr.Failed++
			report.Errors = append(report.Errors, o.Err.Error())
			e.recordEvaluationError(ctx, o.Rule.ID, o.Err)
			continue
		}
		rr.Matches++

		res, err := e.store.Create(ctx, o.Proposal)
		if err != nil {
			rr.Failed++
			evalErr := &utils.RuleEvaluationError{RuleID: o.Rule.ID, Subject: o.Subject, Err: err}
			report.Errors = append(report.Errors, evalErr.Error())
			e.recordEvaluationError(ctx, o.Rule.ID, evalErr)
			continue
		}
		switch {
		case res.Suppressed:
			rr.Suppressed++
		case res.AutoApproved:
			rr.Created++
			rr.AutoApproved++
			report.Tasks = append(report.Tasks, res.Task)
			if e.enqueuer != nil {
				e.enqueuer.Enqueue(res.Task.ID)
			}
		default:
			rr.Created++
			report.Tasks = append(report.Tasks, res.Task)
		}
	}

	for _, r := range active {
		rr := byRule[r.ID]
		status := types.LogStatusInfo
		outcome := "no_match"
		switch {
		case rr.Failed > 0:
			status = types.LogStatusError
			outcome = "error"
		case rr.Matches > 0:
			outcome = "matched"
		}
		metrics.RecordRuleEvaluation(string(r.RuleType), outcome)
		e.record(ctx, &audit.Entry{
			RuleID:  &r.ID,
			Action:  types.ActionRuleEvaluated,
			Status:  status,
			Actor:   types.RuleActor(r.ID),
			Message: fmt.Sprintf("rule %s matched %d, created %d, suppressed %d, failed %d", r.ID, rr.Matches, rr.Created, rr.Suppressed, rr.Failed),
			Details: map[string]interface{}{
				"source":        trig.Source,
				"matches":       rr.Matches,
				"created":       rr.Created,
				"auto_approved": rr.AutoApproved,
				"suppressed":    rr.Suppressed,
				"failed":        rr.Failed,
			},
		})
		report.Totals["matches"] += rr.Matches
		report.Totals["created"] += rr.Created
		report.Totals["auto_approved"] += rr.AutoApproved
		report.Totals["suppressed"] += rr.Suppressed
		report.Totals["failed"] += rr.Failed
	}

	report.Duration = e.now().Sub(report.StartedAt)
	e.record(ctx, &audit.Entry{
		Action:  types.ActionEvaluationCycle,
		Status:  types.LogStatusInfo,
		Actor:   types.ActorSystem,
		Message: fmt.Sprintf("evaluated %d rules from %s: %d created, %d suppressed, %d failed", len(active), trig.Source, report.Totals["created"], report.Totals["suppressed"], report.Totals["failed"]),
		Details: map[string]interface{}{
			"source":      trig.Source,
			"rules":       len(active),
			"duration_ms": report.Duration.Milliseconds(),
		},
	})
	log.WithFields(logrus.Fields{"rules": len(active), "created": report.Totals["created"], "failed": report.Totals["failed"]}).Info("evaluation cycle finished")
	return report, nil
}

// Evaluate 对快照评估规则并生成带评分的提案,不写入任何状态。
// 规则之间相互独立并发评估,单条规则的失败只体现在其 Outcome 中。
func (e *RuleEngine) Evaluate(ctx context.Context, snap *snapshot.Snapshot, rs []*rules.Rule) []Outcome {
	results := make([][]Outcome, len(rs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrent)
	for i, r := range rs {
		i, r := i, r
		g.Go(func() error {
			results[i] = e.evaluateRule(gctx, snap, r)
			return nil
		})
	}
	_ = g.Wait()

	var out []Outcome
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// candidate 规则匹配后待评分的提案
type candidate struct {
	subject  string
	fields   map[string]interface{}
	payload  task.Payload
	priority types.Priority
}

func (e *RuleEngine) evaluateRule(ctx context.Context, snap *snapshot.Snapshot, r *rules.Rule) []Outcome {
	fail := func(subject string, err error) Outcome {
		return Outcome{Rule: r, Subject: subject, Err: &utils.RuleEvaluationError{RuleID: r.ID, Subject: subject, Err: err}}
	}

	var (
		candidates []candidate
		outcomes   []Outcome
	)
	switch r.RuleType {
	case types.RuleTypeLowStock, types.RuleTypeStaleQuote:
		var matched []snapshot.Material
		for _, m := range snap.Materials {
			subject := fmt.Sprintf("material:%d", m.ID)
			ok, err := r.TriggerCondition.Match(snap.MaterialFields(m))
			if err != nil {
				outcomes = append(outcomes, fail(subject, err))
				continue
			}
			if ok {
				matched = append(matched, m)
			}
		}
		if r.ActionType == types.TaskTypeReorderMaterials {
			cs, errs := e.reorderCandidates(snap, r, matched)
			candidates = append(candidates, cs...)
			for subject, err := range errs {
				outcomes = append(outcomes, fail(subject, err))
			}
			break
		}
		for _, m := range matched {
			c, err := e.materialCandidate(snap, r, m)
			if err != nil {
				outcomes = append(outcomes, fail(fmt.Sprintf("material:%d", m.ID), err))
				continue
			}
			candidates = append(candidates, c)
		}

	case types.RuleTypeInboundEmail:
		for _, em := range snap.Emails {
			subject := fmt.Sprintf("email:%d", em.ID)
			fields := snap.EmailFields(em)
			ok, err := r.TriggerCondition.Match(fields)
			if err != nil {
				outcomes = append(outcomes, fail(subject, err))
				continue
			}
			if !ok {
				continue
			}
			body := r.ActionParams.ReplyBody
			if body == "" {
				body = defaultReplyBody
			}
			candidates = append(candidates, candidate{
				subject:  subject,
				fields:   fields,
				priority: r.Priority,
				payload: &task.SendEmailPayload{
					EmailID:   em.ID,
					To:        em.From,
					Subject:   replySubject(em.Subject),
					Body:      body,
					InReplyTo: em.MessageID,
				},
			})
		}
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, fail(c.subject, err))
			continue
		}
		score, err := e.scorer.Score(ctx, &scorer.Request{
			RuleID:   r.ID,
			RuleName: r.Name,
			RuleType: r.RuleType,
			TaskType: r.ActionType,
			Subject:  c.subject,
			Fields:   c.fields,
			Payload:  c.payload,
		})
		if err != nil {
			outcomes = append(outcomes, fail(c.subject, err))
			continue
		}
		if err := c.payload.Accept(&suggestionApplier{params: score.SuggestedParameters}); err != nil {
			outcomes = append(outcomes, fail(c.subject, err))
			continue
		}

		ruleID := r.ID
		confidence := score.Confidence
		outcomes = append(outcomes, Outcome{
			Rule:    r,
			Subject: c.subject,
			Proposal: &task.Proposal{
				TaskType:   r.ActionType,
				Priority:   c.priority,
				Payload:    c.payload,
				Reasoning:  score.Reasoning,
				Confidence: &confidence,
				RuleID:     &ruleID,
				Actor:      types.RuleActor(r.ID),
			},
		})
	}
	return outcomes
}

// materialCandidate 为单个物料构造采购单或询价单
func (e *RuleEngine) materialCandidate(snap *snapshot.Snapshot, r *rules.Rule, m snapshot.Material) (candidate, error) {
	c := candidate{
		subject:  fmt.Sprintf("material:%d", m.ID),
		fields:   snap.MaterialFields(m),
		priority: materialPriority(r, m.CurrentStock),
	}
	quantity := reorderQuantity(r, m)
	if quantity <= 0 {
		return c, fmt.Errorf("material %d has no reorder point", m.ID)
	}

	switch r.ActionType {
	case types.TaskTypeGeneratePO:
		vendorID, unitCost := sourcing(snap, m)
		if vendorID == 0 {
			return c, fmt.Errorf("material %d has no preferred vendor or quote", m.ID)
		}
		if unitCost <= 0 {
			return c, fmt.Errorf("material %d has no known unit cost", m.ID)
		}
		c.payload = &task.GeneratePOPayload{
			VendorID:      vendorID,
			RawMaterialID: m.ID,
			Quantity:      quantity,
			UnitCost:      unitCost,
			TotalAmount:   task.FormatAmount(float64(quantity) * unitCost),
		}

	case types.TaskTypeSendRFQ:
		vendors := r.ActionParams.VendorIDs
		if len(vendors) == 0 {
			vendors = snap.QuotingVendors(m.ID)
		}
		if len(vendors) == 0 && m.PreferredVendorID > 0 {
			vendors = []int64{m.PreferredVendorID}
		}
		if len(vendors) == 0 {
			return c, fmt.Errorf("no vendors to invite for material %d", m.ID)
		}
		c.payload = &task.SendRFQPayload{
			RawMaterialID: m.ID,
			Quantity:      quantity,
			VendorIDs:     append([]int64(nil), vendors...),
			DueDate:       snap.TakenAt.AddDate(0, 0, r.ActionParams.EffectiveDueInDays()),
			Notes:         r.ActionParams.Notes,
		}

	default:
		return c, fmt.Errorf("rule type %s cannot produce %s", r.RuleType, r.ActionType)
	}
	return c, nil
}

// reorderCandidates 按供应商合并匹配的物料,每个供应商一个补货提案
func (e *RuleEngine) reorderCandidates(snap *snapshot.Snapshot, r *rules.Rule, matched []snapshot.Material) ([]candidate, map[string]error) {
	errs := map[string]error{}
	groups := map[int64][]snapshot.Material{}
	for _, m := range matched {
		vendorID, unitCost := sourcing(snap, m)
		subject := fmt.Sprintf("material:%d", m.ID)
		switch {
		case vendorID == 0:
			errs[subject] = fmt.Errorf("material %d has no preferred vendor or quote", m.ID)
		case unitCost <= 0:
			errs[subject] = fmt.Errorf("material %d has no known unit cost", m.ID)
		case reorderQuantity(r, m) <= 0:
			errs[subject] = fmt.Errorf("material %d has no reorder point", m.ID)
		default:
			groups[vendorID] = append(groups[vendorID], m)
		}
	}

	vendorIDs := make([]int64, 0, len(groups))
	for id := range groups {
		vendorIDs = append(vendorIDs, id)
	}
	sort.Slice(vendorIDs, func(i, j int) bool { return vendorIDs[i] < vendorIDs[j] })

	candidates := make([]candidate, 0, len(vendorIDs))
	for _, vendorID := range vendorIDs {
		materials := groups[vendorID]
		payload := &task.ReorderMaterialsPayload{VendorID: vendorID}
		priority := r.Priority
		// 以库存比例最低的物料作为评分依据
		critical := materials[0]
		var total float64
		for _, m := range materials {
			_, unitCost := sourcing(snap, m)
			qty := reorderQuantity(r, m)
			payload.Items = append(payload.Items, task.ReorderItem{RawMaterialID: m.ID, Quantity: qty, UnitCost: unitCost})
			total += float64(qty) * unitCost
			if materialPriority(r, m.CurrentStock) == types.PriorityUrgent {
				priority = types.PriorityUrgent
			}
			if stockRatio(m) < stockRatio(critical) {
				critical = m
			}
		}
		payload.TotalAmount = task.FormatAmount(total)

		fields := snap.MaterialFields(critical)
		fields["vendor_id"] = vendorID
		fields["item_count"] = len(materials)
		candidates = append(candidates, candidate{
			subject:  fmt.Sprintf("vendor:%d", vendorID),
			fields:   fields,
			payload:  payload,
			priority: priority,
		})
	}
	return candidates, errs
}

// sourcing 返回物料的供应商与单价:优先供应商优先,单价取当前最低报价,否则取上次采购价
func sourcing(snap *snapshot.Snapshot, m snapshot.Material) (int64, float64) {
	best, hasQuote := snap.BestQuote(m.ID)
	vendorID := m.PreferredVendorID
	if vendorID == 0 && hasQuote {
		vendorID = best.VendorID
	}
	unitCost := m.LastUnitCost
	if hasQuote {
		unitCost = best.UnitCost
	}
	return vendorID, unitCost
}

func reorderQuantity(r *rules.Rule, m snapshot.Material) int64 {
	return int64(math.Ceil(m.ReorderPoint * r.ActionParams.EffectiveMultiplier()))
}

func stockRatio(m snapshot.Material) float64 {
	if m.ReorderPoint <= 0 {
		return math.Inf(1)
	}
	return m.CurrentStock / m.ReorderPoint
}

// materialPriority 缺货的低库存规则升级为 urgent
func materialPriority(r *rules.Rule, stock float64) types.Priority {
	if r.RuleType == types.RuleTypeLowStock && stock <= 0 {
		return types.PriorityUrgent
	}
	return r.Priority
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

func (e *RuleEngine) recordEvaluationError(ctx context.Context, ruleID string, err error) {
	details := map[string]interface{}{"error": err.Error()}
	var ee *utils.RuleEvaluationError
	if errors.As(err, &ee) && ee.Subject != "" {
		details["subject"] = ee.Subject
	}
	e.record(ctx, &audit.Entry{
		RuleID:  &ruleID,
		Action:  types.ActionRuleEvaluationError,
		Status:  types.LogStatusError,
		Actor:   types.RuleActor(ruleID),
		Message: err.Error(),
		Details: details,
	})
}

// record 写入与任务无关的日志, 失败只记录不中断评估
func (e *RuleEngine) record(ctx context.Context, entry *audit.Entry) {
	if err := e.log.Record(ctx, entry); err != nil {
		e.logger.WithError(err).WithField("action", entry.Action).Error("failed to record audit entry")
	}
}

// suggestionApplier 应用评分服务建议的参数, 未识别的建议忽略
type suggestionApplier struct {
	params map[string]interface{}
}

func (s *suggestionApplier) quantity() (int64, bool) {
	var v float64
	switch q := s.params["quantity"].(type) {
	case float64:
		v = q
	case int:
		v = float64(q)
	case int64:
		v = float64(q)
	case json.Number:
		f, err := q.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if v <= 0 || v != math.Trunc(v) {
		return 0, false
	}
	return int64(v), true
}

func (s *suggestionApplier) text(key string) (string, bool) {
	v, ok := s.params[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func (s *suggestionApplier) VisitGeneratePO(p *task.GeneratePOPayload) error {
	if q, ok := s.quantity(); ok {
		p.Quantity = q
		if p.UnitCost > 0 {
			p.TotalAmount = task.FormatAmount(float64(q) * p.UnitCost)
		}
	}
	return nil
}

func (s *suggestionApplier) VisitSendRFQ(p *task.SendRFQPayload) error {
	if q, ok := s.quantity(); ok {
		p.Quantity = q
	}
	return nil
}

func (s *suggestionApplier) VisitSendEmail(p *task.SendEmailPayload) error {
	if body, ok := s.text("body"); ok {
		p.Body = body
	}
	if subject, ok := s.text("subject"); ok {
		p.Subject = subject
	}
	return nil
}

func (s *suggestionApplier) VisitReorderMaterials(p *task.ReorderMaterialsPayload) error {
	return nil
}
