package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jcheng510/coingame-sub001/internal/api"
	"github.com/jcheng510/coingame-sub001/internal/audit"
	"github.com/jcheng510/coingame-sub001/internal/config"
	"github.com/jcheng510/coingame-sub001/internal/database"
	"github.com/jcheng510/coingame-sub001/internal/domain"
	"github.com/jcheng510/coingame-sub001/internal/integration"
	"github.com/jcheng510/coingame-sub001/internal/logger"
	"github.com/jcheng510/coingame-sub001/internal/service"
	"github.com/jcheng510/coingame-sub001/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Detail  string          `json:"detail"`
}

type page struct {
	Items      []map[string]interface{} `json:"items"`
	Pagination api.PaginationInfo       `json:"pagination"`
}

// fakeRunner 记录触发请求
type fakeRunner struct {
	mu       sync.Mutex
	triggers []integration.Trigger
	report   *integration.CycleReport
	err      error
}

func (r *fakeRunner) RunCycle(_ context.Context, trig integration.Trigger) (*integration.CycleReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, trig)
	if r.err != nil {
		return nil, r.err
	}
	if r.report != nil {
		return r.report, nil
	}
	return &integration.CycleReport{Source: trig.Source, Totals: map[string]int{}}, nil
}

type testServer struct {
	router *gin.Engine
	runner *fakeRunner
	log    audit.Log
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	api.SetLogger(logger.Discard())

	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	log := audit.NewLog(db)
	store := integration.NewTaskStore(db, log)
	executor := integration.NewExecutor(store, domain.NewServices(domain.NewDryRun()), time.Second, logger.Discard())
	gate := integration.NewApprovalGate(store, nil, false)
	query := service.NewQueryService(store, log)
	runner := &fakeRunner{}

	router := api.SetupRoutes(api.RouterOptions{
		DB:         db,
		Tasks:      service.NewTaskService(store, gate, executor, log),
		Rules:      service.NewRuleService(db, log),
		Queries:    query,
		Statistics: service.NewStatisticsService(db),
		Engine:     runner,
	})
	return &testServer{router: router, runner: runner, log: log}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func poBody(materialID int) map[string]interface{} {
	return map[string]interface{}{
		"task_type": "generate_po",
		"priority":  "high",
		"payload": map[string]interface{}{
			"vendor_id":       2,
			"raw_material_id": materialID,
			"quantity":        100,
			"unit_cost":       2.5,
		},
		"reasoning":  "stock below reorder point",
		"confidence": 72.5,
		"actor":      "buyer-1",
	}
}

type createdTask struct {
	Task struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"task"`
	Suppressed bool `json:"suppressed"`
}

func (s *testServer) createTask(t *testing.T, materialID int) string {
	t.Helper()
	w, env := s.do(t, http.MethodPost, "/api/v1/tasks", poBody(materialID))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res createdTask
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res.Task.ID
}

// TestTaskAPI_Lifecycle 测试提交, 审批, 执行与日志查询
func TestTaskAPI_Lifecycle(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(t, http.MethodPost, "/api/v1/tasks", poBody(1))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created createdTask
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "pending_approval", created.Task.Status)
	id := created.Task.ID
	assert.NotEmpty(t, w.Header().Get(api.RequestIDHeader))

	// 相同去重键返回已有任务
	w, env = s.do(t, http.MethodPost, "/api/v1/tasks", poBody(1))
	require.Equal(t, http.StatusOK, w.Code)
	var dup createdTask
	require.NoError(t, json.Unmarshal(env.Data, &dup))
	assert.True(t, dup.Suppressed)
	assert.Equal(t, id, dup.Task.ID)

	w, env = s.do(t, http.MethodGet, "/api/v1/tasks/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "generate_po", got["task_type"])
	assert.Equal(t, 72.5, got["confidence"])

	w, env = s.do(t, http.MethodPost, "/api/v1/tasks/"+id+"/approve", map[string]string{"approver_id": "7"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "approved", got["status"])
	assert.Equal(t, "7", got["approved_by"])

	// 重复审批为非法状态转换
	w, env = s.do(t, http.MethodPost, "/api/v1/tasks/"+id+"/approve", map[string]string{"approver_id": "8"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, http.StatusConflict, env.Code)

	w, env = s.do(t, http.MethodPost, "/api/v1/tasks/"+id+"/execute", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "completed", got["status"])
	assert.NotNil(t, got["result"])

	w, env = s.do(t, http.MethodGet, "/api/v1/tasks/"+id+"/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &logs))
	// created, duplicate_suppressed, approved, executing, completed
	require.Len(t, logs, 5)
	assert.Equal(t, "task_completed", logs[0]["action"])
	assert.Equal(t, "duplicate_suppressed", logs[3]["action"])
	assert.Equal(t, "task_created", logs[4]["action"])
}

// TestTaskAPI_Errors 测试错误映射
func TestTaskAPI_Errors(t *testing.T) {
	s := newTestServer(t)
	id := s.createTask(t, 1)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"unknown task", http.MethodGet, "/api/v1/tasks/does-not-exist", nil, http.StatusNotFound},
		{"invalid id", http.MethodGet, "/api/v1/tasks/bad%20id", nil, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/v1/tasks", "{", http.StatusBadRequest},
		{"unsupported type", http.MethodPost, "/api/v1/tasks", map[string]interface{}{
			"task_type": "launch_rocket", "payload": map[string]int{"x": 1}, "reasoning": "r", "confidence": 50,
		}, http.StatusBadRequest},
		{"confidence out of range", http.MethodPost, "/api/v1/tasks", func() map[string]interface{} {
			b := poBody(2)
			b["confidence"] = 120
			return b
		}(), http.StatusBadRequest},
		{"approve without approver", http.MethodPost, "/api/v1/tasks/" + id + "/approve", map[string]string{}, http.StatusBadRequest},
		{"reject without reason", http.MethodPost, "/api/v1/tasks/" + id + "/reject", map[string]string{"approver_id": "7"}, http.StatusBadRequest},
		{"execute pending task", http.MethodPost, "/api/v1/tasks/" + id + "/execute", nil, http.StatusConflict},
		{"logs of unknown task", http.MethodGet, "/api/v1/tasks/missing/logs", nil, http.StatusNotFound},
		{"negative page", http.MethodGet, "/api/v1/tasks?page=-1", nil, http.StatusBadRequest},
		{"unknown status", http.MethodGet, "/api/v1/tasks?status=archived", nil, http.StatusBadRequest},
		{"unknown sort field", http.MethodGet, "/api/v1/tasks?sort_by=payload", nil, http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/api/v1/templates", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.status, env.Code)
			assert.NotEmpty(t, env.Message)
		})
	}
}

// TestTaskAPI_RejectAndBatchApprove 测试拒绝与批量审批
func TestTaskAPI_RejectAndBatchApprove(t *testing.T) {
	s := newTestServer(t)
	a := s.createTask(t, 1)
	b := s.createTask(t, 2)
	c := s.createTask(t, 3)

	w, env := s.do(t, http.MethodPost, "/api/v1/tasks/"+a+"/reject", map[string]string{
		"approver_id": "7",
		"reason":      "vendor on hold",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "rejected", got["status"])
	assert.Equal(t, "vendor on hold", got["rejection_reason"])

	w, env = s.do(t, http.MethodPost, "/api/v1/tasks/batch/approve", map[string]interface{}{
		"task_ids":    []string{b, a, c},
		"approver_id": "7",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var results []service.BatchOperationResult
	require.NoError(t, json.Unmarshal(env.Data, &results))
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.NotEmpty(t, results[1].Error)
	assert.True(t, results[2].Success)
}

// TestTaskAPI_ListAndPending 测试任务列表与审批队列分页
func TestTaskAPI_ListAndPending(t *testing.T) {
	s := newTestServer(t)
	for i := 1; i <= 3; i++ {
		s.createTask(t, i)
		time.Sleep(5 * time.Millisecond)
	}

	w, env := s.do(t, http.MethodGet, "/api/v1/tasks?page_size=2&task_type=generate_po", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var p page
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Len(t, p.Items, 2)
	assert.Equal(t, api.PaginationInfo{Page: 1, PageSize: 2, Total: 3, TotalPage: 2}, p.Pagination)

	w, env = s.do(t, http.MethodGet, "/api/v1/tasks?status=completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Empty(t, p.Items)
	assert.Equal(t, int64(0), p.Pagination.Total)

	w, env = s.do(t, http.MethodGet, "/api/v1/approvals/pending?page=2&page_size=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Len(t, p.Items, 1)
	assert.Equal(t, 2, p.Pagination.Page)
	assert.Equal(t, int64(3), p.Pagination.Total)
}

const lowStockRule = `{
  "id": "low-steel",
  "name": "Low steel stock",
  "rule_type": "low_stock",
  "trigger_condition": {"field": "current_stock", "operator": "lte", "ref": "reorder_point"},
  "action_type": "generate_po",
  "priority": "high",
  "auto_approve_threshold": 90,
  "actor": "ops"
}`

// TestRuleAPI 测试规则创建, 查询与启停
func TestRuleAPI(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(t, http.MethodPost, "/api/v1/rules", lowStockRule)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rule map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &rule))
	assert.Equal(t, true, rule["is_active"])
	assert.Equal(t, 90.0, rule["auto_approve_threshold"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/rules", lowStockRule)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.do(t, http.MethodPost, "/api/v1/rules", `{"id":"bad","name":"x","rule_type":"inbound_email","action_type":"generate_po"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Detail, "action_type")

	w, env = s.do(t, http.MethodPatch, "/api/v1/rules/low-steel/active", map[string]interface{}{"is_active": false, "actor": "ops"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &rule))
	assert.Equal(t, false, rule["is_active"])

	var list []map[string]interface{}
	w, env = s.do(t, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Empty(t, list)

	w, env = s.do(t, http.MethodGet, "/api/v1/rules?all=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "low-steel", list[0]["id"])

	w, _ = s.do(t, http.MethodGet, "/api/v1/rules?all=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPatch, "/api/v1/rules/missing/active", map[string]interface{}{"is_active": true})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodPatch, "/api/v1/rules/low-steel/active", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/rules/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 启停都会写入审计日志
	ruleID := "low-steel"
	entries, err := s.log.List(context.Background(), &audit.Filter{RuleID: &ruleID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "rule_deactivated", entries[0].Action)
	assert.Equal(t, "ops", entries[0].Actor)
}

// TestRuleAPI_Import 测试 YAML 导入
func TestRuleAPI_Import(t *testing.T) {
	s := newTestServer(t)
	body := `
rules:
  - id: stale-quotes
    name: Stale quotes
    rule_type: stale_quote
    trigger_condition:
      field: latest_quote_age_days
      operator: gt
      value: 90
    action_type: send_rfq
    is_active: true
`
	w, env := s.do(t, http.MethodPost, "/api/v1/rules/import?actor=ops", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report service.ImportReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, []string{"stale-quotes"}, report.Created)

	w, _ = s.do(t, http.MethodPost, "/api/v1/rules/import", "rules: [")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestTriggerAPI 测试评估触发
func TestTriggerAPI(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(t, http.MethodPost, "/api/v1/triggers", map[string]string{"source": "inbound_email", "rule_type": "inbound_email"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report integration.CycleReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, "inbound_email", report.Source)
	require.Len(t, s.runner.triggers, 1)
	assert.Equal(t, "inbound_email", string(s.runner.triggers[0].RuleType))

	w, _ = s.do(t, http.MethodPost, "/api/v1/triggers", map[string]string{"source": "schedule"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = s.do(t, http.MethodPost, "/api/v1/triggers", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, s.runner.triggers, 1)

	s.runner.report = &integration.CycleReport{Source: "data_mutation", Coalesced: true}
	w, env = s.do(t, http.MethodPost, "/api/v1/triggers", map[string]string{"source": "data_mutation"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "coalesced", env.Message)

	s.runner.report = nil
	s.runner.err = utils.NewValidationError("rule_type", "unsupported rule type %q", "weather")
	w, _ = s.do(t, http.MethodPost, "/api/v1/triggers", map[string]string{"source": "manual", "rule_type": "weather"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.runner.err = fmt.Errorf("failed to load snapshot: %w", context.DeadlineExceeded)
	w, env = s.do(t, http.MethodPost, "/api/v1/triggers", map[string]string{"source": "manual"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, env.Detail, "snapshot")
}

// TestLogAndStatsAPI 测试日志查询与统计
func TestLogAndStatsAPI(t *testing.T) {
	s := newTestServer(t)
	id := s.createTask(t, 1)
	w, _ := s.do(t, http.MethodPost, "/api/v1/tasks/"+id+"/approve", map[string]string{"approver_id": "7"})
	require.Equal(t, http.StatusOK, w.Code)

	w, env := s.do(t, http.MethodGet, "/api/v1/logs?task_id="+id+"&action=task_approved", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var logs []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "approver:7", logs[0]["actor"])

	since := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	w, env = s.do(t, http.MethodGet, "/api/v1/logs?limit=1&since="+since, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &logs))
	assert.Len(t, logs, 1)

	w, _ = s.do(t, http.MethodGet, "/api/v1/logs?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	until := time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339)
	w, _ = s.do(t, http.MethodGet, "/api/v1/logs?since="+since+"&until="+until, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var summary service.Summary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, int64(1), summary.ByStatus["approved"])
	assert.Equal(t, int64(1), summary.Approvals.Approved)
}

// TestRoutes_Health 测试健康检查与指标端点
func TestRoutes_Health(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "api_requests_total")
}
