package metrics_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jcheng510/coingame-sub001/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeCounter map[string]int64

func (f fakeCounter) CountByStatus(ctx context.Context) (map[string]int64, error) {
	return f, nil
}

// TestHandler_ExposesMetrics 测试指标端点输出业务指标
func TestHandler_ExposesMetrics(t *testing.T) {
	metrics.RecordTaskCreated("generate_po", "created")
	metrics.RecordTransition("pending_approval", "approved")
	metrics.RecordRuleEvaluation("low_stock", "matched")
	metrics.ObserveExecution("generate_po", "completed", 0.2)
	metrics.RecordAPIRequest("GET", "/api/v1/tasks", 200, 0.01)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(body, `autopilot_tasks_created_total{outcome="created",task_type="generate_po"}`))
	assert.True(t, strings.Contains(body, `autopilot_task_transitions_total{from="pending_approval",to="approved"}`))
	assert.True(t, strings.Contains(body, "autopilot_execution_duration_seconds"))
}

// TestCollector_CollectOnce 测试收集状态分布
func TestCollector_CollectOnce(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	c := metrics.NewCollector(db, fakeCounter{"pending_approval": 3}, []string{"pending_approval", "failed"}, 0)
	require.NoError(t, c.CollectOnce(context.Background()))

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `autopilot_tasks_by_status{status="pending_approval"} 3`)
	assert.Contains(t, body, `autopilot_tasks_by_status{status="failed"} 0`)
}

// TestUpdateDatabaseConnections_Nil 测试空连接
func TestUpdateDatabaseConnections_Nil(t *testing.T) {
	assert.Error(t, metrics.UpdateDatabaseConnections(nil))
}
