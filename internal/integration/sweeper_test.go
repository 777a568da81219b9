package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/integration"
	"github.com/jcheng510/coingame-sub001/internal/logger"
	"github.com/jcheng510/coingame-sub001/internal/model"
	"github.com/jcheng510/coingame-sub001/internal/task"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// age 将任务的更新时间回拨
func (f *fixture) age(t *testing.T, id string, d time.Duration) {
	t.Helper()
	require.NoError(t, f.db.Model(&model.TaskModel{}).Where("id = ?", id).
		UpdateColumn("updated_at", time.Now().Add(-d)).Error)
}

// TestSweeper_FailStale 测试长时间无进展的执行被置为 failed 并保留部分结果
func TestSweeper_FailStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.approvedTask(t, poProposal(1, 80, nil))
	_, err := f.store.Claim(ctx, id)
	require.NoError(t, err)

	partial := &task.Result{PurchaseOrderID: "PO-9"}
	partial.Record("create_purchase_order", "PO-9", task.StepSucceeded)
	require.NoError(t, f.store.RecordProgress(ctx, id, partial))
	f.age(t, id, time.Hour)

	sweeper := integration.NewSweeper(f.db, f.store, nil, 10*time.Minute, 0, logger.Discard())
	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Expired)

	failed, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "execution interrupted")
	require.NotNil(t, failed.Result)
	assert.Equal(t, "PO-9", failed.Result.PurchaseOrderID)
}

// TestSweeper_LeavesFreshExecutions 测试仍在进行的执行不受影响
func TestSweeper_LeavesFreshExecutions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.approvedTask(t, poProposal(1, 80, nil))
	_, err := f.store.Claim(ctx, id)
	require.NoError(t, err)

	n, err := integration.NewSweeper(f.db, f.store, nil, 10*time.Minute, 0, logger.Discard()).FailStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	current, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusExecuting, current.Status)
}

// TestSweeper_ExpirePending 测试超过审批期限的任务由 system 拒绝
func TestSweeper_ExpirePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old, err := f.store.Create(ctx, poProposal(1, 70, nil))
	require.NoError(t, err)
	fresh, err := f.store.Create(ctx, poProposal(2, 70, nil))
	require.NoError(t, err)
	f.age(t, old.Task.ID, 48*time.Hour)

	sweeper := integration.NewSweeper(f.db, f.store, nil, 0, 24*time.Hour, logger.Discard())
	n, err := sweeper.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired, err := f.store.Get(ctx, old.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusRejected, expired.Status)
	assert.Equal(t, types.ActorSystem, expired.RejectedBy)
	assert.Equal(t, "approval window expired", expired.RejectionReason)
	assert.Contains(t, f.actions(t, old.Task.ID), types.ActionTaskExpired)

	still, err := f.store.Get(ctx, fresh.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPendingApproval, still.Status)

	// 未配置期限时不过期
	n, err = integration.NewSweeper(f.db, f.store, nil, 0, 0, logger.Discard()).ExpirePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestSweeper_RequeueApproved 测试已审批任务按队列顺序重新入队
func TestSweeper_RequeueApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	low := poProposal(1, 70, nil)
	low.Priority = types.PriorityLow
	lowID := f.approvedTask(t, low)
	time.Sleep(5 * time.Millisecond)
	urgent := poProposal(2, 70, nil)
	urgent.Priority = types.PriorityUrgent
	urgentID := f.approvedTask(t, urgent)

	queue := &recordingEnqueuer{}
	n, err := integration.NewSweeper(f.db, f.store, queue, 0, 0, logger.Discard()).RequeueApproved(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{urgentID, lowID}, queue.queued())
}
