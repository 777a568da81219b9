package integration

import (
	"context"

	"github.com/jcheng510/coingame-sub001/internal/repository"
	"github.com/jcheng510/coingame-sub001/internal/task"
	"github.com/jcheng510/coingame-sub001/internal/types"
)

// Enqueuer 将已审批任务交给执行器
type Enqueuer interface {
	Enqueue(taskID string) bool
}

// ApprovalGate 人工审批队列
type ApprovalGate struct {
	store       TaskStore
	enqueuer    Enqueuer
	autoExecute bool
}

// NewApprovalGate 创建审批队列, autoExecute 为 true 时审批通过即入队执行
func NewApprovalGate(store TaskStore, enqueuer Enqueuer, autoExecute bool) *ApprovalGate {
	return &ApprovalGate{store: store, enqueuer: enqueuer, autoExecute: autoExecute}
}

// Pending 按优先级降序、创建时间升序列出待审批任务
func (g *ApprovalGate) Pending(ctx context.Context, page, pageSize int) ([]*task.Task, int64, error) {
	status := string(types.TaskStatusPendingApproval)
	return g.store.List(ctx, &repository.TaskFilter{
		Status:     &status,
		QueueOrder: true,
		Page:       page,
		PageSize:   pageSize,
	})
}

// Approve 审批通过
func (g *ApprovalGate) Approve(ctx context.Context, id, approverID string) (*task.Task, error) {
	t, err := g.store.Approve(ctx, id, approverID)
	if err != nil {
		return nil, err
	}
	g.Handoff(t)
	return t, nil
}

// Handoff 已审批任务在开启自动执行时入队, 返回是否入队
func (g *ApprovalGate) Handoff(t *task.Task) bool {
	if !g.autoExecute || g.enqueuer == nil || t.Status != types.TaskStatusApproved {
		return false
	}
	return g.enqueuer.Enqueue(t.ID)
}

// Reject 审批拒绝
func (g *ApprovalGate) Reject(ctx context.Context, id, approverID, reason string) (*task.Task, error) {
	return g.store.Reject(ctx, id, approverID, reason)
}
