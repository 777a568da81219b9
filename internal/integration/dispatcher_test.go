package integration_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/integration"
	"github.com/jcheng510/coingame-sub001/internal/logger"
	"github.com/jcheng510/coingame-sub001/internal/task"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingExecutor 记录执行次数
type countingExecutor struct {
	mu   sync.Mutex
	runs map[string]int
}

func (e *countingExecutor) Execute(ctx context.Context, id string) (*task.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runs == nil {
		e.runs = map[string]int{}
	}
	e.runs[id]++
	return &task.Task{ID: id}, nil
}

func (e *countingExecutor) count(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[id]
}

// TestDispatcher_Enqueue 测试入队去重与队列满
func TestDispatcher_Enqueue(t *testing.T) {
	exec := &countingExecutor{}
	d := integration.NewDispatcher(exec, 1, 2, logger.Discard())

	assert.True(t, d.Enqueue("a"))
	assert.False(t, d.Enqueue("a"), "a queued task is not queued twice")
	assert.True(t, d.Enqueue("b"))
	assert.False(t, d.Enqueue("c"), "queue is full")
	assert.Equal(t, 2, d.Len())

	d.Start()
	defer d.Stop()
	assert.Eventually(t, func() bool {
		return exec.count("a") == 1 && exec.count("b") == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, exec.count("c"))

	// 执行出队后可再次入队
	assert.True(t, d.Enqueue("a"))
	assert.Eventually(t, func() bool { return exec.count("a") == 2 }, 2*time.Second, 10*time.Millisecond)
}

// TestDispatcher_ExecutesApprovedTasks 测试 worker 执行已审批任务, 重复入队只执行一次
func TestDispatcher_ExecutesApprovedTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := integration.NewDispatcher(f.executor(time.Second), 3, 16, logger.Discard())
	d.Start()
	defer d.Stop()

	ids := []string{
		f.approvedTask(t, poProposal(1, 80, nil)),
		f.approvedTask(t, poProposal(2, 80, nil)),
	}
	for _, id := range ids {
		d.Enqueue(id)
	}

	assert.Eventually(t, func() bool {
		for _, id := range ids {
			got, err := f.store.Get(ctx, id)
			if err != nil || got.Status != types.TaskStatusCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	// 已完成的任务再次入队不会产生副作用
	d.Enqueue(ids[0])
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, f.domain.count("CreatePurchaseOrder"))
}

// TestDispatcher_StopWaitsForWorkers 测试 Stop 可重复调用
func TestDispatcher_StopWaitsForWorkers(t *testing.T) {
	d := integration.NewDispatcher(&countingExecutor{}, 2, 4, logger.Discard())
	d.Start()
	d.Stop()
	require.NotPanics(t, d.Stop)
}
