package integration

import (
	"context"
	"sync"

	"github.com/jcheng510/coingame-sub001/internal/metrics"
	"github.com/jcheng510/coingame-sub001/internal/utils"
	"github.com/sirupsen/logrus"
)

// Dispatcher 执行队列与 worker 池
type Dispatcher struct {
	executor TaskExecutor
	queue    chan string
	workers  int
	logger   *logrus.Logger

	mu     sync.Mutex
	queued map[string]bool

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewDispatcher 创建执行调度器
func NewDispatcher(executor TaskExecutor, workers, queueSize int, logger *logrus.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		executor: executor,
		queue:    make(chan string, queueSize),
		workers:  workers,
		logger:   logger,
		queued:   map[string]bool{},
		stop:     make(chan struct{}),
	}
}

// Start 启动 worker goroutines
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
	})
}

// Enqueue 非阻塞入队;队列已满或任务已在队列中时返回 false,
// 遗漏的任务由定时扫描重新入队
func (d *Dispatcher) Enqueue(taskID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.queued[taskID] {
		return false
	}
	select {
	case d.queue <- taskID:
		d.queued[taskID] = true
		metrics.SetExecutorQueueDepth(len(d.queue))
		return true
	default:
		d.logger.WithField("task_id", taskID).Warn("executor queue full, task left for the next sweep")
		return false
	}
}

// Len 返回排队中的任务数
func (d *Dispatcher) Len() int {
	return len(d.queue)
}

// worker 执行 worker
func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case id := <-d.queue:
			d.mu.Lock()
			delete(d.queued, id)
			metrics.SetExecutorQueueDepth(len(d.queue))
			d.mu.Unlock()
			d.run(id)
		case <-d.stop:
			return
		}
	}
}

func (d *Dispatcher) run(id string) {
	_, err := d.executor.Execute(context.Background(), id)
	switch {
	case err == nil:
	case utils.IsApprovalStateError(err):
		// 已被其他 worker 或进程认领
		d.logger.WithField("task_id", id).WithError(err).Debug("task not claimable")
	default:
		d.logger.WithField("task_id", id).WithError(err).Error("task execution error")
	}
}

// Stop 停止接收新任务并等待执行中的任务结束
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
	d.wg.Wait()
}
