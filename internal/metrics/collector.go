package metrics

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// StatusCounter 提供任务状态分布
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// Collector 指标收集器
type Collector struct {
	db       *gorm.DB
	counter  StatusCounter
	statuses []string
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCollector 创建指标收集器, statuses 为需要输出的全部状态(缺失的状态置 0)
func NewCollector(db *gorm.DB, counter StatusCounter, statuses []string, interval time.Duration) *Collector {
	ctx, cancel := context.WithCancel(context.Background())
	return &Collector{
		db:       db,
		counter:  counter,
		statuses: statuses,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start 启动指标收集器
func (c *Collector) Start() {
	go c.collect()
}

// Stop 停止指标收集器
func (c *Collector) Stop() {
	c.cancel()
	<-c.done
}

// CollectOnce 收集一次指标
func (c *Collector) CollectOnce(ctx context.Context) error {
	if err := UpdateDatabaseConnections(c.db); err != nil {
		return err
	}
	if c.counter == nil {
		return nil
	}
	counts, err := c.counter.CountByStatus(ctx)
	if err != nil {
		return err
	}
	for _, s := range c.statuses {
		UpdateTasksByStatus(s, float64(counts[s]))
	}
	return nil
}

// collect 定期收集指标
func (c *Collector) collect() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_ = c.CollectOnce(c.ctx)
		}
	}
}
