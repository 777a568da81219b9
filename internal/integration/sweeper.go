package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/repository"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/jcheng510/coingame-sub001/internal/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// sweepBatch 单次扫描处理的任务上限
const sweepBatch = 200

// SweepReport 扫描结果
type SweepReport struct {
	Requeued int `json:"requeued"`
	Failed   int `json:"failed"`
	Expired  int `json:"expired"`
}

// Sweeper 定时扫描:重新入队已审批任务,结束卡住的执行,过期待审批任务
type Sweeper struct {
	db         *gorm.DB
	store      TaskStore
	enqueuer   Enqueuer
	staleAfter time.Duration
	pendingTTL time.Duration
	logger     *logrus.Logger
	now        func() time.Time
}

// NewSweeper 创建扫描器, pendingTTL 为 0 时不过期待审批任务
func NewSweeper(db *gorm.DB, store TaskStore, enqueuer Enqueuer, staleAfter, pendingTTL time.Duration, logger *logrus.Logger) *Sweeper {
	return &Sweeper{
		db:         db,
		store:      store,
		enqueuer:   enqueuer,
		staleAfter: staleAfter,
		pendingTTL: pendingTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// Sweep 执行全部扫描
func (s *Sweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}
	var err error
	if report.Failed, err = s.FailStale(ctx); err != nil {
		return report, err
	}
	if report.Expired, err = s.ExpirePending(ctx); err != nil {
		return report, err
	}
	if report.Requeued, err = s.RequeueApproved(ctx); err != nil {
		return report, err
	}
	if report.Requeued+report.Failed+report.Expired > 0 {
		s.logger.WithFields(logrus.Fields{
			"requeued": report.Requeued,
			"failed":   report.Failed,
			"expired":  report.Expired,
		}).Info("sweep finished")
	}
	return report, nil
}

// RequeueApproved 按审批队列顺序重新入队已审批任务
func (s *Sweeper) RequeueApproved(ctx context.Context) (int, error) {
	if s.enqueuer == nil {
		return 0, nil
	}
	status := string(types.TaskStatusApproved)
	models, _, err := repository.NewTaskRepository(s.db).FindByFilter(ctx, &repository.TaskFilter{
		Status:     &status,
		QueueOrder: true,
		PageSize:   sweepBatch,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list approved tasks: %w", err)
	}
	n := 0
	for _, m := range models {
		if s.enqueuer.Enqueue(m.ID) {
			n++
		}
	}
	return n, nil
}

// FailStale 将长时间停留在 executing 的任务置为 failed, 保留已记录的部分结果
func (s *Sweeper) FailStale(ctx context.Context) (int, error) {
	if s.staleAfter <= 0 {
		return 0, nil
	}
	models, err := repository.NewTaskRepository(s.db).FindStale(ctx, string(types.TaskStatusExecuting), s.now().Add(-s.staleAfter), sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale executions: %w", err)
	}
	n := 0
	for _, m := range models {
		reason := fmt.Sprintf("execution interrupted: no progress for %s", s.staleAfter)
		if _, err := s.store.Fail(ctx, m.ID, nil, reason); err != nil {
			if utils.IsApprovalStateError(err) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// ExpirePending 以 system 身份拒绝超过审批期限的任务
func (s *Sweeper) ExpirePending(ctx context.Context) (int, error) {
	if s.pendingTTL <= 0 {
		return 0, nil
	}
	models, err := repository.NewTaskRepository(s.db).FindStale(ctx, string(types.TaskStatusPendingApproval), s.now().Add(-s.pendingTTL), sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired approvals: %w", err)
	}
	n := 0
	for _, m := range models {
		if _, err := s.store.Expire(ctx, m.ID, "approval window expired"); err != nil {
			if utils.IsApprovalStateError(err) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}
