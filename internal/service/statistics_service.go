package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/model"
	"github.com/jcheng510/coingame-sub001/internal/repository"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"gorm.io/gorm"
)

// StatisticsService 统计服务接口
type StatisticsService interface {
	// CountByStatus 按状态统计任务数量, 供指标收集器使用
	CountByStatus(ctx context.Context) (map[string]int64, error)
	Summary(ctx context.Context, since time.Time) (*Summary, error)
}

// Summary 任务统计
type Summary struct {
	Since      time.Time           `json:"since"`
	ByStatus   map[string]int64    `json:"by_status"`
	ByType     map[string]int64    `json:"by_type"`
	Approvals  ApprovalStatistics  `json:"approvals"`
	Executions ExecutionStatistics `json:"executions"`
}

// ApprovalStatistics 审批统计
type ApprovalStatistics struct {
	Approved     int64   `json:"approved"`
	AutoApproved int64   `json:"auto_approved"`
	Rejected     int64   `json:"rejected"`
	ApprovalRate float64 `json:"approval_rate"` // 百分比
	// AverageWaitSeconds 人工审批从创建到审批的平均等待时间
	AverageWaitSeconds float64 `json:"average_wait_seconds"`
}

// ExecutionStatistics 执行统计
type ExecutionStatistics struct {
	Completed      int64   `json:"completed"`
	Failed         int64   `json:"failed"`
	SuccessRate    float64 `json:"success_rate"` // 百分比
	AverageSeconds float64 `json:"average_seconds"`
}

// statisticsService 统计服务实现
type statisticsService struct {
	db *gorm.DB
}

// NewStatisticsService 创建统计服务
func NewStatisticsService(db *gorm.DB) StatisticsService {
	return &statisticsService{db: db}
}

// CountByStatus 按状态统计任务
func (s *statisticsService) CountByStatus(ctx context.Context) (map[string]int64, error) {
	counts, err := repository.NewTaskRepository(s.db).CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get task statistics by status: %w", err)
	}
	return counts, nil
}

// Summary 统计 since 之后创建的任务
func (s *statisticsService) Summary(ctx context.Context, since time.Time) (*Summary, error) {
	summary := &Summary{
		Since:    since,
		ByStatus: map[string]int64{},
		ByType:   map[string]int64{},
	}

	var rows []struct {
		Status   string
		TaskType string
		Count    int64
	}
	err := s.db.WithContext(ctx).Model(&model.TaskModel{}).
		Select("status, task_type, COUNT(*) as count").
		Where("created_at >= ?", since).
		Group("status, task_type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get task statistics: %w", err)
	}
	for _, r := range rows {
		summary.ByStatus[r.Status] += r.Count
		summary.ByType[r.TaskType] += r.Count
	}

	// 时间差在内存中计算, 避免依赖数据库方言
	var tasks []struct {
		Status     string
		ApprovedBy string
		RejectedBy string
		CreatedAt  time.Time
		ApprovedAt *time.Time
		StartedAt  *time.Time
		FinishedAt *time.Time
	}
	err = s.db.WithContext(ctx).Model(&model.TaskModel{}).
		Select("status, approved_by, rejected_by, created_at, approved_at, started_at, finished_at").
		Where("created_at >= ? AND (approved_at IS NOT NULL OR rejected_at IS NOT NULL)", since).
		Scan(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get approval statistics: %w", err)
	}

	var (
		waitTotal, execTotal time.Duration
		waitCount, execCount int64
		a                    = &summary.Approvals
		e                    = &summary.Executions
	)
	for _, t := range tasks {
		if t.ApprovedAt == nil {
			if t.RejectedBy != types.ActorSystem {
				a.Rejected++
			}
			continue
		}
		a.Approved++
		if isRuleActor(t.ApprovedBy) {
			a.AutoApproved++
		} else {
			waitTotal += t.ApprovedAt.Sub(t.CreatedAt)
			waitCount++
		}

		switch types.TaskStatus(t.Status) {
		case types.TaskStatusCompleted:
			e.Completed++
		case types.TaskStatusFailed:
			e.Failed++
		}
		if t.StartedAt != nil && t.FinishedAt != nil {
			execTotal += t.FinishedAt.Sub(*t.StartedAt)
			execCount++
		}
	}

	if decided := a.Approved + a.Rejected; decided > 0 {
		a.ApprovalRate = float64(a.Approved) / float64(decided) * 100
	}
	if waitCount > 0 {
		a.AverageWaitSeconds = (waitTotal / time.Duration(waitCount)).Seconds()
	}
	if finished := e.Completed + e.Failed; finished > 0 {
		e.SuccessRate = float64(e.Completed) / float64(finished) * 100
	}
	if execCount > 0 {
		e.AverageSeconds = (execTotal / time.Duration(execCount)).Seconds()
	}
	return summary, nil
}

func isRuleActor(id string) bool {
	return strings.HasPrefix(id, "rule:")
}
