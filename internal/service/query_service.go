package service

import (
	"context"
	"strings"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/audit"
	"github.com/jcheng510/coingame-sub001/internal/integration"
	"github.com/jcheng510/coingame-sub001/internal/repository"
	"github.com/jcheng510/coingame-sub001/internal/task"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/jcheng510/coingame-sub001/internal/utils"
)

// 分页默认值
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// taskSortFields 允许排序的任务字段
var taskSortFields = []string{"created_at", "updated_at", "priority_rank", "confidence", "status"}

// QueryService 查询服务接口
type QueryService interface {
	ListTasks(ctx context.Context, filter *ListTasksFilter) ([]*task.Task, int64, error)
	ListLogs(ctx context.Context, filter *ListLogsFilter) ([]*audit.Entry, error)
}

// ListTasksFilter 任务列表查询过滤器
type ListTasksFilter struct {
	Status   string
	Priority string
	TaskType string
	RuleID   string
	Page     int
	PageSize int
	SortBy   string
	Order    string
}

// ListLogsFilter 日志查询过滤器
type ListLogsFilter struct {
	TaskID  string
	RuleID  string
	Status  string
	Action  string
	Since   *time.Time
	Until   *time.Time
	AfterID int64
	Limit   int
}

// queryService 查询服务实现
type queryService struct {
	store integration.TaskStore
	log   audit.Log
}

// NewQueryService 创建查询服务
func NewQueryService(store integration.TaskStore, log audit.Log) QueryService {
	return &queryService{store: store, log: log}
}

// ListTasks 列出任务
func (s *queryService) ListTasks(ctx context.Context, filter *ListTasksFilter) ([]*task.Task, int64, error) {
	f := &repository.TaskFilter{}

	if filter.Status != "" {
		if !types.TaskStatus(filter.Status).Valid() {
			return nil, 0, utils.NewValidationError("status", "unsupported status %q", filter.Status)
		}
		f.Status = &filter.Status
	}
	if filter.Priority != "" {
		if !types.Priority(filter.Priority).Valid() {
			return nil, 0, utils.NewValidationError("priority", "unsupported priority %q", filter.Priority)
		}
		f.Priority = &filter.Priority
	}
	if filter.TaskType != "" {
		if !types.TaskType(filter.TaskType).Valid() {
			return nil, 0, utils.NewValidationError("task_type", "unsupported task type %q", filter.TaskType)
		}
		f.TaskType = &filter.TaskType
	}
	if filter.RuleID != "" {
		f.RuleID = &filter.RuleID
	}

	// 验证排序字段,防止 SQL 注入
	if filter.SortBy != "" {
		if err := utils.ValidateSortField(filter.SortBy, taskSortFields); err != nil {
			return nil, 0, utils.NewValidationError("sort_by", "%s", err.Error())
		}
		f.SortBy = filter.SortBy
	}
	if filter.Order != "" {
		f.SortOrder = utils.SanitizeSortOrder(filter.Order)
	}

	f.Page, f.PageSize = normalizePage(filter.Page, filter.PageSize)
	return s.store.List(ctx, f)
}

// ListLogs 查询审计日志
func (s *queryService) ListLogs(ctx context.Context, filter *ListLogsFilter) ([]*audit.Entry, error) {
	if filter.Since != nil && filter.Until != nil && filter.Until.Before(*filter.Since) {
		return nil, utils.NewValidationError("until", "must not be before since")
	}
	f := &audit.Filter{
		Since:   filter.Since,
		Until:   filter.Until,
		AfterID: filter.AfterID,
		Limit:   filter.Limit,
	}
	if v := strings.TrimSpace(filter.TaskID); v != "" {
		f.TaskID = &v
	}
	if v := strings.TrimSpace(filter.RuleID); v != "" {
		f.RuleID = &v
	}
	if v := strings.TrimSpace(filter.Status); v != "" {
		f.Status = &v
	}
	if v := strings.TrimSpace(filter.Action); v != "" {
		f.Action = &v
	}
	return s.log.List(ctx, f)
}

// normalizePage 规范化分页参数
func normalizePage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}
