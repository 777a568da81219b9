package repository

import (
	"context"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/model"
	"gorm.io/gorm"
)

// TaskRepository 任务仓储接口
type TaskRepository interface {
	Create(ctx context.Context, task *model.TaskModel) error
	FindByID(ctx context.Context, id string) (*model.TaskModel, error)
	// FindActiveByDedupKey 查找同一去重键下未进入终态的任务
	FindActiveByDedupKey(ctx context.Context, dedupKey string, activeStatuses []string) (*model.TaskModel, error)
	FindByFilter(ctx context.Context, filter *TaskFilter) ([]*model.TaskModel, int64, error)
	// CompareAndUpdate 仅当任务仍处于 from 状态时更新,返回是否更新成功
	CompareAndUpdate(ctx context.Context, id string, from string, updates map[string]interface{}) (bool, error)
	// FindStale 查找在某状态停留超过截止时间的任务
	FindStale(ctx context.Context, status string, before time.Time, limit int) ([]*model.TaskModel, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// TaskFilter 任务查询过滤器
type TaskFilter struct {
	Status   *string
	Priority *string
	TaskType *string
	RuleID   *string
	// QueueOrder 为 true 时按优先级降序、创建时间升序排列(审批队列顺序)
	QueueOrder bool
	SortBy     string
	SortOrder  string
	Page       int
	PageSize   int
}

// taskRepository 任务仓储实现
type taskRepository struct {
	db *gorm.DB
}

// NewTaskRepository 创建任务仓储
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

// Create 插入任务
func (r *taskRepository) Create(ctx context.Context, task *model.TaskModel) error {
	return r.db.WithContext(ctx).Create(task).Error
}

// FindByID 根据 ID 查找任务
func (r *taskRepository) FindByID(ctx context.Context, id string) (*model.TaskModel, error) {
	var task model.TaskModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// FindActiveByDedupKey 查找去重键对应的未终结任务
func (r *taskRepository) FindActiveByDedupKey(ctx context.Context, dedupKey string, activeStatuses []string) (*model.TaskModel, error) {
	var task model.TaskModel
	err := r.db.WithContext(ctx).
		Where("dedup_key = ? AND status IN ?", dedupKey, activeStatuses).
		Order("created_at ASC").
		First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// FindByFilter 根据过滤器分页查找任务
func (r *taskRepository) FindByFilter(ctx context.Context, filter *TaskFilter) ([]*model.TaskModel, int64, error) {
	if filter == nil {
		filter = &TaskFilter{}
	}
	query := r.db.WithContext(ctx).Model(&model.TaskModel{})

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Priority != nil {
		query = query.Where("priority = ?", *filter.Priority)
	}
	if filter.TaskType != nil {
		query = query.Where("task_type = ?", *filter.TaskType)
	}
	if filter.RuleID != nil {
		query = query.Where("rule_id = ?", *filter.RuleID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.QueueOrder {
		query = query.Order("priority_rank DESC").Order("created_at ASC").Order("id ASC")
	} else {
		sortBy := filter.SortBy
		if sortBy == "" {
			sortBy = "created_at"
		}
		sortOrder := filter.SortOrder
		if sortOrder == "" {
			sortOrder = "DESC"
		}
		query = query.Order(sortBy + " " + sortOrder).Order("id " + sortOrder)
	}

	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var tasks []*model.TaskModel
	if err := query.Find(&tasks).Error; err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// CompareAndUpdate 条件更新,WHERE 子句同时匹配 ID 与当前状态
func (r *taskRepository) CompareAndUpdate(ctx context.Context, id string, from string, updates map[string]interface{}) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.TaskModel{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// FindStale 查找停留过久的任务
func (r *taskRepository) FindStale(ctx context.Context, status string, before time.Time, limit int) ([]*model.TaskModel, error) {
	var tasks []*model.TaskModel
	query := r.db.WithContext(ctx).Where("status = ? AND updated_at < ?", status, before).Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&tasks).Error
	return tasks, err
}

// CountByStatus 按状态统计任务数量
func (r *taskRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&model.TaskModel{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
