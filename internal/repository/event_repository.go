package repository

import (
	"context"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/model"
	"gorm.io/gorm"
)

// EventRepository 通知事件仓储接口
type EventRepository interface {
	Save(ctx context.Context, event *model.EventModel) error
	FindByID(ctx context.Context, id string) (*model.EventModel, error)
	FindByTaskID(ctx context.Context, taskID string) ([]*model.EventModel, error)
	FindPending(ctx context.Context, limit int) ([]*model.EventModel, error)
	UpdateStatus(ctx context.Context, id string, status string, retryCount int, lastError string) error
}

// eventRepository 事件仓储实现
type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository 创建事件仓储
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

// Save 保存事件
func (r *eventRepository) Save(ctx context.Context, event *model.EventModel) error {
	return r.db.WithContext(ctx).Save(event).Error
}

// FindByID 根据 ID 查找事件
func (r *eventRepository) FindByID(ctx context.Context, id string) (*model.EventModel, error) {
	var event model.EventModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// FindByTaskID 根据任务 ID 查找事件
func (r *eventRepository) FindByTaskID(ctx context.Context, taskID string) ([]*model.EventModel, error) {
	var events []*model.EventModel
	err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("created_at ASC").Find(&events).Error
	return events, err
}

// FindPending 查找待推送的事件
func (r *eventRepository) FindPending(ctx context.Context, limit int) ([]*model.EventModel, error) {
	var events []*model.EventModel
	query := r.db.WithContext(ctx).Where("status = ?", "pending").Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&events).Error
	return events, err
}

// UpdateStatus 更新推送状态
func (r *eventRepository) UpdateStatus(ctx context.Context, id string, status string, retryCount int, lastError string) error {
	return r.db.WithContext(ctx).Model(&model.EventModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"retry_count": retryCount,
			"last_error":  lastError,
			"updated_at":  time.Now(),
		}).Error
}
