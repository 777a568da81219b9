package repository

import (
	"context"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/model"
	"gorm.io/gorm"
)

// LogRepository 审计日志仓储接口,只提供追加与查询
type LogRepository interface {
	Append(ctx context.Context, entry *model.LogEntryModel) error
	FindByFilter(ctx context.Context, filter *LogFilter) ([]*model.LogEntryModel, error)
}

// LogFilter 日志查询过滤器
type LogFilter struct {
	TaskID *string
	RuleID *string
	Status *string
	Action *string
	Since  *time.Time
	Until  *time.Time
	// AfterID 只返回 ID 大于该值的日志,按 ID 升序,用于增量拉取
	AfterID int64
	Limit   int
}

// logRepository 审计日志仓储实现
type logRepository struct {
	db *gorm.DB
}

// NewLogRepository 创建审计日志仓储
func NewLogRepository(db *gorm.DB) LogRepository {
	return &logRepository{db: db}
}

// Append 追加日志, 缺少必填字段的日志不写入
func (r *logRepository) Append(ctx context.Context, entry *model.LogEntryModel) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// FindByFilter 查询日志,默认按写入顺序倒序
func (r *logRepository) FindByFilter(ctx context.Context, filter *LogFilter) ([]*model.LogEntryModel, error) {
	if filter == nil {
		filter = &LogFilter{}
	}
	query := r.db.WithContext(ctx).Model(&model.LogEntryModel{})

	if filter.TaskID != nil {
		query = query.Where("task_id = ?", *filter.TaskID)
	}
	if filter.RuleID != nil {
		query = query.Where("rule_id = ?", *filter.RuleID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Action != nil {
		query = query.Where("action = ?", *filter.Action)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		query = query.Where("created_at <= ?", *filter.Until)
	}

	if filter.AfterID > 0 {
		query = query.Where("id > ?", filter.AfterID).Order("id ASC")
	} else {
		query = query.Order("id DESC")
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var entries []*model.LogEntryModel
	err := query.Find(&entries).Error
	return entries, err
}
