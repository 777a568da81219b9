package repository

import (
	"context"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/model"
	"gorm.io/gorm"
)

// RuleRepository 规则仓储接口
type RuleRepository interface {
	Create(ctx context.Context, rule *model.RuleModel) error
	Save(ctx context.Context, rule *model.RuleModel) error
	FindByID(ctx context.Context, id string) (*model.RuleModel, error)
	// FindActive 查找启用的规则, ruleType 为空时返回全部类型
	FindActive(ctx context.Context, ruleType string) ([]*model.RuleModel, error)
	FindAll(ctx context.Context) ([]*model.RuleModel, error)
	// SetActive 更新启用状态,规则不存在时返回 gorm.ErrRecordNotFound
	SetActive(ctx context.Context, id string, active bool) error
}

// ruleRepository 规则仓储实现
type ruleRepository struct {
	db *gorm.DB
}

// NewRuleRepository 创建规则仓储
func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &ruleRepository{db: db}
}

func (r *ruleRepository) Create(ctx context.Context, rule *model.RuleModel) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *ruleRepository) Save(ctx context.Context, rule *model.RuleModel) error {
	return r.db.WithContext(ctx).Save(rule).Error
}

func (r *ruleRepository) FindByID(ctx context.Context, id string) (*model.RuleModel, error) {
	var rule model.RuleModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *ruleRepository) FindActive(ctx context.Context, ruleType string) ([]*model.RuleModel, error) {
	var rules []*model.RuleModel
	query := r.db.WithContext(ctx).Where("is_active = ?", true)
	if ruleType != "" {
		query = query.Where("rule_type = ?", ruleType)
	}
	err := query.Order("created_at ASC").Order("id ASC").Find(&rules).Error
	return rules, err
}

func (r *ruleRepository) FindAll(ctx context.Context) ([]*model.RuleModel, error) {
	var rules []*model.RuleModel
	err := r.db.WithContext(ctx).Order("created_at ASC").Order("id ASC").Find(&rules).Error
	return rules, err
}

func (r *ruleRepository) SetActive(ctx context.Context, id string, active bool) error {
	result := r.db.WithContext(ctx).Model(&model.RuleModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_active": active, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
