package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/model"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/jcheng510/coingame-sub001/internal/utils"
)

// Rule 自动化规则
type Rule struct {
	ID                   string         `json:"id" yaml:"id"`
	Name                 string         `json:"name" yaml:"name"`
	RuleType             types.RuleType `json:"rule_type" yaml:"rule_type"`
	TriggerCondition     Condition      `json:"trigger_condition" yaml:"trigger_condition"`
	ActionType           types.TaskType `json:"action_type" yaml:"action_type"`
	Priority             types.Priority `json:"priority" yaml:"priority"`
	ActionParams         ActionParams   `json:"action_params" yaml:"action_params"`
	AutoApproveThreshold *float64       `json:"auto_approve_threshold,omitempty" yaml:"auto_approve_threshold,omitempty"`
	IsActive             bool           `json:"is_active" yaml:"is_active"`
	CreatedAt            time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt            time.Time      `json:"updated_at" yaml:"-"`
}

// ActionParams 构造载荷时使用的规则参数
type ActionParams struct {
	// Multiplier 补货数量 = 再订货点 × Multiplier, 默认 2
	Multiplier float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	// VendorIDs 询价对象, 为空时使用报过价的全部供应商
	VendorIDs []int64 `json:"vendor_ids,omitempty" yaml:"vendor_ids,omitempty"`
	DueInDays int     `json:"due_in_days,omitempty" yaml:"due_in_days,omitempty"`
	Notes     string  `json:"notes,omitempty" yaml:"notes,omitempty"`
	// ReplyBody 评分服务未给出正文时使用的邮件回复
	ReplyBody string `json:"reply_body,omitempty" yaml:"reply_body,omitempty"`
}

// DefaultMultiplier 默认补货倍数
const DefaultMultiplier = 2.0

// EffectiveMultiplier 返回生效的补货倍数
func (p ActionParams) EffectiveMultiplier() float64 {
	if p.Multiplier <= 0 {
		return DefaultMultiplier
	}
	return p.Multiplier
}

// EffectiveDueInDays 返回询价截止天数
func (p ActionParams) EffectiveDueInDays() int {
	if p.DueInDays <= 0 {
		return 7
	}
	return p.DueInDays
}

// 各规则类型可用的主体字段
var (
	materialFields = []string{
		"id", "name", "unit", "current_stock", "reorder_point", "stock_ratio",
		"preferred_vendor_id", "last_unit_cost", "on_order", "quote_count",
		"best_quote_cost", "best_quote_vendor_id", "latest_quote_age_days",
	}
	emailFields = []string{
		"id", "from", "subject", "classification", "classification_confidence",
		"vendor_id", "replied", "age_hours",
	}
)

// FieldsFor 返回规则类型对应主体的可用字段
func FieldsFor(ruleType types.RuleType) []string {
	switch ruleType {
	case types.RuleTypeLowStock, types.RuleTypeStaleQuote:
		return materialFields
	case types.RuleTypeInboundEmail:
		return emailFields
	}
	return nil
}

// Validate 校验规则定义
func (r *Rule) Validate() error {
	if err := utils.ValidateID(r.ID); err != nil {
		return utils.NewValidationError("id", "%s", err.Error())
	}
	if strings.TrimSpace(r.Name) == "" {
		return utils.NewValidationError("name", "is required")
	}
	if !r.RuleType.Valid() {
		return utils.NewValidationError("rule_type", "unsupported rule type %q", r.RuleType)
	}
	if !r.ActionType.Valid() {
		return utils.NewValidationError("action_type", "unsupported action type %q", r.ActionType)
	}
	if !r.RuleType.Supports(r.ActionType) {
		return utils.NewValidationError("action_type", "rule type %q cannot produce %q", r.RuleType, r.ActionType)
	}
	if r.Priority == "" {
		r.Priority = types.PriorityMedium
	}
	if !r.Priority.Valid() {
		return utils.NewValidationError("priority", "unsupported priority %q", r.Priority)
	}
	if t := r.AutoApproveThreshold; t != nil && (math.IsNaN(*t) || *t < 0 || *t > 100) {
		return utils.NewValidationError("auto_approve_threshold", "must be between 0 and 100")
	}
	if r.ActionParams.Multiplier < 0 {
		return utils.NewValidationError("action_params.multiplier", "must not be negative")
	}
	for _, id := range r.ActionParams.VendorIDs {
		if id <= 0 {
			return utils.NewValidationError("action_params.vendor_ids", "vendor id %d must be positive", id)
		}
	}
	return r.TriggerCondition.Validate(FieldsFor(r.RuleType))
}

// ToModel 转换为数据模型
func (r *Rule) ToModel() (*model.RuleModel, error) {
	cond, err := json.Marshal(r.TriggerCondition)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trigger condition: %w", err)
	}
	params, err := json.Marshal(r.ActionParams)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal action params: %w", err)
	}
	return &model.RuleModel{
		ID:                   r.ID,
		Name:                 r.Name,
		RuleType:             string(r.RuleType),
		TriggerCondition:     cond,
		ActionType:           string(r.ActionType),
		ActionParams:         params,
		Priority:             string(r.Priority),
		AutoApproveThreshold: r.AutoApproveThreshold,
		IsActive:             r.IsActive,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}, nil
}

// FromModel 从数据模型构造规则
func FromModel(m *model.RuleModel) (*Rule, error) {
	r := &Rule{
		ID:                   m.ID,
		Name:                 m.Name,
		RuleType:             types.RuleType(m.RuleType),
		ActionType:           types.TaskType(m.ActionType),
		Priority:             types.Priority(m.Priority),
		AutoApproveThreshold: m.AutoApproveThreshold,
		IsActive:             m.IsActive,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
	dec := json.NewDecoder(strings.NewReader(string(m.TriggerCondition)))
	dec.UseNumber()
	if err := dec.Decode(&r.TriggerCondition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger condition of rule %s: %w", m.ID, err)
	}
	if len(m.ActionParams) > 0 {
		if err := json.Unmarshal(m.ActionParams, &r.ActionParams); err != nil {
			return nil, fmt.Errorf("failed to unmarshal action params of rule %s: %w", m.ID, err)
		}
	}
	return r, nil
}
