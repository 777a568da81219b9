package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// RuleModel 自动化规则数据模型
type RuleModel struct {
	ID                   string         `gorm:"primaryKey;type:varchar(64)"`
	Name                 string         `gorm:"type:varchar(255);not null"`
	RuleType             string         `gorm:"type:varchar(32);not null;index"`
	TriggerCondition     datatypes.JSON `gorm:"not null"`
	ActionType           string         `gorm:"type:varchar(32);not null"`
	ActionParams         datatypes.JSON
	Priority             string   `gorm:"type:varchar(16);not null;default:'medium'"`
	AutoApproveThreshold *float64 // 为空表示始终需要人工审批
	IsActive             bool      `gorm:"not null;index"`
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time `gorm:"not null"`
}

// TableName 指定表名
func (RuleModel) TableName() string {
	return "automation_rules"
}

// Validate 验证规则模型
func (rm *RuleModel) Validate() error {
	if rm.ID == "" {
		return errors.New("rule ID is required")
	}
	if rm.Name == "" {
		return errors.New("rule name is required")
	}
	if rm.RuleType == "" {
		return errors.New("rule type is required")
	}
	if rm.ActionType == "" {
		return errors.New("action type is required")
	}
	if len(rm.TriggerCondition) == 0 {
		return errors.New("trigger condition is required")
	}
	return nil
}
