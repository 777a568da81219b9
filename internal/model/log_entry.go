package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// LogEntryModel 自动化审计日志,只追加不修改
type LogEntryModel struct {
	ID        int64   `gorm:"primaryKey;autoIncrement"` // 自增 ID 即写入的全序
	TaskID    *string `gorm:"type:varchar(64);index"`
	RuleID    *string `gorm:"type:varchar(64);index"`
	Action    string  `gorm:"type:varchar(64);not null;index"`
	Status    string  `gorm:"type:varchar(16);not null;index"` // info/success/error
	Actor     string  `gorm:"type:varchar(128);not null"`
	Message   string  `gorm:"type:text;not null"`
	Details   datatypes.JSON
	CreatedAt time.Time `gorm:"not null;index"`
}

// TableName 指定表名
func (LogEntryModel) TableName() string {
	return "automation_logs"
}

// Validate 验证日志模型
func (lm *LogEntryModel) Validate() error {
	if lm.Action == "" {
		return errors.New("action is required")
	}
	if lm.Status == "" {
		return errors.New("status is required")
	}
	if lm.Actor == "" {
		return errors.New("actor is required")
	}
	if lm.Message == "" {
		return errors.New("message is required")
	}
	return nil
}
