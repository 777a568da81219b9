package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// TaskModel 任务数据模型
type TaskModel struct {
	ID              string         `gorm:"primaryKey;type:varchar(64)"`
	TaskType        string         `gorm:"type:varchar(32);not null;index"`
	Priority        string         `gorm:"type:varchar(16);not null"`
	PriorityRank    int            `gorm:"type:int;not null"` // 排序权重: urgent=4 ... low=1
	Status          string         `gorm:"type:varchar(32);not null;index"`
	Payload         datatypes.JSON `gorm:"not null"`
	Reasoning       string         `gorm:"type:text;not null"`
	Confidence      float64        `gorm:"not null"`
	RuleID          *string        `gorm:"type:varchar(64);index"`
	DedupKey        string         `gorm:"type:varchar(255);not null"`
	ApprovedBy      string         `gorm:"type:varchar(64)"`
	ApprovedAt      *time.Time
	RejectedBy      string `gorm:"type:varchar(64)"`
	RejectedAt      *time.Time
	RejectionReason string         `gorm:"type:text"`
	Result          datatypes.JSON // 执行结果, 完成或部分失败时写入
	Error           string         `gorm:"type:text"`
	CreatedAt       time.Time      `gorm:"not null;index"`
	UpdatedAt       time.Time      `gorm:"not null"`
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// TableName 指定表名
func (TaskModel) TableName() string {
	return "automation_tasks"
}

// Validate 验证任务模型
func (tm *TaskModel) Validate() error {
	if tm.ID == "" {
		return errors.New("task ID is required")
	}
	if tm.TaskType == "" {
		return errors.New("task type is required")
	}
	if tm.Status == "" {
		return errors.New("task status is required")
	}
	if tm.DedupKey == "" {
		return errors.New("dedup key is required")
	}
	if len(tm.Payload) == 0 {
		return errors.New("task payload is required")
	}
	return nil
}
