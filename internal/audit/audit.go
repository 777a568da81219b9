package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/model"
	"github.com/jcheng510/coingame-sub001/internal/repository"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/jcheng510/coingame-sub001/internal/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Entry 审计日志条目
type Entry struct {
	ID        int64                  `json:"id"`
	TaskID    *string                `json:"task_id,omitempty"`
	RuleID    *string                `json:"rule_id,omitempty"`
	Action    string                 `json:"action"`
	Status    types.LogStatus        `json:"status"`
	Actor     string                 `json:"actor"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Filter 日志查询条件
type Filter struct {
	TaskID  *string
	RuleID  *string
	Status  *string
	Action  *string
	Since   *time.Time
	Until   *time.Time
	AfterID int64
	Limit   int
}

// Log 审计日志服务,只追加不修改
type Log interface {
	// Append 通过给定的数据库句柄写入日志,传入事务即可与状态变更原子提交
	Append(ctx context.Context, db *gorm.DB, entry *Entry) error
	// Record 独立写入并立即发布
	Record(ctx context.Context, entry *Entry) error
	// Publish 通知订阅者,应在事务提交后调用
	Publish(entries ...*Entry)
	List(ctx context.Context, filter *Filter) ([]*Entry, error)
	Subscribe(buffer int) (<-chan *Entry, func())
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// WithRequestID 在 context 中携带请求 ID, 写入日志详情
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID 从 context 获取请求 ID
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// auditLog 审计日志服务实现
type auditLog struct {
	db  *gorm.DB
	bus *Bus
}

// NewLog 创建审计日志服务
func NewLog(db *gorm.DB) Log {
	return &auditLog{db: db, bus: NewBus()}
}

// Append 写入日志
func (l *auditLog) Append(ctx context.Context, db *gorm.DB, entry *Entry) error {
	if err := entry.validate(); err != nil {
		return err
	}
	if requestID := RequestID(ctx); requestID != "" {
		if entry.Details == nil {
			entry.Details = map[string]interface{}{}
		}
		entry.Details["request_id"] = requestID
	}

	var details datatypes.JSON
	if len(entry.Details) > 0 {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal log details: %w", err)
		}
		details = raw
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	m := &model.LogEntryModel{
		TaskID:    entry.TaskID,
		RuleID:    entry.RuleID,
		Action:    entry.Action,
		Status:    string(entry.Status),
		Actor:     entry.Actor,
		Message:   entry.Message,
		Details:   details,
		CreatedAt: entry.CreatedAt,
	}
	if err := repository.NewLogRepository(db).Append(ctx, m); err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	entry.ID = m.ID
	return nil
}

// Record 写入并发布
func (l *auditLog) Record(ctx context.Context, entry *Entry) error {
	if err := l.Append(ctx, l.db, entry); err != nil {
		return err
	}
	l.Publish(entry)
	return nil
}

// Publish 发布日志
func (l *auditLog) Publish(entries ...*Entry) {
	for _, e := range entries {
		l.bus.Publish(e)
	}
}

// List 查询日志,默认按写入顺序倒序
func (l *auditLog) List(ctx context.Context, filter *Filter) ([]*Entry, error) {
	if filter == nil {
		filter = &Filter{}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if filter.Status != nil && !types.LogStatus(*filter.Status).Valid() {
		return nil, utils.NewValidationError("status", "must be one of info, success, error")
	}

	models, err := repository.NewLogRepository(l.db).FindByFilter(ctx, &repository.LogFilter{
		TaskID:  filter.TaskID,
		RuleID:  filter.RuleID,
		Status:  filter.Status,
		Action:  filter.Action,
		Since:   filter.Since,
		Until:   filter.Until,
		AfterID: filter.AfterID,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}

	entries := make([]*Entry, 0, len(models))
	for _, m := range models {
		entries = append(entries, FromModel(m))
	}
	return entries, nil
}

// Subscribe 订阅新日志
func (l *auditLog) Subscribe(buffer int) (<-chan *Entry, func()) {
	return l.bus.Subscribe(buffer)
}

// FromModel 将数据模型转换为日志条目
func FromModel(m *model.LogEntryModel) *Entry {
	e := &Entry{
		ID:        m.ID,
		TaskID:    m.TaskID,
		RuleID:    m.RuleID,
		Action:    m.Action,
		Status:    types.LogStatus(m.Status),
		Actor:     m.Actor,
		Message:   m.Message,
		CreatedAt: m.CreatedAt,
	}
	if len(m.Details) > 0 {
		_ = json.Unmarshal(m.Details, &e.Details)
	}
	return e
}

func (e *Entry) validate() error {
	if e.Status == "" {
		e.Status = types.LogStatusInfo
	}
	if !e.Status.Valid() {
		return utils.NewValidationError("status", "unsupported log status %q", e.Status)
	}
	if strings.TrimSpace(e.Action) == "" {
		return utils.NewValidationError("action", "is required")
	}
	if strings.TrimSpace(e.Actor) == "" {
		return utils.NewValidationError("actor", "is required")
	}
	if strings.TrimSpace(e.Message) == "" {
		return utils.NewValidationError("message", "is required")
	}
	return nil
}
