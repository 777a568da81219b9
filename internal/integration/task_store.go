package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jcheng510/coingame-sub001/internal/audit"
	"github.com/jcheng510/coingame-sub001/internal/metrics"
	"github.com/jcheng510/coingame-sub001/internal/model"
	"github.com/jcheng510/coingame-sub001/internal/repository"
	"github.com/jcheng510/coingame-sub001/internal/statemachine"
	"github.com/jcheng510/coingame-sub001/internal/task"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/jcheng510/coingame-sub001/internal/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// createAttempts 唯一索引冲突后重新走一次去重检查
const createAttempts = 2

// CreateResult 创建任务的结果
type CreateResult struct {
	Task         *task.Task `json:"task"`
	Suppressed   bool       `json:"suppressed"` // 已存在同一去重键的未终结任务,返回的是已有任务
	AutoApproved bool       `json:"auto_approved"`
}

// TaskStore 任务存储,所有状态变更与审计日志在同一事务中提交
type TaskStore interface {
	Create(ctx context.Context, p *task.Proposal) (*CreateResult, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context, filter *repository.TaskFilter) ([]*task.Task, int64, error)
	Approve(ctx context.Context, id, approverID string) (*task.Task, error)
	Reject(ctx context.Context, id, approverID, reason string) (*task.Task, error)
	// Expire 以 system 身份拒绝超时未审批的任务
	Expire(ctx context.Context, id, reason string) (*task.Task, error)
	Claim(ctx context.Context, id string) (*task.Task, error)
	// RecordProgress 保存执行中的部分结果,不写审计日志
	RecordProgress(ctx context.Context, id string, result *task.Result) error
	Complete(ctx context.Context, id string, result *task.Result) (*task.Task, error)
	Fail(ctx context.Context, id string, result *task.Result, reason string) (*task.Task, error)
}

// dbTaskStore 基于数据库的任务存储
type dbTaskStore struct {
	db  *gorm.DB
	sm  statemachine.StateMachine
	log audit.Log
	now func() time.Time
}

// NewTaskStore 创建任务存储
func NewTaskStore(db *gorm.DB, log audit.Log) TaskStore {
	return &dbTaskStore{
		db:  db,
		sm:  statemachine.NewStateMachine(),
		log: log,
		now: time.Now,
	}
}

// activeStatuses 参与去重的非终态
func activeStatuses() []string {
	out := make([]string, 0, len(types.NonTerminalStatuses))
	for _, s := range types.NonTerminalStatuses {
		out = append(out, string(s))
	}
	return out
}

// Create 创建任务;同一去重键已有未终结任务时返回已有任务并记录抑制日志
func (s *dbTaskStore) Create(ctx context.Context, p *task.Proposal) (*CreateResult, error) {
	if p == nil {
		return nil, utils.NewValidationError("proposal", "is required")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	for attempt := 1; ; attempt++ {
		result, entry, err := s.create(ctx, p, payload)
		if errors.Is(err, gorm.ErrDuplicatedKey) && attempt < createAttempts {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create task: %w", err)
		}
		s.log.Publish(entry)

		outcome := "created"
		switch {
		case result.Suppressed:
			outcome = "suppressed"
		case result.AutoApproved:
			outcome = "auto_approved"
		}
		metrics.RecordTaskCreated(string(p.TaskType), outcome)
		return result, nil
	}
}

func (s *dbTaskStore) create(ctx context.Context, p *task.Proposal, payload []byte) (*CreateResult, *audit.Entry, error) {
	dedupKey := task.DedupKey(p.Payload)
	actor := p.Actor
	if actor == "" {
		actor = types.ActorSystem
		if p.RuleID != nil {
			actor = types.RuleActor(*p.RuleID)
		}
	}

	var (
		result *CreateResult
		entry  *audit.Entry
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewTaskRepository(tx)

		existing, err := repo.FindActiveByDedupKey(ctx, dedupKey, activeStatuses())
		if err == nil {
			t, err := task.FromModel(existing)
			if err != nil {
				return err
			}
			result = &CreateResult{Task: t, Suppressed: true}
			entry = &audit.Entry{
				TaskID:  &existing.ID,
				RuleID:  p.RuleID,
				Action:  types.ActionDuplicateSuppressed,
				Status:  types.LogStatusInfo,
				Actor:   actor,
				Message: fmt.Sprintf("proposal suppressed, task %s is still %s", existing.ID, existing.Status),
				Details: map[string]interface{}{
					"dedup_key":  dedupKey,
					"confidence": *p.Confidence,
				},
			}
			return s.log.Append(ctx, tx, entry)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		threshold, err := s.autoApproveThreshold(ctx, tx, p, actor)
		if err != nil {
			return err
		}

		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate task id: %w", err)
		}
		now := s.now()
		m := &model.TaskModel{
			ID:           id.String(),
			TaskType:     string(p.TaskType),
			Priority:     string(p.Priority),
			PriorityRank: p.Priority.Rank(),
			Status:       string(types.TaskStatusPendingApproval),
			Payload:      datatypes.JSON(payload),
			Reasoning:    p.Reasoning,
			Confidence:   *p.Confidence,
			RuleID:       p.RuleID,
			DedupKey:     dedupKey,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		entry = &audit.Entry{
			TaskID:  &m.ID,
			RuleID:  p.RuleID,
			Action:  types.ActionTaskCreated,
			Status:  types.LogStatusInfo,
			Actor:   actor,
			Message: fmt.Sprintf("%s task created with confidence %.1f", p.TaskType, *p.Confidence),
			Details: map[string]interface{}{
				"task_type":  string(p.TaskType),
				"priority":   string(p.Priority),
				"confidence": *p.Confidence,
				"dedup_key":  dedupKey,
			},
		}

		autoApproved := threshold != nil && *p.Confidence >= *threshold
		if autoApproved {
			m.Status = string(types.TaskStatusApproved)
			m.ApprovedBy = types.RuleActor(*p.RuleID)
			m.ApprovedAt = &now
			entry.Action = types.ActionAutoApproved
			entry.Status = types.LogStatusSuccess
			entry.Message = fmt.Sprintf("%s task auto-approved, confidence %.1f meets threshold %.1f", p.TaskType, *p.Confidence, *threshold)
			entry.Details["threshold"] = *threshold
		}
		if err := m.Validate(); err != nil {
			return err
		}
		if err := repo.Create(ctx, m); err != nil {
			return err
		}
		if err := s.log.Append(ctx, tx, entry); err != nil {
			return err
		}

		t, err := task.FromModel(m)
		if err != nil {
			return err
		}
		result = &CreateResult{Task: t, AutoApproved: autoApproved}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, entry, nil
}

// autoApproveThreshold 读取来源规则的自动审批阈值。
// 只有规则自身产生的提案 (actor 为 rule:<id>) 才能自动审批,
// 且规则必须处于启用状态、动作类型与任务类型一致。
func (s *dbTaskStore) autoApproveThreshold(ctx context.Context, tx *gorm.DB, p *task.Proposal, actor string) (*float64, error) {
	if p.RuleID == nil || actor != types.RuleActor(*p.RuleID) {
		return nil, nil
	}
	rule, err := repository.NewRuleRepository(tx).FindByID(ctx, *p.RuleID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule %s: %w", *p.RuleID, err)
	}
	if !rule.IsActive || rule.ActionType != string(p.TaskType) {
		return nil, nil
	}
	return rule.AutoApproveThreshold, nil
}

// Get 获取任务
func (s *dbTaskStore) Get(ctx context.Context, id string) (*task.Task, error) {
	m, err := repository.NewTaskRepository(s.db).FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &utils.NotFoundError{Resource: "task", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task.FromModel(m)
}

// List 分页查询任务
func (s *dbTaskStore) List(ctx context.Context, filter *repository.TaskFilter) ([]*task.Task, int64, error) {
	models, total, err := repository.NewTaskRepository(s.db).FindByFilter(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	tasks := make([]*task.Task, 0, len(models))
	for _, m := range models {
		t, err := task.FromModel(m)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, t)
	}
	return tasks, total, nil
}

// Approve 审批通过
func (s *dbTaskStore) Approve(ctx context.Context, id, approverID string) (*task.Task, error) {
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return nil, utils.NewValidationError("approver_id", "is required")
	}
	return s.transition(ctx, id, types.TaskStatusApproved, func(m *model.TaskModel, now time.Time) (map[string]interface{}, *audit.Entry) {
		return map[string]interface{}{
				"approved_by": approverID,
				"approved_at": now,
			}, &audit.Entry{
				Action:  types.ActionTaskApproved,
				Status:  types.LogStatusSuccess,
				Actor:   types.ApproverActor(approverID),
				Message: fmt.Sprintf("task approved by %s", approverID),
			}
	})
}

// Reject 审批拒绝,必须给出原因
func (s *dbTaskStore) Reject(ctx context.Context, id, approverID, reason string) (*task.Task, error) {
	approverID = strings.TrimSpace(approverID)
	reason = strings.TrimSpace(reason)
	if approverID == "" {
		return nil, utils.NewValidationError("approver_id", "is required")
	}
	if reason == "" {
		return nil, utils.NewValidationError("reason", "is required when rejecting a task")
	}
	return s.reject(ctx, id, approverID, types.ApproverActor(approverID), types.ActionTaskRejected, reason)
}

// Expire 审批超时
func (s *dbTaskStore) Expire(ctx context.Context, id, reason string) (*task.Task, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "approval window expired"
	}
	return s.reject(ctx, id, types.ActorSystem, types.ActorSystem, types.ActionTaskExpired, reason)
}

func (s *dbTaskStore) reject(ctx context.Context, id, rejectedBy, actor, action, reason string) (*task.Task, error) {
	return s.transition(ctx, id, types.TaskStatusRejected, func(m *model.TaskModel, now time.Time) (map[string]interface{}, *audit.Entry) {
		return map[string]interface{}{
				"rejected_by":      rejectedBy,
				"rejected_at":      now,
				"rejection_reason": reason,
			}, &audit.Entry{
				Action:  action,
				Status:  types.LogStatusInfo,
				Actor:   actor,
				Message: fmt.Sprintf("task rejected by %s: %s", rejectedBy, reason),
				Details: map[string]interface{}{"reason": reason},
			}
	})
}

// Claim 原子地认领已审批任务进入执行
func (s *dbTaskStore) Claim(ctx context.Context, id string) (*task.Task, error) {
	return s.transition(ctx, id, types.TaskStatusExecuting, func(m *model.TaskModel, now time.Time) (map[string]interface{}, *audit.Entry) {
		return map[string]interface{}{
				"started_at": now,
			}, &audit.Entry{
				Action:  types.ActionTaskExecuting,
				Status:  types.LogStatusInfo,
				Actor:   types.ActorExecutor,
				Message: fmt.Sprintf("%s task execution started", m.TaskType),
			}
	})
}

// RecordProgress 保存部分结果
func (s *dbTaskStore) RecordProgress(ctx context.Context, id string, result *task.Result) error {
	data, err := task.EncodeResult(result)
	if err != nil {
		return err
	}
	repo := repository.NewTaskRepository(s.db)
	ok, err := repo.CompareAndUpdate(ctx, id, string(types.TaskStatusExecuting), map[string]interface{}{
		"result":     datatypes.JSON(data),
		"updated_at": s.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to record progress: %w", err)
	}
	if !ok {
		current, err := repo.FindByID(ctx, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &utils.NotFoundError{Resource: "task", ID: id}
		}
		if err != nil {
			return fmt.Errorf("failed to record progress: %w", err)
		}
		return &utils.ApprovalStateError{TaskID: id, Current: current.Status, Target: string(types.TaskStatusExecuting), Reason: "progress can only be recorded while executing"}
	}
	return nil
}

// Complete 执行成功
func (s *dbTaskStore) Complete(ctx context.Context, id string, result *task.Result) (*task.Task, error) {
	if result == nil {
		result = &task.Result{}
	}
	data, err := task.EncodeResult(result)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, id, types.TaskStatusCompleted, func(m *model.TaskModel, now time.Time) (map[string]interface{}, *audit.Entry) {
		return map[string]interface{}{
				"result":      datatypes.JSON(data),
				"finished_at": now,
			}, &audit.Entry{
				Action:  types.ActionTaskCompleted,
				Status:  types.LogStatusSuccess,
				Actor:   types.ActorExecutor,
				Message: fmt.Sprintf("%s task completed", m.TaskType),
				Details: resultDetails(result),
			}
	})
}

// Fail 执行失败,保留部分结果
func (s *dbTaskStore) Fail(ctx context.Context, id string, result *task.Result, reason string) (*task.Task, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "execution failed"
	}
	data, err := task.EncodeResult(result)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, id, types.TaskStatusFailed, func(m *model.TaskModel, now time.Time) (map[string]interface{}, *audit.Entry) {
		updates := map[string]interface{}{
			"error":       reason,
			"finished_at": now,
		}
		details := map[string]interface{}{"error": reason}
		if data != nil {
			updates["result"] = datatypes.JSON(data)
			for k, v := range resultDetails(result) {
				details[k] = v
			}
		}
		return updates, &audit.Entry{
			Action:  types.ActionTaskFailed,
			Status:  types.LogStatusError,
			Actor:   types.ActorExecutor,
			Message: fmt.Sprintf("%s task failed: %s", m.TaskType, reason),
			Details: details,
		}
	})
}

// transitionFunc 根据当前任务构造更新字段与审计日志
type transitionFunc func(m *model.TaskModel, now time.Time) (map[string]interface{}, *audit.Entry)

// transition 在事务中校验并执行状态转换, 条件更新保证并发下只有一个调用方成功
func (s *dbTaskStore) transition(ctx context.Context, id string, to types.TaskStatus, build transitionFunc) (*task.Task, error) {
	var (
		from    types.TaskStatus
		updated *model.TaskModel
		entry   *audit.Entry
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewTaskRepository(tx)
		current, err := repo.FindByID(ctx, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &utils.NotFoundError{Resource: "task", ID: id}
		}
		if err != nil {
			return err
		}

		from = types.TaskStatus(current.Status)
		if err := s.sm.Validate(from, to); err != nil {
			return &utils.ApprovalStateError{TaskID: id, Current: string(from), Target: string(to), Reason: err.Error()}
		}

		now := s.now()
		updates, e := build(current, now)
		updates["status"] = string(to)
		updates["updated_at"] = now

		ok, err := repo.CompareAndUpdate(ctx, id, current.Status, updates)
		if err != nil {
			return err
		}
		if !ok {
			return &utils.ApprovalStateError{TaskID: id, Current: string(from), Target: string(to), Reason: "task was changed concurrently"}
		}

		e.TaskID = &current.ID
		e.RuleID = current.RuleID
		if e.Details == nil {
			e.Details = map[string]interface{}{}
		}
		e.Details["from"] = string(from)
		e.Details["to"] = string(to)
		if err := s.log.Append(ctx, tx, e); err != nil {
			return err
		}
		entry = e

		updated, err = repo.FindByID(ctx, id)
		return err
	})
	if err != nil {
		if utils.IsNotFoundError(err) || utils.IsApprovalStateError(err) || utils.IsValidationError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to move task %s to %s: %w", id, to, err)
	}

	s.log.Publish(entry)
	metrics.RecordTransition(string(from), string(to))
	return task.FromModel(updated)
}

// resultDetails 审计日志中记录的结果引用
func resultDetails(r *task.Result) map[string]interface{} {
	d := map[string]interface{}{}
	if r == nil {
		return d
	}
	if r.PurchaseOrderID != "" {
		d["purchase_order_id"] = r.PurchaseOrderID
	}
	if r.RFQID != "" {
		d["rfq_id"] = r.RFQID
		d["invitation_count"] = r.InvitationCount
	}
	if r.MessageID != "" {
		d["message_id"] = r.MessageID
	}
	if len(r.MaterialsOnOrder) > 0 {
		d["materials_on_order"] = r.MaterialsOnOrder
	}
	d["steps"] = len(r.Steps)
	return d
}
