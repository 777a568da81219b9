package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jcheng510/coingame-sub001/internal/audit"
	"github.com/jcheng510/coingame-sub001/internal/integration"
	"github.com/jcheng510/coingame-sub001/internal/task"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/jcheng510/coingame-sub001/internal/utils"
)

// TaskService 任务服务接口
type TaskService interface {
	Create(ctx context.Context, req *CreateTaskRequest) (*integration.CreateResult, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	Approve(ctx context.Context, id string, req *ApproveRequest) (*task.Task, error)
	Reject(ctx context.Context, id string, req *RejectRequest) (*task.Task, error)
	Execute(ctx context.Context, id string) (*task.Task, error)
	Pending(ctx context.Context, page, pageSize int) ([]*task.Task, int64, error)
	Logs(ctx context.Context, id string, limit int) ([]*audit.Entry, error)
	// 批量操作方法
	BatchApprove(ctx context.Context, req *BatchApproveRequest) ([]BatchOperationResult, error)
}

// CreateTaskRequest 创建任务请求
type CreateTaskRequest struct {
	TaskType   types.TaskType  `json:"task_type" binding:"required"`
	Priority   types.Priority  `json:"priority"`
	Payload    json.RawMessage `json:"payload" binding:"required"`
	Reasoning  string          `json:"reasoning" binding:"required"`
	Confidence *float64        `json:"confidence" binding:"required"`
	RuleID     *string         `json:"rule_id"`
	Actor      string          `json:"actor"` // 提交人, 为空时记为 api
}

// ApproveRequest 审批同意请求
type ApproveRequest struct {
	ApproverID string `json:"approver_id" binding:"required"`
}

// RejectRequest 审批拒绝请求
type RejectRequest struct {
	ApproverID string `json:"approver_id" binding:"required"`
	Reason     string `json:"reason"`
}

// BatchApproveRequest 批量审批请求
type BatchApproveRequest struct {
	TaskIDs    []string `json:"task_ids" binding:"required"`
	ApproverID string   `json:"approver_id" binding:"required"`
}

// BatchOperationResult 批量操作结果
type BatchOperationResult struct {
	TaskID  string `json:"task_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

const (
	// maxBatchSize 单次批量审批的任务上限
	maxBatchSize = 100
	// maxReasonLength 拒绝原因最大长度
	maxReasonLength = 1000
)

type taskService struct {
	store    integration.TaskStore
	gate     *integration.ApprovalGate
	executor integration.TaskExecutor
	log      audit.Log
}

// NewTaskService 创建任务服务
func NewTaskService(store integration.TaskStore, gate *integration.ApprovalGate, executor integration.TaskExecutor, log audit.Log) TaskService {
	return &taskService{
		store:    store,
		gate:     gate,
		executor: executor,
		log:      log,
	}
}

// Create 人工提交任务提案,与规则产生的提案走同一套去重与审批流程
func (s *taskService) Create(ctx context.Context, req *CreateTaskRequest) (*integration.CreateResult, error) {
	if !req.TaskType.Valid() {
		return nil, utils.NewValidationError("task_type", "unsupported task type %q", req.TaskType)
	}
	payload, err := task.DecodePayload(req.TaskType, req.Payload)
	if err != nil {
		return nil, err
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = "api"
	}
	// rule:<id> 保留给规则引擎, 人工提交始终进入审批队列
	if strings.HasPrefix(actor, types.RuleActor("")) {
		return nil, utils.NewValidationError("actor", "%q is reserved for rules", actor)
	}
	res, err := s.store.Create(ctx, &task.Proposal{
		TaskType:   req.TaskType,
		Priority:   req.Priority,
		Payload:    payload,
		Reasoning:  req.Reasoning,
		Confidence: req.Confidence,
		RuleID:     req.RuleID,
		Actor:      actor,
	})
	if err != nil {
		return nil, err
	}
	if res.AutoApproved && !res.Suppressed {
		s.gate.Handoff(res.Task)
	}
	return res, nil
}

// Get 获取任务详情
func (s *taskService) Get(ctx context.Context, id string) (*task.Task, error) {
	return s.store.Get(ctx, id)
}

// Approve 审批同意
func (s *taskService) Approve(ctx context.Context, id string, req *ApproveRequest) (*task.Task, error) {
	approver, err := approverID(req.ApproverID)
	if err != nil {
		return nil, err
	}
	return s.gate.Approve(ctx, id, approver)
}

// Reject 审批拒绝, 必须给出原因
func (s *taskService) Reject(ctx context.Context, id string, req *RejectRequest) (*task.Task, error) {
	approver, err := approverID(req.ApproverID)
	if err != nil {
		return nil, err
	}
	reason, err := utils.TrimAndValidate(req.Reason, maxReasonLength)
	if err != nil {
		return nil, utils.NewValidationError("reason", "%s", err.Error())
	}
	return s.gate.Reject(ctx, id, approver, reason)
}

// Execute 同步执行已审批任务
func (s *taskService) Execute(ctx context.Context, id string) (*task.Task, error) {
	return s.executor.Execute(ctx, id)
}

// Pending 审批队列
func (s *taskService) Pending(ctx context.Context, page, pageSize int) ([]*task.Task, int64, error) {
	return s.gate.Pending(ctx, page, pageSize)
}

// Logs 获取任务的审计日志
func (s *taskService) Logs(ctx context.Context, id string, limit int) ([]*audit.Entry, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.log.List(ctx, &audit.Filter{TaskID: &id, Limit: limit})
}

// BatchApprove 批量审批, 单个任务失败不影响其他任务
func (s *taskService) BatchApprove(ctx context.Context, req *BatchApproveRequest) ([]BatchOperationResult, error) {
	if len(req.TaskIDs) == 0 {
		return nil, utils.NewValidationError("task_ids", "at least one task is required")
	}
	if len(req.TaskIDs) > maxBatchSize {
		return nil, utils.NewValidationError("task_ids", "at most %d tasks per batch", maxBatchSize)
	}

	results := make([]BatchOperationResult, 0, len(req.TaskIDs))
	for _, taskID := range req.TaskIDs {
		_, err := s.Approve(ctx, taskID, &ApproveRequest{ApproverID: req.ApproverID})
		result := BatchOperationResult{
			TaskID:  taskID,
			Success: err == nil,
		}
		if err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results, nil
}

func approverID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if err := utils.ValidateID(id); err != nil {
		return "", utils.NewValidationError("approver_id", "%s", err.Error())
	}
	return id, nil
}
