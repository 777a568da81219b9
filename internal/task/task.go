package task

import (
	"math"
	"strings"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/jcheng510/coingame-sub001/internal/utils"
)

// Task 自动化任务
type Task struct {
	ID              string           `json:"id"`
	TaskType        types.TaskType   `json:"task_type"`
	Priority        types.Priority   `json:"priority"`
	Status          types.TaskStatus `json:"status"`
	Payload         Payload          `json:"payload"`
	Reasoning       string           `json:"reasoning"`
	Confidence      float64          `json:"confidence"`
	RuleID          *string          `json:"rule_id,omitempty"`
	DedupKey        string           `json:"dedup_key"`
	ApprovedBy      string           `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time       `json:"approved_at,omitempty"`
	RejectedBy      string           `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time       `json:"rejected_at,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	Result          *Result          `json:"result,omitempty"`
	Error           string           `json:"error,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	FinishedAt      *time.Time       `json:"finished_at,omitempty"`
}

// Proposal 规则匹配或人工提交产生的任务提案,尚未持久化
type Proposal struct {
	TaskType   types.TaskType
	Priority   types.Priority
	Payload    Payload
	Reasoning  string
	Confidence *float64
	RuleID     *string
	// Actor 提案来源,规则引擎为 rule:<id>,人工提交为提交人
	Actor string
}

// Validate 校验提案,置信度缺失或越界均视为非法
func (p *Proposal) Validate() error {
	if !p.TaskType.Valid() {
		return utils.NewValidationError("task_type", "unsupported task type %q", p.TaskType)
	}
	if p.Priority == "" {
		p.Priority = types.PriorityMedium
	}
	if !p.Priority.Valid() {
		return utils.NewValidationError("priority", "unsupported priority %q", p.Priority)
	}
	if p.Payload == nil {
		return utils.NewValidationError("payload", "is required")
	}
	if p.Payload.TaskType() != p.TaskType {
		return utils.NewValidationError("payload", "payload is for %q, not %q", p.Payload.TaskType(), p.TaskType)
	}
	if err := p.Payload.Validate(); err != nil {
		return err
	}
	if err := ValidateConfidence(p.Confidence); err != nil {
		return err
	}
	if strings.TrimSpace(p.Reasoning) == "" {
		return utils.NewValidationError("reasoning", "is required")
	}
	return nil
}

// ValidateConfidence 校验置信度在 [0,100] 之间
func ValidateConfidence(c *float64) error {
	if c == nil {
		return utils.NewValidationError("confidence", "is required")
	}
	if math.IsNaN(*c) || *c < 0 || *c > 100 {
		return utils.NewValidationError("confidence", "must be between 0 and 100, got %v", *c)
	}
	return nil
}

// Result 执行结果,记录已创建的下游实体
type Result struct {
	PurchaseOrderID  string       `json:"purchase_order_id,omitempty"`
	RFQID            string       `json:"rfq_id,omitempty"`
	InvitationCount  int          `json:"invitation_count,omitempty"`
	InvitedVendorIDs []int64      `json:"invited_vendor_ids,omitempty"`
	MessageID        string       `json:"message_id,omitempty"`
	MaterialsOnOrder []int64      `json:"materials_on_order,omitempty"`
	Steps            []StepResult `json:"steps"`
}

// StepResult 单个执行步骤的结果
type StepResult struct {
	Name      string    `json:"name"`
	Reference string    `json:"reference,omitempty"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
}

// 步骤状态
const (
	StepSucceeded = "succeeded"
	StepFailed    = "failed"
)

// Step 查找已成功的步骤
func (r *Result) Step(name string) (StepResult, bool) {
	if r == nil {
		return StepResult{}, false
	}
	for _, s := range r.Steps {
		if s.Name == name && s.Status == StepSucceeded {
			return s, true
		}
	}
	return StepResult{}, false
}

// Record 记录步骤结果
func (r *Result) Record(name, reference, status string) {
	r.Steps = append(r.Steps, StepResult{Name: name, Reference: reference, Status: status, At: time.Now()})
}

// Clone 深拷贝结果
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	c.InvitedVendorIDs = append([]int64(nil), r.InvitedVendorIDs...)
	c.MaterialsOnOrder = append([]int64(nil), r.MaterialsOnOrder...)
	c.Steps = append([]StepResult(nil), r.Steps...)
	return &c
}
