package types

// TaskType 任务类型
type TaskType string

const (
	TaskTypeGeneratePO       TaskType = "generate_po"
	TaskTypeSendRFQ          TaskType = "send_rfq"
	TaskTypeSendEmail        TaskType = "send_email"
	TaskTypeReorderMaterials TaskType = "reorder_materials"
)

// TaskTypes 所有受支持的任务类型
var TaskTypes = []TaskType{
	TaskTypeGeneratePO,
	TaskTypeSendRFQ,
	TaskTypeSendEmail,
	TaskTypeReorderMaterials,
}

// Valid 判断任务类型是否受支持
func (t TaskType) Valid() bool {
	for _, tt := range TaskTypes {
		if t == tt {
			return true
		}
	}
	return false
}

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusPendingApproval TaskStatus = "pending_approval"
	TaskStatusApproved        TaskStatus = "approved"
	TaskStatusRejected        TaskStatus = "rejected"
	TaskStatusExecuting       TaskStatus = "executing"
	TaskStatusCompleted       TaskStatus = "completed"
	TaskStatusFailed          TaskStatus = "failed"
)

// TaskStatuses 所有任务状态
var TaskStatuses = []TaskStatus{
	TaskStatusPendingApproval,
	TaskStatusApproved,
	TaskStatusRejected,
	TaskStatusExecuting,
	TaskStatusCompleted,
	TaskStatusFailed,
}

// Valid 判断状态是否合法
func (s TaskStatus) Valid() bool {
	for _, st := range TaskStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// IsTerminal 是否为终态
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusRejected || s == TaskStatusCompleted || s == TaskStatusFailed
}

// NonTerminalStatuses 非终态集合,用于去重检查
var NonTerminalStatuses = []TaskStatus{
	TaskStatusPendingApproval,
	TaskStatusApproved,
	TaskStatusExecuting,
}

// Priority 任务优先级
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank 返回优先级的数值排序权重,未知优先级返回 0
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 0
}

// Valid 判断优先级是否合法
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// RuleType 规则类型,决定规则检查的主体集合
type RuleType string

const (
	RuleTypeLowStock     RuleType = "low_stock"
	RuleTypeStaleQuote   RuleType = "stale_quote"
	RuleTypeInboundEmail RuleType = "inbound_email"
)

// Valid 判断规则类型是否受支持
func (r RuleType) Valid() bool {
	switch r {
	case RuleTypeLowStock, RuleTypeStaleQuote, RuleTypeInboundEmail:
		return true
	}
	return false
}

// Supports 判断规则类型能否产生指定的任务类型
func (r RuleType) Supports(t TaskType) bool {
	switch r {
	case RuleTypeLowStock:
		return t == TaskTypeGeneratePO || t == TaskTypeReorderMaterials || t == TaskTypeSendRFQ
	case RuleTypeStaleQuote:
		return t == TaskTypeSendRFQ
	case RuleTypeInboundEmail:
		return t == TaskTypeSendEmail
	}
	return false
}

// LogStatus 日志状态
type LogStatus string

const (
	LogStatusInfo    LogStatus = "info"
	LogStatusSuccess LogStatus = "success"
	LogStatusError   LogStatus = "error"
)

// Valid 判断日志状态是否合法
func (s LogStatus) Valid() bool {
	return s == LogStatusInfo || s == LogStatusSuccess || s == LogStatusError
}

// 审计日志动作
const (
	ActionTaskCreated         = "task_created"
	ActionAutoApproved        = "auto_approved"
	ActionDuplicateSuppressed = "duplicate_suppressed"
	ActionTaskApproved        = "task_approved"
	ActionTaskRejected        = "task_rejected"
	ActionTaskExpired         = "task_expired"
	ActionTaskExecuting       = "task_executing"
	ActionTaskCompleted       = "task_completed"
	ActionTaskFailed          = "task_failed"
	ActionRuleEvaluated       = "rule_evaluated"
	ActionRuleEvaluationError = "rule_evaluation_error"
	ActionRuleCreated         = "rule_created"
	ActionRuleActivated       = "rule_activated"
	ActionRuleDeactivated     = "rule_deactivated"
	ActionEvaluationCycle     = "evaluation_cycle"
)

// 系统操作者
const (
	ActorSystem   = "system"
	ActorExecutor = "executor"
)

// RuleActor 返回规则作为操作者的标识
func RuleActor(ruleID string) string {
	return "rule:" + ruleID
}

// ApproverActor 返回审批人作为操作者的标识
func ApproverActor(approverID string) string {
	return "approver:" + approverID
}
