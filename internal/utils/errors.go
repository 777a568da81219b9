package utils

import (
	"errors"
	"fmt"
)

// ValidationError 请求或载荷校验失败
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// NewValidationError 创建字段校验错误
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: "VALIDATION_FAILED", Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError 任务或规则不存在
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// ApprovalStateError 非法的状态转换
type ApprovalStateError struct {
	TaskID  string
	Current string
	Target  string
	Reason  string
}

func (e *ApprovalStateError) Error() string {
	msg := fmt.Sprintf("task %s cannot move from %q to %q", e.TaskID, e.Current, e.Target)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// RuleEvaluationError 规则条件或打分失败
type RuleEvaluationError struct {
	RuleID  string
	Subject string
	Err     error
}

func (e *RuleEvaluationError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("rule %s evaluation failed for %s: %v", e.RuleID, e.Subject, e.Err)
	}
	return fmt.Sprintf("rule %s evaluation failed: %v", e.RuleID, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error {
	return e.Err
}

// ExecutionError 领域服务调用失败
type ExecutionError struct {
	TaskID string
	Step   string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsValidationError 判断是否为校验错误
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFoundError 判断是否为不存在错误
func IsNotFoundError(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsApprovalStateError 判断是否为状态错误
func IsApprovalStateError(err error) bool {
	var target *ApprovalStateError
	return errors.As(err, &target)
}

// IsRuleEvaluationError 判断是否为规则评估错误
func IsRuleEvaluationError(err error) bool {
	var target *RuleEvaluationError
	return errors.As(err, &target)
}

// IsExecutionError 判断是否为执行错误
func IsExecutionError(err error) bool {
	var target *ExecutionError
	return errors.As(err, &target)
}
