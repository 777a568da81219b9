package statemachine

import (
	"fmt"

	"github.com/jcheng510/coingame-sub001/internal/types"
)

// StateMachine 任务状态机接口
type StateMachine interface {
	// CanTransition 判断是否允许从 from 转换到 to
	CanTransition(from, to types.TaskStatus) bool
	// Validate 校验状态转换,不合法时返回错误
	Validate(from, to types.TaskStatus) error
	// InitialStates 任务创建时允许的初始状态
	InitialStates() []types.TaskStatus
}

// transitions 合法的状态转换表
var transitions = map[types.TaskStatus][]types.TaskStatus{
	types.TaskStatusPendingApproval: {types.TaskStatusApproved, types.TaskStatusRejected},
	types.TaskStatusApproved:        {types.TaskStatusExecuting},
	types.TaskStatusExecuting:       {types.TaskStatusCompleted, types.TaskStatusFailed},
}

type stateMachine struct{}

// NewStateMachine 创建状态机
func NewStateMachine() StateMachine {
	return &stateMachine{}
}

// CanTransition 判断是否允许状态转换
func (sm *stateMachine) CanTransition(from, to types.TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Validate 校验状态转换
func (sm *stateMachine) Validate(from, to types.TaskStatus) error {
	if from.IsTerminal() {
		return &TransitionError{From: from, To: to, Terminal: true}
	}
	if !sm.CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// InitialStates 返回初始状态
func (sm *stateMachine) InitialStates() []types.TaskStatus {
	return []types.TaskStatus{types.TaskStatusPendingApproval, types.TaskStatusApproved}
}

// TransitionError 非法状态转换
type TransitionError struct {
	From     types.TaskStatus
	To       types.TaskStatus
	Terminal bool
}

func (e *TransitionError) Error() string {
	if e.Terminal {
		return fmt.Sprintf("task is in terminal state %q, cannot transition to %q", e.From, e.To)
	}
	return fmt.Sprintf("invalid state transition from %q to %q", e.From, e.To)
}

// IsValidPath 判断状态序列是否为状态机中的合法路径
func IsValidPath(sm StateMachine, path []types.TaskStatus) bool {
	if len(path) == 0 {
		return false
	}
	initial := false
	for _, s := range sm.InitialStates() {
		if path[0] == s {
			initial = true
			break
		}
	}
	if !initial {
		return false
	}
	for i := 1; i < len(path); i++ {
		if !sm.CanTransition(path[i-1], path[i]) {
			return false
		}
	}
	return true
}
