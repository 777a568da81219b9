package statemachine_test

import (
	"testing"

	"github.com/jcheng510/coingame-sub001/internal/statemachine"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStateMachine_AllowedTransitions 测试合法的状态转换
func TestStateMachine_AllowedTransitions(t *testing.T) {
	sm := statemachine.NewStateMachine()

	allowed := [][2]types.TaskStatus{
		{types.TaskStatusPendingApproval, types.TaskStatusApproved},
		{types.TaskStatusPendingApproval, types.TaskStatusRejected},
		{types.TaskStatusApproved, types.TaskStatusExecuting},
		{types.TaskStatusExecuting, types.TaskStatusCompleted},
		{types.TaskStatusExecuting, types.TaskStatusFailed},
	}
	for _, tr := range allowed {
		assert.True(t, sm.CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
		assert.NoError(t, sm.Validate(tr[0], tr[1]))
	}
}

// TestStateMachine_TerminalStates 测试终态不允许任何转换
func TestStateMachine_TerminalStates(t *testing.T) {
	sm := statemachine.NewStateMachine()

	for _, from := range []types.TaskStatus{types.TaskStatusRejected, types.TaskStatusCompleted, types.TaskStatusFailed} {
		for _, to := range types.TaskStatuses {
			assert.False(t, sm.CanTransition(from, to))
			err := sm.Validate(from, to)
			require.Error(t, err)
			var te *statemachine.TransitionError
			require.ErrorAs(t, err, &te)
			assert.True(t, te.Terminal)
		}
	}
}

// TestStateMachine_SkippingStates 测试跳过中间状态的转换被拒绝
func TestStateMachine_SkippingStates(t *testing.T) {
	sm := statemachine.NewStateMachine()

	assert.False(t, sm.CanTransition(types.TaskStatusPendingApproval, types.TaskStatusExecuting))
	assert.False(t, sm.CanTransition(types.TaskStatusApproved, types.TaskStatusCompleted))
	assert.False(t, sm.CanTransition(types.TaskStatusExecuting, types.TaskStatusApproved))
	assert.False(t, sm.CanTransition(types.TaskStatusApproved, types.TaskStatusRejected))
}

// TestIsValidPath 测试状态路径校验
func TestIsValidPath(t *testing.T) {
	sm := statemachine.NewStateMachine()

	assert.True(t, statemachine.IsValidPath(sm, []types.TaskStatus{
		types.TaskStatusPendingApproval, types.TaskStatusApproved, types.TaskStatusExecuting, types.TaskStatusCompleted,
	}))
	assert.True(t, statemachine.IsValidPath(sm, []types.TaskStatus{
		types.TaskStatusApproved, types.TaskStatusExecuting, types.TaskStatusFailed,
	}))
	assert.True(t, statemachine.IsValidPath(sm, []types.TaskStatus{types.TaskStatusPendingApproval, types.TaskStatusRejected}))
	assert.False(t, statemachine.IsValidPath(sm, []types.TaskStatus{types.TaskStatusExecuting}))
	assert.False(t, statemachine.IsValidPath(sm, []types.TaskStatus{
		types.TaskStatusPendingApproval, types.TaskStatusRejected, types.TaskStatusApproved,
	}))
	assert.False(t, statemachine.IsValidPath(sm, nil))
}
