package task

import (
	"encoding/json"
	"fmt"

	"github.com/jcheng510/coingame-sub001/internal/model"
	"github.com/jcheng510/coingame-sub001/internal/types"
)

// FromModel 从数据模型构造任务
func FromModel(m *model.TaskModel) (*Task, error) {
	payload, err := DecodePayload(types.TaskType(m.TaskType), m.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload of task %s: %w", m.ID, err)
	}
	t := &Task{
		ID:              m.ID,
		TaskType:        types.TaskType(m.TaskType),
		Priority:        types.Priority(m.Priority),
		Status:          types.TaskStatus(m.Status),
		Payload:         payload,
		Reasoning:       m.Reasoning,
		Confidence:      m.Confidence,
		RuleID:          m.RuleID,
		DedupKey:        m.DedupKey,
		ApprovedBy:      m.ApprovedBy,
		ApprovedAt:      m.ApprovedAt,
		RejectedBy:      m.RejectedBy,
		RejectedAt:      m.RejectedAt,
		RejectionReason: m.RejectionReason,
		Error:           m.Error,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		StartedAt:       m.StartedAt,
		FinishedAt:      m.FinishedAt,
	}
	if len(m.Result) > 0 && string(m.Result) != "null" {
		t.Result = &Result{}
		if err := json.Unmarshal(m.Result, t.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result of task %s: %w", m.ID, err)
		}
	}
	return t, nil
}

// EncodeResult 序列化执行结果
func EncodeResult(r *Result) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return data, nil
}
