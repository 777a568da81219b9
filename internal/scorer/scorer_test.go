package scorer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/config"
	"github.com/jcheng510/coingame-sub001/internal/scorer"
	"github.com/jcheng510/coingame-sub001/internal/task"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/jcheng510/coingame-sub001/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func poRequest() *scorer.Request {
	return &scorer.Request{
		RuleID:   "low-steel",
		RuleName: "Low steel",
		RuleType: types.RuleTypeLowStock,
		TaskType: types.TaskTypeGeneratePO,
		Subject:  "material:1",
		Fields: map[string]interface{}{
			"current_stock":   40.0,
			"reorder_point":   250.0,
			"stock_ratio":     0.16,
			"best_quote_cost": 10.0,
		},
		Payload: &task.GeneratePOPayload{VendorID: 2, RawMaterialID: 1, Quantity: 500, UnitCost: 10, TotalAmount: "5000.00"},
	}
}

// openAIServer 模拟 chat completion 接口
func openAIServer(t *testing.T, content string, delay time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   body["model"],
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]interface{}{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
}

// TestOpenAIScorer_Score 测试解析模型输出
func TestOpenAIScorer_Score(t *testing.T) {
	srv := openAIServer(t, `{"reasoning":"stock is far below reorder point","confidence":88,"suggested_parameters":{"quantity":600}}`, 0)
	defer srv.Close()

	s := scorer.NewOpenAIScorer(scorer.OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"})
	score, err := s.Score(context.Background(), poRequest())
	require.NoError(t, err)
	assert.Equal(t, 88.0, score.Confidence)
	assert.Equal(t, "stock is far below reorder point", score.Reasoning)
	assert.Equal(t, 600.0, score.SuggestedParameters["quantity"])
}

// TestOpenAIScorer_MalformedOutput 测试非法输出
func TestOpenAIScorer_MalformedOutput(t *testing.T) {
	srv := openAIServer(t, "I think this is fine", 0)
	defer srv.Close()

	s := scorer.NewOpenAIScorer(scorer.OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"})
	_, err := s.Score(context.Background(), poRequest())
	assert.Error(t, err)
}

// TestParseScore_MissingConfidence 测试缺失或为 null 的置信度被拒绝
func TestParseScore_MissingConfidence(t *testing.T) {
	for _, content := range []string{
		`{"reasoning":"looks fine"}`,
		`{"reasoning":"looks fine","confidence":null}`,
	} {
		score, err := scorer.ParseScore(content)
		require.Error(t, err, content)
		assert.Nil(t, score)
		assert.True(t, utils.IsValidationError(err), content)
	}

	score, err := scorer.ParseScore(`{"reasoning":"nothing to do","confidence":0}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score.Confidence)
}

// TestOpenAIScorer_MissingConfidence 测试模型未给出置信度时评分失败
func TestOpenAIScorer_MissingConfidence(t *testing.T) {
	srv := openAIServer(t, `{"reasoning":"looks fine","confidence":null}`, 0)
	defer srv.Close()

	s := scorer.WithTimeout(scorer.NewOpenAIScorer(scorer.OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"}), "openai", time.Second)
	score, err := s.Score(context.Background(), poRequest())
	require.Error(t, err)
	assert.Nil(t, score)
	assert.True(t, utils.IsValidationError(err))
}

// TestWithTimeout_OutOfRange 测试置信度越界被拒绝
func TestWithTimeout_OutOfRange(t *testing.T) {
	srv := openAIServer(t, "```json\n{\"reasoning\":\"sure\",\"confidence\":150}\n```", 0)
	defer srv.Close()

	s := scorer.WithTimeout(scorer.NewOpenAIScorer(scorer.OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"}), "openai", time.Second)
	_, err := s.Score(context.Background(), poRequest())
	require.Error(t, err)
	assert.True(t, utils.IsValidationError(err))
}

// TestWithTimeout_Deadline 测试评分超时
func TestWithTimeout_Deadline(t *testing.T) {
	srv := openAIServer(t, `{"reasoning":"late","confidence":50}`, 2*time.Second)
	defer srv.Close()

	s := scorer.WithTimeout(scorer.NewOpenAIScorer(scorer.OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"}), "openai", 50*time.Millisecond)
	start := time.Now()
	_, err := s.Score(context.Background(), poRequest())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

// TestHeuristicScorer 测试启发式评分确定且在范围内
func TestHeuristicScorer(t *testing.T) {
	s, err := scorer.New(config.ScorerConfig{Provider: "heuristic", Timeout: time.Second})
	require.NoError(t, err)

	first, err := s.Score(context.Background(), poRequest())
	require.NoError(t, err)
	second, err := s.Score(context.Background(), poRequest())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.InDelta(t, 88.6, first.Confidence, 0.01)

	empty := poRequest()
	empty.Fields["current_stock"] = 0.0
	score, err := s.Score(context.Background(), empty)
	require.NoError(t, err)
	assert.Equal(t, 95.0, score.Confidence)

	email := &scorer.Request{
		TaskType: types.TaskTypeSendEmail,
		Subject:  "email:77",
		Fields:   map[string]interface{}{"classification": "order_status", "classification_confidence": 0.9},
		Payload:  &task.SendEmailPayload{EmailID: 77, To: "a@b.test", Subject: "Re: hi", Body: "thanks"},
	}
	score, err = s.Score(context.Background(), email)
	require.NoError(t, err)
	assert.Equal(t, 81.0, score.Confidence)
}

// TestBuildPrompt 测试提示词覆盖所有载荷类型
func TestBuildPrompt(t *testing.T) {
	payloads := []task.Payload{
		&task.GeneratePOPayload{VendorID: 2, RawMaterialID: 1, Quantity: 5, TotalAmount: "10.00"},
		&task.SendRFQPayload{RawMaterialID: 1, Quantity: 5, VendorIDs: []int64{1, 2}, DueDate: time.Now()},
		&task.SendEmailPayload{EmailID: 1, To: "a@b.test", Subject: "Re: x", Body: "hello"},
		&task.ReorderMaterialsPayload{VendorID: 2, Items: []task.ReorderItem{{RawMaterialID: 1, Quantity: 3, UnitCost: 1}}},
	}
	for _, p := range payloads {
		prompt, err := scorer.BuildPrompt(&scorer.Request{RuleName: "r", Subject: p.SubjectKey(), Payload: p, Fields: map[string]interface{}{"id": 1}})
		require.NoError(t, err)
		assert.Contains(t, prompt, "Proposed action:")
		assert.Contains(t, prompt, "- id: 1")
	}
}

// TestNew_UnknownProvider 测试未知评分服务
func TestNew_UnknownProvider(t *testing.T) {
	_, err := scorer.New(config.ScorerConfig{Provider: "oracle"})
	assert.Error(t, err)
}
