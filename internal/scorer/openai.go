package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jcheng510/coingame-sub001/internal/utils"
	"github.com/sashabaranov/go-openai"
)

// DefaultModel 默认模型
const DefaultModel = openai.GPT4oMini

// OpenAIConfig OpenAI 兼容接口配置
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIScorer 基于 chat completion 的评分服务
type OpenAIScorer struct {
	client *openai.Client
	model  string
}

// NewOpenAIScorer 创建 OpenAI 评分服务
func NewOpenAIScorer(cfg OpenAIConfig) *OpenAIScorer {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIScorer{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// Score 请求模型给出理由与置信度
func (s *OpenAIScorer) Score(ctx context.Context, req *Request) (*Score, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}
	return ParseScore(resp.Choices[0].Message.Content)
}

// ParseScore 解析模型输出, 容忍 markdown 代码块包裹
func ParseScore(content string) (*Score, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	// 置信度缺失或为 null 时不能按 0 处理
	var out struct {
		Reasoning           string                 `json:"reasoning"`
		Confidence          *float64               `json:"confidence"`
		SuggestedParameters map[string]interface{} `json:"suggested_parameters"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("malformed scorer output: %w", err)
	}
	if out.Confidence == nil {
		return nil, utils.NewValidationError("confidence", "is required")
	}
	return &Score{
		Reasoning:           out.Reasoning,
		Confidence:          *out.Confidence,
		SuggestedParameters: out.SuggestedParameters,
	}, nil
}
