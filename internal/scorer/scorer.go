package scorer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/config"
	"github.com/jcheng510/coingame-sub001/internal/metrics"
	"github.com/jcheng510/coingame-sub001/internal/task"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/jcheng510/coingame-sub001/internal/utils"
)

// Scorer 置信度评分服务
type Scorer interface {
	Score(ctx context.Context, req *Request) (*Score, error)
}

// Request 评分请求,描述一次规则匹配及其拟定载荷
type Request struct {
	RuleID   string
	RuleName string
	RuleType types.RuleType
	TaskType types.TaskType
	Subject  string
	Fields   map[string]interface{}
	Payload  task.Payload
}

// Score 评分结果
type Score struct {
	Reasoning           string                 `json:"reasoning"`
	Confidence          float64                `json:"confidence"`
	SuggestedParameters map[string]interface{} `json:"suggested_parameters,omitempty"`
}

// Validate 校验评分结果
func (s *Score) Validate() error {
	if s == nil {
		return utils.NewValidationError("score", "is empty")
	}
	if strings.TrimSpace(s.Reasoning) == "" {
		return utils.NewValidationError("reasoning", "is required")
	}
	c := s.Confidence
	return task.ValidateConfidence(&c)
}

// New 根据配置创建评分服务, 每次调用受 timeout 约束
func New(cfg config.ScorerConfig) (Scorer, error) {
	var s Scorer
	switch cfg.Provider {
	case "openai":
		s = NewOpenAIScorer(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model})
	case "heuristic", "":
		s = NewHeuristicScorer()
	default:
		return nil, fmt.Errorf("unsupported scorer provider %q", cfg.Provider)
	}
	return WithTimeout(s, cfg.Provider, cfg.Timeout), nil
}

// timedScorer 为评分调用增加超时、结果校验与指标
type timedScorer struct {
	next     Scorer
	provider string
	timeout  time.Duration
}

// WithTimeout 包装评分服务
func WithTimeout(s Scorer, provider string, timeout time.Duration) Scorer {
	if provider == "" {
		provider = "heuristic"
	}
	return &timedScorer{next: s, provider: provider, timeout: timeout}
}

func (t *timedScorer) Score(ctx context.Context, req *Request) (*Score, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	score, err := t.next.Score(ctx, req)
	if err == nil {
		err = score.Validate()
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ObserveScorer(t.provider, status, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%s scorer: %w", t.provider, err)
	}
	return score, nil
}
