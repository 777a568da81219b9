package scorer

import (
	"context"
	"fmt"
	"math"

	"github.com/jcheng510/coingame-sub001/internal/types"
)

// HeuristicScorer 无需外部服务的确定性评分,未配置模型时使用
type HeuristicScorer struct{}

// NewHeuristicScorer 创建启发式评分服务
func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{}
}

// Score 根据主体字段计算置信度
func (h *HeuristicScorer) Score(ctx context.Context, req *Request) (*Score, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch req.TaskType {
	case types.TaskTypeGeneratePO, types.TaskTypeReorderMaterials:
		stock := number(req.Fields, "current_stock")
		ratio, hasRatio := lookup(req.Fields, "stock_ratio")
		confidence := 70.0
		switch {
		case stock <= 0:
			confidence = 95
		case hasRatio:
			confidence = clamp(95-40*ratio, 55, 92)
		}
		if _, ok := req.Fields["best_quote_cost"]; !ok {
			confidence -= 10
		}
		return &Score{
			Reasoning:  fmt.Sprintf("%s is at %.0f units against a reorder point of %.0f", req.Subject, stock, number(req.Fields, "reorder_point")),
			Confidence: round(confidence),
		}, nil

	case types.TaskTypeSendRFQ:
		age := number(req.Fields, "latest_quote_age_days")
		quotes := number(req.Fields, "quote_count")
		confidence := clamp(60+age/6, 60, 90)
		if quotes == 0 {
			confidence = 85
		}
		return &Score{
			Reasoning:  fmt.Sprintf("%s has %.0f quotes, the latest %.0f days old", req.Subject, quotes, age),
			Confidence: round(confidence),
		}, nil

	case types.TaskTypeSendEmail:
		classified := number(req.Fields, "classification_confidence")
		if classified > 1 {
			classified /= 100
		}
		return &Score{
			Reasoning:  fmt.Sprintf("inbound email classified as %v", req.Fields["classification"]),
			Confidence: round(clamp(classified*90, 0, 90)),
		}, nil
	}
	return nil, fmt.Errorf("no heuristic for task type %q", req.TaskType)
}

func lookup(fields map[string]interface{}, key string) (float64, bool) {
	switch v := fields[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func number(fields map[string]interface{}, key string) float64 {
	v, _ := lookup(fields, key)
	return v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64) float64 {
	return math.Round(v*10) / 10
}
