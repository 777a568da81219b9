package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jcheng510/coingame-sub001/internal/integration"
	"github.com/jcheng510/coingame-sub001/internal/types"
)

// 外部可触发的评估来源
const (
	TriggerSourceDataMutation = "data_mutation"
	TriggerSourceInboundEmail = "inbound_email"
	TriggerSourceManual       = "manual"
)

// CycleRunner 执行一次规则评估
type CycleRunner interface {
	RunCycle(ctx context.Context, trig integration.Trigger) (*integration.CycleReport, error)
}

// TriggerRequest 评估触发请求
type TriggerRequest struct {
	Source   string         `json:"source" binding:"required"`
	RuleType types.RuleType `json:"rule_type"`
}

// TriggerController 评估触发控制器, 供数据变更与来信钩子调用
type TriggerController struct {
	engine CycleRunner
}

// NewTriggerController 创建触发控制器
func NewTriggerController(engine CycleRunner) *TriggerController {
	return &TriggerController{engine: engine}
}

// Trigger 同步执行一次评估并返回统计
func (c *TriggerController) Trigger(ctx *gin.Context) {
	var req TriggerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	switch req.Source {
	case TriggerSourceDataMutation, TriggerSourceInboundEmail, TriggerSourceManual:
	default:
		Error(ctx, http.StatusBadRequest, "invalid request", "unsupported trigger source "+req.Source)
		return
	}

	// 调用方断开不应中断已开始的评估
	runCtx := context.WithoutCancel(ctx.Request.Context())
	report, err := c.engine.RunCycle(runCtx, integration.Trigger{Source: req.Source, RuleType: req.RuleType})
	if err != nil {
		handleError(ctx, err)
		return
	}

	if report.Coalesced {
		ctx.JSON(http.StatusAccepted, Response{Code: 0, Message: "coalesced", Data: report})
		return
	}
	Success(ctx, report)
}
