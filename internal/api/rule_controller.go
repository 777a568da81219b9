package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jcheng510/coingame-sub001/internal/rules"
	"github.com/jcheng510/coingame-sub001/internal/service"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/jcheng510/coingame-sub001/internal/utils"
)

// maxRuleFileSize 规则导入文件大小上限
const maxRuleFileSize = 1 << 20

// RuleController 规则控制器
type RuleController struct {
	ruleService service.RuleService
}

// NewRuleController 创建规则控制器
func NewRuleController(ruleService service.RuleService) *RuleController {
	return &RuleController{ruleService: ruleService}
}

// CreateRuleRequest 创建规则请求, is_active 缺省为 true
type CreateRuleRequest struct {
	ID                   string             `json:"id" binding:"required"`
	Name                 string             `json:"name" binding:"required"`
	RuleType             types.RuleType     `json:"rule_type" binding:"required"`
	TriggerCondition     rules.Condition    `json:"trigger_condition"`
	ActionType           types.TaskType     `json:"action_type" binding:"required"`
	Priority             types.Priority     `json:"priority"`
	ActionParams         rules.ActionParams `json:"action_params"`
	AutoApproveThreshold *float64           `json:"auto_approve_threshold"`
	IsActive             *bool              `json:"is_active"`
	Actor                string             `json:"actor"`
}

// SetActiveRequest 启停规则请求
type SetActiveRequest struct {
	IsActive *bool  `json:"is_active" binding:"required"`
	Actor    string `json:"actor"`
}

// Create 创建规则
func (c *RuleController) Create(ctx *gin.Context) {
	var req CreateRuleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	rule := &rules.Rule{
		ID:                   req.ID,
		Name:                 req.Name,
		RuleType:             req.RuleType,
		TriggerCondition:     req.TriggerCondition,
		ActionType:           req.ActionType,
		Priority:             req.Priority,
		ActionParams:         req.ActionParams,
		AutoApproveThreshold: req.AutoApproveThreshold,
		IsActive:             req.IsActive == nil || *req.IsActive,
	}
	created, err := c.ruleService.Create(ctx.Request.Context(), rule, req.Actor)
	if err != nil {
		handleError(ctx, err)
		return
	}

	Created(ctx, created)
}

// List 列出规则, all=true 时包含已停用的规则
func (c *RuleController) List(ctx *gin.Context) {
	includeInactive := false
	if raw := ctx.Query("all"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			Error(ctx, http.StatusBadRequest, "invalid query parameters", "all must be a boolean")
			return
		}
		includeInactive = v
	}

	list, err := c.ruleService.List(ctx.Request.Context(), includeInactive)
	if err != nil {
		handleError(ctx, err)
		return
	}

	Success(ctx, list)
}

// Get 获取规则
func (c *RuleController) Get(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := utils.ValidateID(id); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid rule ID", err.Error())
		return
	}

	rule, err := c.ruleService.Get(ctx.Request.Context(), id)
	if err != nil {
		handleError(ctx, err)
		return
	}

	Success(ctx, rule)
}

// SetActive 启用或停用规则
func (c *RuleController) SetActive(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := utils.ValidateID(id); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid rule ID", err.Error())
		return
	}

	var req SetActiveRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	rule, err := c.ruleService.SetActive(ctx.Request.Context(), id, *req.IsActive, req.Actor)
	if err != nil {
		handleError(ctx, err)
		return
	}

	Success(ctx, rule)
}

// Import 从 YAML 请求体批量导入规则
func (c *RuleController) Import(ctx *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxRuleFileSize+1))
	if err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	if len(data) > maxRuleFileSize {
		Error(ctx, http.StatusRequestEntityTooLarge, "rule file too large", "")
		return
	}

	report, err := c.ruleService.Import(ctx.Request.Context(), data, ctx.Query("actor"))
	if err != nil {
		handleError(ctx, err)
		return
	}

	Success(ctx, report)
}
