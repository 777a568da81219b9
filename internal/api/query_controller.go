package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jcheng510/coingame-sub001/internal/service"
)

// defaultStatsWindow 统计接口默认时间窗口
const defaultStatsWindow = 7 * 24 * time.Hour

// QueryController 日志与统计查询控制器
type QueryController struct {
	queryService service.QueryService
	statsService service.StatisticsService
}

// NewQueryController 创建查询控制器
func NewQueryController(queryService service.QueryService, statsService service.StatisticsService) *QueryController {
	return &QueryController{
		queryService: queryService,
		statsService: statsService,
	}
}

// ListLogs 按任务、规则、状态、动作与时间范围查询审计日志, 新的在前
func (c *QueryController) ListLogs(ctx *gin.Context) {
	filter := service.ListLogsFilter{
		TaskID: ctx.Query("task_id"),
		RuleID: ctx.Query("rule_id"),
		Status: ctx.Query("status"),
		Action: ctx.Query("action"),
	}

	var ok bool
	if filter.Since, ok = timeQuery(ctx, "since"); !ok {
		return
	}
	if filter.Until, ok = timeQuery(ctx, "until"); !ok {
		return
	}
	if filter.Limit, ok = intQuery(ctx, "limit"); !ok {
		return
	}
	if raw := ctx.Query("after_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			Error(ctx, http.StatusBadRequest, "invalid query parameters", "after_id must be a non-negative integer")
			return
		}
		filter.AfterID = v
	}

	entries, err := c.queryService.ListLogs(ctx.Request.Context(), &filter)
	if err != nil {
		handleError(ctx, err)
		return
	}

	Success(ctx, entries)
}

// Stats 任务统计, since 缺省为最近 7 天
func (c *QueryController) Stats(ctx *gin.Context) {
	since, ok := timeQuery(ctx, "since")
	if !ok {
		return
	}
	if since == nil {
		t := time.Now().Add(-defaultStatsWindow)
		since = &t
	}

	summary, err := c.statsService.Summary(ctx.Request.Context(), *since)
	if err != nil {
		handleError(ctx, err)
		return
	}

	Success(ctx, summary)
}

// timeQuery 解析 RFC3339 时间参数
func timeQuery(ctx *gin.Context, key string) (*time.Time, bool) {
	raw := ctx.Query(key)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		Error(ctx, http.StatusBadRequest, "invalid query parameters", key+" must be an RFC3339 timestamp")
		return nil, false
	}
	return &t, true
}
