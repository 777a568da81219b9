package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jcheng510/coingame-sub001/internal/service"
	"github.com/jcheng510/coingame-sub001/internal/utils"
)

// TaskController 任务控制器
type TaskController struct {
	taskService  service.TaskService
	queryService service.QueryService
}

// NewTaskController 创建任务控制器
func NewTaskController(taskService service.TaskService, queryService service.QueryService) *TaskController {
	return &TaskController{
		taskService:  taskService,
		queryService: queryService,
	}
}

// validateTaskID 验证任务 ID 并返回错误响应（如果无效）
func (c *TaskController) validateTaskID(ctx *gin.Context, id string) bool {
	if err := utils.ValidateID(id); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid task ID", err.Error())
		return false
	}
	return true
}

// Create 人工提交任务提案
func (c *TaskController) Create(ctx *gin.Context) {
	var req service.CreateTaskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	res, err := c.taskService.Create(ctx.Request.Context(), &req)
	if err != nil {
		handleError(ctx, err)
		return
	}

	// 去重命中时返回已有任务
	if res.Suppressed {
		Success(ctx, res)
		return
	}
	Created(ctx, res)
}

// List 按状态、优先级、类型分页列出任务
func (c *TaskController) List(ctx *gin.Context) {
	filter := service.ListTasksFilter{
		Status:   ctx.Query("status"),
		Priority: ctx.Query("priority"),
		TaskType: ctx.Query("task_type"),
		RuleID:   ctx.Query("rule_id"),
		SortBy:   ctx.Query("sort_by"),
		Order:    ctx.Query("order"),
	}
	// type 为 task_type 的简写
	if filter.TaskType == "" {
		filter.TaskType = ctx.Query("type")
	}
	var ok bool
	if filter.Page, ok = intQuery(ctx, "page"); !ok {
		return
	}
	if filter.PageSize, ok = intQuery(ctx, "page_size"); !ok {
		return
	}

	tasks, total, err := c.queryService.ListTasks(ctx.Request.Context(), &filter)
	if err != nil {
		handleError(ctx, err)
		return
	}

	page, pageSize := pageOrDefault(filter.Page, filter.PageSize)
	Paginated(ctx, tasks, NewPaginationInfo(page, pageSize, total))
}

// Get 获取任务
func (c *TaskController) Get(ctx *gin.Context) {
	id := ctx.Param("id")
	if !c.validateTaskID(ctx, id) {
		return
	}

	t, err := c.taskService.Get(ctx.Request.Context(), id)
	if err != nil {
		handleError(ctx, err)
		return
	}

	Success(ctx, t)
}

// Approve 审批通过
func (c *TaskController) Approve(ctx *gin.Context) {
	id := ctx.Param("id")
	if !c.validateTaskID(ctx, id) {
		return
	}

	var req service.ApproveRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	t, err := c.taskService.Approve(ctx.Request.Context(), id, &req)
	if err != nil {
		handleError(ctx, err)
		return
	}

	Success(ctx, t)
}

// Reject 审批拒绝
func (c *TaskController) Reject(ctx *gin.Context) {
	id := ctx.Param("id")
	if !c.validateTaskID(ctx, id) {
		return
	}

	var req service.RejectRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	t, err := c.taskService.Reject(ctx.Request.Context(), id, &req)
	if err != nil {
		handleError(ctx, err)
		return
	}

	Success(ctx, t)
}

// Execute 同步执行已审批任务, 执行失败时任务进入 failed 并正常返回
func (c *TaskController) Execute(ctx *gin.Context) {
	id := ctx.Param("id")
	if !c.validateTaskID(ctx, id) {
		return
	}

	t, err := c.taskService.Execute(ctx.Request.Context(), id)
	if err != nil {
		handleError(ctx, err)
		return
	}

	Success(ctx, t)
}

// Logs 获取任务审计日志
func (c *TaskController) Logs(ctx *gin.Context) {
	id := ctx.Param("id")
	if !c.validateTaskID(ctx, id) {
		return
	}
	limit, ok := intQuery(ctx, "limit")
	if !ok {
		return
	}

	entries, err := c.taskService.Logs(ctx.Request.Context(), id, limit)
	if err != nil {
		handleError(ctx, err)
		return
	}

	Success(ctx, entries)
}

// BatchApprove 批量审批
func (c *TaskController) BatchApprove(ctx *gin.Context) {
	var req service.BatchApproveRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	results, err := c.taskService.BatchApprove(ctx.Request.Context(), &req)
	if err != nil {
		handleError(ctx, err)
		return
	}

	Success(ctx, results)
}

// Pending 审批队列: 优先级降序, 同优先级先到先审
func (c *TaskController) Pending(ctx *gin.Context) {
	page, ok := intQuery(ctx, "page")
	if !ok {
		return
	}
	pageSize, ok := intQuery(ctx, "page_size")
	if !ok {
		return
	}
	page, pageSize = pageOrDefault(page, pageSize)

	tasks, total, err := c.taskService.Pending(ctx.Request.Context(), page, pageSize)
	if err != nil {
		handleError(ctx, err)
		return
	}

	Paginated(ctx, tasks, NewPaginationInfo(page, pageSize, total))
}

// intQuery 解析非负整数查询参数, 缺省为 0
func intQuery(ctx *gin.Context, key string) (int, bool) {
	raw := ctx.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		Error(ctx, http.StatusBadRequest, "invalid query parameters", key+" must be a non-negative integer")
		return 0, false
	}
	return v, true
}

// pageOrDefault 与服务层一致的分页默认值
func pageOrDefault(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = service.DefaultPageSize
	}
	if pageSize > service.MaxPageSize {
		pageSize = service.MaxPageSize
	}
	return page, pageSize
}
