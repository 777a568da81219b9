package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jcheng510/coingame-sub001/internal/config"
	"github.com/jcheng510/coingame-sub001/internal/service"
	"github.com/jcheng510/coingame-sub001/internal/websocket"
	"gorm.io/gorm"
)

// RouterOptions 路由依赖
type RouterOptions struct {
	DB         *gorm.DB
	Tasks      service.TaskService
	Rules      service.RuleService
	Queries    service.QueryService
	Statistics service.StatisticsService
	Engine     CycleRunner
	Hub        *websocket.Hub // 为空时不提供实时日志
	CORS       config.CORSConfig
	RateLimit  config.RateLimitConfig
	Tracing    bool
	HSTS       bool
}

// SetupRoutes 配置路由
func SetupRoutes(opts RouterOptions) *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(RequestIDMiddleware())
	router.Use(RequestLogMiddleware())
	router.Use(ErrorHandlerMiddleware())
	router.Use(SecurityHeadersMiddleware(opts.HSTS))
	router.Use(CORSMiddleware(opts.CORS))
	if opts.Tracing {
		router.Use(TracingMiddleware())
	}

	// 健康检查
	healthController := NewHealthController(opts.DB)
	router.GET("/health", healthController.Check)

	// Prometheus 指标端点
	router.GET("/metrics", MetricsHandler)

	// WebSocket 实时日志
	if opts.Hub != nil {
		upgrader := websocket.NewUpgrader(opts.CORS.AllowedOrigins)
		router.GET("/ws/logs", websocket.LogStreamHandler(opts.Hub, upgrader))
	}

	taskController := NewTaskController(opts.Tasks, opts.Queries)
	ruleController := NewRuleController(opts.Rules)
	queryController := NewQueryController(opts.Queries, opts.Statistics)
	triggerController := NewTriggerController(opts.Engine)

	// API v1 路由组
	v1 := router.Group("/api/v1")
	if opts.RateLimit.Enabled {
		v1.Use(RateLimitMiddleware(opts.RateLimit.RPS, opts.RateLimit.Burst))
	}
	{
		tasks := v1.Group("/tasks")
		{
			// 批量操作路由（必须在 /:id 之前）
			tasks.POST("/batch/approve", taskController.BatchApprove)

			tasks.POST("", taskController.Create)
			tasks.GET("", taskController.List)
			tasks.GET("/:id", taskController.Get)
			tasks.POST("/:id/approve", taskController.Approve)
			tasks.POST("/:id/reject", taskController.Reject)
			tasks.POST("/:id/execute", taskController.Execute)
			tasks.GET("/:id/logs", taskController.Logs)
		}

		v1.GET("/approvals/pending", taskController.Pending)

		rules := v1.Group("/rules")
		{
			rules.POST("", ruleController.Create)
			rules.GET("", ruleController.List)
			rules.POST("/import", ruleController.Import)
			rules.GET("/:id", ruleController.Get)
			rules.PATCH("/:id/active", ruleController.SetActive)
		}

		v1.POST("/triggers", triggerController.Trigger)
		v1.GET("/logs", queryController.ListLogs)
		v1.GET("/stats", queryController.Stats)
	}

	// 未匹配的路由返回 JSON 格式的 404
	router.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "route not found", "the requested route does not exist")
	})

	return router
}
