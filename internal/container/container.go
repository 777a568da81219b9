package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jcheng510/coingame-sub001/internal/api"
	"github.com/jcheng510/coingame-sub001/internal/audit"
	"github.com/jcheng510/coingame-sub001/internal/config"
	"github.com/jcheng510/coingame-sub001/internal/database"
	"github.com/jcheng510/coingame-sub001/internal/domain"
	"github.com/jcheng510/coingame-sub001/internal/integration"
	"github.com/jcheng510/coingame-sub001/internal/metrics"
	"github.com/jcheng510/coingame-sub001/internal/scheduler"
	"github.com/jcheng510/coingame-sub001/internal/scorer"
	"github.com/jcheng510/coingame-sub001/internal/service"
	"github.com/jcheng510/coingame-sub001/internal/snapshot"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/jcheng510/coingame-sub001/internal/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// metricsInterval 状态分布指标刷新周期
	metricsInterval = 30 * time.Second
	// retryBatch 每次扫描重推的通知上限
	retryBatch = 100
)

// Option 容器选项
type Option func(*options)

type options struct {
	db        *gorm.DB
	domain    domain.Client
	snapshots snapshot.Provider
}

// WithDB 使用已有数据库连接, 不再按配置连接
func WithDB(db *gorm.DB) Option {
	return func(o *options) { o.db = db }
}

// WithDomainClient 替换领域服务客户端
func WithDomainClient(c domain.Client) Option {
	return func(o *options) { o.domain = c }
}

// WithSnapshotProvider 替换快照提供者
func WithSnapshotProvider(p snapshot.Provider) Option {
	return func(o *options) { o.snapshots = p }
}

// Container 依赖注入容器
// 管理所有应用依赖,包括数据库、编排组件、服务与后台任务
type Container struct {
	cfg    *config.Config
	logger *logrus.Logger
	db     *gorm.DB

	auditLog   audit.Log
	store      integration.TaskStore
	executor   *integration.Executor
	dispatcher *integration.Dispatcher
	gate       *integration.ApprovalGate
	engine     *integration.RuleEngine
	sweeper    *integration.Sweeper
	notifier   *integration.Notifier

	taskService  service.TaskService
	ruleService  service.RuleService
	queryService service.QueryService
	statsService service.StatisticsService

	hub       *websocket.Hub
	collector *metrics.Collector
	scheduler *scheduler.Scheduler

	closers []func()
	cancel  context.CancelFunc
}

// NewContainer 创建依赖注入容器
// 根据配置初始化所有依赖组件
func NewContainer(cfg *config.Config, logger *logrus.Logger, opts ...Option) (*Container, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	c := &Container{cfg: cfg, logger: logger}

	// 1. 初始化数据库（带重试机制）
	c.db = o.db
	if c.db == nil {
		// 默认重试 3 次，初始间隔 1 秒，指数退避
		db, err := database.ConnectWithRetry(cfg.Database, 3, time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		c.db = db
		c.closers = append(c.closers, func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		})
	}
	if err := database.Migrate(c.db); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// 2. 外部协作方
	domainClient := o.domain
	if domainClient == nil {
		client, err := newDomainClient(cfg.Domain)
		if err != nil {
			c.Close()
			return nil, err
		}
		domainClient = client
	}
	snapshots := o.snapshots
	if snapshots == nil {
		provider, closer, err := newSnapshotProvider(cfg.Snapshot)
		if err != nil {
			c.Close()
			return nil, err
		}
		snapshots = provider
		if closer != nil {
			c.closers = append(c.closers, closer)
		}
	}
	sc, err := scorer.New(cfg.Scorer)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize scorer: %w", err)
	}

	// 3. 编排核心
	orch := cfg.Orchestrator
	c.auditLog = audit.NewLog(c.db)
	c.store = integration.NewTaskStore(c.db, c.auditLog)
	c.executor = integration.NewExecutor(c.store, domain.NewServices(domainClient), cfg.Domain.Timeout, logger)
	c.dispatcher = integration.NewDispatcher(c.executor, orch.ExecutorWorkers, orch.QueueSize, logger)

	// 未开启自动执行时, 已审批任务等待人工触发执行
	var enqueuer integration.Enqueuer
	if orch.AutoExecute {
		enqueuer = c.dispatcher
	}
	c.gate = integration.NewApprovalGate(c.store, enqueuer, orch.AutoExecute)
	c.engine = integration.NewRuleEngine(integration.RuleEngineOptions{
		DB:            c.db,
		Store:         c.store,
		Scorer:        sc,
		Snapshots:     snapshots,
		Log:           c.auditLog,
		Enqueuer:      enqueuer,
		MaxConcurrent: orch.MaxConcurrentRules,
		Logger:        logger,
	})
	c.sweeper = integration.NewSweeper(c.db, c.store, enqueuer, orch.StaleExecutionAfter, orch.PendingTTL, logger)
	c.notifier = integration.NewNotifier(c.db, cfg.Notifications, logger)

	// 4. 服务
	c.taskService = service.NewTaskService(c.store, c.gate, c.executor, c.auditLog)
	c.ruleService = service.NewRuleService(c.db, c.auditLog)
	c.queryService = service.NewQueryService(c.store, c.auditLog)
	c.statsService = service.NewStatisticsService(c.db)

	// 5. 后台任务
	c.hub = websocket.NewHub(logger)
	statuses := make([]string, 0, len(types.TaskStatuses))
	for _, s := range types.TaskStatuses {
		statuses = append(statuses, string(s))
	}
	c.collector = metrics.NewCollector(c.db, c.statsService, statuses, metricsInterval)
	c.scheduler = scheduler.New(logger)
	if err := c.registerJobs(); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// registerJobs 注册定时评估与扫描
func (c *Container) registerJobs() error {
	if err := c.scheduler.Add(scheduler.Job{
		Name:     "evaluate",
		Schedule: c.cfg.Orchestrator.EvaluationSchedule,
		Run: func(ctx context.Context) error {
			_, err := c.engine.RunCycle(ctx, integration.Trigger{Source: "schedule"})
			return err
		},
	}); err != nil {
		return err
	}
	return c.scheduler.Add(scheduler.Job{
		Name:     "sweep",
		Schedule: c.cfg.Orchestrator.SweepSchedule,
		Run: func(ctx context.Context) error {
			report, err := c.sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			if report.Failed+report.Expired+report.Requeued > 0 {
				c.logger.WithFields(logrus.Fields{
					"failed":   report.Failed,
					"expired":  report.Expired,
					"requeued": report.Requeued,
				}).Info("sweep finished")
			}
			if c.notifier.Enabled() {
				if _, err := c.notifier.RetryPending(ctx, retryBatch); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

// newDomainClient 按配置创建领域服务客户端
func newDomainClient(cfg config.DomainConfig) (domain.Client, error) {
	switch cfg.Provider {
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("domain.base_url is required for the http provider")
		}
		return domain.NewHTTPClient(cfg.BaseURL, cfg.Token, cfg.MaxRetries,
			domain.WithHTTPClient(&http.Client{Timeout: cfg.Timeout})), nil
	case "dry_run", "":
		return domain.NewDryRun(), nil
	default:
		return nil, fmt.Errorf("unsupported domain provider %q", cfg.Provider)
	}
}

// newSnapshotProvider 按配置创建快照提供者
func newSnapshotProvider(cfg config.SnapshotConfig) (snapshot.Provider, func(), error) {
	switch cfg.Provider {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		p, err := snapshot.NewPostgresProvider(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	case "file", "":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("snapshot.file is required for the file provider")
		}
		return snapshot.NewFileProvider(cfg.File), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported snapshot provider %q", cfg.Provider)
	}
}

// Start 启动执行池、通知、实时日志、指标与定时任务
func (c *Container) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.dispatcher.Start()
	c.notifier.Start(c.auditLog)

	entries, unsubscribe := c.auditLog.Subscribe(256)
	c.closers = append(c.closers, unsubscribe)
	go c.hub.Run(ctx, entries)

	c.collector.Start()
	c.scheduler.Start()

	// 启动时接管上次退出前已审批但未执行的任务
	if n, err := c.sweeper.RequeueApproved(ctx); err != nil {
		c.logger.WithError(err).Warn("failed to requeue approved tasks")
	} else if n > 0 {
		c.logger.WithField("count", n).Info("requeued approved tasks")
	}
}

// Router 创建 HTTP 路由
func (c *Container) Router() *gin.Engine {
	return api.SetupRoutes(api.RouterOptions{
		DB:         c.db,
		Tasks:      c.taskService,
		Rules:      c.ruleService,
		Queries:    c.queryService,
		Statistics: c.statsService,
		Engine:     c.engine,
		Hub:        c.hub,
		CORS:       c.cfg.CORS,
		RateLimit:  c.cfg.RateLimit,
		Tracing:    c.cfg.Tracing.Enabled,
		HSTS:       config.IsProduction(c.cfg),
	})
}

// Engine 获取规则引擎
func (c *Container) Engine() *integration.RuleEngine {
	return c.engine
}

// Executor 获取执行器
func (c *Container) Executor() *integration.Executor {
	return c.executor
}

// Rules 获取规则服务
func (c *Container) Rules() service.RuleService {
	return c.ruleService
}

// Close 停止后台任务并释放资源, 可重复调用
func (c *Container) Close() error {
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
		c.collector.Stop()
	}
	if c.dispatcher != nil {
		c.dispatcher.Stop()
	}
	if c.notifier != nil {
		c.notifier.Stop()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
	return nil
}
