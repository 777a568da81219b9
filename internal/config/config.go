package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Env           string              `mapstructure:"env"` // 环境: development, production
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	CORS          CORSConfig          `mapstructure:"cors"`
	Log           LogConfig           `mapstructure:"log"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	Orchestrator  OrchestratorConfig  `mapstructure:"orchestrator"`
	Scorer        ScorerConfig        `mapstructure:"scorer"`
	Domain        DomainConfig        `mapstructure:"domain"`
	Snapshot      SnapshotConfig      `mapstructure:"snapshot"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres, sqlite
	Path            string `mapstructure:"path"`   // sqlite 文件路径
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // 秒
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // 秒
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAge         int      `mapstructure:"max_age"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error
	Format string `mapstructure:"format"` // 日志格式: json, text
	Output string `mapstructure:"output"` // 输出位置: stdout, file, both
	File   string `mapstructure:"file"`   // output 为 file/both 时的日志文件
}

// RateLimitConfig API 限流配置
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"` // OTLP/HTTP 收集端 host:port, Jaeger 默认 4318
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"` // 采样比例, (0,1]
}

// OrchestratorConfig 编排核心配置
type OrchestratorConfig struct {
	EvaluationSchedule  string        `mapstructure:"evaluation_schedule"` // cron 表达式, 为空则不定时评估
	SweepSchedule       string        `mapstructure:"sweep_schedule"`
	ExecutorWorkers     int           `mapstructure:"executor_workers"`
	QueueSize           int           `mapstructure:"queue_size"`
	AutoExecute         bool          `mapstructure:"auto_execute"` // 审批通过后自动入队执行
	MaxConcurrentRules  int           `mapstructure:"max_concurrent_rules"`
	StaleExecutionAfter time.Duration `mapstructure:"stale_execution_after"`
	PendingTTL          time.Duration `mapstructure:"pending_ttl"` // 0 表示待审批任务不过期
}

// ScorerConfig 置信度评分服务配置
type ScorerConfig struct {
	Provider string        `mapstructure:"provider"` // openai, heuristic
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DomainConfig 领域服务配置
type DomainConfig struct {
	Provider   string        `mapstructure:"provider"` // http, dry_run
	BaseURL    string        `mapstructure:"base_url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// SnapshotConfig 状态快照配置
type SnapshotConfig struct {
	Provider string `mapstructure:"provider"` // postgres, file
	DSN      string `mapstructure:"dsn"`
	File     string `mapstructure:"file"`
}

// NotificationsConfig 任务事件 Webhook 通知配置
type NotificationsConfig struct {
	Webhooks []WebhookConfig `mapstructure:"webhooks"`
	Actions  []string        `mapstructure:"actions"` // 需要通知的日志动作
	Workers  int             `mapstructure:"workers"`
}

// WebhookConfig Webhook 配置
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
	Token   string            `mapstructure:"token"` // 非空时作为 Bearer token
}

// LoadDotEnv 加载 .env 与 .env.<APP_ENV>,文件不存在时忽略
func LoadDotEnv() {
	_ = godotenv.Load()
	if env := os.Getenv("APP_ENV"); env != "" {
		_ = godotenv.Load(".env." + env)
	}
}

// Load 加载配置,支持配置文件和环境变量
func Load(configPath string) (*Config, error) {
	LoadDotEnv()

	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 如果提供了配置文件路径,从文件加载
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		// 尝试从默认位置加载
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.task-autopilot")
		// 忽略配置文件不存在的错误,使用默认值
		_ = v.ReadInConfig()
	}

	// 支持环境变量
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Scorer.Provider {
	case "openai", "heuristic":
	default:
		return fmt.Errorf("unsupported scorer provider %q", c.Scorer.Provider)
	}
	if c.Scorer.Provider == "openai" && c.Scorer.APIKey == "" {
		return fmt.Errorf("scorer.api_key is required for the openai provider")
	}
	switch c.Domain.Provider {
	case "http", "dry_run":
	default:
		return fmt.Errorf("unsupported domain provider %q", c.Domain.Provider)
	}
	if c.Domain.Provider == "http" && c.Domain.BaseURL == "" {
		return fmt.Errorf("domain.base_url is required for the http provider")
	}
	switch c.Snapshot.Provider {
	case "postgres", "file":
	default:
		return fmt.Errorf("unsupported snapshot provider %q", c.Snapshot.Provider)
	}
	if c.Scorer.Timeout <= 0 || c.Domain.Timeout <= 0 {
		return fmt.Errorf("scorer.timeout and domain.timeout must be positive")
	}
	if c.Orchestrator.ExecutorWorkers <= 0 {
		return fmt.Errorf("orchestrator.executor_workers must be positive")
	}
	return nil
}

// IsProduction 判断是否为生产环境
func IsProduction(cfg *Config) bool {
	if cfg == nil {
		return false
	}
	return cfg.Env == "production"
}

// Default 返回默认配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 环境变量
	env := v.GetString("env")
	if env == "" {
		env = os.Getenv("APP_ENV")
		if env == "" {
			env = "development"
		}
	}
	v.SetDefault("env", env)

	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// 数据库默认配置
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.path", "task-autopilot.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "autopilot")
	v.SetDefault("database.sslmode", "disable")

	// 数据库连接池配置（根据环境设置默认值）
	if env == "production" {
		v.SetDefault("database.max_idle_conns", 20)
		v.SetDefault("database.max_open_conns", 200)
		v.SetDefault("database.conn_max_lifetime", 3600) // 1 小时
		v.SetDefault("database.conn_max_idle_time", 300) // 5 分钟
	} else {
		v.SetDefault("database.max_idle_conns", 10)
		v.SetDefault("database.max_open_conns", 100)
		v.SetDefault("database.conn_max_lifetime", 3600) // 1 小时
		v.SetDefault("database.conn_max_idle_time", 600) // 10 分钟
	}

	// CORS 默认配置
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization", "X-Request-ID"})
	v.SetDefault("cors.max_age", 86400)

	// 日志配置（根据环境设置默认值）
	if env == "production" {
		v.SetDefault("log.level", "info")
		v.SetDefault("log.format", "json")
	} else {
		v.SetDefault("log.level", "debug")
		v.SetDefault("log.format", "text")
	}
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/task-autopilot.log")

	// 限流与追踪
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 50)
	v.SetDefault("rate_limit.burst", 100)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)

	// 编排核心
	v.SetDefault("orchestrator.evaluation_schedule", "@every 1m")
	v.SetDefault("orchestrator.sweep_schedule", "@every 30s")
	v.SetDefault("orchestrator.executor_workers", 4)
	v.SetDefault("orchestrator.queue_size", 256)
	v.SetDefault("orchestrator.auto_execute", true)
	v.SetDefault("orchestrator.max_concurrent_rules", 4)
	v.SetDefault("orchestrator.stale_execution_after", 30*time.Minute)
	v.SetDefault("orchestrator.pending_ttl", time.Duration(0))

	// 评分服务
	v.SetDefault("scorer.provider", "heuristic")
	v.SetDefault("scorer.api_key", "")
	v.SetDefault("scorer.base_url", "")
	v.SetDefault("scorer.model", "gpt-4o-mini")
	v.SetDefault("scorer.timeout", 15*time.Second)

	// 领域服务
	v.SetDefault("domain.provider", "dry_run")
	v.SetDefault("domain.base_url", "")
	v.SetDefault("domain.token", "")
	v.SetDefault("domain.timeout", 10*time.Second)
	v.SetDefault("domain.max_retries", 2)

	// 状态快照
	v.SetDefault("snapshot.provider", "file")
	v.SetDefault("snapshot.dsn", "")
	v.SetDefault("snapshot.file", "snapshot.yaml")

	// 通知
	v.SetDefault("notifications.actions", []string{"task_created", "task_failed"})
	v.SetDefault("notifications.workers", 2)
}
