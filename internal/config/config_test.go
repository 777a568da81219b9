package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefault 测试默认配置
func TestDefault(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "heuristic", cfg.Scorer.Provider)
	assert.Equal(t, "dry_run", cfg.Domain.Provider)
	assert.Equal(t, 15*time.Second, cfg.Scorer.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.Orchestrator.StaleExecutionAfter)
	assert.Equal(t, time.Duration(0), cfg.Orchestrator.PendingTTL)
	assert.Equal(t, "@every 1m", cfg.Orchestrator.EvaluationSchedule)
	assert.NoError(t, cfg.Validate())
}

// TestLoad_FromFile 测试从配置文件加载
func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
env: development
database:
  driver: sqlite
  path: ":memory:"
orchestrator:
  executor_workers: 8
  pending_ttl: 48h
scorer:
  provider: heuristic
  timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 8, cfg.Orchestrator.ExecutorWorkers)
	assert.Equal(t, 48*time.Hour, cfg.Orchestrator.PendingTTL)
	assert.Equal(t, 5*time.Second, cfg.Scorer.Timeout)
}

// TestLoad_EnvOverride 测试环境变量覆盖
func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644))
	t.Setenv("APP_SERVER_PORT", "9100")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
}

// TestValidate 测试非法配置被拒绝
func TestValidate(t *testing.T) {
	cfg := config.Default()
	cfg.Scorer.Provider = "openai"
	assert.Error(t, cfg.Validate(), "openai requires an api key")

	cfg = config.Default()
	cfg.Domain.Provider = "http"
	assert.Error(t, cfg.Validate(), "http requires a base url")

	cfg = config.Default()
	cfg.Database.Driver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = config.Default()
	cfg.Domain.Timeout = 0
	assert.Error(t, cfg.Validate())
}

// TestIsProduction 测试环境判断
func TestIsProduction(t *testing.T) {
	assert.False(t, config.IsProduction(nil))
	assert.True(t, config.IsProduction(&config.Config{Env: "production"}))
	assert.False(t, config.IsProduction(&config.Config{Env: "development"}))
}

// TestConfigWatcher_Start 测试监听器读取配置文件
func TestConfigWatcher_Start(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644))

	cfg := config.Default()
	w := config.NewConfigWatcher(cfg, path)
	w.OnConfigChange(func(*config.Config) {})
	require.NoError(t, w.Start())
	defer w.Stop()

	assert.Same(t, cfg, w.GetConfig())

	missing := config.NewConfigWatcher(cfg, filepath.Join(dir, "missing.yaml"))
	assert.Error(t, missing.Start())
}
