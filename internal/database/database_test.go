package database_test

import (
	"testing"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/config"
	"github.com/jcheng510/coingame-sub001/internal/database"
	"github.com/jcheng510/coingame-sub001/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTaskModel(id, dedupKey, status string) *model.TaskModel {
	now := time.Now()
	return &model.TaskModel{
		ID:           id,
		TaskType:     "generate_po",
		Priority:     "medium",
		PriorityRank: 2,
		Status:       status,
		Payload:      datatypes.JSON(`{"vendor_id":1}`),
		Reasoning:    "low stock",
		Confidence:   80,
		DedupKey:     dedupKey,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// TestMigrate_CreatesTables 测试迁移创建所有表
func TestMigrate_CreatesTables(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{"automation_tasks", "automation_rules", "automation_logs", "notification_events"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasIndex(&model.TaskModel{}, "uniq_tasks_active_dedup"))

	// 重复迁移是幂等的
	require.NoError(t, database.Migrate(db))
}

// TestCreateIndexes_ActiveDedupUnique 测试未终结任务的去重键唯一约束
func TestCreateIndexes_ActiveDedupUnique(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.Create(newTaskModel("t1", "generate_po|material:1", "pending_approval")).Error)

	err := db.Create(newTaskModel("t2", "generate_po|material:1", "approved")).Error
	require.Error(t, err)
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// 终态任务不参与唯一约束
	require.NoError(t, db.Create(newTaskModel("t3", "generate_po|material:1", "completed")).Error)
	require.NoError(t, db.Create(newTaskModel("t4", "generate_po|material:1", "failed")).Error)
}

// TestCheckHealth 测试健康检查
func TestCheckHealth(t *testing.T) {
	assert.False(t, database.CheckHealth(nil))
	db := setupTestDB(t)
	assert.True(t, database.CheckHealth(db))
}

// TestGetPoolConfig 测试连接池默认值
func TestGetPoolConfig(t *testing.T) {
	pc := database.GetPoolConfig(config.DatabaseConfig{MaxOpenConns: 50})
	assert.Equal(t, 50, pc.MaxOpenConns)
	assert.Equal(t, 10, pc.MaxIdleConns)
	assert.Equal(t, 3600, pc.ConnMaxLifetime)
	assert.Equal(t, 600, pc.ConnMaxIdleTime)
}

// TestBuildDSN 测试 DSN 构建
func TestBuildDSN(t *testing.T) {
	dsn := database.BuildDSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "autopilot", SSLMode: "disable"})
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=autopilot sslmode=disable", dsn)
}
