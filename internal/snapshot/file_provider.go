package snapshot

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileProvider 从 YAML 文件读取快照,每次调用重新读取
type FileProvider struct {
	path string
	now  func() time.Time
}

// NewFileProvider 创建文件快照提供者
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path, now: time.Now}
}

// Snapshot 读取快照
func (p *FileProvider) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	return Parse(data, p.now())
}

// Parse 解析 YAML 快照, 未指定 taken_at 时使用 now
func Parse(data []byte, now time.Time) (*Snapshot, error) {
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if s.TakenAt.IsZero() {
		s.TakenAt = now
	}
	return &s, nil
}
