package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jcheng510/coingame-sub001/internal/audit"
	"github.com/jcheng510/coingame-sub001/internal/config"
	"github.com/jcheng510/coingame-sub001/internal/model"
	"github.com/jcheng510/coingame-sub001/internal/repository"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 通知事件状态
const (
	eventPending = "pending"
	eventSuccess = "success"
	eventFailed  = "failed"
)

// Notification Webhook 推送内容
type Notification struct {
	EventID string       `json:"event_id"`
	Entry   *audit.Entry `json:"entry"`
}

// Notifier 将任务相关的审计日志推送到 Webhook。
// 事件先落库再异步推送,推送失败按指数退避重试。
type Notifier struct {
	eventRepo  repository.EventRepository
	webhooks   []config.WebhookConfig
	actions    map[string]bool
	httpClient *http.Client
	queue      chan *model.EventModel
	workers    int
	maxRetries int
	backoff    time.Duration
	logger     *logrus.Logger

	unsubscribe func()
	stop        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NotifierOption 通知器选项
type NotifierOption func(*Notifier)

// WithRetryBackoff 设置首次重试等待时间
func WithRetryBackoff(d time.Duration) NotifierOption {
	return func(n *Notifier) { n.backoff = d }
}

// NewNotifier 创建通知器
func NewNotifier(db *gorm.DB, cfg config.NotificationsConfig, logger *logrus.Logger, opts ...NotifierOption) *Notifier {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	actions := make(map[string]bool, len(cfg.Actions))
	for _, a := range cfg.Actions {
		actions[a] = true
	}
	n := &Notifier{
		eventRepo:  repository.NewEventRepository(db),
		webhooks:   cfg.Webhooks,
		actions:    actions,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		queue:      make(chan *model.EventModel, 1000),
		workers:    workers,
		maxRetries: 3,
		backoff:    time.Second,
		logger:     logger,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Enabled 是否配置了 Webhook
func (n *Notifier) Enabled() bool {
	return len(n.webhooks) > 0
}

// Start 订阅审计日志并启动 worker goroutines
func (n *Notifier) Start(log audit.Log) {
	if !n.Enabled() {
		return
	}
	entries, cancel := log.Subscribe(256)
	n.unsubscribe = cancel

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for entry := range entries {
			if err := n.Handle(context.Background(), entry); err != nil {
				n.logger.WithError(err).WithField("action", entry.Action).Error("failed to handle notification")
			}
		}
	}()

	for i := 0; i < n.workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
}

// Handle 持久化需要通知的日志并入队推送
func (n *Notifier) Handle(ctx context.Context, entry *audit.Entry) error {
	if entry.TaskID == nil || !n.actions[entry.Action] {
		return nil
	}

	id := uuid.New().String()
	data, err := json.Marshal(&Notification{EventID: id, Entry: entry})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	now := time.Now()
	evt := &model.EventModel{
		ID:        id,
		TaskID:    *entry.TaskID,
		Type:      entry.Action,
		Data:      data,
		Status:    eventPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := evt.Validate(); err != nil {
		return err
	}
	if err := n.eventRepo.Save(ctx, evt); err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}

	n.enqueue(evt)
	return nil
}

// RetryPending 重新推送仍处于 pending 的事件
func (n *Notifier) RetryPending(ctx context.Context, limit int) (int, error) {
	if !n.Enabled() {
		return 0, nil
	}
	events, err := n.eventRepo.FindPending(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to find pending events: %w", err)
	}
	for _, evt := range events {
		n.enqueue(evt)
	}
	return len(events), nil
}

func (n *Notifier) enqueue(evt *model.EventModel) {
	select {
	case n.queue <- evt:
	default:
		// 队列满时事件保持 pending, 等待下次扫描
		n.logger.WithFields(logrus.Fields{"event_id": evt.ID, "task_id": evt.TaskID}).Warn("notification queue full")
	}
}

// worker 推送 worker
func (n *Notifier) worker() {
	defer n.wg.Done()
	for {
		select {
		case evt := <-n.queue:
			n.push(evt)
		case <-n.stop:
			return
		}
	}
}

// push 推送到所有 Webhook, 全部成功才视为成功
func (n *Notifier) push(evt *model.EventModel) {
	ctx := context.Background()
	log := n.logger.WithFields(logrus.Fields{"event_id": evt.ID, "task_id": evt.TaskID, "type": evt.Type})
	backoff := n.backoff

	var lastErr error
	for i := 0; i < n.maxRetries; i++ {
		lastErr = nil
		for _, webhook := range n.webhooks {
			if err := n.send(ctx, webhook, evt.Data); err != nil {
				lastErr = err
				log.WithError(err).WithField("url", webhook.URL).Warn("failed to send webhook request")
			}
		}
		if lastErr == nil {
			if err := n.eventRepo.UpdateStatus(ctx, evt.ID, eventSuccess, evt.RetryCount, ""); err != nil {
				log.WithError(err).Error("failed to update event status")
			}
			return
		}

		evt.RetryCount++
		if err := n.eventRepo.UpdateStatus(ctx, evt.ID, eventPending, evt.RetryCount, lastErr.Error()); err != nil {
			log.WithError(err).Error("failed to update event status")
		}
		if i < n.maxRetries-1 {
			select {
			case <-time.After(backoff):
			case <-n.stop:
				return
			}
			backoff *= 2
		}
	}

	if err := n.eventRepo.UpdateStatus(ctx, evt.ID, eventFailed, evt.RetryCount, lastErr.Error()); err != nil {
		log.WithError(err).Error("failed to update event status")
	}
}

// send 发送 Webhook 请求
func (n *Notifier) send(ctx context.Context, webhook config.WebhookConfig, body []byte) error {
	method := webhook.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range webhook.Headers {
		req.Header.Set(key, value)
	}
	if webhook.Token != "" {
		req.Header.Set("Authorization", "Bearer "+webhook.Token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status code: %d", resp.StatusCode)
	}
	return nil
}

// Stop 停止通知器
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() {
		if n.unsubscribe != nil {
			n.unsubscribe()
		}
		close(n.stop)
	})
	n.wg.Wait()
}
