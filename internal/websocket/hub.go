package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jcheng510/coingame-sub001/internal/audit"
	"github.com/sirupsen/logrus"
)

// Hub 管理日志订阅连接, 将审计日志实时推送给匹配的客户端
type Hub struct {
	// 已注册的客户端
	clients map[*Client]bool

	// 注册新客户端
	Register chan *Client

	// 注销客户端
	Unregister chan *Client

	// done 在 Run 退出后关闭
	done chan struct{}

	logger *logrus.Logger

	// 互斥锁，保护 clients map
	mu sync.RWMutex
}

// NewHub 创建新的 Hub
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run 消费日志流直到 ctx 结束或日志流关闭
func (h *Hub) Run(ctx context.Context, entries <-chan *audit.Entry) {
	defer func() {
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client.Send)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.remove(client)

		case entry, ok := <-entries:
			if !ok {
				return
			}
			h.broadcast(entry)
		}
	}
}

// Done Run 退出后关闭
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) broadcast(entry *audit.Entry) {
	message, err := json.Marshal(entry)
	if err != nil {
		h.logger.WithError(err).WithField("log_id", entry.ID).Warn("failed to encode log entry")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !client.Filter.Match(entry) {
			continue
		}
		select {
		case client.Send <- message:
		default:
			// 消费过慢的客户端直接断开
			close(client.Send)
			delete(h.clients, client)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
	}
}

// HasClient 检查客户端是否存在
func (h *Hub) HasClient(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.ID == clientID {
			return true
		}
	}
	return false
}

// GetClientCount 获取客户端数量
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
