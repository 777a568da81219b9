package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/jcheng510/coingame-sub001/internal/audit"
	"github.com/sirupsen/logrus"
)

const (
	// 写超时时间
	writeWait = 10 * time.Second

	// 读超时时间
	pongWait = 60 * time.Second

	// ping 周期 (必须小于 pongWait)
	pingPeriod = (pongWait * 9) / 10

	// 客户端只发送控制帧
	maxMessageSize = 4 * 1024

	sendBuffer = 256
)

// Filter 客户端订阅条件, 空字段不过滤
type Filter struct {
	TaskID string
	RuleID string
	Action string
}

// Match 判断日志是否满足订阅条件
func (f Filter) Match(e *audit.Entry) bool {
	if f.TaskID != "" && (e.TaskID == nil || *e.TaskID != f.TaskID) {
		return false
	}
	if f.RuleID != "" && (e.RuleID == nil || *e.RuleID != f.RuleID) {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	return true
}

// Client WebSocket 客户端
type Client struct {
	// ID 客户端 ID
	ID string

	// Filter 订阅条件
	Filter Filter

	// Hub Hub 实例
	Hub *Hub

	// Conn WebSocket 连接
	Conn *websocket.Conn

	// Send 发送消息的 channel
	Send chan []byte
}

// NewClient 创建新的客户端
func NewClient(id string, filter Filter, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:     id,
		Filter: filter,
		Hub:    hub,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
	}
}

// ReadPump 读取控制帧, 连接断开时注销
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.Done():
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.WithError(err).WithField("client_id", c.ID).Debug("websocket closed unexpectedly")
			}
			break
		}
	}
}

// WritePump 向 WebSocket 连接写入日志, 每条日志一帧
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了 channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Hub.logger.WithFields(logrus.Fields{"client_id": c.ID}).WithError(err).Debug("websocket write failed")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
