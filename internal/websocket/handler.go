package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaWS "github.com/gorilla/websocket"
)

// NewUpgrader 创建升级器, allowedOrigins 含 * 或为空时不校验 Origin
func NewUpgrader(allowedOrigins []string) *gorillaWS.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &gorillaWS.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(allowed) == 0 || allowed["*"] || origin == "" || allowed[origin]
		},
	}
}

// LogStreamHandler 实时日志订阅, 支持 task_id、rule_id、action 过滤
func LogStreamHandler(hub *Hub, upgrader *gorillaWS.Upgrader) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := Filter{
			TaskID: c.Query("task_id"),
			RuleID: c.Query("rule_id"),
			Action: c.Query("action"),
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade 已写入错误响应
			return
		}

		client := NewClient(uuid.New().String(), filter, hub, conn)

		select {
		case hub.Register <- client:
		case <-hub.Done():
			conn.Close()
			return
		}

		go client.ReadPump()
		go client.WritePump()
	}
}
