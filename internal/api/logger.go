package api

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jcheng510/coingame-sub001/internal/audit"
	"github.com/jcheng510/coingame-sub001/internal/logger"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader 请求 ID 头
const RequestIDHeader = "X-Request-ID"

var (
	apiLogger *logrus.Logger
	loggerMu  sync.RWMutex
)

// GetLogger 获取 API 层日志记录器, 未设置时使用全局默认
func GetLogger() *logrus.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if apiLogger == nil {
		return logger.Get()
	}
	return apiLogger
}

// SetLogger 设置 API 层日志记录器
func SetLogger(l *logrus.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	apiLogger = l
}

// RequestIDMiddleware 为每个请求分配请求 ID, 并透传到审计日志
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(audit.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}
