package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jcheng510/coingame-sub001/internal/api"
	"github.com/jcheng510/coingame-sub001/internal/audit"
	"github.com/jcheng510/coingame-sub001/internal/config"
	"github.com/jcheng510/coingame-sub001/internal/logger"
	"github.com/jcheng510/coingame-sub001/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	api.SetLogger(logger.Discard())
	router := gin.New()
	router.Use(api.RequestIDMiddleware())
	router.Use(api.ErrorHandlerMiddleware())
	return router
}

// TestErrorHandlerMiddleware_Mapping 测试错误类型到状态码的映射
func TestErrorHandlerMiddleware_Mapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", utils.NewValidationError("priority", "unsupported priority %q", "asap"), http.StatusBadRequest},
		{"not found", &utils.NotFoundError{Resource: "task", ID: "t-1"}, http.StatusNotFound},
		{"state", &utils.ApprovalStateError{TaskID: "t-1", Current: "completed", Target: "approved"}, http.StatusConflict},
		{"wrapped state", errors.Join(errors.New("approve"), &utils.ApprovalStateError{TaskID: "t-1"}), http.StatusConflict},
		{"api error", &api.APIError{Code: http.StatusTeapot, Message: "teapot"}, http.StatusTeapot},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter()
			router.GET("/test", func(c *gin.Context) {
				_ = c.Error(tt.err)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

			assert.Equal(t, tt.status, w.Code)
			var body api.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body.Code)
		})
	}
}

// TestErrorHandlerMiddleware_NoError 测试无错误的情况
func TestErrorHandlerMiddleware_NoError(t *testing.T) {
	router := newRouter()
	router.GET("/test", func(c *gin.Context) {
		api.Success(c, gin.H{"message": "success"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body api.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Code)
	assert.Equal(t, "success", body.Message)
}

// TestErrorHandlerMiddleware_RecoversPanic 测试 panic 恢复
func TestErrorHandlerMiddleware_RecoversPanic(t *testing.T) {
	router := newRouter()
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal server error", body.Message)
	assert.NotContains(t, w.Body.String(), "boom")
}

// TestRequestIDMiddleware 测试请求 ID 生成与透传
func TestRequestIDMiddleware(t *testing.T) {
	router := newRouter()
	var seen string
	router.GET("/test", func(c *gin.Context) {
		seen = audit.RequestID(c.Request.Context())
		api.Success(c, nil)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	generated := w.Header().Get(api.RequestIDHeader)
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, seen)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(api.RequestIDHeader, "req-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(api.RequestIDHeader))
	assert.Equal(t, "req-123", seen)
}

// TestCORSMiddleware 测试跨域配置
func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(api.CORSMiddleware(config.CORSConfig{AllowedOrigins: []string{"https://ops.example.com"}}))
	router.GET("/test", func(c *gin.Context) { api.Success(c, nil) })

	req := httptest.NewRequest(http.MethodOptions, "/test", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ops.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

// TestRateLimitMiddleware 测试限流
func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(api.RateLimitMiddleware(0.001, 1))
	router.GET("/test", func(c *gin.Context) { api.Success(c, nil) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

// TestSecurityHeadersMiddleware 测试安全响应头
func TestSecurityHeadersMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(api.SecurityHeadersMiddleware(false))
	router.GET("/api/v1/test", func(c *gin.Context) { api.Success(c, nil) })
	router.GET("/health", func(c *gin.Context) { api.Success(c, nil) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/test", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, w.Header().Get("Cache-Control"))

	hsts := gin.New()
	hsts.Use(api.SecurityHeadersMiddleware(true))
	hsts.GET("/health", func(c *gin.Context) { api.Success(c, nil) })
	w = httptest.NewRecorder()
	hsts.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=")
}
