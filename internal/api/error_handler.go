package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jcheng510/coingame-sub001/internal/utils"
	"github.com/sirupsen/logrus"
)

// APIError API 错误
type APIError struct {
	Code    int
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	return e.Message
}

// ErrorHandlerMiddleware 错误处理中间件, 渲染 c.Error 记录的错误并恢复 panic
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				GetLogger().WithFields(logrus.Fields{
					"request_id": c.GetString("request_id"),
					"path":       c.Request.URL.Path,
					"panic":      fmt.Sprint(r),
				}).Error("panic recovered")
				Error(c, http.StatusInternalServerError, "internal server error", "")
			}
		}()

		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			apiErr := ToAPIError(c.Errors.Last().Err)
			Error(c, apiErr.Code, apiErr.Message, apiErr.Detail)
		}
	}
}

// ToAPIError 将领域错误映射为 HTTP 错误
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case utils.IsValidationError(err):
		return WrapError(err, http.StatusBadRequest, "invalid request")
	case utils.IsNotFoundError(err):
		return WrapError(err, http.StatusNotFound, "not found")
	case utils.IsApprovalStateError(err):
		return WrapError(err, http.StatusConflict, "invalid state transition")
	default:
		return WrapError(err, http.StatusInternalServerError, "internal server error")
	}
}

// handleError 渲染错误响应
func handleError(c *gin.Context, err error) {
	apiErr := ToAPIError(err)
	if apiErr.Code >= http.StatusInternalServerError {
		GetLogger().WithError(err).WithField("request_id", c.GetString("request_id")).Error("request failed")
	}
	Error(c, apiErr.Code, apiErr.Message, apiErr.Detail)
}

// WrapError 包装错误
func WrapError(err error, code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Detail:  err.Error(),
	}
}
