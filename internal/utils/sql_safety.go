package utils

import (
	"errors"
	"strings"
)

// ValidateSortField 验证排序字段是否在白名单内，防止 SQL 注入
func ValidateSortField(field string, allowed []string) error {
	if field == "" {
		return errors.New("sort field cannot be empty")
	}
	for _, a := range allowed {
		if field == a {
			return nil
		}
	}
	return errors.New("sort field is not allowed")
}

// SanitizeSortOrder 清理排序方向
func SanitizeSortOrder(order string) string {
	upperOrder := strings.ToUpper(strings.TrimSpace(order))
	if upperOrder == "ASC" || upperOrder == "DESC" {
		return upperOrder
	}
	return "DESC" // 默认降序
}
