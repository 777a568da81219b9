package utils

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxIDLength 任务、规则与审批人 ID 的最大长度
const maxIDLength = 64

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ID 与文本校验错误
var (
	ErrEmptyID         = &ValidationError{Code: "EMPTY_ID", Message: "id cannot be empty"}
	ErrInvalidIDFormat = &ValidationError{Code: "INVALID_ID_FORMAT", Message: "id contains invalid characters"}
	ErrIDTooLong       = &ValidationError{Code: "ID_TOO_LONG", Message: "id exceeds maximum length"}
	ErrEmptyString     = &ValidationError{Code: "EMPTY_STRING", Message: "string cannot be empty"}
	ErrStringTooLong   = &ValidationError{Code: "STRING_TOO_LONG", Message: "string exceeds maximum length"}
)

// ValidateID 校验任务、规则或审批人 ID。
// ID 会进入日志的 actor 字段与 Webhook 通知, 只允许字母、数字、连字符和下划线。
func ValidateID(id string) error {
	switch {
	case id == "":
		return ErrEmptyID
	case len(id) > maxIDLength:
		return ErrIDTooLong
	case !idPattern.MatchString(id):
		return ErrInvalidIDFormat
	}
	return nil
}

// StripControl 移除换行与制表符以外的控制字符
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
}

// TrimAndValidate 去除首尾空白与控制字符, 校验非空与长度 (按字符计)。
// maxLen <= 0 时不限制长度。
func TrimAndValidate(s string, maxLen int) (string, error) {
	cleaned := strings.TrimSpace(StripControl(s))
	if cleaned == "" {
		return "", ErrEmptyString
	}
	if maxLen > 0 && utf8.RuneCountInString(cleaned) > maxLen {
		return "", ErrStringTooLong
	}
	return cleaned, nil
}
