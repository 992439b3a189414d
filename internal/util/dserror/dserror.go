// Package dserror defines the typed error model shared by services and handlers.
package dserror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind 标识错误类别，决定 HTTP 状态码与是否可重试
type Kind string

const (
	KindTenantNotFound      Kind = "tenant_not_found"
	KindNoAccountsAvailable Kind = "no_accounts_available"
	KindAccountBusyTimeout  Kind = "account_busy_timeout"
	KindRefreshFailed       Kind = "refresh_failed"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindInvalidRequest      Kind = "invalid_request"
	KindUnauthorized        Kind = "unauthorized"
	KindNotFound            Kind = "not_found"
	KindRateLimited         Kind = "rate_limited"
	KindInternal            Kind = "internal"
)

// AppError 是对外暴露的统一错误类型。
// UpstreamCode 仅在上游返回了结构化业务码时填充（如 40003 表示凭证失效）。
type AppError struct {
	Kind         Kind
	Message      string
	UpstreamCode int
	cause        error
}

func (e *AppError) Error() string {
	if e.UpstreamCode != 0 {
		return fmt.Sprintf("%s: %s (upstream code %d)", e.Kind, e.Message, e.UpstreamCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.cause }

// New 构造一个不带底层错误的 AppError
func New(kind Kind, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap 保留底层错误便于 errors.Is/As 链式判断
func Wrap(kind Kind, cause error, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithUpstreamCode 附加上游业务码
func (e *AppError) WithUpstreamCode(code int) *AppError {
	e.UpstreamCode = code
	return e
}

// KindOf 返回错误的 Kind；非 AppError 一律视为 Internal
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// UpstreamCode 提取错误链上的上游业务码，没有则返回 0
func UpstreamCode(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.UpstreamCode
	}
	return 0
}

// HTTPStatus 将错误类别映射为 HTTP 状态码
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindTenantNotFound, KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindNoAccountsAvailable, KindInvalidRequest:
		return http.StatusBadRequest
	case KindAccountBusyTimeout:
		return http.StatusServiceUnavailable
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindRefreshFailed:
		return http.StatusUnauthorized
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ExtractUpstreamError 从上游 JSON 响应体中提取业务码和消息。
// DeepSeek 的业务响应统一为 {"code": int, "msg": string, "data": {...}}。
func ExtractUpstreamError(body []byte) (int, string) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || !gjson.Valid(trimmed) {
		return 0, truncate(trimmed, 256)
	}
	root := gjson.Parse(trimmed)
	code := root.Get("code").Int()
	msg := root.Get("msg").String()
	if msg == "" {
		msg = root.Get("message").String()
	}
	if msg == "" {
		msg = root.Get("error.message").String()
	}
	return int(code), truncate(msg, 512)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
