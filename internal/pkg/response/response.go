// Package response 统一管理后台 API 的 JSON 响应信封。
// 成功返回 {"code":0,"message":"success","data":...}，失败返回非零 code 与消息。
package response

import (
	"net/http"

	"github.com/Wei-Shaw/ds2api/internal/util/dserror"

	"github.com/gin-gonic/gin"
)

// Body 是管理端响应的统一结构
type Body struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Success 返回 200 和业务数据
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Body{Code: 0, Message: "success", Data: data})
}

// Error 以指定状态码返回错误消息，code 复用 HTTP 状态码
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, Body{Code: status, Message: message})
}

// AbortError 同 Error 但终止后续 handler，供中间件使用
func AbortError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Body{Code: status, Message: message})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, message)
}

// ErrorFrom 根据错误类别自动选择状态码
func ErrorFrom(c *gin.Context, err error) {
	Error(c, dserror.HTTPStatus(err), err.Error())
}

// openAIErrorBody 是 OpenAI 兼容端点的错误格式：
// {"error":{"message":"...","type":"...","code":"..."}}
type openAIErrorBody struct {
	Error openAIErrorDetail `json:"error"`
}

type openAIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// OpenAIError 按 OpenAI 错误格式返回，供 /v1 网关端点使用
func OpenAIError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, openAIErrorBody{Error: openAIErrorDetail{Message: message, Type: errType}})
}

// AbortOpenAIError 同 OpenAIError 但终止后续 handler
func AbortOpenAIError(c *gin.Context, status int, errType, message string) {
	c.AbortWithStatusJSON(status, openAIErrorBody{Error: openAIErrorDetail{Message: message, Type: errType}})
}

// OpenAIErrorFrom 将内部错误映射为 OpenAI 错误格式
func OpenAIErrorFrom(c *gin.Context, err error) {
	OpenAIError(c, dserror.HTTPStatus(err), openAIErrorType(err), err.Error())
}

func openAIErrorType(err error) string {
	switch dserror.KindOf(err) {
	case dserror.KindTenantNotFound, dserror.KindUnauthorized, dserror.KindRefreshFailed:
		return "authentication_error"
	case dserror.KindInvalidRequest, dserror.KindNoAccountsAvailable:
		return "invalid_request_error"
	case dserror.KindRateLimited:
		return "rate_limit_error"
	case dserror.KindAccountBusyTimeout:
		return "overloaded_error"
	case dserror.KindUpstreamUnavailable:
		return "upstream_error"
	default:
		return "api_error"
	}
}
