package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Wei-Shaw/ds2api/internal/pkg/ctxkey"
	"github.com/Wei-Shaw/ds2api/internal/pkg/response"
	"github.com/Wei-Shaw/ds2api/internal/service"
	"github.com/Wei-Shaw/ds2api/internal/util/dserror"

	"github.com/gin-gonic/gin"
)

// APIKeyAuthMiddleware 标识网关端点的租户认证中间件
type APIKeyAuthMiddleware gin.HandlerFunc

// APIKeyAuth 校验 /v1 网关端点的租户密钥。
// 认证通过后把密钥写入 request context，供后续 handler 路由到对应账号池。
func APIKeyAuth(apiKeys *service.APIKeyService) APIKeyAuthMiddleware {
	return func(c *gin.Context) {
		keyString := extractAPIKey(c)
		if keyString == "" {
			response.AbortOpenAIError(c, http.StatusUnauthorized, "authentication_error", "API key is required")
			return
		}

		apiKey, err := apiKeys.Authenticate(c.Request.Context(), keyString)
		if err != nil {
			switch dserror.KindOf(err) {
			case dserror.KindUnauthorized, dserror.KindNotFound:
				response.AbortOpenAIError(c, http.StatusUnauthorized, "authentication_error", "Invalid API key")
			default:
				response.AbortOpenAIError(c, http.StatusInternalServerError, "api_error", "Failed to validate API key")
			}
			return
		}

		ctx := context.WithValue(c.Request.Context(), ctxkey.APIKey, apiKey.Key)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// extractAPIKey 提取租户密钥，优先 Authorization: Bearer，兼容 x-api-key
func extractAPIKey(c *gin.Context) string {
	if auth := strings.TrimSpace(c.GetHeader("Authorization")); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(c.GetHeader("x-api-key"))
}

// APIKeyFromContext 取出认证中间件写入的租户密钥
func APIKeyFromContext(c *gin.Context) string {
	key, _ := c.Request.Context().Value(ctxkey.APIKey).(string)
	return key
}
