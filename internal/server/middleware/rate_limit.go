package middleware

import (
	"net/http"

	"github.com/Wei-Shaw/ds2api/internal/pkg/response"
	"github.com/Wei-Shaw/ds2api/internal/service"
	"github.com/Wei-Shaw/ds2api/internal/util/dserror"

	"github.com/gin-gonic/gin"
)

// RateLimitMiddleware 标识网关端点的限流中间件
type RateLimitMiddleware gin.HandlerFunc

// RateLimit 基于租户密钥做滑动窗口限流。
// 未启用限流（无 Redis）时直接放行。必须挂在 APIKeyAuth 之后。
func RateLimit(limiter *service.RateLimitService) RateLimitMiddleware {
	return func(c *gin.Context) {
		if !limiter.Enabled() {
			c.Next()
			return
		}

		apiKey := APIKeyFromContext(c)
		if apiKey == "" {
			c.Next()
			return
		}

		// 后端故障在服务层放行，这里只会收到超限错误
		if err := limiter.Check(c.Request.Context(), apiKey); dserror.KindOf(err) == dserror.KindRateLimited {
			response.AbortOpenAIError(c, http.StatusTooManyRequests, "rate_limit_error",
				"Rate limit exceeded, please retry later")
			return
		}
		c.Next()
	}
}
