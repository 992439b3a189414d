package middleware

import (
	"net/http"
	"strings"

	"github.com/Wei-Shaw/ds2api/internal/pkg/response"
	"github.com/Wei-Shaw/ds2api/internal/service"

	"github.com/gin-gonic/gin"
)

// AdminAuthMiddleware 标识管理端点的认证中间件
type AdminAuthMiddleware gin.HandlerFunc

// ContextKeyAdminUser 是管理端认证后写入 gin context 的用户名 key
const ContextKeyAdminUser = "admin_user"

// AdminAuth 校验管理端点的 JWT
func AdminAuth(adminAuth *service.AdminAuthService) AdminAuthMiddleware {
	return func(c *gin.Context) {
		auth := strings.TrimSpace(c.GetHeader("Authorization"))
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			response.AbortError(c, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		username, err := adminAuth.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			response.AbortError(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		c.Set(ContextKeyAdminUser, username)
		c.Next()
	}
}
