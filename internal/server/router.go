// Package server 负责 HTTP 路由与中间件的组装。
package server

import (
	"github.com/Wei-Shaw/ds2api/internal/config"
	"github.com/Wei-Shaw/ds2api/internal/handler"
	middleware2 "github.com/Wei-Shaw/ds2api/internal/server/middleware"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由器中间件和路由
func SetupRouter(
	r *gin.Engine,
	handlers *handler.Handlers,
	apiKeyAuth middleware2.APIKeyAuthMiddleware,
	rateLimit middleware2.RateLimitMiddleware,
	adminAuth middleware2.AdminAuthMiddleware,
	cfg *config.Config,
) *gin.Engine {
	r.Use(middleware2.RequestLogger())
	r.Use(middleware2.Logger())
	r.Use(middleware2.CORS(cfg.CORS))

	registerRoutes(r, handlers, apiKeyAuth, rateLimit, adminAuth)
	return r
}

// registerRoutes 注册所有 HTTP 路由
func registerRoutes(
	r *gin.Engine,
	h *handler.Handlers,
	apiKeyAuth middleware2.APIKeyAuthMiddleware,
	rateLimit middleware2.RateLimitMiddleware,
	adminAuth middleware2.AdminAuthMiddleware,
) {
	r.GET("/health", h.Common.Health)

	// OpenAI 兼容网关
	v1 := r.Group("/v1")
	v1.Use(gin.HandlerFunc(apiKeyAuth), gin.HandlerFunc(rateLimit))
	{
		v1.POST("/chat/completions", h.Chat.Completions)
		v1.GET("/models", h.Chat.Models)
	}

	api := r.Group("/api/v1")

	// 管理端登录
	api.POST("/auth/login", h.Auth.Login)

	// 管理端
	admin := api.Group("/admin")
	admin.Use(gin.HandlerFunc(adminAuth))
	{
		admin.POST("/api-keys", h.Admin.CreateAPIKey)
		admin.GET("/api-keys", h.Admin.ListAPIKeys)
		admin.PUT("/api-keys/:id/status", h.Admin.UpdateAPIKeyStatus)
		admin.DELETE("/api-keys/:id", h.Admin.DeleteAPIKey)

		admin.POST("/accounts", h.Admin.RegisterAccount)
		admin.GET("/accounts", h.Admin.ListAccounts)
		admin.PUT("/accounts/:id/status", h.Admin.UpdateAccountStatus)
		admin.PUT("/accounts/:id/refresh-token", h.Admin.UpdateAccountToken)
		admin.DELETE("/accounts/:id", h.Admin.DeleteAccount)
		admin.GET("/accounts/:id/quota", h.Admin.AccountQuota)

		admin.GET("/session-pools/:key/stats", h.Admin.PoolStats)
	}
}
