package server

import (
	"net/http"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/config"
	"github.com/Wei-Shaw/ds2api/internal/handler"
	middleware2 "github.com/Wei-Shaw/ds2api/internal/server/middleware"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
)

// ProvideRouter 创建引擎并挂好全部中间件与路由
func ProvideRouter(
	handlers *handler.Handlers,
	apiKeyAuth middleware2.APIKeyAuthMiddleware,
	rateLimit middleware2.RateLimitMiddleware,
	adminAuth middleware2.AdminAuthMiddleware,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	return SetupRouter(gin.New(), handlers, apiKeyAuth, rateLimit, adminAuth, cfg)
}

// ProvideHTTPServer 组装 http.Server。
// 不设全局写超时：SSE 长连接的生命周期由请求 context 控制。
func ProvideHTTPServer(cfg *config.Config, engine *gin.Engine) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           engine,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeout) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}
}

// ProviderSet is the Wire provider set for the server layer
var ProviderSet = wire.NewSet(
	ProvideRouter,
	ProvideHTTPServer,
)
