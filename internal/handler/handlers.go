// Package handler 承载所有 HTTP 端点的 gin handler。
package handler

// Handlers 聚合全部 handler，供路由注册与依赖注入使用
type Handlers struct {
	Chat   *ChatHandler
	Auth   *AuthHandler
	Admin  *AdminHandler
	Common *CommonHandler
}

// ProvideHandlers 组装 Handlers
func ProvideHandlers(
	chatHandler *ChatHandler,
	authHandler *AuthHandler,
	adminHandler *AdminHandler,
	commonHandler *CommonHandler,
) *Handlers {
	return &Handlers{
		Chat:   chatHandler,
		Auth:   authHandler,
		Admin:  adminHandler,
		Common: commonHandler,
	}
}
