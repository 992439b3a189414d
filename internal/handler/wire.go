package handler

import "github.com/google/wire"

// ProviderSet is the Wire provider set for all handlers
var ProviderSet = wire.NewSet(
	NewChatHandler,
	NewAuthHandler,
	NewAdminHandler,
	NewCommonHandler,
	ProvideHandlers,
)
