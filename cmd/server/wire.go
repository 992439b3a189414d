//go:build wireinject
// +build wireinject

package main

import (
	"github.com/Wei-Shaw/ds2api/internal/config"
	"github.com/Wei-Shaw/ds2api/internal/handler"
	"github.com/Wei-Shaw/ds2api/internal/repository"
	"github.com/Wei-Shaw/ds2api/internal/server"
	"github.com/Wei-Shaw/ds2api/internal/server/middleware"
	"github.com/Wei-Shaw/ds2api/internal/service"

	"github.com/google/wire"
)

func initializeApplication() (*Application, error) {
	wire.Build(
		config.ProviderSet,
		repository.ProviderSet,
		service.ProviderSet,
		middleware.ProviderSet,
		handler.ProviderSet,
		server.ProviderSet,

		provideCleanup,

		wire.Struct(new(Application), "Config", "Server", "Accounts", "Sweeper", "Cleanup"),
	)
	return nil, nil
}
