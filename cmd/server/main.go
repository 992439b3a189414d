package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/config"
	"github.com/Wei-Shaw/ds2api/internal/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	// 配置加载前先用引导 logger，保证启动失败也有结构化输出
	logger.InitBootstrap()

	app, err := initializeApplication()
	if err != nil {
		logger.L().Fatal("initialize application", zap.Error(err))
	}
	defer app.Cleanup()

	initLogger(app.Config)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 启动时把库里的活跃账号挂回各租户的会话池
	if err := app.Accounts.LoadPools(ctx); err != nil {
		logger.L().Fatal("load session pools", zap.Error(err))
	}
	if err := app.Sweeper.Start(); err != nil {
		logger.L().Fatal("start pool sweeper", zap.Error(err))
	}

	go func() {
		logger.L().Info("server listening",
			zap.String("component", "main"),
			zap.String("addr", app.Server.Addr))
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Error("server stopped unexpectedly", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.L().Info("shutdown signal received", zap.String("component", "main"))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		logger.L().Warn("graceful shutdown incomplete", zap.Error(err))
	}
}

func initLogger(cfg *config.Config) {
	err := logger.Init(logger.InitOptions{
		Level:           cfg.Log.Level,
		Format:          cfg.Log.Format,
		ServiceName:     cfg.Log.ServiceName,
		Environment:     cfg.Log.Environment,
		Caller:          cfg.Log.Caller,
		StacktraceLevel: cfg.Log.StacktraceLevel,
		Output: logger.OutputOptions{
			ToStdout: cfg.Log.Output.ToStdout,
			ToFile:   cfg.Log.Output.ToFile,
			FilePath: cfg.Log.Output.FilePath,
		},
		Rotation: logger.RotationOptions{
			MaxSizeMB:  cfg.Log.Rotation.MaxSizeMB,
			MaxBackups: cfg.Log.Rotation.MaxBackups,
			MaxAgeDays: cfg.Log.Rotation.MaxAgeDays,
			Compress:   cfg.Log.Rotation.Compress,
			LocalTime:  cfg.Log.Rotation.LocalTime,
		},
	})
	if err != nil {
		logger.L().Warn("logger init failed, keeping bootstrap logger", zap.Error(err))
	}

	if _, err := os.Stat("config.yaml"); errors.Is(err, os.ErrNotExist) {
		logger.L().Info("no config file found, running with defaults and environment variables",
			zap.String("component", "main"))
	}
}
