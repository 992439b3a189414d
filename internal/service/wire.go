package service

import (
	"time"

	"github.com/Wei-Shaw/ds2api/internal/config"

	"github.com/google/wire"
)

// 下面的 Provide* 把配置项换算为各服务构造函数需要的标量参数。

func ProvideSessionPoolManager(cfg *config.Config) *SessionPoolManager {
	return NewSessionPoolManager(cfg.Pool.SessionTTL())
}

func ProvideTokenCache(cfg *config.Config, upstream DeepSeekClient) *TokenCache {
	return NewTokenCache(upstream, cfg.DeepSeek.AccessTokenTTL())
}

func ProvideGatewayService(
	cfg *config.Config,
	pool *SessionPoolManager,
	tokens *TokenCache,
	upstream DeepSeekClient,
	solver *ChallengeSolver,
	processor *MessageProcessor,
) *GatewayService {
	retry := RetryPolicy{
		MaxAttempts: cfg.DeepSeek.MaxRetryCount,
		Delay:       cfg.DeepSeek.RetryDelay(),
	}
	return NewGatewayService(pool, tokens, upstream, solver, processor, retry, cfg.Pool.AcquireBudget())
}

func ProvideAPIKeyAuthCache(cfg *config.Config, repo APIKeyRepo) (*APIKeyAuthCache, error) {
	return NewAPIKeyAuthCache(
		repo,
		int64(cfg.APIKeyAuth.L1Size),
		time.Duration(cfg.APIKeyAuth.L1TTLSeconds)*time.Second,
		time.Duration(cfg.APIKeyAuth.NegativeTTLSeconds)*time.Second,
		cfg.APIKeyAuth.Singleflight,
	)
}

func ProvideRateLimitService(cfg *config.Config, store RateLimitStore) *RateLimitService {
	limit := 0
	if cfg.RateLimit.Enabled {
		limit = cfg.RateLimit.RequestsPerMinute
	}
	return NewRateLimitService(store, time.Minute, limit)
}

// ProviderSet is the Wire provider set for the service layer
var ProviderSet = wire.NewSet(
	ProvideSessionPoolManager,
	ProvideTokenCache,
	NewChallengeSolver,
	NewMessageProcessor,
	ProvideGatewayService,
	ProvideAPIKeyAuthCache,
	NewAPIKeyService,
	NewAccountService,
	NewAdminAuthService,
	ProvideRateLimitService,
	NewTimingWheelService,
	NewPoolSweeper,
)
