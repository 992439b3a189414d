package repository

import (
	"github.com/Wei-Shaw/ds2api/internal/config"
	"github.com/Wei-Shaw/ds2api/internal/service"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProvideRedisClient 在启用 Redis 时创建客户端，未启用时返回 nil
func ProvideRedisClient(cfg *config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// ProvideRateLimitStore 把 Redis 客户端包装为限流存储；无 Redis 时限流关闭
func ProvideRateLimitStore(rdb *redis.Client) service.RateLimitStore {
	if rdb == nil {
		return nil
	}
	return NewRateLimitCache(rdb)
}

// ProviderSet is the Wire provider set for the repository layer
var ProviderSet = wire.NewSet(
	OpenDatabase,
	NewAPIKeyRepo,
	NewAccountRepo,
	NewDeepSeekClient,
	ProvideRedisClient,
	ProvideRateLimitStore,
)
