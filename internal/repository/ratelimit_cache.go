package repository

import (
	"context"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/service"

	"github.com/redis/go-redis/v9"
)

// 限流缓存设计：
// 每个 API Key 一个有序集合做滑动窗口：
// - Key: ratelimit:apikey:{key}
// - Member: 请求唯一标识
// - Score: Unix 毫秒时间戳
// 通过 ZREMRANGEBYSCORE 清掉窗口外的记录后数数，原子性由 Lua 保证。
const rateLimitKeyPrefix = "ratelimit:apikey:"

// slidingWindowScript 滑动窗口判定
// KEYS[1] = ratelimit:apikey:{key}
// ARGV[1] = 窗口长度（毫秒）
// ARGV[2] = 窗口内最大请求数
// ARGV[3] = 当前时间戳（毫秒）
// ARGV[4] = 本次请求标识
// 返回: {是否允许(1/0), 窗口内已用次数}
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local window = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

	local count = redis.call('ZCARD', key)
	if count < limit then
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, window + 1000)
		return {1, count + 1}
	end
	return {0, count}
`)

// NewRateLimitCache 构建基于 Redis 的滑动窗口限流存储
func NewRateLimitCache(rdb *redis.Client) service.RateLimitStore {
	return &rateLimitCache{rdb: rdb}
}

type rateLimitCache struct {
	rdb *redis.Client
}

func (c *rateLimitCache) Allow(ctx context.Context, apiKey, requestID string, window time.Duration, limit int) (bool, int, error) {
	result, err := slidingWindowScript.Run(ctx, c.rdb,
		[]string{rateLimitKeyPrefix + apiKey},
		window.Milliseconds(), limit, time.Now().UnixMilli(), requestID).Slice()
	if err != nil {
		return false, 0, err
	}
	if len(result) != 2 {
		return true, 0, nil
	}
	allowed, _ := result[0].(int64)
	used, _ := result[1].(int64)
	return allowed == 1, int(used), nil
}
