package service

import (
	"context"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/pkg/logger"
	"github.com/Wei-Shaw/ds2api/internal/util/dserror"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RateLimitStore 是限流判定的存储后端
type RateLimitStore interface {
	// Allow 判定 apiKey 在窗口内是否还允许一次请求，返回 (允许, 已用次数)
	Allow(ctx context.Context, apiKey, requestID string, window time.Duration, limit int) (bool, int, error)
}

// RateLimitService 对每个 API Key 做滑动窗口限流。
// store 为 nil（未配置 Redis）时限流关闭；后端故障时放行保可用。
type RateLimitService struct {
	store  RateLimitStore
	window time.Duration
	limit  int
}

func NewRateLimitService(store RateLimitStore, window time.Duration, limit int) *RateLimitService {
	return &RateLimitService{store: store, window: window, limit: limit}
}

func (s *RateLimitService) Enabled() bool {
	return s != nil && s.store != nil && s.limit > 0
}

// Check 超限时返回 KindRateLimited 错误
func (s *RateLimitService) Check(ctx context.Context, apiKey string) error {
	if !s.Enabled() {
		return nil
	}
	allowed, used, err := s.store.Allow(ctx, apiKey, uuid.NewString(), s.window, s.limit)
	if err != nil {
		// 限流后端不可用时放行，避免 Redis 故障放大为全站拒绝
		logger.L().Warn("rate limit backend unavailable, failing open",
			zap.String("component", "ratelimit"),
			zap.Error(err))
		return nil
	}
	if !allowed {
		return dserror.New(dserror.KindRateLimited,
			"rate limit exceeded: %d requests in %s", used, s.window)
	}
	return nil
}
