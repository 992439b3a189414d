package service

import (
	"context"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/pkg/logger"

	"go.uber.org/zap"
)

// RetryPolicy 控制上游调用的重试：固定间隔，总尝试次数含首次
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// WithRetry 以固定间隔重试 fn 直到成功、尝试耗尽或 ctx 结束。
// 不区分错误类别：上游的瞬时故障和业务错误在响应层面难以稳定区分，
// 统一重试并把最后一次错误原样返回。
func WithRetry[T any](ctx context.Context, policy RetryPolicy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		logger.L().Warn("operation failed, will retry",
			zap.String("component", "retry"),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", policy.Delay),
			zap.Error(err))

		select {
		case <-time.After(policy.Delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	logger.L().Error("operation failed after all attempts",
		zap.String("component", "retry"),
		zap.String("op", op),
		zap.Int("max_attempts", attempts),
		zap.Error(lastErr))
	return zero, lastErr
}
