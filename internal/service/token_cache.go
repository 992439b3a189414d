package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/domain"
	"github.com/Wei-Shaw/ds2api/internal/pkg/ctxkey"
	"github.com/Wei-Shaw/ds2api/internal/pkg/logger"
	"github.com/Wei-Shaw/ds2api/internal/util/dserror"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// TokenRefresher 用 refresh token 换取上游 access token
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
}

type cachedToken struct {
	accessToken string
	obtainedAt  time.Time
}

// credLock 是单个凭证的刷新锁。
// waiters 统计已领到句柄、尚未走完加锁/放锁流程的请求数（受 lockMu 保护），
// 清理器只清 waiters 为零的条目，领到手的句柄不会被清掉。
type credLock struct {
	sem     *semaphore.Weighted
	waiters int
}

// TokenCache 缓存每个账号凭证对应的 access token。
//
// 每个凭证持有一把容量为 1 的信号量作为刷新锁：并发未命中时只有一个请求
// 真正调上游刷新，其余在锁上等待后走双重检查命中新值。锁等待可被 ctx 取消。
type TokenCache struct {
	mu     sync.RWMutex
	tokens map[string]cachedToken

	lockMu sync.Mutex
	locks  map[string]*credLock

	ttl       time.Duration
	refresher TokenRefresher
	now       func() time.Time
}

func NewTokenCache(refresher TokenRefresher, ttl time.Duration) *TokenCache {
	return &TokenCache{
		tokens:    make(map[string]cachedToken),
		locks:     make(map[string]*credLock),
		ttl:       ttl,
		refresher: refresher,
		now:       time.Now,
	}
}

func (c *TokenCache) lookup(refreshToken string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.tokens[refreshToken]
	if !ok {
		return "", false
	}
	if c.now().Sub(entry.obtainedAt) >= c.ttl {
		return "", false
	}
	return entry.accessToken, true
}

// refreshLock 登记一个等待者并返回凭证的刷新锁，必须配对调用 releaseLock。
// waiters 在句柄交出之前就加上，覆盖了调用方尚未 Acquire 的窗口。
func (c *TokenCache) refreshLock(refreshToken string) *credLock {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	lock, ok := c.locks[refreshToken]
	if !ok {
		lock = &credLock{sem: semaphore.NewWeighted(1)}
		c.locks[refreshToken] = lock
	}
	lock.waiters++
	return lock
}

func (c *TokenCache) releaseLock(lock *credLock) {
	c.lockMu.Lock()
	lock.waiters--
	c.lockMu.Unlock()
}

// Acquire 返回凭证对应的有效 access token，必要时刷新。
// 缓存命中不加写锁；未命中时按凭证单飞刷新，失败不留脏数据。
func (c *TokenCache) Acquire(ctx context.Context, refreshToken string) (string, error) {
	if token, ok := c.lookup(refreshToken); ok {
		return token, nil
	}

	lock := c.refreshLock(refreshToken)
	defer c.releaseLock(lock)
	if err := lock.sem.Acquire(ctx, 1); err != nil {
		return "", dserror.Wrap(dserror.KindRefreshFailed, err, "token refresh wait canceled")
	}
	defer lock.sem.Release(1)

	// 双重检查：等锁期间别的请求可能已经刷新完
	if token, ok := c.lookup(refreshToken); ok {
		return token, nil
	}

	accessToken, err := c.refresher.RefreshToken(ctx, refreshToken)
	if err != nil {
		if dserror.UpstreamCode(err) == domain.UpstreamCodeInvalidToken {
			c.Evict(refreshToken)
		}
		fields := []zap.Field{
			zap.String("component", "token_cache"),
			zap.Error(err),
		}
		if email, ok := ctx.Value(ctxkey.AccountEmail).(string); ok && email != "" {
			fields = append(fields, zap.String("account_email", email))
		}
		logger.L().Warn("access token refresh failed", fields...)
		var ae *dserror.AppError
		if errors.As(err, &ae) {
			return "", err
		}
		return "", dserror.Wrap(dserror.KindRefreshFailed, err, "refresh access token")
	}

	c.mu.Lock()
	c.tokens[refreshToken] = cachedToken{accessToken: accessToken, obtainedAt: c.now()}
	c.mu.Unlock()

	logger.L().Debug("access token refreshed",
		zap.String("component", "token_cache"))
	return accessToken, nil
}

// Evict 驱逐凭证的缓存条目；上游返回 40003 时调用。
// 返回是否确有条目被删除。
func (c *TokenCache) Evict(refreshToken string) bool {
	c.mu.Lock()
	_, ok := c.tokens[refreshToken]
	delete(c.tokens, refreshToken)
	c.mu.Unlock()
	if ok {
		logger.L().Info("cached access token evicted",
			zap.String("component", "token_cache"))
	}
	return ok
}

// Size 返回当前缓存的凭证数
func (c *TokenCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tokens)
}

// PruneLocks 清理无缓存条目且无人持有或等待的刷新锁，返回清理数量。
// 防止被驱逐或下线的凭证让 locks 表无限增长。
func (c *TokenCache) PruneLocks() int {
	c.mu.RLock()
	live := make(map[string]struct{}, len(c.tokens))
	for cred := range c.tokens {
		live[cred] = struct{}{}
	}
	c.mu.RUnlock()

	c.lockMu.Lock()
	defer c.lockMu.Unlock()

	pruned := 0
	for cred, lock := range c.locks {
		if _, ok := live[cred]; ok {
			continue
		}
		// waiters 覆盖从领到句柄到放锁的全程，非零说明锁在用，留待下个周期
		if lock.waiters > 0 {
			continue
		}
		delete(c.locks, cred)
		pruned++
	}

	if pruned > 0 {
		logger.L().Debug("stale refresh locks pruned",
			zap.String("component", "token_cache"),
			zap.Int("count", pruned))
	}
	return pruned
}
