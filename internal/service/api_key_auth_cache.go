package service

import (
	"context"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/domain"
	"github.com/Wei-Shaw/ds2api/internal/util/dserror"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"
)

// authEntry 缓存认证结果；key 为 nil 表示负缓存（查无此密钥）
type authEntry struct {
	key *domain.APIKey
}

// APIKeyAuthCache 是密钥认证的进程内 L1 缓存。
// 命中走 ristretto，未命中经 singleflight 合并后查库，
// 查无此密钥也缓存一段时间，挡住无效密钥的穿透。
// single 关闭时并发未命中各自查库，留给需要诊断合并行为的场景。
type APIKeyAuthCache struct {
	repo        APIKeyRepo
	cache       *ristretto.Cache
	group       singleflight.Group
	single      bool
	ttl         time.Duration
	negativeTTL time.Duration
	now         func() time.Time
}

func NewAPIKeyAuthCache(repo APIKeyRepo, maxEntries int64, ttl, negativeTTL time.Duration, single bool) (*APIKeyAuthCache, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, dserror.Wrap(dserror.KindInternal, err, "init auth cache")
	}
	return &APIKeyAuthCache{
		repo:        repo,
		cache:       cache,
		single:      single,
		ttl:         ttl,
		negativeTTL: negativeTTL,
		now:         time.Now,
	}, nil
}

// Authenticate 校验密钥并返回其记录。
// 状态与过期检查总是基于当前时间执行，缓存只省掉数据库往返。
func (c *APIKeyAuthCache) Authenticate(ctx context.Context, key string) (*domain.APIKey, error) {
	if cached, ok := c.cache.Get(key); ok {
		if entry, ok := cached.(authEntry); ok {
			return c.check(entry.key)
		}
	}

	if !c.single {
		entry, err := c.fill(ctx, key)
		if err != nil {
			return nil, err
		}
		return c.check(entry.key)
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		return c.fill(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return c.check(result.(authEntry).key)
}

// fill 查库并写回缓存；查无此密钥写负缓存条目
func (c *APIKeyAuthCache) fill(ctx context.Context, key string) (authEntry, error) {
	apiKey, err := c.repo.GetByKey(ctx, key)
	if err != nil {
		if dserror.KindOf(err) == dserror.KindNotFound {
			c.cache.SetWithTTL(key, authEntry{}, 1, c.negativeTTL)
			return authEntry{}, nil
		}
		return authEntry{}, err
	}
	entry := authEntry{key: apiKey}
	c.cache.SetWithTTL(key, entry, 1, c.ttl)
	return entry, nil
}

func (c *APIKeyAuthCache) check(key *domain.APIKey) (*domain.APIKey, error) {
	if key == nil {
		return nil, dserror.New(dserror.KindUnauthorized, "invalid api key")
	}
	if !key.Usable(c.now()) {
		return nil, dserror.New(dserror.KindUnauthorized, "api key %s", key.Status)
	}
	return key, nil
}

// Invalidate 在密钥被改动或删除后清除缓存条目。
// Wait 确保删除立即生效，后续请求不会命中旧条目。
func (c *APIKeyAuthCache) Invalidate(key string) {
	c.cache.Del(key)
	c.cache.Wait()
}

// Close 释放 ristretto 的后台资源
func (c *APIKeyAuthCache) Close() {
	c.cache.Close()
}
