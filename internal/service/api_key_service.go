package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/domain"
	"github.com/Wei-Shaw/ds2api/internal/pkg/logger"
	"github.com/Wei-Shaw/ds2api/internal/util/dserror"

	"go.uber.org/zap"
)

// APIKeyService 负责租户密钥的签发、认证与生命周期管理
type APIKeyService struct {
	repo      APIKeyRepo
	authCache *APIKeyAuthCache
	now       func() time.Time
}

func NewAPIKeyService(repo APIKeyRepo, authCache *APIKeyAuthCache) *APIKeyService {
	return &APIKeyService{
		repo:      repo,
		authCache: authCache,
		now:       time.Now,
	}
}

// Generate 签发一把新密钥；ttl 为 0 表示永不过期
func (s *APIKeyService) Generate(ctx context.Context, name string, ttl time.Duration) (*domain.APIKey, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return nil, dserror.Wrap(dserror.KindInternal, err, "generate key material")
	}

	key := &domain.APIKey{
		Key:       domain.APIKeyPrefix + hex.EncodeToString(raw),
		Name:      name,
		Status:    domain.APIKeyStatusActive,
		CreatedAt: s.now(),
	}
	if ttl > 0 {
		expires := key.CreatedAt.Add(ttl)
		key.ExpiresAt = &expires
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return nil, err
	}

	logger.L().Info("api key issued",
		zap.String("component", "api_key_service"),
		zap.String("name", name),
		zap.Int64("id", key.ID))
	return key, nil
}

// Authenticate 校验密钥（带 L1 缓存）
func (s *APIKeyService) Authenticate(ctx context.Context, key string) (*domain.APIKey, error) {
	return s.authCache.Authenticate(ctx, key)
}

// RecordUsage 记录一次成功调用。失败只打日志，不影响请求主流程。
func (s *APIKeyService) RecordUsage(ctx context.Context, key string) {
	if err := s.repo.IncrementUsage(ctx, key, s.now()); err != nil {
		logger.L().Warn("record api key usage failed",
			zap.String("component", "api_key_service"),
			zap.Error(err))
	}
}

func (s *APIKeyService) List(ctx context.Context) ([]*domain.APIKey, error) {
	return s.repo.List(ctx)
}

// SetStatus 启用/禁用密钥并使缓存失效
func (s *APIKeyService) SetStatus(ctx context.Context, id int64, status string) error {
	if status != domain.APIKeyStatusActive && status != domain.APIKeyStatusDisabled {
		return dserror.New(dserror.KindInvalidRequest, "invalid api key status %q", status)
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	s.invalidateByID(ctx, id)
	return nil
}

// Delete 删除密钥并使缓存失效
func (s *APIKeyService) Delete(ctx context.Context, id int64) error {
	s.invalidateByID(ctx, id)
	return s.repo.Delete(ctx, id)
}

// CleanupExpired 把过期密钥批量置为 expired，由定时任务周期调用
func (s *APIKeyService) CleanupExpired(ctx context.Context) (int64, error) {
	affected, err := s.repo.MarkExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		logger.L().Info("expired api keys cleaned up",
			zap.String("component", "api_key_service"),
			zap.Int64("count", affected))
	}
	return affected, nil
}

// invalidateByID 按 ID 反查密钥串后失效缓存。改状态/删除是低频操作，多一次查询可接受。
func (s *APIKeyService) invalidateByID(ctx context.Context, id int64) {
	keys, err := s.repo.List(ctx)
	if err != nil {
		return
	}
	for _, key := range keys {
		if key.ID == id {
			s.authCache.Invalidate(key.Key)
			return
		}
	}
}
