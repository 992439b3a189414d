package service

import (
	"context"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/domain"
)

// APIKeyRepo 持久化租户密钥
type APIKeyRepo interface {
	Create(ctx context.Context, key *domain.APIKey) error
	GetByKey(ctx context.Context, key string) (*domain.APIKey, error)
	List(ctx context.Context) ([]*domain.APIKey, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	Delete(ctx context.Context, id int64) error
	IncrementUsage(ctx context.Context, key string, usedAt time.Time) error
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
}

// AccountRepo 持久化上游账号
type AccountRepo interface {
	Create(ctx context.Context, account *domain.Account) error
	List(ctx context.Context) ([]*domain.Account, error)
	ListByAPIKey(ctx context.Context, apiKey string) ([]*domain.Account, error)
	GetByID(ctx context.Context, id int64) (*domain.Account, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	UpdateRefreshToken(ctx context.Context, id int64, refreshToken string) error
	Delete(ctx context.Context, id int64) error
}
