package service

import (
	"context"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/domain"
	"github.com/Wei-Shaw/ds2api/internal/pkg/logger"
	"github.com/Wei-Shaw/ds2api/internal/util/dserror"

	"go.uber.org/zap"
)

// AccountService 管理上游账号，并保持会话池与数据库一致
type AccountService struct {
	repo AccountRepo
	pool *SessionPoolManager
	now  func() time.Time
}

func NewAccountService(repo AccountRepo, pool *SessionPoolManager) *AccountService {
	return &AccountService{repo: repo, pool: pool, now: time.Now}
}

// LoadPools 启动时把库里所有启用账号灌进会话池
func (s *AccountService) LoadPools(ctx context.Context) error {
	accounts, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	loaded := 0
	for _, account := range accounts {
		if account.Status != domain.AccountStatusActive {
			continue
		}
		s.pool.AddAccount(account.APIKey, account.Email, account.RefreshToken)
		loaded++
	}
	logger.L().Info("session pools loaded from database",
		zap.String("component", "account_service"),
		zap.Int("accounts", loaded))
	return nil
}

// Add 新增账号并立即挂进对应租户的会话池
func (s *AccountService) Add(ctx context.Context, apiKey, email, refreshToken, note string) (*domain.Account, error) {
	if email == "" || refreshToken == "" || apiKey == "" {
		return nil, dserror.New(dserror.KindInvalidRequest, "email, refresh token and api key are required")
	}
	account := &domain.Account{
		Email:        email,
		RefreshToken: refreshToken,
		APIKey:       apiKey,
		Status:       domain.AccountStatusActive,
		Note:         note,
		CreatedAt:    s.now(),
	}
	if err := s.repo.Create(ctx, account); err != nil {
		return nil, err
	}
	s.pool.AddAccount(apiKey, email, refreshToken)
	return account, nil
}

func (s *AccountService) Get(ctx context.Context, id int64) (*domain.Account, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *AccountService) List(ctx context.Context) ([]*domain.Account, error) {
	return s.repo.List(ctx)
}

func (s *AccountService) ListByAPIKey(ctx context.Context, apiKey string) ([]*domain.Account, error) {
	return s.repo.ListByAPIKey(ctx, apiKey)
}

// SetStatus 启停账号。停用会把账号从会话池摘掉，进行中的请求不受影响。
func (s *AccountService) SetStatus(ctx context.Context, id int64, status string) error {
	switch status {
	case domain.AccountStatusActive, domain.AccountStatusDisabled, domain.AccountStatusError:
	default:
		return dserror.New(dserror.KindInvalidRequest, "invalid account status %q", status)
	}

	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return err
	}

	if status == domain.AccountStatusActive {
		s.pool.AddAccount(account.APIKey, account.Email, account.RefreshToken)
	} else {
		s.pool.RemoveAccount(account.APIKey, account.Email)
	}
	return nil
}

// UpdateRefreshToken 更新账号凭证并同步会话池
func (s *AccountService) UpdateRefreshToken(ctx context.Context, id int64, refreshToken string) error {
	if refreshToken == "" {
		return dserror.New(dserror.KindInvalidRequest, "refresh token is required")
	}
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateRefreshToken(ctx, id, refreshToken); err != nil {
		return err
	}
	if account.Status == domain.AccountStatusActive {
		s.pool.AddAccount(account.APIKey, account.Email, refreshToken)
	}
	return nil
}

// Delete 删除账号并从会话池摘除
func (s *AccountService) Delete(ctx context.Context, id int64) error {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.pool.RemoveAccount(account.APIKey, account.Email)
	return nil
}
