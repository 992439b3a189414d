package domain

import "time"

// APIKey 是下发给租户的访问密钥
type APIKey struct {
	ID         int64      `json:"id"`
	Key        string     `json:"key"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	UsageCount int64      `json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Expired 判断密钥是否已过期（未设置过期时间视为永久）
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Usable 密钥状态可用且未过期
func (k *APIKey) Usable(now time.Time) bool {
	return k.Status == APIKeyStatusActive && !k.Expired(now)
}

// Account 是一个上游 DeepSeek 账号，归属于某个 API Key（租户）
type Account struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	RefreshToken string    `json:"-"`
	APIKey       string    `json:"api_key"`
	Status       string    `json:"status"`
	Note         string    `json:"note,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
