package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/domain"
	"github.com/Wei-Shaw/ds2api/internal/service"
	"github.com/Wei-Shaw/ds2api/internal/util/dserror"
)

func NewAPIKeyRepo(db *DB) service.APIKeyRepo {
	return &apiKeyRepo{db: db}
}

type apiKeyRepo struct {
	db *DB
}

func (r *apiKeyRepo) Create(ctx context.Context, key *domain.APIKey) error {
	id, err := r.db.InsertReturningID(ctx,
		`INSERT INTO api_keys (key, name, status, created_at, expires_at, usage_count)
		 VALUES (?, ?, ?, ?, ?, 0)`,
		key.Key, key.Name, key.Status, key.CreatedAt, key.ExpiresAt)
	if err != nil {
		return dserror.Wrap(dserror.KindInternal, err, "insert api key")
	}
	key.ID = id
	return nil
}

func (r *apiKeyRepo) GetByKey(ctx context.Context, key string) (*domain.APIKey, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(
		`SELECT id, key, name, status, created_at, expires_at, usage_count, last_used_at
		 FROM api_keys WHERE key = ?`), key)
	apiKey, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dserror.New(dserror.KindNotFound, "api key not found")
	}
	if err != nil {
		return nil, dserror.Wrap(dserror.KindInternal, err, "query api key")
	}
	return apiKey, nil
}

func (r *apiKeyRepo) List(ctx context.Context) ([]*domain.APIKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, key, name, status, created_at, expires_at, usage_count, last_used_at
		 FROM api_keys ORDER BY id`)
	if err != nil {
		return nil, dserror.Wrap(dserror.KindInternal, err, "list api keys")
	}
	defer rows.Close()

	var keys []*domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, dserror.Wrap(dserror.KindInternal, err, "scan api key")
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r *apiKeyRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE api_keys SET status = ? WHERE id = ?`), status, id)
	if err != nil {
		return dserror.Wrap(dserror.KindInternal, err, "update api key status")
	}
	return requireAffected(res, "api key")
}

func (r *apiKeyRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`DELETE FROM api_keys WHERE id = ?`), id)
	if err != nil {
		return dserror.Wrap(dserror.KindInternal, err, "delete api key")
	}
	return requireAffected(res, "api key")
}

func (r *apiKeyRepo) IncrementUsage(ctx context.Context, key string, usedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = ? WHERE key = ?`),
		usedAt, key)
	if err != nil {
		return dserror.Wrap(dserror.KindInternal, err, "increment api key usage")
	}
	return nil
}

// MarkExpired 把过了有效期的密钥批量置为 expired，返回影响行数
func (r *apiKeyRepo) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE api_keys SET status = ?
		 WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?`),
		domain.APIKeyStatusExpired, domain.APIKeyStatusActive, now)
	if err != nil {
		return 0, dserror.Wrap(dserror.KindInternal, err, "mark expired api keys")
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*domain.APIKey, error) {
	var (
		key        domain.APIKey
		expiresAt  sql.NullTime
		lastUsedAt sql.NullTime
	)
	err := row.Scan(&key.ID, &key.Key, &key.Name, &key.Status,
		&key.CreatedAt, &expiresAt, &key.UsageCount, &lastUsedAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		key.LastUsedAt = &lastUsedAt.Time
	}
	return &key, nil
}

func requireAffected(res sql.Result, entity string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return dserror.Wrap(dserror.KindInternal, err, "rows affected")
	}
	if affected == 0 {
		return dserror.New(dserror.KindNotFound, "%s not found", entity)
	}
	return nil
}
