package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/config"
	"github.com/Wei-Shaw/ds2api/internal/domain"
	"github.com/Wei-Shaw/ds2api/internal/util/dserror"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := &config.Config{}
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	db, err := OpenDatabase(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenDatabase_UnsupportedDriver(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Driver = "oracle"
	_, err := OpenDatabase(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestRebind(t *testing.T) {
	sqlite := &DB{driver: "sqlite"}
	assert.Equal(t, "SELECT * FROM t WHERE a = ? AND b = ?",
		sqlite.Rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	pg := &DB{driver: "postgres"}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2",
		pg.Rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
}

func TestAPIKeyRepo_CRUD(t *testing.T) {
	db := openTestDB(t)
	repo := NewAPIKeyRepo(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	expires := now.Add(24 * time.Hour)
	key := &domain.APIKey{
		Key:       "dsk-test-1",
		Name:      "team alpha",
		Status:    domain.APIKeyStatusActive,
		CreatedAt: now,
		ExpiresAt: &expires,
	}
	require.NoError(t, repo.Create(ctx, key))
	assert.NotZero(t, key.ID)

	got, err := repo.GetByKey(ctx, "dsk-test-1")
	require.NoError(t, err)
	assert.Equal(t, "team alpha", got.Name)
	assert.Equal(t, domain.APIKeyStatusActive, got.Status)
	require.NotNil(t, got.ExpiresAt)
	assert.Nil(t, got.LastUsedAt)

	_, err = repo.GetByKey(ctx, "dsk-missing")
	assert.Equal(t, dserror.KindNotFound, dserror.KindOf(err))

	require.NoError(t, repo.IncrementUsage(ctx, "dsk-test-1", now))
	got, err = repo.GetByKey(ctx, "dsk-test-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount)
	assert.NotNil(t, got.LastUsedAt)

	require.NoError(t, repo.UpdateStatus(ctx, key.ID, domain.APIKeyStatusDisabled))
	got, err = repo.GetByKey(ctx, "dsk-test-1")
	require.NoError(t, err)
	assert.Equal(t, domain.APIKeyStatusDisabled, got.Status)

	keys, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, repo.Delete(ctx, key.ID))
	err = repo.Delete(ctx, key.ID)
	assert.Equal(t, dserror.KindNotFound, dserror.KindOf(err))
}

func TestAPIKeyRepo_MarkExpired(t *testing.T) {
	db := openTestDB(t)
	repo := NewAPIKeyRepo(db)
	ctx := context.Background()

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	stale := &domain.APIKey{Key: "dsk-stale", Status: domain.APIKeyStatusActive, CreatedAt: now, ExpiresAt: &past}
	fresh := &domain.APIKey{Key: "dsk-fresh", Status: domain.APIKeyStatusActive, CreatedAt: now, ExpiresAt: &future}
	forever := &domain.APIKey{Key: "dsk-forever", Status: domain.APIKeyStatusActive, CreatedAt: now}
	for _, k := range []*domain.APIKey{stale, fresh, forever} {
		require.NoError(t, repo.Create(ctx, k))
	}

	affected, err := repo.MarkExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	got, err := repo.GetByKey(ctx, "dsk-stale")
	require.NoError(t, err)
	assert.Equal(t, domain.APIKeyStatusExpired, got.Status)

	got, err = repo.GetByKey(ctx, "dsk-forever")
	require.NoError(t, err)
	assert.Equal(t, domain.APIKeyStatusActive, got.Status)
}

func TestAccountRepo_CRUD(t *testing.T) {
	db := openTestDB(t)
	repo := NewAccountRepo(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	account := &domain.Account{
		Email:        "a@example.com",
		RefreshToken: "rt-a",
		APIKey:       "dsk-test-1",
		Status:       domain.AccountStatusActive,
		Note:         "primary",
		CreatedAt:    now,
	}
	require.NoError(t, repo.Create(ctx, account))
	assert.NotZero(t, account.ID)

	other := &domain.Account{
		Email: "b@example.com", RefreshToken: "rt-b", APIKey: "dsk-test-2",
		Status: domain.AccountStatusActive, CreatedAt: now,
	}
	require.NoError(t, repo.Create(ctx, other))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byKey, err := repo.ListByAPIKey(ctx, "dsk-test-1")
	require.NoError(t, err)
	require.Len(t, byKey, 1)
	assert.Equal(t, "a@example.com", byKey[0].Email)
	assert.Equal(t, "rt-a", byKey[0].RefreshToken)

	got, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "primary", got.Note)

	require.NoError(t, repo.UpdateRefreshToken(ctx, account.ID, "rt-a2"))
	require.NoError(t, repo.UpdateStatus(ctx, account.ID, domain.AccountStatusError))
	got, err = repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "rt-a2", got.RefreshToken)
	assert.Equal(t, domain.AccountStatusError, got.Status)

	require.NoError(t, repo.Delete(ctx, account.ID))
	_, err = repo.GetByID(ctx, account.ID)
	assert.Equal(t, dserror.KindNotFound, dserror.KindOf(err))
}

func TestAccountRepo_DuplicateEmailSameTenant(t *testing.T) {
	db := openTestDB(t)
	repo := NewAccountRepo(db)
	ctx := context.Background()

	now := time.Now().UTC()
	first := &domain.Account{Email: "a@example.com", RefreshToken: "rt-1", APIKey: "dsk-1",
		Status: domain.AccountStatusActive, CreatedAt: now}
	require.NoError(t, repo.Create(ctx, first))

	dup := &domain.Account{Email: "a@example.com", RefreshToken: "rt-2", APIKey: "dsk-1",
		Status: domain.AccountStatusActive, CreatedAt: now}
	err := repo.Create(ctx, dup)
	require.Error(t, err)
	assert.Equal(t, dserror.KindInternal, dserror.KindOf(err))
}

// postgres 驱动不支持 LastInsertId，插入必须经 RETURNING 取回自增 ID
func TestAPIKeyRepo_CreatePostgresReturningID(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectQuery(`INSERT INTO api_keys[\s\S]*RETURNING id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	repo := NewAPIKeyRepo(&DB{DB: mockDB, driver: "postgres"})
	key := &domain.APIKey{Key: "dsk-pg", Status: domain.APIKeyStatusActive, CreatedAt: time.Now()}
	require.NoError(t, repo.Create(context.Background(), key))
	assert.Equal(t, int64(7), key.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepo_CreatePostgresReturningID(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectQuery(`INSERT INTO accounts[\s\S]*RETURNING id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	repo := NewAccountRepo(&DB{DB: mockDB, driver: "postgres"})
	account := &domain.Account{Email: "a@example.com", RefreshToken: "rt-a", APIKey: "dsk-pg",
		Status: domain.AccountStatusActive, CreatedAt: time.Now()}
	require.NoError(t, repo.Create(context.Background(), account))
	assert.Equal(t, int64(42), account.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyRepo_QueryErrorWrapped(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectQuery("SELECT").WillReturnError(assert.AnError)

	repo := NewAPIKeyRepo(&DB{DB: mockDB, driver: "sqlite"})
	_, err = repo.List(context.Background())
	require.Error(t, err)
	assert.Equal(t, dserror.KindInternal, dserror.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
