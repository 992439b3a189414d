package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Wei-Shaw/ds2api/internal/domain"
	"github.com/Wei-Shaw/ds2api/internal/service"
	"github.com/Wei-Shaw/ds2api/internal/util/dserror"
)

func NewAccountRepo(db *DB) service.AccountRepo {
	return &accountRepo{db: db}
}

type accountRepo struct {
	db *DB
}

const accountColumns = `id, email, refresh_token, api_key, status, note, created_at`

func (r *accountRepo) Create(ctx context.Context, account *domain.Account) error {
	id, err := r.db.InsertReturningID(ctx,
		`INSERT INTO accounts (email, refresh_token, api_key, status, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		account.Email, account.RefreshToken, account.APIKey,
		account.Status, account.Note, account.CreatedAt)
	if err != nil {
		return dserror.Wrap(dserror.KindInternal, err, "insert account")
	}
	account.ID = id
	return nil
}

func (r *accountRepo) List(ctx context.Context) ([]*domain.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, dserror.Wrap(dserror.KindInternal, err, "list accounts")
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func (r *accountRepo) ListByAPIKey(ctx context.Context, apiKey string) ([]*domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(
		`SELECT `+accountColumns+` FROM accounts WHERE api_key = ? ORDER BY id`), apiKey)
	if err != nil {
		return nil, dserror.Wrap(dserror.KindInternal, err, "list accounts by api key")
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func (r *accountRepo) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`), id)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dserror.New(dserror.KindNotFound, "account not found")
	}
	if err != nil {
		return nil, dserror.Wrap(dserror.KindInternal, err, "query account")
	}
	return account, nil
}

func (r *accountRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE accounts SET status = ? WHERE id = ?`), status, id)
	if err != nil {
		return dserror.Wrap(dserror.KindInternal, err, "update account status")
	}
	return requireAffected(res, "account")
}

func (r *accountRepo) UpdateRefreshToken(ctx context.Context, id int64, refreshToken string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE accounts SET refresh_token = ? WHERE id = ?`), refreshToken, id)
	if err != nil {
		return dserror.Wrap(dserror.KindInternal, err, "update account refresh token")
	}
	return requireAffected(res, "account")
}

func (r *accountRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`DELETE FROM accounts WHERE id = ?`), id)
	if err != nil {
		return dserror.Wrap(dserror.KindInternal, err, "delete account")
	}
	return requireAffected(res, "account")
}

func collectAccounts(rows *sql.Rows) ([]*domain.Account, error) {
	var accounts []*domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, dserror.Wrap(dserror.KindInternal, err, "scan account")
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(&account.ID, &account.Email, &account.RefreshToken,
		&account.APIKey, &account.Status, &account.Note, &account.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &account, nil
}
