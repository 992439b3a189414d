package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/config"
	"github.com/Wei-Shaw/ds2api/internal/pkg/logger"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DB 包装 *sql.DB 并记住方言，负责把 ? 占位符改写成 postgres 的 $N
type DB struct {
	*sql.DB
	driver string
}

// Rebind 把 ? 形式的占位符按方言改写
func (d *DB) Rebind(query string) string {
	if d.driver != "postgres" {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}

// InsertReturningID 执行插入并返回自增 ID。
// lib/pq 不支持 LastInsertId，postgres 方言改用 RETURNING 取回
func (d *DB) InsertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	if d.driver == "postgres" {
		var id int64
		err := d.QueryRowContext(ctx, d.Rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := d.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// OpenDatabase 按配置打开数据库连接并执行建表迁移
func OpenDatabase(cfg *config.Config) (*DB, error) {
	var (
		driver string
		dsn    string
	)
	switch cfg.Database.Driver {
	case "postgres":
		driver = "postgres"
		dsn = cfg.Database.DSN
	case "sqlite", "":
		driver = "sqlite"
		dsn = cfg.Database.Path
		if dsn == "" {
			dsn = "ds2api.db"
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(db, driver); err != nil {
		db.Close()
		return nil, err
	}

	logger.L().Info("database ready",
		zap.String("component", "repository"),
		zap.String("driver", driver))
	return &DB{DB: db, driver: driver}, nil
}

func migrate(db *sql.DB, driver string) error {
	// sqlite 的 INTEGER PRIMARY KEY 自带自增，postgres 需要显式声明
	idColumn := "id INTEGER PRIMARY KEY"
	if driver == "postgres" {
		idColumn = "id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY"
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
			` + idColumn + `,
			key TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP,
			usage_count INTEGER NOT NULL DEFAULT 0,
			last_used_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			` + idColumn + `,
			email TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			api_key TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			UNIQUE (api_key, email)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_api_key ON accounts (api_key)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
