// Package postgres is the networked points store on PostgreSQL.
//
// Units of work run at READ COMMITTED and lock the account row with
// SELECT ... FOR UPDATE, which serializes balance changes per account.
// Decimals travel as text and are cast to NUMERIC in SQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/skillmarket/points/internal/domain"
	"github.com/skillmarket/points/internal/infra/observability"
)

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectAttempts int
}

// DefaultPoolConfig returns the pool settings used when none are configured.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:        20,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectAttempts: 5,
	}
}

// DB wraps a pgx pool.
type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open connects with exponential backoff, then runs migrations.
func Open(ctx context.Context, url string, pc PoolConfig, logger *zap.Logger) (*DB, error) {
	logger = observability.OrNop(logger).Named("postgres")
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}
	if pc.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pc.MaxConnLifetime
	}
	if pc.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = pc.MaxConnIdleTime
	}
	attempts := max(pc.ConnectAttempts, 1)

	var pool *pgxpool.Pool
	delay := time.Second
	for i := 1; i <= attempts; i++ {
		pool, err = connect(ctx, cfg)
		if err == nil {
			break
		}
		logger.Warn("database connect failed",
			zap.Int("attempt", i), zap.Int("max_attempts", attempts), zap.Error(err))
		if i == attempts {
			return nil, fmt.Errorf("connect after %d attempts: %w", attempts, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	db := &DB{pool: pool, logger: logger}
	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("database connected",
		zap.Int32("max_conns", cfg.MaxConns), zap.Int32("min_conns", cfg.MinConns))
	return db, nil
}

func connect(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(cctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Close closes the pool.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error { return db.pool.Ping(ctx) }

func (db *DB) migrate(ctx context.Context) error {
	for _, stmt := range Migrations() {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the idempotent schema statements.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS point_accounts (
			id               TEXT PRIMARY KEY,
			balance          NUMERIC NOT NULL DEFAULT 0,
			bonus_balance    NUMERIC NOT NULL DEFAULT 0,
			bonus_expires_at TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_bonus_expiry
			ON point_accounts(bonus_expires_at) WHERE bonus_balance > 0`,

		`CREATE TABLE IF NOT EXISTS point_transactions (
			seq            BIGSERIAL PRIMARY KEY,
			id             TEXT NOT NULL UNIQUE,
			account_id     TEXT NOT NULL REFERENCES point_accounts(id),
			type           TEXT NOT NULL,
			amount         NUMERIC NOT NULL,
			balance_type   TEXT NOT NULL,
			balance_before NUMERIC NOT NULL,
			balance_after  NUMERIC NOT NULL,
			description    TEXT NOT NULL DEFAULT '',
			metadata       JSONB,
			created_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_account ON point_transactions(account_id, seq DESC)`,

		// Earlier schemas used NUMERIC(20,4), which rounded sub-scale amounts.
		`ALTER TABLE point_accounts
			ALTER COLUMN balance TYPE NUMERIC,
			ALTER COLUMN bonus_balance TYPE NUMERIC`,
		`ALTER TABLE point_transactions
			ALTER COLUMN amount TYPE NUMERIC,
			ALTER COLUMN balance_before TYPE NUMERIC,
			ALTER COLUMN balance_after TYPE NUMERIC`,

		`CREATE TABLE IF NOT EXISTS specialist_profiles (
			id                TEXT PRIMARY KEY,
			account_id        TEXT NOT NULL,
			name              TEXT NOT NULL DEFAULT '',
			category          TEXT NOT NULL DEFAULT '',
			blocked           BOOLEAN NOT NULL DEFAULT FALSE,
			accepting_clients BOOLEAN NOT NULL DEFAULT TRUE,
			verified          BOOLEAN NOT NULL DEFAULT FALSE,
			contact_views     BIGINT NOT NULL DEFAULT 0,
			created_at        TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_listing
			ON specialist_profiles(category, created_at) WHERE NOT blocked AND accepting_clients AND verified`,
	}
}

// ─── Unit of Work ───────────────────────────────────────────────────────────

// WithTx runs fn in a READ COMMITTED transaction. Any error from fn rolls back.
func (db *DB) WithTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
