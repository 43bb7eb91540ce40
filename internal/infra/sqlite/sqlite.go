// Package sqlite is the embedded points store.
// Decimals are stored as canonical text, timestamps as unix milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/skillmarket/points/internal/domain"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the data directory.
const FileName = "points.db"

// DB wraps the SQLite connection.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database in dir and runs migrations.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := "file:" + filepath.Join(dir, FileName) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: every unit of work is serialized, which is what keeps
	// the balance read-check-write free of lost updates.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error { return db.db.Close() }

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error { return db.db.PingContext(ctx) }

func (db *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS point_accounts (
			id               TEXT PRIMARY KEY,
			balance          TEXT NOT NULL DEFAULT '0',
			bonus_balance    TEXT NOT NULL DEFAULT '0',
			bonus_expires_at INTEGER,
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_bonus_expiry ON point_accounts(bonus_expires_at)`,

		`CREATE TABLE IF NOT EXISTS point_transactions (
			seq            INTEGER PRIMARY KEY AUTOINCREMENT,
			id             TEXT NOT NULL UNIQUE,
			account_id     TEXT NOT NULL REFERENCES point_accounts(id),
			type           TEXT NOT NULL,
			amount         TEXT NOT NULL,
			balance_type   TEXT NOT NULL,
			balance_before TEXT NOT NULL,
			balance_after  TEXT NOT NULL,
			description    TEXT NOT NULL DEFAULT '',
			metadata       TEXT,
			created_at     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_account ON point_transactions(account_id, seq)`,

		`CREATE TABLE IF NOT EXISTS specialist_profiles (
			id                TEXT PRIMARY KEY,
			account_id        TEXT NOT NULL,
			name              TEXT NOT NULL DEFAULT '',
			category          TEXT NOT NULL DEFAULT '',
			blocked           INTEGER NOT NULL DEFAULT 0,
			accepting_clients INTEGER NOT NULL DEFAULT 1,
			verified          INTEGER NOT NULL DEFAULT 0,
			contact_views     INTEGER NOT NULL DEFAULT 0,
			created_at        INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_listing ON specialist_profiles(blocked, accepting_clients, verified)`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_category ON specialist_profiles(category)`,
	}
}

// ─── Transactions ───────────────────────────────────────────────────────────

// WithTx runs fn inside a database transaction. Any error from fn rolls back.
func (db *DB) WithTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	sqlTx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&ledgerTx{tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
