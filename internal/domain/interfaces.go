package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// LedgerStore abstracts persistent account and transaction storage.
type LedgerStore interface {
	// CreateAccount inserts an account with zero balances.
	CreateAccount(ctx context.Context, id string, now time.Time) (*Account, error)

	// GetAccount reads an account without locking it.
	GetAccount(ctx context.Context, id string) (*Account, error)

	// ListTransactions returns an account's transactions newest first.
	ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]Transaction, error)
	CountTransactions(ctx context.Context, accountID string) (int64, error)

	// ExpiredBonusAccounts lists accounts holding bonus points whose expiry is at or before now.
	ExpiredBonusAccounts(ctx context.Context, now time.Time) ([]string, error)

	// WithTx runs fn in one atomic unit of work. A non-nil error from fn
	// rolls back every write made through tx.
	WithTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx is the open unit of work handed to ledger algorithms.
type LedgerTx interface {
	// LockAccount reads the account and holds it against concurrent writers
	// until the unit of work ends.
	LockAccount(ctx context.Context, id string) (*Account, error)

	// SaveBalances persists balance, bonus balance and bonus expiry.
	SaveBalances(ctx context.Context, acc *Account) error

	// AppendTransaction inserts an audit row.
	AppendTransaction(ctx context.Context, tx *Transaction) error
}

// ProfileStore abstracts specialist profile storage.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*SpecialistProfile, error)
	UpsertProfile(ctx context.Context, p *SpecialistProfile) error
	IncrementContactViews(ctx context.Context, id string) error
	ListProfiles(ctx context.Context, f ProfileFilter) ([]SpecialistProfile, error)
}

// EventPublisher delivers committed ledger events to other services.
type EventPublisher interface {
	Publish(ctx context.Context, events ...LedgerEvent) error
}

// Lock is a held distributed lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out named, expiring locks. TryLock never waits: ok is false
// when another holder owns key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (lock Lock, ok bool, err error)
}
