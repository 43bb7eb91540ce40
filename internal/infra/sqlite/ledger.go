package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/skillmarket/points/internal/domain"
)

// rowQueryer is satisfied by both *sql.DB and *sql.Tx.
type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const accountColumns = `id, balance, bonus_balance, bonus_expires_at, created_at, updated_at`

// ─── Account Operations ─────────────────────────────────────────────────────

// CreateAccount inserts an account with zero balances.
func (db *DB) CreateAccount(ctx context.Context, id string, now time.Time) (*domain.Account, error) {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO point_accounts (id, balance, bonus_balance, created_at, updated_at)
		VALUES (?, '0', '0', ?, ?)
	`, id, toMillis(now), toMillis(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAccountExists
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return getAccount(ctx, db.db, id)
}

// GetAccount reads an account.
func (db *DB) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return getAccount(ctx, db.db, id)
}

func getAccount(ctx context.Context, q rowQueryer, id string) (*domain.Account, error) {
	var (
		acc                  domain.Account
		balance, bonus       string
		expires              sql.NullInt64
		createdAt, updatedAt int64
	)
	err := q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM point_accounts WHERE id = ?`, id).
		Scan(&acc.ID, &balance, &bonus, &expires, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if acc.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("account %s balance: %w", id, err)
	}
	if acc.BonusBalance, err = decimal.NewFromString(bonus); err != nil {
		return nil, fmt.Errorf("account %s bonus balance: %w", id, err)
	}
	acc.BonusExpiresAt = timePtr(expires)
	acc.CreatedAt = fromMillis(createdAt)
	acc.UpdatedAt = fromMillis(updatedAt)
	return &acc, nil
}

// ExpiredBonusAccounts lists accounts whose bonus points are due to expire.
// The numeric cast is only a pre-filter; the ledger re-checks under lock.
func (db *DB) ExpiredBonusAccounts(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id FROM point_accounts
		WHERE bonus_expires_at IS NOT NULL
		  AND bonus_expires_at <= ?
		  AND CAST(bonus_balance AS REAL) > 0
		ORDER BY id
	`, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("list expired bonuses: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ─── Transaction Log Operations ─────────────────────────────────────────────

// ListTransactions returns an account's transactions, newest first.
func (db *DB) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, account_id, type, amount, balance_type, balance_before, balance_after,
		       description, metadata, created_at
		FROM point_transactions
		WHERE account_id = ?
		ORDER BY seq DESC
		LIMIT ? OFFSET ?
	`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var result []domain.Transaction
	for rows.Next() {
		var (
			t                     domain.Transaction
			txType, balanceType   string
			amount, before, after string
			metadata              sql.NullString
			createdAt             int64
		)
		if err := rows.Scan(&t.ID, &t.AccountID, &txType, &amount, &balanceType, &before, &after,
			&t.Description, &metadata, &createdAt); err != nil {
			return nil, err
		}
		t.Type = domain.TransactionType(txType)
		t.BalanceType = domain.BalanceType(balanceType)
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %s amount: %w", t.ID, err)
		}
		if t.BalanceBefore, err = decimal.NewFromString(before); err != nil {
			return nil, fmt.Errorf("transaction %s balance_before: %w", t.ID, err)
		}
		if t.BalanceAfter, err = decimal.NewFromString(after); err != nil {
			return nil, fmt.Errorf("transaction %s balance_after: %w", t.ID, err)
		}
		if metadata.Valid && metadata.String != "" {
			t.Metadata = []byte(metadata.String)
		}
		t.CreatedAt = fromMillis(createdAt)
		result = append(result, t)
	}
	return result, rows.Err()
}

// CountTransactions returns how many transactions an account has.
func (db *DB) CountTransactions(ctx context.Context, accountID string) (int64, error) {
	var n int64
	err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM point_transactions WHERE account_id = ?`, accountID).Scan(&n)
	return n, err
}

// ─── Unit of Work ───────────────────────────────────────────────────────────

type ledgerTx struct {
	tx *sql.Tx
}

// LockAccount reads the account inside the transaction. The single writer
// connection already excludes concurrent units of work.
func (t *ledgerTx) LockAccount(ctx context.Context, id string) (*domain.Account, error) {
	return getAccount(ctx, t.tx, id)
}

func (t *ledgerTx) SaveBalances(ctx context.Context, acc *domain.Account) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE point_accounts
		SET balance = ?, bonus_balance = ?, bonus_expires_at = ?, updated_at = ?
		WHERE id = ?
	`, acc.Balance.String(), acc.BonusBalance.String(), nullMillis(acc.BonusExpiresAt),
		toMillis(acc.UpdatedAt), acc.ID)
	if err != nil {
		return fmt.Errorf("update balances: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) AppendTransaction(ctx context.Context, tr *domain.Transaction) error {
	var metadata sql.NullString
	if len(tr.Metadata) > 0 {
		metadata = sql.NullString{String: string(tr.Metadata), Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO point_transactions
			(id, account_id, type, amount, balance_type, balance_before, balance_after, description, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tr.ID, tr.AccountID, string(tr.Type), tr.Amount.String(), string(tr.BalanceType),
		tr.BalanceBefore.String(), tr.BalanceAfter.String(), tr.Description, metadata, toMillis(tr.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
