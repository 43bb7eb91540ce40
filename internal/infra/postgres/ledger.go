package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/skillmarket/points/internal/domain"
)

// rowQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const accountColumns = `id, balance::text, bonus_balance::text, bonus_expires_at, created_at, updated_at`

// ─── Account Operations ─────────────────────────────────────────────────────

// CreateAccount inserts an account with zero balances.
func (db *DB) CreateAccount(ctx context.Context, id string, now time.Time) (*domain.Account, error) {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO point_accounts (id, balance, bonus_balance, created_at, updated_at)
		VALUES ($1, 0, 0, $2, $2)
	`, id, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAccountExists
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return getAccount(ctx, db.pool, id, false)
}

// GetAccount reads an account without locking it.
func (db *DB) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return getAccount(ctx, db.pool, id, false)
}

func getAccount(ctx context.Context, q rowQuerier, id string, forUpdate bool) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM point_accounts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		acc            domain.Account
		balance, bonus string
	)
	err := q.QueryRow(ctx, query, id).
		Scan(&acc.ID, &balance, &bonus, &acc.BonusExpiresAt, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
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
	return &acc, nil
}

// ExpiredBonusAccounts lists accounts whose bonus points are due to expire.
func (db *DB) ExpiredBonusAccounts(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id FROM point_accounts
		WHERE bonus_balance > 0
		  AND bonus_expires_at IS NOT NULL
		  AND bonus_expires_at <= $1
		ORDER BY id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired bonuses: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list expired bonuses: %w", err)
	}
	return ids, nil
}

// ─── Transaction Log Operations ─────────────────────────────────────────────

// ListTransactions returns an account's transactions, newest first.
func (db *DB) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, account_id, type, amount::text, balance_type, balance_before::text, balance_after::text,
		       description, metadata, created_at
		FROM point_transactions
		WHERE account_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3
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
			metadata              []byte
		)
		if err := rows.Scan(&t.ID, &t.AccountID, &txType, &amount, &balanceType, &before, &after,
			&t.Description, &metadata, &t.CreatedAt); err != nil {
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
		if len(metadata) > 0 {
			t.Metadata = metadata
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// CountTransactions returns how many transactions an account has.
func (db *DB) CountTransactions(ctx context.Context, accountID string) (int64, error) {
	var n int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM point_transactions WHERE account_id = $1`, accountID).Scan(&n)
	return n, err
}

// ─── Unit of Work ───────────────────────────────────────────────────────────

type ledgerTx struct {
	tx pgx.Tx
}

// LockAccount reads the account with FOR UPDATE; the row stays locked until
// the transaction ends.
func (t *ledgerTx) LockAccount(ctx context.Context, id string) (*domain.Account, error) {
	return getAccount(ctx, t.tx, id, true)
}

func (t *ledgerTx) SaveBalances(ctx context.Context, acc *domain.Account) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE point_accounts
		SET balance = $1::numeric, bonus_balance = $2::numeric, bonus_expires_at = $3, updated_at = $4
		WHERE id = $5
	`, acc.Balance.String(), acc.BonusBalance.String(), acc.BonusExpiresAt, acc.UpdatedAt, acc.ID)
	if err != nil {
		return fmt.Errorf("update balances: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) AppendTransaction(ctx context.Context, tr *domain.Transaction) error {
	var metadata any
	if len(tr.Metadata) > 0 {
		metadata = string(tr.Metadata)
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO point_transactions
			(id, account_id, type, amount, balance_type, balance_before, balance_after, description, metadata, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6::numeric, $7::numeric, $8, $9::jsonb, $10)
	`, tr.ID, tr.AccountID, string(tr.Type), tr.Amount.String(), string(tr.BalanceType),
		tr.BalanceBefore.String(), tr.BalanceAfter.String(), tr.Description, metadata, tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}
