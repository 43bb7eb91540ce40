package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skillmarket/points/internal/domain"
	"github.com/skillmarket/points/internal/infra/observability"
)

// ─── Credits ────────────────────────────────────────────────────────────────

// GrantRegistrationBonus credits the onboarding bonus to the bonus balance.
// Unlike AddPoints it always restarts the expiry window, so it must only be
// called once per account.
func (s *Service) GrantRegistrationBonus(ctx context.Context, accountID string) (*domain.Transaction, error) {
	const op = "grant_registration_bonus"
	now := s.now()

	var row domain.Transaction
	err := s.store.WithTx(ctx, func(tx domain.LedgerTx) error {
		acc, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return fmt.Errorf("account %s: %w", accountID, err)
		}
		before := acc.BonusBalance
		acc.BonusBalance = before.Add(s.registrationBonus)
		expires := now.Add(s.bonusTTL)
		acc.BonusExpiresAt = &expires
		acc.UpdatedAt = now

		row = s.newTransaction(acc.ID, domain.TxRegistrationBonus, s.registrationBonus, domain.BalanceBonus,
			before, acc.BonusBalance, Note{Description: "Registration bonus"}, nil, now)
		if err := tx.SaveBalances(ctx, acc); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, &row)
	})
	if err != nil {
		s.failed(op)
		return nil, err
	}
	s.committed(ctx, op, []domain.Transaction{row})
	return &row, nil
}

// AddPoints credits amount to the given balance field. Crediting the bonus
// balance sets an expiry only when none is set yet.
func (s *Service) AddPoints(ctx context.Context, accountID string, amount decimal.Decimal,
	txType domain.TransactionType, bt domain.BalanceType, note Note) (*domain.Transaction, error) {
	const op = "add_points"
	if err := validate(amount, txType); err != nil {
		return nil, err
	}
	if !bt.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidBalanceType, bt)
	}
	metadata, err := encodeMetadata(note.Metadata)
	if err != nil {
		return nil, err
	}
	now := s.now()

	var row domain.Transaction
	err = s.store.WithTx(ctx, func(tx domain.LedgerTx) error {
		acc, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return fmt.Errorf("account %s: %w", accountID, err)
		}
		before := acc.Field(bt)
		acc.SetField(bt, before.Add(amount))
		if bt == domain.BalanceBonus && acc.BonusExpiresAt == nil {
			expires := now.Add(s.bonusTTL)
			acc.BonusExpiresAt = &expires
		}
		acc.UpdatedAt = now

		row = s.newTransaction(acc.ID, txType, amount, bt, before, acc.Field(bt), note, metadata, now)
		if err := tx.SaveBalances(ctx, acc); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, &row)
	})
	if err != nil {
		s.failed(op)
		return nil, err
	}
	s.committed(ctx, op, []domain.Transaction{row})
	return &row, nil
}

// ─── Debits ─────────────────────────────────────────────────────────────────

// DeductPoints is the outgoing path: a voluntary purchase that requires
// total >= amount. On refusal it returns *domain.InsufficientBalanceError and
// changes nothing.
func (s *Service) DeductPoints(ctx context.Context, accountID string, amount decimal.Decimal,
	txType domain.TransactionType, note Note) ([]domain.Transaction, error) {
	return s.deductFrom(ctx, "deduct_points", accountID, amount, txType, note, true)
}

// DeductPointsForIncoming charges an account for something it received.
// There is no sufficiency check; the total may go negative.
func (s *Service) DeductPointsForIncoming(ctx context.Context, accountID string, amount decimal.Decimal,
	txType domain.TransactionType, note Note) ([]domain.Transaction, error) {
	return s.deductFrom(ctx, "deduct_points_incoming", accountID, amount, txType, note, false)
}

func (s *Service) deductFrom(ctx context.Context, op, accountID string, amount decimal.Decimal,
	txType domain.TransactionType, note Note, requireFunds bool) ([]domain.Transaction, error) {
	if err := validate(amount, txType); err != nil {
		return nil, err
	}
	metadata, err := encodeMetadata(note.Metadata)
	if err != nil {
		return nil, err
	}
	now := s.now()

	var rows []domain.Transaction
	err = s.store.WithTx(ctx, func(tx domain.LedgerTx) error {
		acc, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return fmt.Errorf("account %s: %w", accountID, err)
		}
		if requireFunds && acc.Total().LessThan(amount) {
			return &domain.InsufficientBalanceError{Required: amount, Available: acc.Total()}
		}
		rows, err = s.deduct(ctx, tx, acc, amount, txType, note, metadata, now)
		return err
	})
	if err != nil {
		var insufficient *domain.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			observability.DeductionsRejected.WithLabelValues(string(txType)).Inc()
			s.logger.Info("deduction refused",
				zap.String("account_id", accountID),
				zap.String("required", insufficient.Required.String()),
				zap.String("available", insufficient.Available.String()),
			)
		}
		s.failed(op)
		return nil, err
	}
	s.committed(ctx, op, rows)
	return rows, nil
}

// deduct takes amount from a locked account, bonus balance first, and writes
// one audit row per balance field touched. Both debit paths share it; the
// caller owns the unit of work.
func (s *Service) deduct(ctx context.Context, tx domain.LedgerTx, acc *domain.Account, amount decimal.Decimal,
	txType domain.TransactionType, note Note, metadata json.RawMessage, now time.Time) ([]domain.Transaction, error) {
	remaining := amount
	rows := make([]domain.Transaction, 0, 2)

	if acc.BonusBalance.IsPositive() && remaining.IsPositive() {
		take := decimal.Min(acc.BonusBalance, remaining)
		before := acc.BonusBalance
		acc.BonusBalance = before.Sub(take)
		if acc.BonusBalance.IsZero() {
			acc.BonusExpiresAt = nil
		}
		rows = append(rows, s.newTransaction(acc.ID, txType, take.Neg(), domain.BalanceBonus,
			before, acc.BonusBalance, note, metadata, now))
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		before := acc.Balance
		acc.Balance = before.Sub(remaining)
		rows = append(rows, s.newTransaction(acc.ID, txType, remaining.Neg(), domain.BalanceRegular,
			before, acc.Balance, note, metadata, now))
	}

	acc.UpdatedAt = now
	if err := tx.SaveBalances(ctx, acc); err != nil {
		return nil, err
	}
	for i := range rows {
		if err := tx.AppendTransaction(ctx, &rows[i]); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func validate(amount decimal.Decimal, txType domain.TransactionType) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: got %s", domain.ErrInvalidAmount, amount)
	}
	if !txType.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidTransactionType, txType)
	}
	return nil
}
