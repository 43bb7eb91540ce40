package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skillmarket/points/internal/domain"
	"github.com/skillmarket/points/internal/infra/observability"
)

// ExpireOldBonuses zeroes every positive bonus balance whose expiry is at or
// before now. Each account is its own unit of work: a failure on one account
// is logged and counted in Failed, and the sweep continues. Cancelling ctx
// stops the sweep between accounts and returns what was done so far.
func (s *Service) ExpireOldBonuses(ctx context.Context) (domain.ExpireResult, error) {
	now := s.now()
	result := domain.ExpireResult{TotalAmount: decimal.Zero}

	ids, err := s.store.ExpiredBonusAccounts(ctx, now)
	if err != nil {
		return result, fmt.Errorf("find expired bonuses: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		amount, expired, err := s.expireOne(ctx, id, now)
		if err != nil {
			result.Failed++
			s.failed("expire_bonus")
			s.logger.Error("expire bonus failed", zap.String("account_id", id), zap.Error(err))
			continue
		}
		if !expired {
			continue
		}
		result.ExpiredCount++
		result.TotalAmount = result.TotalAmount.Add(amount)
		observability.BonusesExpired.Inc()
		observability.BonusPointsExpired.Add(observability.Points(amount))
	}

	s.logger.Info("bonus expiry finished",
		zap.Int("candidates", len(ids)),
		zap.Int("expired", result.ExpiredCount),
		zap.Int("failed", result.Failed),
		zap.String("total_amount", result.TotalAmount.String()),
	)
	return result, nil
}

// expireOne re-checks the expiry predicate under lock, so an account whose
// bonus was spent or extended after the candidate scan is left alone.
func (s *Service) expireOne(ctx context.Context, accountID string, now time.Time) (decimal.Decimal, bool, error) {
	var row domain.Transaction
	expired := false

	err := s.store.WithTx(ctx, func(tx domain.LedgerTx) error {
		acc, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return fmt.Errorf("account %s: %w", accountID, err)
		}
		if !acc.BonusBalance.IsPositive() || acc.BonusExpiresAt == nil || acc.BonusExpiresAt.After(now) {
			return nil
		}

		before := acc.BonusBalance
		acc.BonusBalance = decimal.Zero
		acc.BonusExpiresAt = nil
		acc.UpdatedAt = now

		row = s.newTransaction(acc.ID, domain.TxBonusExpired, before.Neg(), domain.BalanceBonus,
			before, acc.BonusBalance, Note{Description: "Bonus points expired"}, nil, now)
		if err := tx.SaveBalances(ctx, acc); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, &row); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil {
		return decimal.Zero, false, err
	}
	if !expired {
		return decimal.Zero, false, nil
	}
	s.committed(ctx, "expire_bonus", []domain.Transaction{row})
	return row.BalanceBefore, true, nil
}
