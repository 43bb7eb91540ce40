package ledger

import (
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skillmarket/points/internal/domain"
)

// Discrepancy is one place where the transaction log and the account disagree.
type Discrepancy struct {
	TransactionID string             `json:"transaction_id,omitempty"`
	BalanceType   domain.BalanceType `json:"balance_type"`
	Reason        string             `json:"reason"`
}

// ReconcileReport is the result of replaying an account's transaction log.
type ReconcileReport struct {
	AccountID     string          `json:"account_id"`
	Transactions  int             `json:"transactions"`
	Balance       decimal.Decimal `json:"balance"`
	BonusBalance  decimal.Decimal `json:"bonus_balance"`
	Consistent    bool            `json:"consistent"`
	Discrepancies []Discrepancy   `json:"discrepancies,omitempty"`
}

// ReconcileAccount replays the account's log oldest first, per balance field,
// and checks that each row chains from the previous one, that its amount is
// after minus before, and that the final balances match the stored account.
func (s *Service) ReconcileAccount(ctx context.Context, accountID string) (*ReconcileReport, error) {
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", accountID, err)
	}
	n, err := s.store.CountTransactions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("count for %s: %w", accountID, err)
	}
	var txs []domain.Transaction
	if n > 0 {
		txs, err = s.store.ListTransactions(ctx, accountID, int(n), 0)
		if err != nil {
			return nil, fmt.Errorf("history for %s: %w", accountID, err)
		}
	}
	slices.Reverse(txs)

	report := &ReconcileReport{
		AccountID:    accountID,
		Transactions: len(txs),
		Balance:      acc.Balance,
		BonusBalance: acc.BonusBalance,
	}
	running := map[domain.BalanceType]decimal.Decimal{
		domain.BalanceRegular: decimal.Zero,
		domain.BalanceBonus:   decimal.Zero,
	}

	for _, tx := range txs {
		prev := running[tx.BalanceType]
		if !tx.BalanceBefore.Equal(prev) {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				TransactionID: tx.ID,
				BalanceType:   tx.BalanceType,
				Reason:        fmt.Sprintf("balance before %s does not follow previous balance after %s", tx.BalanceBefore, prev),
			})
		}
		if !tx.BalanceAfter.Sub(tx.BalanceBefore).Equal(tx.Amount) {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				TransactionID: tx.ID,
				BalanceType:   tx.BalanceType,
				Reason:        fmt.Sprintf("amount %s does not match %s -> %s", tx.Amount, tx.BalanceBefore, tx.BalanceAfter),
			})
		}
		running[tx.BalanceType] = tx.BalanceAfter
	}

	for _, bt := range []domain.BalanceType{domain.BalanceRegular, domain.BalanceBonus} {
		if stored := acc.Field(bt); !stored.Equal(running[bt]) {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				BalanceType: bt,
				Reason:      fmt.Sprintf("stored %s but log ends at %s", stored, running[bt]),
			})
		}
	}

	report.Consistent = len(report.Discrepancies) == 0
	if !report.Consistent {
		s.logger.Warn("ledger discrepancy",
			zap.String("account_id", accountID),
			zap.Int("discrepancies", len(report.Discrepancies)),
		)
	}
	return report, nil
}
