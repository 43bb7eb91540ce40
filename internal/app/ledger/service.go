// Package ledger is the sole writer of points balances.
//
// Every balance change is paired with one or two immutable transaction rows
// and applied inside a single store unit of work:
//   - credits land on the named balance field
//   - debits consume bonus points first, then regular points
//   - bonus points carry an expiry that is cleared when the bonus hits zero
//
// Committed rows are published as ledger events and counted in metrics.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skillmarket/points/internal/domain"
	"github.com/skillmarket/points/internal/infra/observability"
)

// ─── Constants ──────────────────────────────────────────────────────────────

const (
	// DefaultBonusTTL is how long granted bonus points stay spendable.
	DefaultBonusTTL = 7 * 24 * time.Hour

	// DefaultHistoryLimit is used when a history query passes limit <= 0.
	DefaultHistoryLimit = 20

	// MaxHistoryLimit caps a single history page.
	MaxHistoryLimit = 100
)

// DefaultRegistrationBonus is credited once at onboarding.
var DefaultRegistrationBonus = decimal.NewFromInt(50)

// ─── Service ────────────────────────────────────────────────────────────────

// Service applies points movements to accounts.
type Service struct {
	store             domain.LedgerStore
	publisher         domain.EventPublisher
	logger            *zap.Logger
	now               func() time.Time
	registrationBonus decimal.Decimal
	bonusTTL          time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = observability.OrNop(l).Named("ledger") }
}

// WithPublisher sets where committed ledger events are sent.
func WithPublisher(p domain.EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRegistrationBonus overrides the onboarding bonus amount.
func WithRegistrationBonus(amount decimal.Decimal) Option {
	return func(s *Service) { s.registrationBonus = amount }
}

// WithBonusTTL overrides how long bonus points stay spendable.
func WithBonusTTL(ttl time.Duration) Option {
	return func(s *Service) { s.bonusTTL = ttl }
}

// New creates a ledger service over the given store.
func New(store domain.LedgerStore, opts ...Option) *Service {
	s := &Service{
		store:             store,
		logger:            zap.NewNop(),
		now:               func() time.Time { return time.Now().UTC() },
		registrationBonus: DefaultRegistrationBonus,
		bonusTTL:          DefaultBonusTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Note is the optional free-form payload recorded on a transaction.
type Note struct {
	Description string
	Metadata    map[string]any
}

// ─── Queries ────────────────────────────────────────────────────────────────

// OpenAccount creates the points account for a user with zero balances.
func (s *Service) OpenAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: empty account id", domain.ErrInvalidArgument)
	}
	acc, err := s.store.CreateAccount(ctx, accountID, s.now())
	if err != nil {
		return nil, fmt.Errorf("open account %s: %w", accountID, err)
	}
	s.logger.Info("account opened", zap.String("account_id", accountID))
	return acc, nil
}

// GetBalance returns both balance fields, the bonus expiry and their total.
func (s *Service) GetBalance(ctx context.Context, accountID string) (*domain.Balance, error) {
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", accountID, err)
	}
	return &domain.Balance{
		Balance:        acc.Balance,
		BonusBalance:   acc.BonusBalance,
		BonusExpiresAt: acc.BonusExpiresAt,
		Total:          acc.Total(),
	}, nil
}

// HasEnoughPoints reports whether total >= amount.
func (s *Service) HasEnoughPoints(ctx context.Context, accountID string, amount decimal.Decimal) (bool, error) {
	b, err := s.GetBalance(ctx, accountID)
	if err != nil {
		return false, err
	}
	return b.Total.GreaterThanOrEqual(amount), nil
}

// GetTransactionHistory returns a page of the account's transactions, newest first.
func (s *Service) GetTransactionHistory(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	txs, err := s.store.ListTransactions(ctx, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", accountID, err)
	}
	return txs, nil
}

// GetTransactionCount returns the number of transactions on the account.
func (s *Service) GetTransactionCount(ctx context.Context, accountID string) (int64, error) {
	n, err := s.store.CountTransactions(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("count for %s: %w", accountID, err)
	}
	return n, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Service) newTransaction(accountID string, txType domain.TransactionType, amount decimal.Decimal,
	bt domain.BalanceType, before, after decimal.Decimal, note Note, metadata json.RawMessage, now time.Time) domain.Transaction {
	return domain.Transaction{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		Type:          txType,
		Amount:        amount,
		BalanceType:   bt,
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   note.Description,
		Metadata:      metadata,
		CreatedAt:     now,
	}
}

func encodeMetadata(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", domain.ErrInvalidArgument, err)
	}
	return b, nil
}

// committed records metrics, logs and publishes events for rows that are
// now durable. Publish failures never fail the operation.
func (s *Service) committed(ctx context.Context, op string, rows []domain.Transaction) {
	observability.LedgerOperations.WithLabelValues(op, "ok").Inc()
	events := make([]domain.LedgerEvent, 0, len(rows))
	for _, r := range rows {
		if r.Amount.IsNegative() {
			observability.PointsDebited.WithLabelValues(string(r.Type), string(r.BalanceType)).Add(observability.Points(r.Amount))
		} else {
			observability.PointsCredited.WithLabelValues(string(r.Type), string(r.BalanceType)).Add(observability.Points(r.Amount))
		}
		s.logger.Debug("transaction recorded",
			zap.String("op", op),
			zap.String("account_id", r.AccountID),
			zap.String("transaction_id", r.ID),
			zap.String("type", string(r.Type)),
			zap.String("balance_type", string(r.BalanceType)),
			zap.String("amount", r.Amount.String()),
			zap.String("balance_after", r.BalanceAfter.String()),
		)
		events = append(events, domain.EventFor(r))
	}

	if s.publisher == nil || len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		observability.EventPublishErrors.Add(float64(len(events)))
		s.logger.Warn("publish ledger events failed",
			zap.String("op", op),
			zap.Int("count", len(events)),
			zap.Error(err),
		)
	}
}

func (s *Service) failed(op string) {
	observability.LedgerOperations.WithLabelValues(op, "error").Inc()
}
