package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillmarket/points/internal/domain"
	"github.com/skillmarket/points/internal/infra/sqlite"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }
func dec(s string) decimal.Decimal       { return decimal.RequireFromString(s) }
func assertDec(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "%s = %s, want %s", msg, got, want)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, events ...domain.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

func newTestService(t *testing.T, opts ...Option) (*Service, *clock) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := &clock{now: t0}
	opts = append([]Option{WithClock(c.Now)}, opts...)
	return New(db, opts...), c
}

// openFunded opens an account with the given regular and bonus balances.
func openFunded(t *testing.T, s *Service, id, regular, bonus string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.OpenAccount(ctx, id)
	require.NoError(t, err)
	if r := dec(regular); r.IsPositive() {
		_, err = s.AddPoints(ctx, id, r, domain.TxDeposit, domain.BalanceRegular, Note{})
		require.NoError(t, err)
	}
	if b := dec(bonus); b.IsPositive() {
		_, err = s.AddPoints(ctx, id, b, domain.TxRewardBonus, domain.BalanceBonus, Note{})
		require.NoError(t, err)
	}
}

// ─── Accounts ───────────────────────────────────────────────────────────────

func TestOpenAccount(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	acc, err := s.OpenAccount(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, acc.Balance.IsZero())
	assert.True(t, acc.BonusBalance.IsZero())
	assert.Nil(t, acc.BonusExpiresAt)

	_, err = s.OpenAccount(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrAccountExists)

	_, err = s.OpenAccount(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestGetBalance_NotFound(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.GetBalance(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ─── Credits ────────────────────────────────────────────────────────────────

func TestGrantRegistrationBonus(t *testing.T) {
	s, c := newTestService(t)
	ctx := context.Background()
	_, err := s.OpenAccount(ctx, "u1")
	require.NoError(t, err)

	row, err := s.GrantRegistrationBonus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TxRegistrationBonus, row.Type)
	assert.Equal(t, domain.BalanceBonus, row.BalanceType)
	assertDec(t, "50", row.Amount, "amount")
	assertDec(t, "0", row.BalanceBefore, "before")
	assertDec(t, "50", row.BalanceAfter, "after")

	b, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assertDec(t, "50", b.BonusBalance, "bonus")
	assertDec(t, "50", b.Total, "total")
	require.NotNil(t, b.BonusExpiresAt)
	assert.True(t, b.BonusExpiresAt.Equal(t0.Add(7*24*time.Hour)), "expiry = %v", b.BonusExpiresAt)

	n, err := s.GetTransactionCount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// A second grant restarts the window from the new now.
	c.Advance(2 * 24 * time.Hour)
	_, err = s.GrantRegistrationBonus(ctx, "u1")
	require.NoError(t, err)
	b, err = s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assertDec(t, "100", b.BonusBalance, "bonus after second grant")
	assert.True(t, b.BonusExpiresAt.Equal(c.Now().Add(7*24*time.Hour)))
}

func TestGrantRegistrationBonus_CustomAmount(t *testing.T) {
	s, _ := newTestService(t, WithRegistrationBonus(dec("25")), WithBonusTTL(time.Hour))
	ctx := context.Background()
	_, err := s.OpenAccount(ctx, "u1")
	require.NoError(t, err)

	_, err = s.GrantRegistrationBonus(ctx, "u1")
	require.NoError(t, err)
	b, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assertDec(t, "25", b.BonusBalance, "bonus")
	assert.True(t, b.BonusExpiresAt.Equal(t0.Add(time.Hour)))
}

func TestAddPoints_Regular(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	_, err := s.OpenAccount(ctx, "u1")
	require.NoError(t, err)

	row, err := s.AddPoints(ctx, "u1", dec("12.5"), domain.TxDeposit, domain.BalanceRegular,
		Note{Description: "top up", Metadata: map[string]any{"order": "o-1"}})
	require.NoError(t, err)
	assertDec(t, "12.5", row.Amount, "amount")
	assert.Equal(t, "top up", row.Description)
	assert.JSONEq(t, `{"order":"o-1"}`, string(row.Metadata))

	b, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assertDec(t, "12.5", b.Balance, "balance")
	assert.Nil(t, b.BonusExpiresAt, "regular credit must not set an expiry")

	txs, err := s.GetTransactionHistory(ctx, "u1", 0, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.JSONEq(t, `{"order":"o-1"}`, string(txs[0].Metadata))
}

func TestAddPoints_BonusKeepsExistingExpiry(t *testing.T) {
	s, c := newTestService(t)
	ctx := context.Background()
	_, err := s.OpenAccount(ctx, "u1")
	require.NoError(t, err)

	_, err = s.AddPoints(ctx, "u1", dec("10"), domain.TxRewardBonus, domain.BalanceBonus, Note{})
	require.NoError(t, err)
	first, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, first.BonusExpiresAt)
	assert.True(t, first.BonusExpiresAt.Equal(t0.Add(DefaultBonusTTL)))

	c.Advance(3 * 24 * time.Hour)
	_, err = s.AddPoints(ctx, "u1", dec("5"), domain.TxRewardBonus, domain.BalanceBonus, Note{})
	require.NoError(t, err)
	second, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assertDec(t, "15", second.BonusBalance, "bonus")
	assert.True(t, second.BonusExpiresAt.Equal(*first.BonusExpiresAt), "expiry moved to %v", second.BonusExpiresAt)
}

func TestAddPoints_Validation(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	_, err := s.OpenAccount(ctx, "u1")
	require.NoError(t, err)

	tests := []struct {
		name    string
		account string
		amount  string
		txType  domain.TransactionType
		bt      domain.BalanceType
		want    error
	}{
		{"zero amount", "u1", "0", domain.TxDeposit, domain.BalanceRegular, domain.ErrInvalidAmount},
		{"negative amount", "u1", "-1", domain.TxDeposit, domain.BalanceRegular, domain.ErrInvalidAmount},
		{"bad balance type", "u1", "1", domain.TxDeposit, "wallet", domain.ErrInvalidBalanceType},
		{"bad tx type", "u1", "1", "gift", domain.BalanceRegular, domain.ErrInvalidTransactionType},
		{"unknown account", "ghost", "1", domain.TxDeposit, domain.BalanceRegular, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AddPoints(ctx, tt.account, dec(tt.amount), tt.txType, tt.bt, Note{})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	n, err := s.GetTransactionCount(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n, "rejected credits must not write rows")
}

// ─── Debits ─────────────────────────────────────────────────────────────────

func TestDeductPoints_BonusFirstSplit(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	openFunded(t, s, "u1", "100", "30")

	rows, err := s.DeductPoints(ctx, "u1", dec("50"), domain.TxServicePurchase, Note{Description: "order"})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, domain.BalanceBonus, rows[0].BalanceType)
	assertDec(t, "-30", rows[0].Amount, "bonus row amount")
	assertDec(t, "30", rows[0].BalanceBefore, "bonus row before")
	assertDec(t, "0", rows[0].BalanceAfter, "bonus row after")

	assert.Equal(t, domain.BalanceRegular, rows[1].BalanceType)
	assertDec(t, "-20", rows[1].Amount, "regular row amount")
	assertDec(t, "100", rows[1].BalanceBefore, "regular row before")
	assertDec(t, "80", rows[1].BalanceAfter, "regular row after")

	b, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assertDec(t, "80", b.Balance, "balance")
	assertDec(t, "0", b.BonusBalance, "bonus")
	assert.Nil(t, b.BonusExpiresAt, "spent bonus must clear the expiry")
}

func TestDeductPoints_WithinBonus(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	openFunded(t, s, "u1", "100", "30")

	rows, err := s.DeductPoints(ctx, "u1", dec("10"), domain.TxPurchase, Note{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.BalanceBonus, rows[0].BalanceType)

	b, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assertDec(t, "100", b.Balance, "balance")
	assertDec(t, "20", b.BonusBalance, "bonus")
	assert.NotNil(t, b.BonusExpiresAt, "partial spend keeps the expiry")
}

func TestDeductPoints_Insufficient(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	openFunded(t, s, "u1", "5", "3")
	before, err := s.GetTransactionCount(ctx, "u1")
	require.NoError(t, err)

	_, err = s.DeductPoints(ctx, "u1", dec("9"), domain.TxPurchase, Note{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	var ie *domain.InsufficientBalanceError
	require.True(t, errors.As(err, &ie))
	assertDec(t, "9", ie.Required, "required")
	assertDec(t, "8", ie.Available, "available")

	b, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assertDec(t, "5", b.Balance, "balance")
	assertDec(t, "3", b.BonusBalance, "bonus")
	after, err := s.GetTransactionCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before, after, "refused deduction must not write rows")
}

func TestDeductPoints_ExactTotal(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	openFunded(t, s, "u1", "5", "3")

	_, err := s.DeductPoints(ctx, "u1", dec("8"), domain.TxPurchase, Note{})
	require.NoError(t, err)

	b, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assertDec(t, "0", b.Total, "total")
}

func TestDeductPointsForIncoming_GoesNegative(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	openFunded(t, s, "u1", "0", "0")

	rows, err := s.DeductPointsForIncoming(ctx, "u1", dec("1"), domain.TxContactView, Note{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.BalanceRegular, rows[0].BalanceType)
	assertDec(t, "-1", rows[0].BalanceAfter, "after")

	b, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assertDec(t, "-1", b.Balance, "balance")
	assertDec(t, "-1", b.Total, "total")
}

func TestDeductPointsForIncoming_BonusFirst(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	openFunded(t, s, "u1", "0", "4")

	rows, err := s.DeductPointsForIncoming(ctx, "u1", dec("10"), domain.TxRequestReceived, Note{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	b, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assertDec(t, "-6", b.Balance, "balance")
	assertDec(t, "0", b.BonusBalance, "bonus")
	assert.Nil(t, b.BonusExpiresAt)
}

func TestDeduct_Validation(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	openFunded(t, s, "u1", "10", "0")

	_, err := s.DeductPoints(ctx, "u1", dec("0"), domain.TxPurchase, Note{})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = s.DeductPointsForIncoming(ctx, "u1", dec("-2"), domain.TxContactView, Note{})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = s.DeductPoints(ctx, "ghost", dec("1"), domain.TxPurchase, Note{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHasEnoughPoints(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	openFunded(t, s, "u1", "5", "5")

	ok, err := s.HasEnoughPoints(ctx, "u1", dec("10"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasEnoughPoints(ctx, "u1", dec("10.01"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeductPoints_ConcurrentNeverOverdraws(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	openFunded(t, s, "u1", "100", "0")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.DeductPoints(ctx, "u1", dec("10"), domain.TxPurchase, Note{})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	b, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assertDec(t, "0", b.Total, "total")
}

// ─── History ────────────────────────────────────────────────────────────────

func TestGetTransactionHistory_Paging(t *testing.T) {
	s, c := newTestService(t)
	ctx := context.Background()
	_, err := s.OpenAccount(ctx, "u1")
	require.NoError(t, err)

	for i := 1; i <= 120; i++ {
		c.Advance(time.Second)
		_, err := s.AddPoints(ctx, "u1", decimal.NewFromInt(int64(i)), domain.TxDeposit, domain.BalanceRegular, Note{})
		require.NoError(t, err)
	}

	page, err := s.GetTransactionHistory(ctx, "u1", 0, 0)
	require.NoError(t, err)
	require.Len(t, page, DefaultHistoryLimit)
	assertDec(t, "120", page[0].Amount, "newest first")

	page, err = s.GetTransactionHistory(ctx, "u1", 500, 0)
	require.NoError(t, err)
	assert.Len(t, page, MaxHistoryLimit)

	page, err = s.GetTransactionHistory(ctx, "u1", 5, 115)
	require.NoError(t, err)
	require.Len(t, page, 5)
	assertDec(t, "5", page[0].Amount, "offset page head")

	n, err := s.GetTransactionCount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 120, n)
}

// ─── Expiry ─────────────────────────────────────────────────────────────────

func TestExpireOldBonuses(t *testing.T) {
	s, c := newTestService(t)
	ctx := context.Background()

	openFunded(t, s, "stale", "10", "30")
	openFunded(t, s, "spent", "10", "5")
	_, err := s.DeductPoints(ctx, "spent", dec("5"), domain.TxPurchase, Note{})
	require.NoError(t, err)

	c.Advance(5 * 24 * time.Hour)
	openFunded(t, s, "fresh", "0", "20")

	c.Advance(3 * 24 * time.Hour)
	res, err := s.ExpireOldBonuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExpiredCount)
	assert.Zero(t, res.Failed)
	assertDec(t, "30", res.TotalAmount, "total expired")

	stale, err := s.GetBalance(ctx, "stale")
	require.NoError(t, err)
	assertDec(t, "0", stale.BonusBalance, "stale bonus")
	assertDec(t, "10", stale.Balance, "stale balance untouched")
	assert.Nil(t, stale.BonusExpiresAt)

	txs, err := s.GetTransactionHistory(ctx, "stale", 1, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxBonusExpired, txs[0].Type)
	assertDec(t, "-30", txs[0].Amount, "expiry row amount")

	fresh, err := s.GetBalance(ctx, "fresh")
	require.NoError(t, err)
	assertDec(t, "20", fresh.BonusBalance, "fresh bonus")

	// Second run finds nothing.
	res, err = s.ExpireOldBonuses(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.ExpiredCount)
	assert.True(t, res.TotalAmount.IsZero())
}

func TestExpireOldBonuses_ExpiryAtNowIsExpired(t *testing.T) {
	s, c := newTestService(t)
	openFunded(t, s, "u1", "0", "7")

	c.Advance(DefaultBonusTTL)
	res, err := s.ExpireOldBonuses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExpiredCount)
}

func TestExpireOldBonuses_Cancelled(t *testing.T) {
	s, c := newTestService(t)
	openFunded(t, s, "u1", "0", "7")
	c.Advance(8 * 24 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ExpireOldBonuses(ctx)
	assert.Error(t, err)
}

// ─── Reconcile ──────────────────────────────────────────────────────────────

func TestReconcileAccount_Consistent(t *testing.T) {
	s, c := newTestService(t)
	ctx := context.Background()
	openFunded(t, s, "u1", "40", "0")
	_, err := s.GrantRegistrationBonus(ctx, "u1")
	require.NoError(t, err)
	_, err = s.DeductPoints(ctx, "u1", dec("60"), domain.TxServicePurchase, Note{})
	require.NoError(t, err)
	_, err = s.DeductPointsForIncoming(ctx, "u1", dec("40"), domain.TxRequestReceived, Note{})
	require.NoError(t, err)
	_, err = s.AddPoints(ctx, "u1", dec("3"), domain.TxRewardBonus, domain.BalanceBonus, Note{})
	require.NoError(t, err)
	c.Advance(8 * 24 * time.Hour)
	_, err = s.ExpireOldBonuses(ctx)
	require.NoError(t, err)

	rep, err := s.ReconcileAccount(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rep.Consistent, "discrepancies: %+v", rep.Discrepancies)
	assert.Equal(t, 7, rep.Transactions)
	assertDec(t, "-10", rep.Balance, "balance")
}

func TestReconcileAccount_NotFound(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.ReconcileAccount(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ─── Events ─────────────────────────────────────────────────────────────────

func TestPublishesCommittedRows(t *testing.T) {
	pub := &recordingPublisher{}
	s, _ := newTestService(t, WithPublisher(pub))
	ctx := context.Background()
	openFunded(t, s, "u1", "10", "5")

	_, err := s.DeductPoints(ctx, "u1", dec("8"), domain.TxPurchase, Note{})
	require.NoError(t, err)
	_, err = s.DeductPoints(ctx, "u1", dec("100"), domain.TxPurchase, Note{})
	require.Error(t, err)

	names := make([]string, 0, len(pub.events))
	for _, e := range pub.events {
		assert.Equal(t, "u1", e.AccountID)
		names = append(names, e.Event)
	}
	assert.Equal(t, []string{
		domain.EventPointsCredited,
		domain.EventPointsCredited,
		domain.EventPointsDebited,
		domain.EventPointsDebited,
	}, names)
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	s, _ := newTestService(t, WithPublisher(pub))
	ctx := context.Background()
	_, err := s.OpenAccount(ctx, "u1")
	require.NoError(t, err)

	_, err = s.AddPoints(ctx, "u1", dec("1"), domain.TxDeposit, domain.BalanceRegular, Note{})
	require.NoError(t, err)

	b, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assertDec(t, "1", b.Balance, "balance")
}

// ─── Store Faults ───────────────────────────────────────────────────────────

// faultyStore wraps the SQLite store to inject write failures and to edit
// what reads return.
type faultyStore struct {
	domain.LedgerStore
	failAppendFor string
	editAccount   func(*domain.Account)
	editHistory   func([]domain.Transaction)
}

func (f *faultyStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	acc, err := f.LedgerStore.GetAccount(ctx, id)
	if err == nil && f.editAccount != nil {
		f.editAccount(acc)
	}
	return acc, err
}

func (f *faultyStore) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error) {
	txs, err := f.LedgerStore.ListTransactions(ctx, accountID, limit, offset)
	if err == nil && f.editHistory != nil {
		f.editHistory(txs)
	}
	return txs, err
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	return f.LedgerStore.WithTx(ctx, func(tx domain.LedgerTx) error {
		return fn(&faultyTx{LedgerTx: tx, failFor: f.failAppendFor})
	})
}

type faultyTx struct {
	domain.LedgerTx
	failFor string
}

func (t *faultyTx) AppendTransaction(ctx context.Context, row *domain.Transaction) error {
	if t.failFor != "" && row.AccountID == t.failFor {
		return errors.New("disk full")
	}
	return t.LedgerTx.AppendTransaction(ctx, row)
}

func newFaultyService(t *testing.T) (*Service, *clock, *faultyStore) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := &clock{now: t0}
	fs := &faultyStore{LedgerStore: db}
	return New(fs, WithClock(c.Now)), c, fs
}

// ─── Expiry Scenarios ───────────────────────────────────────────────────────

func TestExpireOldBonuses_TwoExpiredOneFresh(t *testing.T) {
	s, c := newTestService(t)
	ctx := context.Background()

	openFunded(t, s, "a", "0", "10")
	openFunded(t, s, "b", "0", "15")
	c.Advance(5 * 24 * time.Hour)
	openFunded(t, s, "c", "0", "20")
	c.Advance(3 * 24 * time.Hour)

	res, err := s.ExpireOldBonuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ExpiredCount)
	assert.Zero(t, res.Failed)
	assertDec(t, "25", res.TotalAmount, "total expired")

	for _, id := range []string{"a", "b"} {
		b, err := s.GetBalance(ctx, id)
		require.NoError(t, err)
		assertDec(t, "0", b.BonusBalance, id+" bonus")
		assert.Nil(t, b.BonusExpiresAt, id+" expiry")
	}

	fresh, err := s.GetBalance(ctx, "c")
	require.NoError(t, err)
	assertDec(t, "20", fresh.BonusBalance, "c bonus")
	require.NotNil(t, fresh.BonusExpiresAt)
	n, err := s.GetTransactionCount(ctx, "c")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "c has no expiry row")
}

func TestExpireOldBonuses_FailedAccountIsSkipped(t *testing.T) {
	s, c, fs := newFaultyService(t)
	ctx := context.Background()

	openFunded(t, s, "a", "0", "10")
	openFunded(t, s, "b", "0", "15")
	openFunded(t, s, "c", "0", "5")
	c.Advance(8 * 24 * time.Hour)

	fs.failAppendFor = "b"
	res, err := s.ExpireOldBonuses(ctx)
	require.NoError(t, err, "one failing account does not fail the sweep")
	assert.Equal(t, 2, res.ExpiredCount)
	assert.Equal(t, 1, res.Failed)
	assertDec(t, "15", res.TotalAmount, "total expired")

	// b's unit rolled back: balance, expiry and history are unchanged.
	b, err := s.GetBalance(ctx, "b")
	require.NoError(t, err)
	assertDec(t, "15", b.BonusBalance, "b bonus")
	require.NotNil(t, b.BonusExpiresAt)
	assert.True(t, b.BonusExpiresAt.Equal(t0.Add(DefaultBonusTTL)))
	n, err := s.GetTransactionCount(ctx, "b")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	for _, id := range []string{"a", "c"} {
		bal, err := s.GetBalance(ctx, id)
		require.NoError(t, err)
		assertDec(t, "0", bal.BonusBalance, id+" bonus")
	}

	// The next sweep picks b up once the store recovers.
	fs.failAppendFor = ""
	res, err = s.ExpireOldBonuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExpiredCount)
	assertDec(t, "15", res.TotalAmount, "retry total")
}

// ─── Reconcile Discrepancies ────────────────────────────────────────────────

func TestReconcileAccount_Discrepancies(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(fs *faultyStore, rowID string)
		wantTx  bool
		reason  string
	}{
		{
			name: "broken chain",
			corrupt: func(fs *faultyStore, rowID string) {
				fs.editHistory = func(txs []domain.Transaction) {
					for i := range txs {
						if txs[i].ID == rowID {
							txs[i].BalanceBefore = dec("45")
							txs[i].Amount = dec("5")
						}
					}
				}
			},
			wantTx: true,
			reason: "does not follow previous balance after 40",
		},
		{
			name: "amount mismatch",
			corrupt: func(fs *faultyStore, rowID string) {
				fs.editHistory = func(txs []domain.Transaction) {
					for i := range txs {
						if txs[i].ID == rowID {
							txs[i].Amount = dec("11")
						}
					}
				}
			},
			wantTx: true,
			reason: "amount 11 does not match 40 -> 50",
		},
		{
			name: "stored balance drift",
			corrupt: func(fs *faultyStore, _ string) {
				fs.editAccount = func(acc *domain.Account) { acc.Balance = dec("49") }
			},
			reason: "stored 49 but log ends at 50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, fs := newFaultyService(t)
			ctx := context.Background()
			openFunded(t, s, "u1", "40", "0")
			row, err := s.AddPoints(ctx, "u1", dec("10"), domain.TxDeposit, domain.BalanceRegular, Note{})
			require.NoError(t, err)

			tt.corrupt(fs, row.ID)
			rep, err := s.ReconcileAccount(ctx, "u1")
			require.NoError(t, err)
			assert.False(t, rep.Consistent)
			assert.Equal(t, 2, rep.Transactions)
			require.Len(t, rep.Discrepancies, 1)

			d := rep.Discrepancies[0]
			assert.Equal(t, domain.BalanceRegular, d.BalanceType)
			assert.Contains(t, d.Reason, tt.reason)
			if tt.wantTx {
				assert.Equal(t, row.ID, d.TransactionID)
			} else {
				assert.Empty(t, d.TransactionID)
			}
		})
	}
}

// ─── Precision ──────────────────────────────────────────────────────────────

func TestAddPoints_SubScaleAmountStoredExactly(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	_, err := s.OpenAccount(ctx, "u1")
	require.NoError(t, err)

	row, err := s.AddPoints(ctx, "u1", dec("0.00001"), domain.TxDeposit, domain.BalanceRegular, Note{})
	require.NoError(t, err)

	b, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assertDec(t, "0.00001", b.Balance, "stored balance")

	txs, err := s.GetTransactionHistory(ctx, "u1", 1, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Amount.Equal(row.Amount), "stored row matches returned row")
}
