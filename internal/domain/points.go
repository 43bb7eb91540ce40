package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ─── Points Types ───────────────────────────────────────────────────────────
// Points are the marketplace's internal currency. Each account carries two
// balance fields; bonus points expire, regular points do not.

// TransactionType represents the business reason for a points movement.
type TransactionType string

const (
	TxRegistrationBonus TransactionType = "registration_bonus"
	TxRewardBonus       TransactionType = "reward_bonus"
	TxBonusExpired      TransactionType = "bonus_expired"
	TxPurchase          TransactionType = "purchase"
	TxRefund            TransactionType = "refund"
	TxWithdrawal        TransactionType = "withdrawal"
	TxDeposit           TransactionType = "deposit"
	TxServicePurchase   TransactionType = "service_purchase"
	TxServiceCompletion TransactionType = "service_completion"
	TxAutoCompletion    TransactionType = "auto_completion"
	TxDisputeRefund     TransactionType = "dispute_refund"
	TxContactView       TransactionType = "contact_view"
	TxRequestReceived   TransactionType = "request_received"
	TxPackagePurchase   TransactionType = "package_purchase"
)

var transactionTypes = map[TransactionType]struct{}{
	TxRegistrationBonus: {}, TxRewardBonus: {}, TxBonusExpired: {}, TxPurchase: {},
	TxRefund: {}, TxWithdrawal: {}, TxDeposit: {}, TxServicePurchase: {},
	TxServiceCompletion: {}, TxAutoCompletion: {}, TxDisputeRefund: {},
	TxContactView: {}, TxRequestReceived: {}, TxPackagePurchase: {},
}

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	_, ok := transactionTypes[t]
	return ok
}

// BalanceType names the account field a transaction affected.
type BalanceType string

const (
	BalanceRegular BalanceType = "balance"
	BalanceBonus   BalanceType = "bonusBalance"
)

// Valid reports whether b names one of the two balance fields.
func (b BalanceType) Valid() bool {
	return b == BalanceRegular || b == BalanceBonus
}

// Account is the points wallet owned 1:1 by a user. ID is the owner's user ID.
type Account struct {
	ID             string          `json:"id"`
	Balance        decimal.Decimal `json:"balance"`
	BonusBalance   decimal.Decimal `json:"bonus_balance"`
	BonusExpiresAt *time.Time      `json:"bonus_expires_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Total returns balance + bonusBalance, the only value compared in
// sufficient-funds checks.
func (a *Account) Total() decimal.Decimal {
	return a.Balance.Add(a.BonusBalance)
}

// Field returns the current value of the given balance field.
func (a *Account) Field(bt BalanceType) decimal.Decimal {
	if bt == BalanceBonus {
		return a.BonusBalance
	}
	return a.Balance
}

// SetField overwrites the given balance field.
func (a *Account) SetField(bt BalanceType, v decimal.Decimal) {
	if bt == BalanceBonus {
		a.BonusBalance = v
		return
	}
	a.Balance = v
}

// Transaction is one immutable row of the points audit log.
// Amount is signed: positive for credits, negative for debits.
type Transaction struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"account_id"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceType   BalanceType     `json:"balance_type"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Description   string          `json:"description,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Balance is the read model returned by balance queries.
type Balance struct {
	Balance        decimal.Decimal `json:"balance"`
	BonusBalance   decimal.Decimal `json:"bonus_balance"`
	BonusExpiresAt *time.Time      `json:"bonus_expires_at,omitempty"`
	Total          decimal.Decimal `json:"total"`
}

// ExpireResult summarises one bonus expiry sweep.
type ExpireResult struct {
	ExpiredCount int             `json:"expired_count"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Failed       int             `json:"failed"`
}

// ─── Ledger Events ──────────────────────────────────────────────────────────

// Event names published after a ledger mutation commits.
const (
	EventPointsCredited = "points.credited"
	EventPointsDebited  = "points.debited"
	EventPointsExpired  = "points.expired"
)

// LedgerEvent is the externally published form of a committed Transaction.
type LedgerEvent struct {
	Event         string          `json:"event"`
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	Type          TransactionType `json:"type"`
	BalanceType   BalanceType     `json:"balance_type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	CreatedAt     time.Time       `json:"created_at"`
}

// EventFor converts a committed transaction into its published event.
func EventFor(tx Transaction) LedgerEvent {
	name := EventPointsCredited
	switch {
	case tx.Type == TxBonusExpired:
		name = EventPointsExpired
	case tx.Amount.IsNegative():
		name = EventPointsDebited
	}
	return LedgerEvent{
		Event:         name,
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Type:          tx.Type,
		BalanceType:   tx.BalanceType,
		Amount:        tx.Amount,
		BalanceBefore: tx.BalanceBefore,
		BalanceAfter:  tx.BalanceAfter,
		CreatedAt:     tx.CreatedAt,
	}
}
