package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/skillmarket/points/internal/app/ledger"
	"github.com/skillmarket/points/internal/domain"
)

// ─── Ledger API ─────────────────────────────────────────────────────────────
//
// POST /api/accounts                           - open an account
// GET  /api/accounts/{id}/balance              - balance, bonus, expiry, total
// GET  /api/accounts/{id}/transactions         - newest-first history + count
// GET  /api/accounts/{id}/reconcile            - replay log against balances
// POST /api/accounts/{id}/registration-bonus   - grant the onboarding bonus
// POST /api/accounts/{id}/credit               - AddPoints
// POST /api/accounts/{id}/debit                - DeductPoints / DeductPointsForIncoming
// POST /api/admin/bonuses/expire               - run the expiry sweep now

// LedgerAPI exposes the ledger service.
type LedgerAPI struct {
	Ledger *ledger.Service
}

type openAccountRequest struct {
	ID string `json:"id"`
}

type creditRequest struct {
	Amount      decimal.Decimal        `json:"amount"`
	Type        domain.TransactionType `json:"type"`
	BalanceType domain.BalanceType     `json:"balance_type"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]any         `json:"metadata,omitempty"`
}

type debitRequest struct {
	Amount      decimal.Decimal        `json:"amount"`
	Type        domain.TransactionType `json:"type"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]any         `json:"metadata,omitempty"`
	Incoming    bool                   `json:"incoming,omitempty"`
}

// HandleOpenAccount creates an account.
func (a *LedgerAPI) HandleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	acc, err := a.Ledger.OpenAccount(r.Context(), req.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

// HandleBalance returns the account balance.
func (a *LedgerAPI) HandleBalance(w http.ResponseWriter, r *http.Request) {
	b, err := a.Ledger.GetBalance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// HandleTransactions returns a page of history.
// Query: limit (default 20, max 100), offset.
func (a *LedgerAPI) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	if _, err := a.Ledger.GetBalance(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	txs, err := a.Ledger.GetTransactionHistory(r.Context(), id, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	total, err := a.Ledger.GetTransactionCount(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"total":        total,
		"offset":       offset,
	})
}

// HandleReconcile replays the account's log.
func (a *LedgerAPI) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := a.Ledger.ReconcileAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// HandleRegistrationBonus grants the onboarding bonus.
func (a *LedgerAPI) HandleRegistrationBonus(w http.ResponseWriter, r *http.Request) {
	tx, err := a.Ledger.GrantRegistrationBonus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// HandleCredit credits points.
func (a *LedgerAPI) HandleCredit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tx, err := a.Ledger.AddPoints(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Type, req.BalanceType,
		ledger.Note{Description: req.Description, Metadata: req.Metadata})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// HandleDebit deducts points, bonus first. With incoming=true the
// sufficiency check is skipped.
func (a *LedgerAPI) HandleDebit(w http.ResponseWriter, r *http.Request) {
	var req debitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	deduct := a.Ledger.DeductPoints
	if req.Incoming {
		deduct = a.Ledger.DeductPointsForIncoming
	}
	txs, err := deduct(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Type,
		ledger.Note{Description: req.Description, Metadata: req.Metadata})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"transactions": txs})
}

// HandleExpireBonuses runs one expiry sweep in-process.
func (a *LedgerAPI) HandleExpireBonuses(w http.ResponseWriter, r *http.Request) {
	res, err := a.Ledger.ExpireOldBonuses(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
