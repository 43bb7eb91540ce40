package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── Specialist Profile Types ───────────────────────────────────────────────

// SpecialistProfile holds the profile flags the limits gate reads.
// AccountID is the owning user's points account.
type SpecialistProfile struct {
	ID               string    `json:"id"`
	AccountID        string    `json:"account_id"`
	Name             string    `json:"name"`
	Category         string    `json:"category,omitempty"`
	Blocked          bool      `json:"blocked"`
	AcceptingClients bool      `json:"accepting_clients"`
	Verified         bool      `json:"verified"`
	ContactViews     int64     `json:"contact_views"`
	CreatedAt        time.Time `json:"created_at"`
}

// ProfileFilter narrows a specialist listing. Nil flag pointers mean
// "don't filter on this flag". Limit <= 0 means no limit. For visible
// listings Limit and Offset count visible profiles, not stored rows.
type ProfileFilter struct {
	Category         string
	Query            string // substring match on name
	Blocked          *bool
	AcceptingClients *bool
	Verified         *bool
	Limit            int
	Offset           int
}

// Limits is the derived quota view over a specialist's balance.
type Limits struct {
	TotalBalance          decimal.Decimal `json:"total_balance"`
	ContactViewsAvailable decimal.Decimal `json:"contact_views_available"`
	RequestsAvailable     decimal.Decimal `json:"requests_available"`
	IsVisible             bool            `json:"is_visible"`
}

// UsageCheck is the informational answer to a CanUse* question.
type UsageCheck struct {
	Allowed   bool            `json:"allowed"`
	Remaining decimal.Decimal `json:"remaining"`
}

// BoolPtr is a helper for building ProfileFilter values.
func BoolPtr(b bool) *bool { return &b }
