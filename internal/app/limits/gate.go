// Package limits derives specialist quotas and search visibility from the
// points ledger and a few profile flags.
package limits

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skillmarket/points/internal/app/ledger"
	"github.com/skillmarket/points/internal/domain"
	"github.com/skillmarket/points/internal/infra/observability"
)

// Default unit prices.
var (
	DefaultContactViewPrice = decimal.NewFromInt(1)
	DefaultRequestPrice     = decimal.NewFromInt(10)
)

// listBatch is the minimum number of profiles read per store query when
// paging visible specialists.
const listBatch = 50

const (
	kindContactView = "contact_view"
	kindRequest     = "request"
)

// Gate answers what a specialist may do and whether they are listed.
// Incoming consumption is never refused; quotas may go negative.
type Gate struct {
	ledger           *ledger.Service
	profiles         domain.ProfileStore
	logger           *zap.Logger
	contactViewPrice decimal.Decimal
	requestPrice     decimal.Decimal
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) { g.logger = observability.OrNop(l).Named("limits") }
}

// WithPrices overrides the contact view and request prices. Non-positive
// values are ignored.
func WithPrices(contactView, request decimal.Decimal) Option {
	return func(g *Gate) {
		if contactView.IsPositive() {
			g.contactViewPrice = contactView
		}
		if request.IsPositive() {
			g.requestPrice = request
		}
	}
}

// New creates a gate.
func New(l *ledger.Service, profiles domain.ProfileStore, opts ...Option) *Gate {
	g := &Gate{
		ledger:           l,
		profiles:         profiles,
		logger:           zap.NewNop(),
		contactViewPrice: DefaultContactViewPrice,
		requestPrice:     DefaultRequestPrice,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ─── Profiles ───────────────────────────────────────────────────────────────

// SaveProfile creates or updates a specialist profile.
func (g *Gate) SaveProfile(ctx context.Context, p *domain.SpecialistProfile) error {
	if p.ID == "" || p.AccountID == "" {
		return fmt.Errorf("%w: profile needs id and account id", domain.ErrInvalidArgument)
	}
	if err := g.profiles.UpsertProfile(ctx, p); err != nil {
		return fmt.Errorf("save profile %s: %w", p.ID, err)
	}
	return nil
}

// Profile returns a specialist profile.
func (g *Gate) Profile(ctx context.Context, specialistID string) (*domain.SpecialistProfile, error) {
	p, err := g.profiles.GetProfile(ctx, specialistID)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", specialistID, err)
	}
	return p, nil
}

// ─── Limits ─────────────────────────────────────────────────────────────────

// GetLimits returns the specialist's quotas, or nil when the profile or its
// account cannot be resolved.
func (g *Gate) GetLimits(ctx context.Context, specialistID string) *domain.Limits {
	total, ok := g.total(ctx, specialistID)
	if !ok {
		return nil
	}
	return &domain.Limits{
		TotalBalance:          total,
		ContactViewsAvailable: total.Div(g.contactViewPrice),
		RequestsAvailable:     total.Div(g.requestPrice).Floor(),
		IsVisible:             total.IsPositive(),
	}
}

// CanUseContactView is always allowed; Remaining is informational.
func (g *Gate) CanUseContactView(ctx context.Context, specialistID string) domain.UsageCheck {
	check := domain.UsageCheck{Allowed: true, Remaining: decimal.Zero}
	if l := g.GetLimits(ctx, specialistID); l != nil {
		check.Remaining = l.ContactViewsAvailable
	}
	return check
}

// CanUseRequest is always allowed; Remaining is informational.
func (g *Gate) CanUseRequest(ctx context.Context, specialistID string) domain.UsageCheck {
	check := domain.UsageCheck{Allowed: true, Remaining: decimal.Zero}
	if l := g.GetLimits(ctx, specialistID); l != nil {
		check.Remaining = l.RequestsAvailable
	}
	return check
}

// ─── Consumption ────────────────────────────────────────────────────────────

// ConsumeContactView charges the specialist for one contact view and bumps
// the profile's view counter. It reports false on any failure.
func (g *Gate) ConsumeContactView(ctx context.Context, specialistID string) bool {
	p, ok := g.charge(ctx, kindContactView, specialistID, g.contactViewPrice, domain.TxContactView, "Contact view")
	if !ok {
		g.consumed(kindContactView, false)
		return false
	}
	if err := g.profiles.IncrementContactViews(ctx, p.ID); err != nil {
		// The charge has already committed at this point.
		g.logger.Error("contact view counter not updated",
			zap.String("specialist_id", specialistID), zap.Error(err))
		g.consumed(kindContactView, false)
		return false
	}
	g.consumed(kindContactView, true)
	return true
}

// ConsumeRequest charges the specialist for one received request.
func (g *Gate) ConsumeRequest(ctx context.Context, specialistID string) bool {
	_, ok := g.charge(ctx, kindRequest, specialistID, g.requestPrice, domain.TxRequestReceived, "Request received")
	g.consumed(kindRequest, ok)
	return ok
}

func (g *Gate) charge(ctx context.Context, kind, specialistID string, price decimal.Decimal,
	txType domain.TransactionType, description string) (*domain.SpecialistProfile, bool) {
	p, err := g.profiles.GetProfile(ctx, specialistID)
	if err != nil {
		g.logger.Warn("consume: profile lookup failed",
			zap.String("kind", kind), zap.String("specialist_id", specialistID), zap.Error(err))
		return nil, false
	}
	_, err = g.ledger.DeductPointsForIncoming(ctx, p.AccountID, price, txType, ledger.Note{
		Description: description,
		Metadata:    map[string]any{"specialist_id": specialistID},
	})
	if err != nil {
		g.logger.Warn("consume: charge failed",
			zap.String("kind", kind), zap.String("specialist_id", specialistID), zap.Error(err))
		return nil, false
	}
	return p, true
}

func (g *Gate) consumed(kind string, ok bool) {
	observability.GateConsumptions.WithLabelValues(kind, strconv.FormatBool(ok)).Inc()
}

// ─── Visibility ─────────────────────────────────────────────────────────────

// IsProfileVisible reports whether the specialist appears in search:
// not blocked, accepting clients, verified, and total balance > 0, checked in
// that order. Lookup failures count as not visible.
func (g *Gate) IsProfileVisible(ctx context.Context, specialistID string) bool {
	p, err := g.profiles.GetProfile(ctx, specialistID)
	if err != nil {
		g.logger.Debug("visibility: profile lookup failed",
			zap.String("specialist_id", specialistID), zap.Error(err))
		return false
	}
	return g.visible(ctx, p)
}

func (g *Gate) visible(ctx context.Context, p *domain.SpecialistProfile) bool {
	switch {
	case p.Blocked:
		return false
	case !p.AcceptingClients:
		return false
	case !p.Verified:
		return false
	}
	b, err := g.ledger.GetBalance(ctx, p.AccountID)
	if err != nil {
		g.logger.Debug("visibility: balance lookup failed",
			zap.String("specialist_id", p.ID), zap.Error(err))
		return false
	}
	return b.Total.IsPositive()
}

// GetVisibleSpecialists lists profiles matching f that pass IsProfileVisible.
// The static flags are applied in the store query and the balance check runs
// per row. Limit and Offset count visible profiles only, so the store is read
// in batches until the page is full.
func (g *Gate) GetVisibleSpecialists(ctx context.Context, f domain.ProfileFilter) ([]domain.SpecialistProfile, error) {
	f.Blocked = domain.BoolPtr(false)
	f.AcceptingClients = domain.BoolPtr(true)
	f.Verified = domain.BoolPtr(true)

	limit, skip := f.Limit, max(f.Offset, 0)
	f.Limit = 0
	f.Offset = 0
	if limit > 0 {
		f.Limit = max(limit+skip, listBatch)
	}

	out := make([]domain.SpecialistProfile, 0, max(limit, 0))
	for {
		rows, err := g.profiles.ListProfiles(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("list specialists: %w", err)
		}
		for i := range rows {
			if !g.visible(ctx, &rows[i]) {
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			out = append(out, rows[i])
			if limit > 0 && len(out) == limit {
				return out, nil
			}
		}
		if f.Limit == 0 || len(rows) < f.Limit {
			return out, nil
		}
		f.Offset += len(rows)
	}
}

// total resolves a specialist to their account's total balance.
func (g *Gate) total(ctx context.Context, specialistID string) (decimal.Decimal, bool) {
	p, err := g.profiles.GetProfile(ctx, specialistID)
	if err != nil {
		g.logger.Debug("limits: profile lookup failed",
			zap.String("specialist_id", specialistID), zap.Error(err))
		return decimal.Zero, false
	}
	b, err := g.ledger.GetBalance(ctx, p.AccountID)
	if err != nil {
		g.logger.Debug("limits: balance lookup failed",
			zap.String("specialist_id", specialistID), zap.Error(err))
		return decimal.Zero, false
	}
	return b.Total, true
}
