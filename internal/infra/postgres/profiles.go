package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/skillmarket/points/internal/domain"
)

const profileColumns = `id, account_id, name, category, blocked, accepting_clients, verified, contact_views, created_at`

// ─── Specialist Profile Operations ──────────────────────────────────────────

// UpsertProfile inserts or updates a specialist profile without touching
// contact_views.
func (db *DB) UpsertProfile(ctx context.Context, p *domain.SpecialistProfile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO specialist_profiles (id, account_id, name, category, blocked, accepting_clients, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			account_id        = EXCLUDED.account_id,
			name              = EXCLUDED.name,
			category          = EXCLUDED.category,
			blocked           = EXCLUDED.blocked,
			accepting_clients = EXCLUDED.accepting_clients,
			verified          = EXCLUDED.verified
	`, p.ID, p.AccountID, p.Name, p.Category, p.Blocked, p.AcceptingClients, p.Verified, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// GetProfile retrieves a specialist profile.
func (db *DB) GetProfile(ctx context.Context, id string) (*domain.SpecialistProfile, error) {
	var p domain.SpecialistProfile
	err := db.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM specialist_profiles WHERE id = $1`, id).
		Scan(&p.ID, &p.AccountID, &p.Name, &p.Category, &p.Blocked, &p.AcceptingClients, &p.Verified,
			&p.ContactViews, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// IncrementContactViews bumps the denormalized contact view counter.
func (db *DB) IncrementContactViews(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE specialist_profiles SET contact_views = contact_views + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment contact views: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListProfiles returns profiles matching the filter, oldest first.
func (db *DB) ListProfiles(ctx context.Context, f domain.ProfileFilter) ([]domain.SpecialistProfile, error) {
	q := `SELECT ` + profileColumns + ` FROM specialist_profiles WHERE TRUE`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Category != "" {
		q += ` AND category = ` + arg(f.Category)
	}
	if f.Query != "" {
		q += ` AND name ILIKE ` + arg("%"+f.Query+"%")
	}
	if f.Blocked != nil {
		q += ` AND blocked = ` + arg(*f.Blocked)
	}
	if f.AcceptingClients != nil {
		q += ` AND accepting_clients = ` + arg(*f.AcceptingClients)
	}
	if f.Verified != nil {
		q += ` AND verified = ` + arg(*f.Verified)
	}
	q += ` ORDER BY created_at, id`
	if f.Limit > 0 {
		q += ` LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)
	}

	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var result []domain.SpecialistProfile
	for rows.Next() {
		var p domain.SpecialistProfile
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Name, &p.Category, &p.Blocked, &p.AcceptingClients,
			&p.Verified, &p.ContactViews, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
