package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/skillmarket/points/internal/domain"
)

// ─── Specialist Profile Operations ──────────────────────────────────────────

// UpsertProfile inserts or updates a specialist profile. The contact view
// counter is owned by IncrementContactViews and is never overwritten here.
func (db *DB) UpsertProfile(ctx context.Context, p *domain.SpecialistProfile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO specialist_profiles (id, account_id, name, category, blocked, accepting_clients, verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id        = excluded.account_id,
			name              = excluded.name,
			category          = excluded.category,
			blocked           = excluded.blocked,
			accepting_clients = excluded.accepting_clients,
			verified          = excluded.verified
	`, p.ID, p.AccountID, p.Name, p.Category, boolToInt(p.Blocked), boolToInt(p.AcceptingClients),
		boolToInt(p.Verified), toMillis(p.CreatedAt))
	return err
}

// GetProfile retrieves a specialist profile.
func (db *DB) GetProfile(ctx context.Context, id string) (*domain.SpecialistProfile, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, category, blocked, accepting_clients, verified, contact_views, created_at
		FROM specialist_profiles WHERE id = ?
	`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// IncrementContactViews bumps the denormalized contact view counter.
func (db *DB) IncrementContactViews(ctx context.Context, id string) error {
	res, err := db.db.ExecContext(ctx, `
		UPDATE specialist_profiles SET contact_views = contact_views + 1 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("increment contact views: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListProfiles returns profiles matching the filter, oldest first.
func (db *DB) ListProfiles(ctx context.Context, f domain.ProfileFilter) ([]domain.SpecialistProfile, error) {
	q := `SELECT id, account_id, name, category, blocked, accepting_clients, verified, contact_views, created_at
		  FROM specialist_profiles WHERE 1 = 1`
	var args []any

	if f.Category != "" {
		q += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.Query != "" {
		q += ` AND name LIKE ?`
		args = append(args, "%"+f.Query+"%")
	}
	if f.Blocked != nil {
		q += ` AND blocked = ?`
		args = append(args, boolToInt(*f.Blocked))
	}
	if f.AcceptingClients != nil {
		q += ` AND accepting_clients = ?`
		args = append(args, boolToInt(*f.AcceptingClients))
	}
	if f.Verified != nil {
		q += ` AND verified = ?`
		args = append(args, boolToInt(*f.Verified))
	}
	q += ` ORDER BY created_at, id`
	if f.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := db.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var result []domain.SpecialistProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(s scanner) (*domain.SpecialistProfile, error) {
	var (
		p                           domain.SpecialistProfile
		blocked, accepting, checked int
		createdAt                   int64
	)
	if err := s.Scan(&p.ID, &p.AccountID, &p.Name, &p.Category, &blocked, &accepting, &checked,
		&p.ContactViews, &createdAt); err != nil {
		return nil, err
	}
	p.Blocked = blocked == 1
	p.AcceptingClients = accepting == 1
	p.Verified = checked == 1
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}
