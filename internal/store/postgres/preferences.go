package postgres

import (
	"context"
	"fmt"

	"presenced/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PreferencesStore struct {
	pool *pgxpool.Pool
}

func NewPreferencesStore(pool *pgxpool.Pool) *PreferencesStore {
	return &PreferencesStore{pool: pool}
}

// Get returns the identity's preferences, creating the default row on first
// access. The insert-then-select keeps the lazy default race-free: two
// concurrent first reads both see the same row.
func (s *PreferencesStore) Get(ctx context.Context, externalID int64) (domain.Preferences, error) {
	const ins = `
		INSERT INTO preferences (external_id)
		VALUES ($1)
		ON CONFLICT (external_id) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, ins, externalID); err != nil {
		return domain.Preferences{}, fmt.Errorf("init preferences: %w", err)
	}

	const sel = `
		SELECT external_id, visibility, share_project, share_language, share_activity
		FROM preferences
		WHERE external_id = $1
	`
	var p domain.Preferences
	err := s.pool.QueryRow(ctx, sel, externalID).Scan(
		&p.ExternalID, &p.Visibility, &p.ShareProject, &p.ShareLanguage, &p.ShareActivity,
	)
	if err != nil {
		return domain.Preferences{}, fmt.Errorf("get preferences: %w", err)
	}
	return p, nil
}

func (s *PreferencesStore) Update(ctx context.Context, p domain.Preferences) error {
	const q = `
		INSERT INTO preferences (external_id, visibility, share_project, share_language, share_activity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id) DO UPDATE
		SET visibility = EXCLUDED.visibility,
		    share_project = EXCLUDED.share_project,
		    share_language = EXCLUDED.share_language,
		    share_activity = EXCLUDED.share_activity
	`
	_, err := s.pool.Exec(ctx, q, p.ExternalID, p.Visibility, p.ShareProject, p.ShareLanguage, p.ShareActivity)
	if err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	return nil
}
