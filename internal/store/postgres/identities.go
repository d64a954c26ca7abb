package postgres

import (
	"context"
	"errors"
	"fmt"

	"presenced/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type IdentitiesStore struct {
	pool *pgxpool.Pool
}

func NewIdentitiesStore(pool *pgxpool.Pool) *IdentitiesStore {
	return &IdentitiesStore{pool: pool}
}

// Upsert records the provider identity seen at login. At most one row per
// external id; a provider-side rename updates the stored username in place.
func (s *IdentitiesStore) Upsert(ctx context.Context, externalID int64, username, avatarURL string) error {
	const q = `
		INSERT INTO identities (external_id, username, avatar_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_id) DO UPDATE
		SET username = EXCLUDED.username,
		    avatar_url = EXCLUDED.avatar_url,
		    updated_at = now()
	`
	_, err := s.pool.Exec(ctx, q, externalID, username, avatarURL)
	if err != nil {
		var pgerr *pgconn.PgError
		if errors.As(err, &pgerr) && pgerr.Code == "23505" {
			return domain.ErrUsernameTaken
		}
		return fmt.Errorf("upsert identity: %w", err)
	}
	return nil
}
