package postgres

import (
	"context"
	"fmt"

	"presenced/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

type RelationshipsStore struct {
	pool *pgxpool.Pool
}

func NewRelationshipsStore(pool *pgxpool.Pool) *RelationshipsStore {
	return &RelationshipsStore{pool: pool}
}

// ReplaceAll swaps the stored relationship snapshot for the provider's latest
// one. Delete-then-insert in a single transaction, never an incremental patch,
// so the table always mirrors the provider as of the user's last login.
func (s *RelationshipsStore) ReplaceAll(ctx context.Context, externalID int64, followers, following []int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace relationships: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM relationships WHERE external_id = $1`, externalID); err != nil {
		return fmt.Errorf("replace relationships: delete: %w", err)
	}

	const ins = `
		INSERT INTO relationships (external_id, related_id, kind)
		SELECT $1, unnest($2::bigint[]), $3
	`
	if len(followers) > 0 {
		if _, err := tx.Exec(ctx, ins, externalID, followers, domain.RelationFollower); err != nil {
			return fmt.Errorf("replace relationships: insert followers: %w", err)
		}
	}
	if len(following) > 0 {
		if _, err := tx.Exec(ctx, ins, externalID, following, domain.RelationFollowing); err != nil {
			return fmt.Errorf("replace relationships: insert following: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("replace relationships: commit: %w", err)
	}
	return nil
}
