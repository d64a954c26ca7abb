package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectionsStore persists manual connections: symmetric links created by
// invite acceptance. Each link is stored as two directed rows so lookups from
// either side hit the primary key.
type ConnectionsStore struct {
	pool *pgxpool.Pool
}

func NewConnectionsStore(pool *pgxpool.Pool) *ConnectionsStore {
	return &ConnectionsStore{pool: pool}
}

func (s *ConnectionsStore) AreLinked(ctx context.Context, userA, userB string) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM manual_connections
			WHERE user_a = $1 AND user_b = $2
		)
	`
	var linked bool
	if err := s.pool.QueryRow(ctx, q, userA, userB).Scan(&linked); err != nil {
		return false, fmt.Errorf("check manual connection: %w", err)
	}
	return linked, nil
}

func (s *ConnectionsStore) DeletePair(ctx context.Context, userA, userB string) error {
	const q = `
		DELETE FROM manual_connections
		WHERE (user_a = $1 AND user_b = $2) OR (user_a = $2 AND user_b = $1)
	`
	if _, err := s.pool.Exec(ctx, q, userA, userB); err != nil {
		return fmt.Errorf("delete manual connection: %w", err)
	}
	return nil
}
