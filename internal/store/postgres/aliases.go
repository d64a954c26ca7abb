package postgres

import (
	"context"
	"errors"
	"fmt"

	"presenced/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AliasesStore struct {
	pool *pgxpool.Pool
}

func NewAliasesStore(pool *pgxpool.Pool) *AliasesStore {
	return &AliasesStore{pool: pool}
}

// Upsert links a guest username to a GitHub identity. Keyed on the GitHub
// username: relinking overwrites the previous guest mapping.
func (s *AliasesStore) Upsert(ctx context.Context, a domain.Alias) error {
	const q = `
		INSERT INTO aliases (github_username, guest_username, external_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (github_username) DO UPDATE
		SET guest_username = EXCLUDED.guest_username,
		    external_id = EXCLUDED.external_id
	`
	_, err := s.pool.Exec(ctx, q, a.GithubUsername, a.GuestUsername, a.ExternalID)
	if err != nil {
		return fmt.Errorf("upsert alias: %w", err)
	}
	return nil
}

func (s *AliasesStore) ByGuest(ctx context.Context, guestUsername string) (domain.Alias, error) {
	const q = `
		SELECT github_username, guest_username, external_id
		FROM aliases
		WHERE guest_username = $1
	`
	var a domain.Alias
	err := s.pool.QueryRow(ctx, q, guestUsername).Scan(&a.GithubUsername, &a.GuestUsername, &a.ExternalID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Alias{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Alias{}, fmt.Errorf("get alias by guest: %w", err)
	}
	return a, nil
}
