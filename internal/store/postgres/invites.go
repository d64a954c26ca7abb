package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"presenced/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type InvitesStore struct {
	pool *pgxpool.Pool
}

func NewInvitesStore(pool *pgxpool.Pool) *InvitesStore {
	return &InvitesStore{pool: pool}
}

// Create stores a fresh unused code. A duplicate code surfaces as a collision
// so the caller can generate a new one and retry.
func (s *InvitesStore) Create(ctx context.Context, code, creator string, expiresAt time.Time) error {
	const q = `
		INSERT INTO invite_codes (code, creator, expires_at)
		VALUES ($1, $2, $3)
	`
	_, err := s.pool.Exec(ctx, q, code, creator, expiresAt)
	if err != nil {
		var pgerr *pgconn.PgError
		if errors.As(err, &pgerr) && pgerr.Code == "23505" {
			return domain.ErrInviteCodeTaken
		}
		return fmt.Errorf("create invite: %w", err)
	}
	return nil
}

// Redeem marks the code used and creates the symmetric manual connection in
// one transaction. Validation order is fixed: unknown code, already used,
// expired, self-accept. The mark-used write is conditional on used_by still
// being NULL, so concurrent redemptions of the same code cannot both succeed;
// the loser observes zero rows affected and reports ErrInviteUsed.
func (s *InvitesStore) Redeem(ctx context.Context, code, acceptor string, now time.Time) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("redeem invite: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		creator   string
		expiresAt time.Time
		usedBy    *string
	)
	const sel = `SELECT creator, expires_at, used_by FROM invite_codes WHERE code = $1`
	err = tx.QueryRow(ctx, sel, code).Scan(&creator, &expiresAt, &usedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrInviteNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redeem invite: lookup: %w", err)
	}

	if usedBy != nil {
		return "", domain.ErrInviteUsed
	}
	if now.After(expiresAt) {
		return "", domain.ErrInviteExpired
	}
	if creator == acceptor {
		return "", domain.ErrSelfInvite
	}

	const mark = `
		UPDATE invite_codes
		SET used_by = $2, used_at = $3
		WHERE code = $1 AND used_by IS NULL
	`
	ct, err := tx.Exec(ctx, mark, code, acceptor, now)
	if err != nil {
		return "", fmt.Errorf("redeem invite: mark used: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return "", domain.ErrInviteUsed
	}

	const link = `
		INSERT INTO manual_connections (user_a, user_b)
		VALUES ($1, $2), ($2, $1)
		ON CONFLICT (user_a, user_b) DO NOTHING
	`
	if _, err := tx.Exec(ctx, link, creator, acceptor); err != nil {
		return "", fmt.Errorf("redeem invite: link: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("redeem invite: commit: %w", err)
	}
	return creator, nil
}
