package service

import (
	"context"
	"fmt"
	"strings"

	"presenced/internal/domain"
)

type IdentitiesStore interface {
	Upsert(ctx context.Context, externalID int64, username, avatarURL string) error
}

type RelationshipsStore interface {
	ReplaceAll(ctx context.Context, externalID int64, followers, following []int64) error
}

// AccountService persists what an authenticated login tells us about a user:
// the provider identity and the latest relationship snapshot.
type AccountService struct {
	Identities    IdentitiesStore
	Relationships RelationshipsStore
}

// SyncOnLogin upserts the identity and fully replaces the stored
// follower/following snapshot. Each write is atomic on its own; a failure
// here degrades the one login, never the process.
func (s *AccountService) SyncOnLogin(ctx context.Context, externalID int64, username, avatarURL string, followers, following []int64) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.NewValidationError(map[string]string{"username": "required"})
	}
	if externalID <= 0 {
		return domain.NewValidationError(map[string]string{"externalId": "required"})
	}

	if err := s.Identities.Upsert(ctx, externalID, username, avatarURL); err != nil {
		return fmt.Errorf("sync identity: %w", err)
	}
	if err := s.Relationships.ReplaceAll(ctx, externalID, followers, following); err != nil {
		return fmt.Errorf("sync relationships: %w", err)
	}
	return nil
}
