package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"presenced/internal/domain"
)

type InvitesStore interface {
	Create(ctx context.Context, code, creator string, expiresAt time.Time) error
	Redeem(ctx context.Context, code, acceptor string, now time.Time) (creator string, err error)
}

type ConnectionsStore interface {
	AreLinked(ctx context.Context, userA, userB string) (bool, error)
	DeletePair(ctx context.Context, userA, userB string) error
}

type AliasesStore interface {
	Upsert(ctx context.Context, a domain.Alias) error
	ByGuest(ctx context.Context, guestUsername string) (domain.Alias, error)
}

const (
	inviteCodeLen     = 6
	inviteCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	inviteCodeRetries = 5
)

// LinkService manages the out-of-band social links: invite codes, the manual
// connections they produce, and the guest-to-GitHub aliases that keep those
// connections valid across a rename.
type LinkService struct {
	Invites     InvitesStore
	Connections ConnectionsStore
	Aliases     AliasesStore
	InviteTTL   time.Duration
	Now         func() time.Time
}

func (s *LinkService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *LinkService) ttl() time.Duration {
	if s.InviteTTL > 0 {
		return s.InviteTTL
	}
	return 48 * time.Hour
}

// CreateInvite generates a single-use code for the creator, retrying
// generation on the rare code collision.
func (s *LinkService) CreateInvite(ctx context.Context, creator string) (string, time.Duration, error) {
	creator = strings.TrimSpace(creator)
	if creator == "" {
		return "", 0, domain.NewValidationError(map[string]string{"creator": "required"})
	}

	for attempt := 0; attempt < inviteCodeRetries; attempt++ {
		code, err := generateInviteCode()
		if err != nil {
			return "", 0, fmt.Errorf("generate invite code: %w", err)
		}
		err = s.Invites.Create(ctx, code, creator, s.now().Add(s.ttl()))
		if errors.Is(err, domain.ErrInviteCodeTaken) {
			continue
		}
		if err != nil {
			return "", 0, err
		}
		return code, s.ttl(), nil
	}
	return "", 0, domain.ErrInviteCodeTaken
}

// AcceptInvite redeems a code for the acceptor. The store performs the
// single-redeemer compare-and-swap and the symmetric link creation in one
// transaction; rejections come back as domain sentinels for the caller to
// surface as a structured failure.
func (s *LinkService) AcceptInvite(ctx context.Context, code, acceptor string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	acceptor = strings.TrimSpace(acceptor)
	if len(code) != inviteCodeLen || acceptor == "" {
		return "", domain.ErrInviteNotFound
	}
	return s.Invites.Redeem(ctx, code, acceptor, s.now())
}

// ResolveCanonical maps a guest-session username to its linked GitHub
// username. Unknown usernames (and store failures) resolve to themselves so
// the caller can fall back to the normal visibility rules.
func (s *LinkService) ResolveCanonical(ctx context.Context, username string) string {
	alias, err := s.Aliases.ByGuest(ctx, username)
	if err != nil {
		return username
	}
	return alias.GithubUsername
}

// IsManuallyConnected reports whether two users are invite-linked, after
// resolving both sides through the alias table.
func (s *LinkService) IsManuallyConnected(ctx context.Context, userA, userB string) (bool, error) {
	a := s.ResolveCanonical(ctx, userA)
	b := s.ResolveCanonical(ctx, userB)
	return s.Connections.AreLinked(ctx, a, b)
}

// RemoveLink tears down a manual connection from either side.
func (s *LinkService) RemoveLink(ctx context.Context, userA, userB string) error {
	a := s.ResolveCanonical(ctx, userA)
	b := s.ResolveCanonical(ctx, userB)
	return s.Connections.DeletePair(ctx, a, b)
}

// CreateAlias remembers that guestUsername belongs to the given GitHub
// identity. Keyed on the GitHub username; relinking overwrites.
func (s *LinkService) CreateAlias(ctx context.Context, githubUsername, guestUsername string, externalID int64) error {
	githubUsername = strings.TrimSpace(githubUsername)
	guestUsername = strings.TrimSpace(guestUsername)
	fields := map[string]string{}
	if githubUsername == "" {
		fields["githubUsername"] = "required"
	}
	if guestUsername == "" {
		fields["guestUsername"] = "required"
	}
	if externalID <= 0 {
		fields["githubId"] = "required"
	}
	if len(fields) > 0 {
		return domain.NewValidationError(fields)
	}
	return s.Aliases.Upsert(ctx, domain.Alias{
		GithubUsername: githubUsername,
		GuestUsername:  guestUsername,
		ExternalID:     externalID,
	})
}

func generateInviteCode() (string, error) {
	buf := make([]byte, inviteCodeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = inviteCodeCharset[int(b)%len(inviteCodeCharset)]
	}
	return string(buf), nil
}
