package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"presenced/internal/domain"
	"presenced/internal/github"
)

// memStore is an in-memory stand-in for the postgres stores, implementing
// every service store interface with the same semantics (single-redeemer
// invite CAS included) so end-to-end tests run without a database.
type memStore struct {
	mu sync.Mutex

	identities map[int64]domain.Identity
	relations  map[int64]map[domain.RelationKind][]int64
	invites    map[string]*domain.InviteCode
	links      map[string]bool
	aliases    map[string]domain.Alias
	prefs      map[int64]domain.Preferences
}

func newMemStore() *memStore {
	return &memStore{
		identities: make(map[int64]domain.Identity),
		relations:  make(map[int64]map[domain.RelationKind][]int64),
		invites:    make(map[string]*domain.InviteCode),
		links:      make(map[string]bool),
		aliases:    make(map[string]domain.Alias),
		prefs:      make(map[int64]domain.Preferences),
	}
}

func linkKey(a, b string) string { return a + "\x00" + b }

func (m *memStore) Upsert(_ context.Context, externalID int64, username, avatarURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[externalID] = domain.Identity{ExternalID: externalID, Username: username, AvatarURL: avatarURL}
	return nil
}

func (m *memStore) ReplaceAll(_ context.Context, externalID int64, followers, following []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relations[externalID] = map[domain.RelationKind][]int64{
		domain.RelationFollower:  followers,
		domain.RelationFollowing: following,
	}
	return nil
}

func (m *memStore) Create(_ context.Context, code, creator string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invites[code]; ok {
		return domain.ErrInviteCodeTaken
	}
	m.invites[code] = &domain.InviteCode{Code: code, Creator: creator, CreatedAt: time.Now(), ExpiresAt: expiresAt}
	return nil
}

func (m *memStore) Redeem(_ context.Context, code, acceptor string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[code]
	if !ok {
		return "", domain.ErrInviteNotFound
	}
	if inv.UsedBy != nil {
		return "", domain.ErrInviteUsed
	}
	if now.After(inv.ExpiresAt) {
		return "", domain.ErrInviteExpired
	}
	if inv.Creator == acceptor {
		return "", domain.ErrSelfInvite
	}
	inv.UsedBy = &acceptor
	inv.UsedAt = &now
	m.links[linkKey(inv.Creator, acceptor)] = true
	m.links[linkKey(acceptor, inv.Creator)] = true
	return inv.Creator, nil
}

func (m *memStore) AreLinked(_ context.Context, a, b string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[linkKey(a, b)], nil
}

func (m *memStore) DeletePair(_ context.Context, a, b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, linkKey(a, b))
	delete(m.links, linkKey(b, a))
	return nil
}

func (m *memStore) Get(_ context.Context, externalID int64) (domain.Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.prefs[externalID]; ok {
		return p, nil
	}
	p := domain.DefaultPreferences(externalID)
	m.prefs[externalID] = p
	return p, nil
}

func (m *memStore) Update(_ context.Context, p domain.Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[p.ExternalID] = p
	return nil
}

// aliasStoreAdapter exposes memStore's alias table through the AliasesStore
// interface; memStore.Upsert is already taken by the identities interface.
type aliasStoreAdapter struct{ m *memStore }

func (a aliasStoreAdapter) Upsert(_ context.Context, al domain.Alias) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	a.m.aliases[al.GithubUsername] = al
	return nil
}

func (a aliasStoreAdapter) ByGuest(_ context.Context, guest string) (domain.Alias, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	for _, al := range a.m.aliases {
		if strings.EqualFold(al.GuestUsername, guest) {
			return al, nil
		}
	}
	return domain.Alias{}, domain.ErrNotFound
}

// stubProvider maps bearer tokens to canned profiles.
type stubProvider struct {
	mu       sync.Mutex
	profiles map[string]*github.Profile
}

func newStubProvider() *stubProvider {
	return &stubProvider{profiles: make(map[string]*github.Profile)}
}

func (p *stubProvider) add(token string, profile *github.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[token] = profile
}

func (p *stubProvider) FetchProfile(_ context.Context, token string) (*github.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if profile, ok := p.profiles[token]; ok {
		return profile, nil
	}
	return nil, domain.ErrUnauthorized
}
