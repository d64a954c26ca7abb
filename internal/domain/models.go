package domain

import "time"

type VisibilityMode string

const (
	VisibilityEveryone  VisibilityMode = "everyone"
	VisibilityFollowers VisibilityMode = "followers"
	VisibilityFollowing VisibilityMode = "following"
	VisibilityInvisible VisibilityMode = "invisible"
	// VisibilityCloseFriends is accepted and stored but has no dedicated
	// dispatch arm in the visibility engine; it falls through to the
	// default-visible case. Kept for compatibility with existing clients.
	VisibilityCloseFriends VisibilityMode = "close-friends"
)

// Identity is a known user of the relay. ExternalID ties the identity to the
// social-graph provider. Pure guests never reach the identities table.
// Username is the stable addressing key for chat and presence and is unique
// case-insensitively.
type Identity struct {
	ExternalID int64
	Username   string
	AvatarURL  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type RelationKind string

const (
	RelationFollower  RelationKind = "follower"
	RelationFollowing RelationKind = "following"
)

// Preferences gates what an identity shares and with whom. Rows are created
// lazily with these defaults on first read.
type Preferences struct {
	ExternalID    int64
	Visibility    VisibilityMode
	ShareProject  bool
	ShareLanguage bool
	ShareActivity bool
}

func DefaultPreferences(externalID int64) Preferences {
	return Preferences{
		ExternalID:    externalID,
		Visibility:    VisibilityEveryone,
		ShareProject:  true,
		ShareLanguage: true,
		ShareActivity: true,
	}
}

// InviteCode is a short-lived single-use code. Lifecycle: created unused,
// redeemed exactly once, then terminal. Expired codes are kept, never
// redeemed and never deleted.
type InviteCode struct {
	Code      string
	Creator   string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedBy    *string
	UsedAt    *time.Time
}

// Alias maps a guest-session username back to the GitHub identity it was
// later linked to, so manual connections survive the rename.
type Alias struct {
	GithubUsername string
	GuestUsername  string
	ExternalID     int64
}
