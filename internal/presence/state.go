// Package presence holds the live connection state: the registry of open
// connections, multi-session aggregation, and the visibility rules deciding
// who sees whom.
package presence

import (
	"time"

	"presenced/internal/domain"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

const (
	ActivityDebugging = "Debugging"
	ActivityCoding    = "Coding"
	ActivityReading   = "Reading"
	ActivityIdle      = "Idle"
	ActivityHidden    = "Hidden"
)

// ConnectionState is the mutable presence state of one open connection.
// Exactly one exists per connection; a username may own several (one per
// editor window). The Registry is the sole owner — callers only see copies.
//
// FollowerIDs and FollowingIDs are populated once at login and treated as
// immutable afterwards, so snapshot copies may share them.
type ConnectionState struct {
	ConnID        string
	Username      string
	ExternalID    *int64
	AvatarURL     string
	FollowerIDs   map[int64]struct{}
	FollowingIDs  map[int64]struct{}
	Status        Status
	Activity      string
	Project       string
	Language      string
	Prefs         *domain.Preferences
	IsAlive       bool
	LastHeartbeat time.Time
	UpdatedAt     time.Time
}

// ActivityPriority ranks activities for multi-session aggregation. Unknown
// free-form activities rank alongside Idle so a custom label still beats a
// hidden session.
func ActivityPriority(activity string) int {
	switch activity {
	case ActivityDebugging:
		return 4
	case ActivityCoding:
		return 3
	case ActivityReading:
		return 2
	case ActivityHidden:
		return 0
	default:
		return 1
	}
}

// IDSet builds the membership set used for follower/following checks.
func IDSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
