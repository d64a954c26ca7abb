package presence

import (
	"testing"

	"presenced/internal/domain"
)

func ptr(v int64) *int64 { return &v }

func targetWith(mode domain.VisibilityMode, followers, following []int64) ConnectionState {
	prefs := domain.DefaultPreferences(100)
	prefs.Visibility = mode
	return ConnectionState{
		Username:     "target",
		ExternalID:   ptr(100),
		FollowerIDs:  IDSet(followers),
		FollowingIDs: IDSet(following),
		Prefs:        &prefs,
	}
}

func TestCanSee(t *testing.T) {
	tests := []struct {
		name   string
		viewer *int64
		target ConnectionState
		want   bool
	}{
		{"guest target always visible", ptr(1), ConnectionState{Username: "guest"}, true},
		{"target without prefs visible", ptr(1), ConnectionState{Username: "x", ExternalID: ptr(9)}, true},
		{"invisible hides from follower", ptr(1), targetWith(domain.VisibilityInvisible, []int64{1}, nil), false},
		{"invisible hides from following", ptr(1), targetWith(domain.VisibilityInvisible, nil, []int64{1}), false},
		{"everyone visible to guest viewer", nil, targetWith(domain.VisibilityEveryone, nil, nil), true},
		{"followers includes member", ptr(1), targetWith(domain.VisibilityFollowers, []int64{1, 2}, nil), true},
		{"followers excludes non-member", ptr(3), targetWith(domain.VisibilityFollowers, []int64{1, 2}, nil), false},
		{"followers excludes guest viewer", nil, targetWith(domain.VisibilityFollowers, []int64{1}, nil), false},
		{"following includes member", ptr(5), targetWith(domain.VisibilityFollowing, nil, []int64{5}), true},
		{"following excludes non-member", ptr(6), targetWith(domain.VisibilityFollowing, nil, []int64{5}), false},
		{"unknown mode fails open", ptr(1), targetWith(domain.VisibilityCloseFriends, nil, nil), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanSee(tt.viewer, tt.target); got != tt.want {
				t.Fatalf("CanSee = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterFields(t *testing.T) {
	prefs := domain.DefaultPreferences(100)
	prefs.ShareProject = false
	prefs.ShareLanguage = false
	prefs.ShareActivity = false

	target := ConnectionState{
		Username:   "casey",
		ExternalID: ptr(100),
		Status:     StatusOnline,
		Activity:   ActivityCoding,
		Project:    "secret-project",
		Language:   "go",
		Prefs:      &prefs,
	}

	got := FilterFields(target)
	if got.Project != "" {
		t.Fatalf("Project: got %q, want redacted", got.Project)
	}
	if got.Language != "" {
		t.Fatalf("Language: got %q, want redacted", got.Language)
	}
	if got.Activity != ActivityHidden {
		t.Fatalf("Activity: got %q, want %q", got.Activity, ActivityHidden)
	}
	if got.Username != "casey" || got.Status != StatusOnline {
		t.Fatalf("identity fields must survive redaction: %+v", got)
	}
}

func TestFilterFieldsGuestUnredacted(t *testing.T) {
	target := ConnectionState{
		Username: "guest",
		Status:   StatusOnline,
		Activity: ActivityReading,
		Project:  "dotfiles",
		Language: "lua",
	}
	got := FilterFields(target)
	if got.Project != "dotfiles" || got.Language != "lua" || got.Activity != ActivityReading {
		t.Fatalf("guest fields must pass through: %+v", got)
	}
}
