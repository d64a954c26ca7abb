package presence

import "presenced/internal/domain"

// PublicUser is the outward-facing, already-redacted presence entry included
// in userList broadcasts.
type PublicUser struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Status   Status `json:"status"`
	Activity string `json:"activity,omitempty"`
	Project  string `json:"project,omitempty"`
	Language string `json:"language,omitempty"`
}

// CanSee decides whether a viewer may see the target's presence. Pure: the
// manual-connection override needs a store lookup and is the broadcaster's
// responsibility.
//
// Guests (no preferences or no external id) are always visible — they have no
// privacy settings to hide behind. Unrecognized visibility modes fail open,
// matching the default.
func CanSee(viewerExternalID *int64, target ConnectionState) bool {
	if target.Prefs == nil || target.ExternalID == nil {
		return true
	}
	switch target.Prefs.Visibility {
	case domain.VisibilityInvisible:
		return false
	case domain.VisibilityEveryone:
		return true
	case domain.VisibilityFollowers:
		if viewerExternalID == nil {
			return false
		}
		_, ok := target.FollowerIDs[*viewerExternalID]
		return ok
	case domain.VisibilityFollowing:
		if viewerExternalID == nil {
			return false
		}
		_, ok := target.FollowingIDs[*viewerExternalID]
		return ok
	default:
		return true
	}
}

// FilterFields redacts the target's presence per its sharing flags. Applied
// to whatever is shown, independently of CanSee.
func FilterFields(target ConnectionState) PublicUser {
	u := PublicUser{
		Username: target.Username,
		Avatar:   target.AvatarURL,
		Status:   target.Status,
		Activity: target.Activity,
		Project:  target.Project,
		Language: target.Language,
	}
	if target.Prefs == nil {
		return u
	}
	if !target.Prefs.ShareProject {
		u.Project = ""
	}
	if !target.Prefs.ShareLanguage {
		u.Language = ""
	}
	if !target.Prefs.ShareActivity {
		u.Activity = ActivityHidden
	}
	return u
}
