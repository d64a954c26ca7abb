package relay

import (
	"encoding/json"

	"presenced/internal/presence"
)

// Wire protocol: JSON-framed envelopes over a persistent websocket, each
// carrying a "type" discriminator. Inbound payloads are decoded in two steps
// so a malformed body yields an error envelope instead of dropping the
// connection.

type envelope struct {
	Type string `json:"type"`
}

const (
	typeLogin             = "login"
	typeStatusUpdate      = "statusUpdate"
	typeHeartbeat         = "hb"
	typeCreateInvite      = "createInvite"
	typeAcceptInvite      = "acceptInvite"
	typeUpdatePreferences = "updatePreferences"
	typeChatMessage       = "chatMessage"
	typeCreateAlias       = "createAlias"
	typeRemoveConnection  = "removeConnection"
	typeUserList          = "userList"
	typeInviteCreated     = "inviteCreated"
	typeInviteAccepted    = "inviteAccepted"
	typeFriendJoined      = "friendJoined"
	typeError             = "error"
)

type loginMsg struct {
	Username       string `json:"username"`
	Token          string `json:"token,omitempty"`
	VisibilityMode string `json:"visibilityMode,omitempty"`
}

// statusUpdateMsg is a partial update: only fields present in the JSON
// mutate state, hence the pointers.
type statusUpdateMsg struct {
	Status   *string `json:"status,omitempty"`
	Activity *string `json:"activity,omitempty"`
	Project  *string `json:"project,omitempty"`
	Language *string `json:"language,omitempty"`
}

type heartbeatMsg struct {
	Type string `json:"type"`
	Ts   int64  `json:"ts"`
	Ack  bool   `json:"ack,omitempty"`
}

type acceptInviteMsg struct {
	Code string `json:"code"`
}

type preferencesPayload struct {
	VisibilityMode string `json:"visibilityMode"`
	ShareProject   bool   `json:"shareProject"`
	ShareLanguage  bool   `json:"shareLanguage"`
	ShareActivity  bool   `json:"shareActivity"`
}

type updatePreferencesMsg struct {
	Preferences preferencesPayload `json:"preferences"`
}

type chatSendMsg struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type createAliasMsg struct {
	GithubUsername string `json:"githubUsername"`
	GuestUsername  string `json:"guestUsername"`
	GithubID       int64  `json:"githubId"`
}

type removeConnectionMsg struct {
	Username string `json:"username"`
}

type userListMsg struct {
	Type  string                `json:"type"`
	Users []presence.PublicUser `json:"users"`
}

type inviteCreatedMsg struct {
	Type string `json:"type"`
	Code string `json:"code"`
	// ExpiresIn is the code lifetime in whole seconds.
	ExpiresIn int64 `json:"expiresIn"`
}

type inviteAcceptedMsg struct {
	Type           string `json:"type"`
	Success        bool   `json:"success"`
	FriendUsername string `json:"friendUsername,omitempty"`
	Error          string `json:"error,omitempty"`
}

type friendJoinedMsg struct {
	Type string              `json:"type"`
	User presence.PublicUser `json:"user"`
}

type chatDeliverMsg struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	To        string `json:"to"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newError(message string) errorMsg {
	return errorMsg{Type: typeError, Message: message}
}

func decodePayload(data []byte, dst any) error {
	return json.Unmarshal(data, dst)
}
