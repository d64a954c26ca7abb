// Package relay implements the presence relay: a websocket server that
// authenticates sessions, tracks per-connection presence, fans out filtered
// user lists, relays chat, and manages invite-based linking.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"presenced/internal/domain"
	"presenced/internal/github"
	"presenced/internal/presence"
	"presenced/internal/service"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

// IdentityProvider resolves a bearer token to a provider profile plus the
// follower/following id lists.
type IdentityProvider interface {
	FetchProfile(ctx context.Context, token string) (*github.Profile, error)
}

type ServerOpts struct {
	Logger *slog.Logger

	Accounts *service.AccountService
	Links    *service.LinkService
	Prefs    *service.PrefsService
	Provider IdentityProvider

	DBPing func(context.Context) error

	HeartbeatInterval time.Duration
	BroadcastDebounce time.Duration
}

type Server struct {
	logger *slog.Logger

	accounts *service.AccountService
	links    *service.LinkService
	prefs    *service.PrefsService
	provider IdentityProvider
	dbPing   func(context.Context) error

	registry *presence.Registry
	sched    *Scheduler

	heartbeatInterval time.Duration

	mu       sync.Mutex
	sessions map[string]*session

	baseCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	upgrader websocket.Upgrader
}

func NewServer(opts ServerOpts) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.BroadcastDebounce <= 0 {
		opts.BroadcastDebounce = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger:            logger,
		accounts:          opts.Accounts,
		links:             opts.Links,
		prefs:             opts.Prefs,
		provider:          opts.Provider,
		dbPing:            opts.DBPing,
		registry:          presence.NewRegistry(),
		heartbeatInterval: opts.HeartbeatInterval,
		sessions:          make(map[string]*session),
		baseCtx:           ctx,
		cancel:            cancel,
		done:              make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.sched = NewScheduler(opts.BroadcastDebounce, s.broadcastUpdate)
	return s
}

// Start launches the liveness monitor. Call Close to stop it.
func (s *Server) Start() {
	go s.runHeartbeat()
}

// Close stops the background loops and tears down every open session.
func (s *Server) Close() {
	s.cancel()
	close(s.done)
	s.sched.Stop()

	s.mu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		sess.close()
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	// "GET /path" method patterns need Go 1.22+; enforce the method here
	// so the routes behave the same on Go 1.21.
	mux.HandleFunc("/ws", requireGet(s.handleWS))
	mux.HandleFunc("/healthz", requireGet(s.handleHealthz))
	return mux
}

func requireGet(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if s.dbPing != nil {
		if err := s.dbPing(r.Context()); err != nil {
			status["status"] = "degraded"
			status["db"] = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			status["db"] = "ok"
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	sess := newSession(xid.New().String(), conn)
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.logger.Info("connection opened", "conn_id", sess.id, "remote", r.RemoteAddr)
	go s.readLoop(sess)
}

func (s *Server) session(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// readLoop is the single reader for one connection. Every inbound message is
// handled inline, so per-connection processing is naturally serialized;
// cross-connection state goes through the registry's lock.
func (s *Server) readLoop(sess *session) {
	defer s.teardown(sess)

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = sess.send(newError("malformed message"))
			continue
		}

		if env.Type == typeLogin {
			s.handleLogin(sess, data)
			continue
		}

		state, ok := s.stateOf(sess)
		if !ok {
			_ = sess.send(newError("login required"))
			continue
		}

		switch env.Type {
		case typeStatusUpdate:
			s.handleStatusUpdate(sess, data)
		case typeHeartbeat:
			s.handleHeartbeat(sess, data)
		case typeCreateInvite:
			s.handleCreateInvite(sess, state)
		case typeAcceptInvite:
			s.handleAcceptInvite(sess, state, data)
		case typeUpdatePreferences:
			s.handleUpdatePreferences(sess, state, data)
		case typeChatMessage:
			s.handleChatMessage(sess, state, data)
		case typeCreateAlias:
			s.handleCreateAlias(sess, data)
		case typeRemoveConnection:
			s.handleRemoveConnection(sess, state, data)
		default:
			_ = sess.send(newError("unknown message type: " + env.Type))
		}
	}
}

// teardown runs exactly once per connection, whether the client closed,
// the heartbeat evicted it, or the server is shutting down.
func (s *Server) teardown(sess *session) {
	sess.close()

	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()

	if s.registry.Remove(sess.id) {
		s.logger.Info("connection closed", "conn_id", sess.id)
		s.sched.Schedule()
	}
}

func (s *Server) stateOf(sess *session) (presence.ConnectionState, bool) {
	for _, state := range s.registry.Snapshot() {
		if state.ConnID == sess.id {
			return state, true
		}
	}
	return presence.ConnectionState{}, false
}

func (s *Server) handleLogin(sess *session, data []byte) {
	var msg loginMsg
	if err := decodePayload(data, &msg); err != nil {
		_ = sess.send(newError("malformed login"))
		return
	}
	username := strings.TrimSpace(msg.Username)
	if username == "" {
		_ = sess.send(newError("username is required"))
		return
	}

	now := time.Now()
	state := presence.ConnectionState{
		ConnID:        sess.id,
		Username:      username,
		Status:        presence.StatusOnline,
		Activity:      presence.ActivityIdle,
		IsAlive:       true,
		LastHeartbeat: now,
		UpdatedAt:     now,
	}

	if msg.Token != "" {
		profile, err := s.provider.FetchProfile(s.baseCtx, msg.Token)
		if err != nil {
			// Intentional trust downgrade: a present-but-invalid token
			// falls back to an unauthenticated guest session.
			s.logger.Warn("identity provider rejected token, continuing as guest",
				"conn_id", sess.id, "username", username, "err", err)
		} else {
			state.Username = profile.Login
			state.ExternalID = &profile.ID
			state.AvatarURL = profile.AvatarURL
			state.FollowerIDs = presence.IDSet(profile.FollowerIDs)
			state.FollowingIDs = presence.IDSet(profile.FollowingIDs)

			if s.accounts != nil {
				if err := s.accounts.SyncOnLogin(s.baseCtx, profile.ID, profile.Login, profile.AvatarURL, profile.FollowerIDs, profile.FollowingIDs); err != nil {
					s.logger.Error("account sync failed", "conn_id", sess.id, "username", profile.Login, "err", err)
				}
			}

			prefs, err := s.loadPrefs(profile.ID, msg.VisibilityMode)
			if err != nil {
				// Degraded login: connection stays up with no preferences.
				s.logger.Error("preferences unavailable", "conn_id", sess.id, "username", profile.Login, "err", err)
			} else {
				state.Prefs = &prefs
			}
		}
	}

	s.registry.Register(state)
	s.logger.Info("login",
		"conn_id", sess.id,
		"username", state.Username,
		"authenticated", state.ExternalID != nil,
	)
	s.sched.Schedule()
}

func (s *Server) loadPrefs(externalID int64, visibilityMode string) (domain.Preferences, error) {
	if s.prefs == nil {
		// Running without persistence: every authenticated session gets
		// in-memory defaults.
		prefs := domain.DefaultPreferences(externalID)
		if visibilityMode != "" {
			prefs.Visibility = domain.VisibilityMode(visibilityMode)
		}
		return prefs, nil
	}
	if visibilityMode != "" {
		return s.prefs.SetVisibility(s.baseCtx, externalID, domain.VisibilityMode(visibilityMode))
	}
	return s.prefs.Get(s.baseCtx, externalID)
}

func (s *Server) handleStatusUpdate(sess *session, data []byte) {
	var msg statusUpdateMsg
	if err := decodePayload(data, &msg); err != nil {
		_ = sess.send(newError("malformed statusUpdate"))
		return
	}

	s.registry.Update(sess.id, func(state *presence.ConnectionState) {
		if msg.Status != nil {
			state.Status = presence.Status(*msg.Status)
		}
		if msg.Activity != nil {
			state.Activity = *msg.Activity
		}
		if msg.Project != nil {
			state.Project = *msg.Project
		}
		if msg.Language != nil {
			state.Language = *msg.Language
		}
	})
	s.sched.Schedule()
}

func (s *Server) handleHeartbeat(sess *session, data []byte) {
	var msg heartbeatMsg
	if err := decodePayload(data, &msg); err != nil {
		return
	}
	s.registry.Update(sess.id, func(state *presence.ConnectionState) {
		state.IsAlive = true
		state.LastHeartbeat = time.Now()
	})
	_ = sess.send(heartbeatMsg{Type: typeHeartbeat, Ts: msg.Ts, Ack: true})
}

func (s *Server) handleCreateInvite(sess *session, state presence.ConnectionState) {
	if s.links == nil {
		_ = sess.send(newError("social features unavailable"))
		return
	}
	code, ttl, err := s.links.CreateInvite(s.baseCtx, state.Username)
	if err != nil {
		s.logger.Error("invite creation failed", "conn_id", sess.id, "username", state.Username, "err", err)
		_ = sess.send(newError("could not create invite"))
		return
	}
	_ = sess.send(inviteCreatedMsg{Type: typeInviteCreated, Code: code, ExpiresIn: int64(ttl.Seconds())})
}

func (s *Server) handleAcceptInvite(sess *session, state presence.ConnectionState, data []byte) {
	var msg acceptInviteMsg
	if err := decodePayload(data, &msg); err != nil {
		_ = sess.send(newError("malformed acceptInvite"))
		return
	}
	if s.links == nil {
		_ = sess.send(newError("social features unavailable"))
		return
	}

	creator, err := s.links.AcceptInvite(s.baseCtx, msg.Code, state.Username)
	if err != nil {
		if !isInvitePolicyError(err) {
			s.logger.Error("invite redemption failed", "conn_id", sess.id, "err", err)
		}
		_ = sess.send(inviteAcceptedMsg{Type: typeInviteAccepted, Success: false, Error: domain.InviteMessage(err)})
		return
	}

	_ = sess.send(inviteAcceptedMsg{Type: typeInviteAccepted, Success: true, FriendUsername: creator})
	s.notifyFriendJoined(creator, state.Username)
	s.sched.Schedule()
}

func isInvitePolicyError(err error) bool {
	return errors.Is(err, domain.ErrInviteNotFound) ||
		errors.Is(err, domain.ErrInviteUsed) ||
		errors.Is(err, domain.ErrInviteExpired) ||
		errors.Is(err, domain.ErrSelfInvite)
}

// notifyFriendJoined pushes the acceptor's presence to every live session of
// the invite creator.
func (s *Server) notifyFriendJoined(creator, acceptor string) {
	snap := s.registry.Snapshot()
	reps := presence.Representatives(snap)
	rep, ok := reps[strings.ToLower(acceptor)]
	if !ok {
		return
	}
	user := presence.FilterFields(rep)

	for _, state := range snap {
		if !strings.EqualFold(state.Username, creator) {
			continue
		}
		if sess := s.session(state.ConnID); sess != nil {
			_ = sess.send(friendJoinedMsg{Type: typeFriendJoined, User: user})
		}
	}
}

func (s *Server) handleUpdatePreferences(sess *session, state presence.ConnectionState, data []byte) {
	var msg updatePreferencesMsg
	if err := decodePayload(data, &msg); err != nil {
		_ = sess.send(newError("malformed updatePreferences"))
		return
	}
	if state.ExternalID == nil {
		_ = sess.send(newError("guest sessions have no preferences"))
		return
	}
	if s.prefs == nil {
		_ = sess.send(newError("preferences unavailable"))
		return
	}

	prefs := domain.Preferences{
		ExternalID:    *state.ExternalID,
		Visibility:    domain.VisibilityMode(msg.Preferences.VisibilityMode),
		ShareProject:  msg.Preferences.ShareProject,
		ShareLanguage: msg.Preferences.ShareLanguage,
		ShareActivity: msg.Preferences.ShareActivity,
	}
	if err := s.prefs.Update(s.baseCtx, prefs); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			_ = sess.send(newError("unknown visibility mode"))
		} else {
			s.logger.Error("preference update failed", "conn_id", sess.id, "err", err)
			_ = sess.send(newError("could not update preferences"))
		}
		return
	}

	s.registry.Update(sess.id, func(st *presence.ConnectionState) {
		st.Prefs = &prefs
	})
	s.sched.Schedule()
}

func (s *Server) handleChatMessage(sess *session, state presence.ConnectionState, data []byte) {
	var msg chatSendMsg
	if err := decodePayload(data, &msg); err != nil {
		_ = sess.send(newError("malformed chatMessage"))
		return
	}
	if strings.TrimSpace(msg.To) == "" {
		_ = sess.send(newError("chat recipient is required"))
		return
	}
	s.relayChat(state.Username, msg.To, msg.Message)
}

func (s *Server) handleCreateAlias(sess *session, data []byte) {
	var msg createAliasMsg
	if err := decodePayload(data, &msg); err != nil {
		_ = sess.send(newError("malformed createAlias"))
		return
	}
	if s.links == nil {
		_ = sess.send(newError("social features unavailable"))
		return
	}
	if err := s.links.CreateAlias(s.baseCtx, msg.GithubUsername, msg.GuestUsername, msg.GithubID); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			_ = sess.send(newError("invalid alias: " + err.Error()))
		} else {
			s.logger.Error("alias creation failed", "conn_id", sess.id, "err", err)
			_ = sess.send(newError("could not create alias"))
		}
		return
	}
	s.sched.Schedule()
}

func (s *Server) handleRemoveConnection(sess *session, state presence.ConnectionState, data []byte) {
	var msg removeConnectionMsg
	if err := decodePayload(data, &msg); err != nil || strings.TrimSpace(msg.Username) == "" {
		_ = sess.send(newError("malformed removeConnection"))
		return
	}
	if s.links == nil {
		_ = sess.send(newError("social features unavailable"))
		return
	}
	if err := s.links.RemoveLink(s.baseCtx, state.Username, msg.Username); err != nil {
		s.logger.Error("unlink failed", "conn_id", sess.id, "err", err)
		_ = sess.send(newError("could not remove connection"))
		return
	}
	s.sched.Schedule()
}
