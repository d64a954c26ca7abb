// Package client connects an editor integration to a presence relay server
// and keeps the connection alive across network failures.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"presenced/internal/presence"

	"github.com/gorilla/websocket"
)

// Status describes the connection lifecycle as seen by the editor layer.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	// StatusFailed means the retry budget is spent; only an explicit
	// Reconnect leaves this state.
	StatusFailed Status = "failed"
)

const (
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 60 * time.Second
	defaultMaxAttempts = 10
)

var ErrNotConnected = errors.New("not connected")

// ChatMessage is an incoming chat envelope.
type ChatMessage struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// StatusUpdate is a partial presence update; nil fields are left untouched
// on the server.
type StatusUpdate struct {
	Status   *string `json:"status,omitempty"`
	Activity *string `json:"activity,omitempty"`
	Project  *string `json:"project,omitempty"`
	Language *string `json:"language,omitempty"`
}

// Options configures a Client. URL and Username are required.
type Options struct {
	URL            string
	Username       string
	Token          string
	VisibilityMode string

	Logger *slog.Logger
	Dialer *websocket.Dialer

	OnUserList     func([]presence.PublicUser)
	OnChat         func(ChatMessage)
	OnStatusChange func(Status)
	OnError        func(message string)
	// OnEnvelope receives every message not covered by a dedicated
	// callback (inviteCreated, inviteAccepted, friendJoined, ...).
	OnEnvelope func(messageType string, payload json.RawMessage)

	// Backoff knobs; zero values take the defaults above.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int
}

// Client maintains one relay connection and redials with exponential backoff
// when it drops. All exported methods are safe for concurrent use.
type Client struct {
	opts   Options
	logger *slog.Logger
	dialer *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	status   Status
	attempts int
	running  bool
	cancel   context.CancelFunc
}

func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = defaultBackoffCap
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &Client{
		opts:   opts,
		logger: opts.Logger,
		dialer: opts.Dialer,
		status: StatusDisconnected,
	}
}

// Connect starts the connection loop. It returns immediately; connection
// progress is reported through OnStatusChange. Calling Connect while the
// loop is already running is a no-op.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.run(ctx)
}

// Reconnect resets the attempt counter and restarts the loop if it gave up.
// A manual retry always gets a fresh backoff schedule.
func (c *Client) Reconnect(ctx context.Context) {
	c.mu.Lock()
	c.attempts = 0
	restart := !c.running
	if restart {
		c.running = true
		ctx, c.cancel = context.WithCancel(ctx)
	}
	c.mu.Unlock()

	if restart {
		go c.run(ctx)
	}
}

// Disconnect stops the loop and closes the connection. No reconnection is
// attempted until Connect or Reconnect is called again.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.conn = nil
	c.running = false
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.setStatus(StatusDisconnected)
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Send writes one envelope to the relay. It fails with ErrNotConnected when
// no connection is live; the caller decides whether the message is worth
// resending after reconnection.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// UpdateStatus sends a partial presence update.
func (c *Client) UpdateStatus(update StatusUpdate) error {
	return c.Send(struct {
		Type string `json:"type"`
		StatusUpdate
	}{Type: "statusUpdate", StatusUpdate: update})
}

// SendChat relays a chat message to another user.
func (c *Client) SendChat(to, message string) error {
	return c.Send(map[string]any{"type": "chatMessage", "to": to, "message": message})
}

func (c *Client) run(ctx context.Context) {
	for {
		c.mu.Lock()
		attempt := c.attempts
		c.mu.Unlock()

		if attempt >= c.opts.MaxAttempts {
			c.logger.Error("giving up after repeated connection failures", "attempts", attempt)
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			c.setStatus(StatusFailed)
			return
		}

		c.setStatus(StatusConnecting)
		conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			c.attempts++
			attempt = c.attempts
			c.mu.Unlock()

			delay := backoffDelay(attempt-1, c.opts.BackoffBase, c.opts.BackoffCap)
			c.logger.Warn("connect failed", "err", err, "attempt", attempt, "retryIn", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.attempts = 0
		c.mu.Unlock()
		c.setStatus(StatusConnected)

		if err := c.login(); err != nil {
			c.logger.Warn("login send failed", "err", err)
		}

		err = c.readLoop(conn)
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		c.logger.Info("connection lost, reconnecting", "err", err)
		c.setStatus(StatusDisconnected)
	}
}

func (c *Client) login() error {
	msg := map[string]any{"type": "login", "username": c.opts.Username}
	if c.opts.Token != "" {
		msg["token"] = c.opts.Token
	}
	if c.opts.VisibilityMode != "" {
		msg["visibilityMode"] = c.opts.VisibilityMode
	}
	return c.Send(msg)
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(conn, data)
	}
}

func (c *Client) dispatch(conn *websocket.Conn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("malformed server message", "err", err)
		return
	}

	switch env.Type {
	case "userList":
		var msg struct {
			Users []presence.PublicUser `json:"users"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("malformed userList", "err", err)
			return
		}
		if c.opts.OnUserList != nil {
			c.opts.OnUserList(msg.Users)
		}
	case "chatMessage":
		var msg ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("malformed chatMessage", "err", err)
			return
		}
		if c.opts.OnChat != nil {
			c.opts.OnChat(msg)
		}
	case "hb":
		var msg struct {
			Ts  int64 `json:"ts"`
			Ack bool  `json:"ack"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		if !msg.Ack {
			// Liveness probe; echo it so the server keeps us registered.
			c.writeMu.Lock()
			err := conn.WriteJSON(map[string]any{"type": "hb", "ts": msg.Ts})
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warn("heartbeat echo failed", "err", err)
			}
		}
	case "error":
		var msg struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.logger.Warn("server error", "message", msg.Message)
		if c.opts.OnError != nil {
			c.opts.OnError(msg.Message)
		}
	default:
		if c.opts.OnEnvelope != nil {
			c.opts.OnEnvelope(env.Type, json.RawMessage(data))
		}
	}
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()

	if c.opts.OnStatusChange != nil {
		c.opts.OnStatusChange(s)
	}
}

// backoffDelay returns the wait before retry number attempt (zero-based):
// base, 2*base, 4*base, ... capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
