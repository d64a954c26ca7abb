package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"presenced/internal/presence"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffSchedule(t *testing.T) {
	base := time.Second
	max := 60 * time.Second

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for attempt, d := range want {
		assert.Equal(t, d, backoffDelay(attempt, base, max), "attempt %d", attempt)
	}
}

func TestBackoffCapNotExceeded(t *testing.T) {
	// Large attempt numbers must not overflow past the cap.
	assert.Equal(t, 60*time.Second, backoffDelay(100, time.Second, 60*time.Second))
}

// relayStub is a minimal websocket endpoint for driving the client.
type relayStub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn

	onMessage func(conn *websocket.Conn, data []byte)
}

func (s *relayStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if s.onMessage != nil {
			s.onMessage(conn, data)
		}
	}
}

func (s *relayStub) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestClientLoginAndCallbacks(t *testing.T) {
	stub := &relayStub{}
	gotLogin := make(chan map[string]any, 1)
	stub.onMessage = func(conn *websocket.Conn, data []byte) {
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg["type"] == "login" {
			gotLogin <- msg
			_ = conn.WriteJSON(map[string]any{
				"type":  "userList",
				"users": []presence.PublicUser{{Username: "bob", Status: presence.StatusOnline}},
			})
			_ = conn.WriteJSON(map[string]any{
				"type": "chatMessage", "from": "bob", "to": "alice", "message": "hi", "timestamp": 123,
			})
		}
	}
	ts := httptest.NewServer(stub)
	defer ts.Close()

	users := make(chan []presence.PublicUser, 1)
	chats := make(chan ChatMessage, 1)
	c := New(Options{
		URL:      wsURL(ts),
		Username: "alice",
		Token:    "tok-alice",
		OnUserList: func(u []presence.PublicUser) {
			select {
			case users <- u:
			default:
			}
		},
		OnChat: func(m ChatMessage) {
			select {
			case chats <- m:
			default:
			}
		},
	})
	c.Connect(testContext(t))
	defer c.Disconnect()

	select {
	case msg := <-gotLogin:
		assert.Equal(t, "alice", msg["username"])
		assert.Equal(t, "tok-alice", msg["token"])
	case <-time.After(2 * time.Second):
		t.Fatal("no login received")
	}

	select {
	case u := <-users:
		require.Len(t, u, 1)
		assert.Equal(t, "bob", u[0].Username)
	case <-time.After(2 * time.Second):
		t.Fatal("no userList callback")
	}

	select {
	case m := <-chats:
		assert.Equal(t, "bob", m.From)
		assert.Equal(t, "hi", m.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("no chat callback")
	}
}

func TestClientEchoesHeartbeatProbes(t *testing.T) {
	stub := &relayStub{}
	echoes := make(chan int64, 1)
	stub.onMessage = func(conn *websocket.Conn, data []byte) {
		var msg struct {
			Type string `json:"type"`
			Ts   int64  `json:"ts"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		switch msg.Type {
		case "login":
			_ = conn.WriteJSON(map[string]any{"type": "hb", "ts": int64(42)})
		case "hb":
			select {
			case echoes <- msg.Ts:
			default:
			}
		}
	}
	ts := httptest.NewServer(stub)
	defer ts.Close()

	c := New(Options{URL: wsURL(ts), Username: "alice"})
	c.Connect(testContext(t))
	defer c.Disconnect()

	select {
	case got := <-echoes:
		assert.Equal(t, int64(42), got)
	case <-time.After(2 * time.Second):
		t.Fatal("probe was not echoed")
	}
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	stub := &relayStub{}
	logins := make(chan struct{}, 4)
	stub.onMessage = func(_ *websocket.Conn, data []byte) {
		var msg struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == "login" {
			logins <- struct{}{}
		}
	}
	ts := httptest.NewServer(stub)
	defer ts.Close()

	var mu sync.Mutex
	var transitions []Status
	c := New(Options{
		URL:         wsURL(ts),
		Username:    "alice",
		BackoffBase: 10 * time.Millisecond,
		OnStatusChange: func(s Status) {
			mu.Lock()
			transitions = append(transitions, s)
			mu.Unlock()
		},
	})
	c.Connect(testContext(t))
	defer c.Disconnect()

	select {
	case <-logins:
	case <-time.After(2 * time.Second):
		t.Fatal("no initial login")
	}

	stub.closeAll()

	// The loop must dial again and re-send login without intervention.
	select {
	case <-logins:
	case <-time.After(2 * time.Second):
		t.Fatal("no login after reconnect")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, transitions, StatusDisconnected)
	assert.Equal(t, StatusConnected, transitions[len(transitions)-1])
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	failed := make(chan struct{})
	c := New(Options{
		URL:         "ws://127.0.0.1:1", // nothing listens here
		Username:    "alice",
		BackoffBase: time.Millisecond,
		BackoffCap:  2 * time.Millisecond,
		MaxAttempts: 3,
		OnStatusChange: func(s Status) {
			if s == StatusFailed {
				close(failed)
			}
		},
	})
	c.Connect(testContext(t))

	select {
	case <-failed:
	case <-time.After(5 * time.Second):
		t.Fatal("client never entered the failed state")
	}
	assert.Equal(t, StatusFailed, c.Status())
	require.Equal(t, ErrNotConnected, c.Send(map[string]any{"type": "hb"}))
}

func TestReconnectResetsAttemptCounter(t *testing.T) {
	stub := &relayStub{}
	logins := make(chan struct{}, 1)
	stub.onMessage = func(_ *websocket.Conn, data []byte) {
		var msg struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == "login" {
			select {
			case logins <- struct{}{}:
			default:
			}
		}
	}
	ts := httptest.NewServer(stub)
	defer ts.Close()

	failed := make(chan struct{})
	var once sync.Once
	c := New(Options{
		URL:         "ws://127.0.0.1:1",
		Username:    "alice",
		BackoffBase: time.Millisecond,
		BackoffCap:  2 * time.Millisecond,
		MaxAttempts: 2,
		OnStatusChange: func(s Status) {
			if s == StatusFailed {
				once.Do(func() { close(failed) })
			}
		},
	})
	c.Connect(testContext(t))
	select {
	case <-failed:
	case <-time.After(5 * time.Second):
		t.Fatal("client never gave up")
	}

	// Point at the live server and retry manually; the exhausted counter
	// must not block the fresh attempt.
	c.opts.URL = wsURL(ts)
	c.Reconnect(testContext(t))
	defer c.Disconnect()

	select {
	case <-logins:
	case <-time.After(2 * time.Second):
		t.Fatal("manual reconnect did not establish a session")
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
