package relay

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var errSessionClosed = errors.New("session closed")

// session wraps one websocket connection. gorilla/websocket allows a single
// concurrent writer, so every outbound frame goes through writeMu; the read
// side stays exclusive to the connection's own goroutine.
type session struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  bool
}

func newSession(id string, conn *websocket.Conn) *session {
	return &session{id: id, conn: conn}
}

// send marshals v onto the wire. Sends to a closed session fail with
// errSessionClosed; callers on the broadcast path skip such errors silently.
func (s *session) send(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	return s.conn.WriteJSON(v)
}

// close shuts the underlying connection down, unblocking the read loop.
// Idempotent.
func (s *session) close() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.conn.Close()
}
