package relay

import (
	"strings"
	"time"

	"presenced/internal/presence"
)

// runHeartbeat is the liveness monitor: a fixed-period sweep with no
// per-connection backoff. A connection must answer every probe within one
// full period or it is assumed dead.
func (s *Server) runHeartbeat() {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweepHeartbeats()
		}
	}
}

func (s *Server) sweepHeartbeats() {
	now := time.Now().UnixMilli()
	for _, state := range s.registry.Snapshot() {
		sess := s.session(state.ConnID)
		if sess == nil {
			continue
		}

		if !state.IsAlive {
			// Missed the previous probe: treat as a timeout. Closing the
			// socket unblocks the read loop, which runs the same cleanup
			// as a voluntary disconnect.
			s.logger.Info("heartbeat timeout, evicting",
				"conn_id", state.ConnID,
				"username", state.Username,
				"last_heartbeat", state.LastHeartbeat,
			)
			sess.close()
			continue
		}

		s.registry.Update(state.ConnID, func(st *presence.ConnectionState) {
			st.IsAlive = false
		})
		_ = sess.send(heartbeatMsg{Type: typeHeartbeat, Ts: now})
	}
}

// relayChat is the message router: best-effort delivery of a chat payload to
// every live session of the recipient. No acknowledgement, no persistence,
// no retry — an offline recipient means a silent drop.
func (s *Server) relayChat(from, to, message string) {
	message = truncateRunes(message, 500)
	out := chatDeliverMsg{
		Type:      typeChatMessage,
		From:      from,
		To:        to,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}

	delivered := 0
	for _, state := range s.registry.Snapshot() {
		if !strings.EqualFold(state.Username, to) {
			continue
		}
		if sess := s.session(state.ConnID); sess != nil {
			if err := sess.send(out); err == nil {
				delivered++
			}
		}
	}
	s.logger.Debug("chat relayed", "from", from, "to", to, "sessions", delivered)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
