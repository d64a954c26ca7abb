package relay

import (
	"sort"
	"strings"

	"presenced/internal/presence"
)

// broadcastUpdate recomputes and pushes the filtered user list to every open
// connection. Runs on the scheduler's timer goroutine; it only reads registry
// snapshots, so no lock is held across the store lookups or the sends.
//
// Manual-connection checks are memoized per (receiver, target) username pair
// for the cycle, collapsing the per-connection fan-out back to one store
// round trip per user pair.
func (s *Server) broadcastUpdate() {
	snap := s.registry.Snapshot()
	if len(snap) == 0 {
		return
	}
	reps := presence.Representatives(snap)

	type pair struct{ viewer, target string }
	linked := make(map[pair]bool)

	repKeys := make([]string, 0, len(reps))
	for key := range reps {
		repKeys = append(repKeys, key)
	}
	sort.Strings(repKeys)

	sent := 0
	for _, receiver := range snap {
		sess := s.session(receiver.ConnID)
		if sess == nil {
			continue
		}
		viewerKey := strings.ToLower(receiver.Username)

		users := make([]presence.PublicUser, 0, len(reps))
		for _, key := range repKeys {
			if key == viewerKey {
				continue
			}
			target := reps[key]

			p := pair{viewer: viewerKey, target: key}
			isLinked, seen := linked[p]
			if !seen && s.links != nil {
				var err error
				isLinked, err = s.links.IsManuallyConnected(s.baseCtx, receiver.Username, target.Username)
				if err != nil {
					// Fail the one pair, not the broadcast.
					s.logger.Warn("manual connection check failed",
						"viewer", receiver.Username, "target", target.Username, "err", err)
					isLinked = false
				}
				linked[p] = isLinked
			}

			if isLinked || presence.CanSee(receiver.ExternalID, target) {
				users = append(users, presence.FilterFields(target))
			}
		}

		// A send to a closing connection is skipped, not retried; the next
		// broadcast corrects it once the registry reflects the close.
		if err := sess.send(userListMsg{Type: typeUserList, Users: users}); err == nil {
			sent++
		}
	}

	s.logger.Debug("broadcast complete", "connections", len(snap), "users", len(reps), "sent", sent)
}
