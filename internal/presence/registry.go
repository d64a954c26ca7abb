package presence

import (
	"strings"
	"sync"
	"time"
)

// Registry is the single source of truth for "who is online now". One mutex
// guards the whole map: aggregation needs a consistent multi-field snapshot,
// so per-field locking is deliberately off the table.
type Registry struct {
	mu     sync.Mutex
	states map[string]*ConnectionState
}

func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*ConnectionState)}
}

func (r *Registry) Register(state ConnectionState) {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[state.ConnID] = &state
}

// Update applies fn to the state owned by connID under the registry lock.
// Returns false if the connection is no longer registered.
func (r *Registry) Update(connID string, fn func(*ConnectionState)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[connID]
	if !ok {
		return false
	}
	fn(state)
	state.UpdatedAt = time.Now()
	return true
}

func (r *Registry) Remove(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[connID]; !ok {
		return false
	}
	delete(r.states, connID)
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// Snapshot returns value copies of every live state, taken under one lock
// acquisition so no mutation interleaves a partially-updated entry in.
func (r *Registry) Snapshot() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnectionState, 0, len(r.states))
	for _, state := range r.states {
		out = append(out, *state)
	}
	return out
}

// Representatives reduces a snapshot to one state per username
// (case-insensitive). The winner is the session with the highest activity
// priority; ties go to the most recently updated session, so the choice is
// stable across consecutive broadcasts.
func Representatives(states []ConnectionState) map[string]ConnectionState {
	reps := make(map[string]ConnectionState)
	for _, state := range states {
		key := strings.ToLower(state.Username)
		cur, ok := reps[key]
		if !ok {
			reps[key] = state
			continue
		}
		sp, cp := ActivityPriority(state.Activity), ActivityPriority(cur.Activity)
		if sp > cp || (sp == cp && state.UpdatedAt.After(cur.UpdatedAt)) {
			reps[key] = state
		}
	}
	return reps
}
