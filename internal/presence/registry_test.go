package presence

import (
	"testing"
	"time"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()

	r.Register(ConnectionState{ConnID: "c1", Username: "alice", Status: StatusOnline})
	r.Register(ConnectionState{ConnID: "c2", Username: "bob", Status: StatusOnline})

	if got := r.Len(); got != 2 {
		t.Fatalf("Len: got %d", got)
	}

	ok := r.Update("c1", func(s *ConnectionState) {
		s.Activity = ActivityDebugging
		s.Project = "relay"
	})
	if !ok {
		t.Fatal("Update: connection not found")
	}

	snap := r.Snapshot()
	var found bool
	for _, s := range snap {
		if s.ConnID == "c1" {
			found = true
			if s.Activity != ActivityDebugging || s.Project != "relay" {
				t.Fatalf("snapshot state: %+v", s)
			}
		}
	}
	if !found {
		t.Fatal("c1 missing from snapshot")
	}

	if !r.Remove("c1") {
		t.Fatal("Remove: expected true")
	}
	if r.Remove("c1") {
		t.Fatal("Remove: expected false on second removal")
	}
	if got := r.Len(); got != 1 {
		t.Fatalf("Len after remove: got %d", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Register(ConnectionState{ConnID: "c1", Username: "alice", Activity: ActivityIdle})

	snap := r.Snapshot()
	snap[0].Activity = ActivityCoding

	again := r.Snapshot()
	if again[0].Activity != ActivityIdle {
		t.Fatalf("registry state mutated through snapshot: %q", again[0].Activity)
	}
}

func TestRepresentativesPicksHighestPriority(t *testing.T) {
	now := time.Now()
	states := []ConnectionState{
		{ConnID: "c1", Username: "Uma", Activity: ActivityIdle, UpdatedAt: now},
		{ConnID: "c2", Username: "uma", Activity: ActivityCoding, UpdatedAt: now.Add(-time.Minute)},
		{ConnID: "c3", Username: "bob", Activity: ActivityHidden, UpdatedAt: now},
	}

	reps := Representatives(states)
	if len(reps) != 2 {
		t.Fatalf("reps: got %d entries", len(reps))
	}
	if got := reps["uma"].Activity; got != ActivityCoding {
		t.Fatalf("uma representative: got %q, want %q", got, ActivityCoding)
	}
	if got := reps["bob"].ConnID; got != "c3" {
		t.Fatalf("bob representative: got %q", got)
	}
}

func TestRepresentativesTieGoesToMostRecent(t *testing.T) {
	now := time.Now()
	states := []ConnectionState{
		{ConnID: "old", Username: "uma", Activity: ActivityCoding, Project: "old", UpdatedAt: now.Add(-time.Minute)},
		{ConnID: "new", Username: "uma", Activity: ActivityCoding, Project: "new", UpdatedAt: now},
	}

	reps := Representatives(states)
	if got := reps["uma"].ConnID; got != "new" {
		t.Fatalf("tie-break: got %q, want most recent", got)
	}
}

func TestActivityPriorityOrder(t *testing.T) {
	order := []string{ActivityHidden, ActivityIdle, ActivityReading, ActivityCoding, ActivityDebugging}
	for i := 1; i < len(order); i++ {
		if ActivityPriority(order[i-1]) >= ActivityPriority(order[i]) {
			t.Fatalf("priority order broken between %q and %q", order[i-1], order[i])
		}
	}
	if ActivityPriority("Refactoring") != ActivityPriority(ActivityIdle) {
		t.Fatal("unknown activity should rank alongside Idle")
	}
}
