package session

import (
	"testing"
	"time"
)

// TestManagerGetOrCreate tests session creation and lookup.
func TestManagerGetOrCreate(t *testing.T) {
	m := NewManager()

	a := m.GetOrCreate("")
	if a.ID == "" {
		t.Fatal("created session has no ID")
	}

	same := m.GetOrCreate(a.ID)
	if same != a {
		t.Error("GetOrCreate() did not return the existing session")
	}

	other := m.GetOrCreate("unknown-id")
	if other == a {
		t.Error("unknown ID returned an existing session")
	}
	if other.ID == "unknown-id" {
		t.Error("unknown ID was adopted instead of replaced")
	}

	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
}

// TestManagerIsolation tests that sessions do not share state.
func TestManagerIsolation(t *testing.T) {
	m := NewManager()
	a := m.Create()
	b := m.Create()

	a.Store.Dispatch(Event{Kind: EventTextChanged, Text: "a's text"})
	if got := b.Store.Snapshot().Text; got != "" {
		t.Errorf("session b saw session a's text: %q", got)
	}
}

// TestManagerPruneIdle tests idle expiry with a fake clock.
func TestManagerPruneIdle(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }

	var prunedIDs []string
	m := NewManager(
		WithIdleExpiry(time.Hour),
		WithClock(clock),
		WithPruneHook(func(id string) { prunedIDs = append(prunedIDs, id) }),
	)

	stale := m.Create()
	now = now.Add(30 * time.Minute)
	fresh := m.Create()

	now = now.Add(45 * time.Minute)
	if pruned := m.PruneIdle(); pruned != 1 {
		t.Fatalf("PruneIdle() = %d, want 1", pruned)
	}
	if len(prunedIDs) != 1 || prunedIDs[0] != stale.ID {
		t.Errorf("prune hook saw %v, want [%s]", prunedIDs, stale.ID)
	}
	if _, ok := m.Get(stale.ID); ok {
		t.Error("stale session still retrievable")
	}
	if _, ok := m.Get(fresh.ID); !ok {
		t.Error("fresh session was pruned")
	}
}

// TestSessionLimiter tests that each session gets its own limiter.
func TestSessionLimiter(t *testing.T) {
	m := NewManager(WithRateLimit(1, 1))
	a := m.Create()
	b := m.Create()

	if !a.Limiter.Allow() {
		t.Fatal("first request denied")
	}
	if a.Limiter.Allow() {
		t.Error("burst of 1 allowed a second immediate request")
	}
	if !b.Limiter.Allow() {
		t.Error("session b throttled by session a's usage")
	}
}
