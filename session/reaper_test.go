package session

import (
	"context"
	"testing"
	"time"
)

func TestStartReaperSweepsExpiredSessions(t *testing.T) {
	clock := newTestClock()
	store, err := NewMemoryStore(Options{InactivityTimeout: time.Minute, Now: clock.Now})
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	createFor(t, store, "u-1", "a")
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartReaper(ctx, store, 5*time.Millisecond, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		n := len(store.sessions)
		store.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("reaper did not remove the expired session")
}
