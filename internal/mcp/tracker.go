package mcp

import (
	"sync"
	"time"
)

// viewTracker records recent warehouse_status reads per MCP session so
// submit_command can nudge callers that send raw commands without looking
// at the current state first.
//
// In-memory and per-process. The nudge is advisory, never a gate.
type viewTracker struct {
	mu     sync.Mutex
	views  map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func newViewTracker(window time.Duration) *viewTracker {
	return &viewTracker{
		views:  make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// Record notes that session read the status.
func (t *viewTracker) Record(session string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.views[session] = t.now()

	// Lazy cleanup keeps the map bounded across many short sessions.
	if len(t.views) > 1000 {
		t.purgeStale()
	}
}

// Viewed reports whether session read the status within the window.
func (t *viewTracker) Viewed(session string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.views[session]
	if !ok {
		return false
	}
	if t.now().Sub(ts) > t.window {
		delete(t.views, session)
		return false
	}
	return true
}

// purgeStale removes entries older than the window. Must be called with mu held.
func (t *viewTracker) purgeStale() {
	now := t.now()
	for k, ts := range t.views {
		if now.Sub(ts) > t.window {
			delete(t.views, k)
		}
	}
}
