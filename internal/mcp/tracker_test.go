package mcp

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestViewTracker(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newViewTracker(2 * time.Minute)
	tr.now = func() time.Time { return now }

	assert.False(t, tr.Viewed("s1"))
	tr.Record("s1")
	assert.True(t, tr.Viewed("s1"))
	assert.False(t, tr.Viewed("s2"), "sessions are tracked separately")

	now = now.Add(3 * time.Minute)
	assert.False(t, tr.Viewed("s1"), "views expire after the window")
	assert.Empty(t, tr.views, "expired entries are dropped on read")
}

func TestViewTracker_PurgesWhenLarge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newViewTracker(time.Minute)
	tr.now = func() time.Time { return now }

	for i := range 1000 {
		tr.Record(fmt.Sprintf("old-%d", i))
	}
	now = now.Add(2 * time.Minute)
	tr.Record("fresh")

	assert.Len(t, tr.views, 1)
	assert.True(t, tr.Viewed("fresh"))
}
