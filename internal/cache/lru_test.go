package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2, 0)
	c.Add("a", 1)
	c.Add("b", 2)
	_, _ = c.Get("a")
	c.Add("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently used")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())
}

func TestEntriesExpire(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[int, struct{}](10, 2*time.Second)
	c.now = func() time.Time { return now }

	assert.False(t, c.Seen(42))
	assert.True(t, c.Seen(42))

	now = now.Add(1999 * time.Millisecond)
	assert.True(t, c.Seen(42))

	now = now.Add(time.Millisecond)
	assert.False(t, c.Seen(42), "expired exactly at ttl")
	assert.True(t, c.Seen(42))
}

func TestNewPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int, int](0, time.Second) })
}
