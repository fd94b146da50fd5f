package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/designlens/internal/application"
)

func TestTTLExpiry(t *testing.T) {
	clock := application.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c, err := NewTTL[string, int](10, time.Minute, clock)
	require.NoError(t, err)

	c.Set("k", 1)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Advance(59 * time.Second)
	_, ok = c.Get("k")
	assert.True(t, ok, "entry should survive until ttl")

	clock.Advance(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry should expire at ttl")
	assert.Equal(t, 0, c.Len())
}

func TestTTLEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewTTL[string, string](2, time.Minute, nil)
	require.NoError(t, err)

	c.Set("a", "aa")
	c.Set("b", "bb")
	_, ok := c.Get("a")
	require.True(t, ok)
	c.Set("c", "cc")

	_, ok = c.Get("b")
	assert.False(t, ok, "b should be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestTTLInvalidate(t *testing.T) {
	c, err := NewTTL[string, int](4, time.Minute, nil)
	require.NoError(t, err)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)

	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())
}

func TestTTLNilSafe(t *testing.T) {
	var c *TTL[string, int]
	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)
	c.Invalidate("a")
	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())
}
