package usecases

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache[string, int](10 * time.Second).WithClock(func() time.Time { return now })

	c.Set("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(11 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCacheWithoutTTLKeepsEntriesUntilInvalidate(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c := NewCache[string, string](0).WithClock(func() time.Time { return now })
	c.Set("k", "v")
	now = now.Add(24 * time.Hour)

	_, ok := c.Get("k")
	assert.True(t, ok)

	c.Invalidate()
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestCacheSetIfAbsent(t *testing.T) {
	t.Parallel()

	c := NewCache[string, string](0)
	assert.True(t, c.SetIfAbsent("alias", "first"))
	assert.False(t, c.SetIfAbsent("alias", "second"))

	v, _ := c.Get("alias")
	assert.Equal(t, "first", v)
}
