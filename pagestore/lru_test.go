package pagestore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newLRUCache(2)
	var a, b, d [PageSize]byte
	a[0], b[0], d[0] = 1, 2, 3

	c.put(1, a)
	c.put(2, b)
	c.get(1) // touch 1, making 2 the LRU entry
	c.put(3, d)

	_, ok := c.get(2)
	require.False(t, ok, "page 2 should have been evicted")

	v, ok := c.get(1)
	require.True(t, ok)
	require.Equal(t, a, v)
}

func TestLRUCacheStats(t *testing.T) {
	c := newLRUCache(4)
	var a [PageSize]byte
	c.put(1, a)
	c.get(1)
	c.get(2)

	hits, misses, size, capacity := c.stats()
	require.Equal(t, uint64(1), hits)
	require.Equal(t, uint64(1), misses)
	require.Equal(t, 1, size)
	require.Equal(t, 4, capacity)
	require.InDelta(t, 0.5, c.hitRate(), 0.0001)
}
