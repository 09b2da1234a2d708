package indexcache

import (
	"fmt"
	"testing"
	"time"

	"arcane-scribe/internal/vectorindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tinyIndex(t *testing.T, id string) *vectorindex.Index {
	t.Helper()
	ix, err := vectorindex.Build([]vectorindex.Chunk{{ID: id, Vector: []float32{1, 0}}})
	require.NoError(t, err)
	return ix
}

func TestCacheEvictsFirstInserted(t *testing.T) {
	c := NewCache(5, nil)
	for i := 0; i < 5; i++ {
		_, evicted := c.Put(fmt.Sprintf("u%d#srd", i), tinyIndex(t, "x"))
		assert.False(t, evicted)
	}

	evictedKey, evicted := c.Put("u5#srd", tinyIndex(t, "x"))
	assert.True(t, evicted)
	assert.Equal(t, "u0#srd", evictedKey)
	assert.Equal(t, 5, c.Len())

	_, ok := c.Get("u0#srd")
	assert.False(t, ok)
	_, ok = c.Get("u5#srd")
	assert.True(t, ok)
}

func TestCacheHitDoesNotRefreshPosition(t *testing.T) {
	c := NewCache(2, nil)
	c.Put("a", tinyIndex(t, "a"))
	c.Put("b", tinyIndex(t, "b"))

	_, ok := c.Get("a")
	require.True(t, ok)

	evictedKey, evicted := c.Put("c", tinyIndex(t, "c"))
	assert.True(t, evicted)
	assert.Equal(t, "a", evictedKey, "reads must not reorder eviction")
	assert.Equal(t, []string{"b", "c"}, c.Keys())
}

func TestCacheReplaceKeepsPosition(t *testing.T) {
	c := NewCache(2, nil)
	c.Put("a", tinyIndex(t, "a1"))
	c.Put("b", tinyIndex(t, "b"))
	replacement := tinyIndex(t, "a2")

	_, evicted := c.Put("a", replacement)
	assert.False(t, evicted)
	got, _ := c.Get("a")
	assert.Same(t, replacement, got)
	assert.Equal(t, []string{"a", "b"}, c.Keys())
}

func TestCacheRemoveAndClock(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache(3, func() time.Time { return now })
	c.Put("a", tinyIndex(t, "a"))

	loadedAt, ok := c.LoadedAt("a")
	require.True(t, ok)
	assert.Equal(t, now, loadedAt)

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Keys())
}

func TestNewCacheDefaultsCapacity(t *testing.T) {
	c := NewCache(0, nil)
	for i := 0; i < DefaultCapacity+1; i++ {
		c.Put(fmt.Sprint(i), tinyIndex(t, "x"))
	}
	assert.Equal(t, DefaultCapacity, c.Len())
}
