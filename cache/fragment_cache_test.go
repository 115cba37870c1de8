package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaquic/quicrq/cache"
	"github.com/mediaquic/quicrq/ids"
)

func TestInsertIdempotentOnDuplicate(t *testing.T) {
	c := cache.NewGroupCache()
	require.NoError(t, c.Insert(0, 0, 0, 300, 0, 0, []byte("abc")))
	require.NoError(t, c.Insert(0, 0, 0, 300, 0, 0, []byte("abc")))
}

func TestInsertOverlapConflict(t *testing.T) {
	c := cache.NewGroupCache()
	require.NoError(t, c.Insert(0, 0, 0, 300, 0, 0, []byte("abcdef")))
	err := c.Insert(0, 0, 3, 300, 0, 0, []byte("xyz"))
	assert.ErrorIs(t, err, cache.ErrOverlap)
}

func TestGetObjectPropertiesNotYet(t *testing.T) {
	c := cache.NewGroupCache()
	_, _, _, err := c.GetObjectProperties(0, 0)
	assert.ErrorIs(t, err, cache.ErrNotYet)
}

func TestObjectCompleteness(t *testing.T) {
	c := cache.NewGroupCache()
	require.NoError(t, c.Insert(0, 1, 0, 10, 0, 0, []byte("01234")))
	assert.False(t, c.IsObjectComplete(0, 1))
	require.NoError(t, c.Insert(0, 1, 5, 10, 0, 0, []byte("56789")))
	assert.True(t, c.IsObjectComplete(0, 1))
}

func TestCopyAvailableDataContiguousRun(t *testing.T) {
	c := cache.NewGroupCache()
	require.NoError(t, c.Insert(0, 0, 0, 12, 0, 0, []byte("abcd")))
	require.NoError(t, c.Insert(0, 0, 4, 12, 0, 0, []byte("efgh")))
	// gap at offset 8..11 not yet received
	data := c.CopyAvailableData(0, 0, 0, 100)
	assert.Equal(t, []byte("abcdefgh"), data)
}

func TestCopyAvailableDataRespectsMax(t *testing.T) {
	c := cache.NewGroupCache()
	require.NoError(t, c.Insert(0, 0, 0, 4, 0, 0, []byte("abcd")))
	data := c.CopyAvailableData(0, 0, 0, 2)
	assert.Equal(t, []byte("ab"), data)
}

func TestGroupObjectCountFromNextGroupFirstFragment(t *testing.T) {
	c := cache.NewGroupCache()
	// First fragment of group 1 carries nb_objects_previous_group = 3,
	// meaning group 0 had 3 objects (0, 1, 2).
	require.NoError(t, c.Insert(1, 0, 0, 1, 3, 0, []byte("x")))
	n, ok := c.GetObjectCount(0)
	require.True(t, ok)
	assert.Equal(t, uint64(3), n)
}

func TestMediaCacheIsolatesPerMedia(t *testing.T) {
	mc := cache.NewMediaCache()
	a := mc.Get(ids.MediaID(1))
	b := mc.Get(ids.MediaID(2))
	require.NoError(t, a.Insert(0, 0, 0, 1, 0, 0, []byte("a")))
	_, _, _, err := b.GetObjectProperties(0, 0)
	assert.ErrorIs(t, err, cache.ErrNotYet)
}
