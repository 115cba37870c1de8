package cache

import (
	"sync"

	"github.com/mediaquic/quicrq/ids"
)

// MediaCache maps media_id to its per-media fragment cache: a
// per-connection registry of buffers.
type MediaCache struct {
	mu    sync.Mutex
	media map[ids.MediaID]*GroupCache
}

// NewMediaCache returns an empty registry of per-media fragment caches.
func NewMediaCache() *MediaCache {
	return &MediaCache{media: make(map[ids.MediaID]*GroupCache)}
}

// Get returns the fragment cache for id, creating one if it does not
// already exist.
func (m *MediaCache) Get(id ids.MediaID) *GroupCache {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.media[id]
	if !ok {
		c = NewGroupCache()
		m.media[id] = c
	}
	return c
}

// Delete drops the fragment cache for id.
func (m *MediaCache) Delete(id ids.MediaID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.media, id)
}
