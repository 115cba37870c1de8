// Package cache implements the per-media fragment store described by the
// transport's fragment cache: an ordered collection of received fragments
// indexed by (group_id, object_id, offset), plus per-object length and
// per-group object-count bookkeeping, using a sorted mutex-guarded slice
// generalized from "groups in a track" to "fragments in an object".
package cache

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/mediaquic/quicrq/ids"
)

// ErrOverlap is returned by Insert when a fragment at the same key carries
// a different payload than one already stored, or overlaps an existing
// fragment inconsistently.
var ErrOverlap = errors.New("cache: overlapping fragment")

// ErrNotYet is returned when the requested object properties have not yet
// been observed (no fragment carrying them has arrived).
var ErrNotYet = errors.New("cache: object properties not yet known")

// fragmentRecord is one stored fragment, keyed by (group, object, offset).
type fragmentRecord struct {
	key  ids.FragmentKey
	data []byte
}

// objectInfo tracks what is known about one object: its declared length
// (once seen), the nb_objects_previous_group carried by its first
// fragment (meaningful only for object 0), its flags, and whether a
// "final" signal has been received for it.
type objectInfo struct {
	length                 uint64
	hasLength              bool
	nbObjectsPreviousGroup uint64
	flags                  byte
	final                  bool
}

type objectKey struct {
	group  ids.GroupID
	object ids.ObjectID
}

// GroupCache is the per-media fragment store for one media_id.
type GroupCache struct {
	mu        sync.Mutex
	fragments []fragmentRecord // sorted by key
	objects   map[objectKey]*objectInfo
	// groupObjectCount[g] is the number of objects known to exist in group
	// g, learned only from nb_objects_previous_group carried by the first
	// fragment of group g+1. The final-object signal (NotifyFinal) does not
	// set it.
	groupObjectCount map[ids.GroupID]uint64
}

// NewGroupCache returns an empty fragment cache for one media stream.
func NewGroupCache() *GroupCache {
	return &GroupCache{
		objects:          make(map[objectKey]*objectInfo),
		groupObjectCount: make(map[ids.GroupID]uint64),
	}
}

func (c *GroupCache) infoLocked(g ids.GroupID, o ids.ObjectID) *objectInfo {
	k := objectKey{g, o}
	info, ok := c.objects[k]
	if !ok {
		info = &objectInfo{}
		c.objects[k] = info
	}
	return info
}

// Insert stores a fragment. It is idempotent when the same (group, object,
// offset, length) key is inserted again with identical data, and fails
// with ErrOverlap when an overlapping range disagrees with what is stored.
func (c *GroupCache) Insert(group ids.GroupID, object ids.ObjectID, offset ids.Offset, objectLength uint64, nbObjectsPreviousGroup uint64, flags byte, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := c.infoLocked(group, object)
	if objectLength > 0 || len(data) == 0 {
		if info.hasLength && info.length != objectLength {
			slog.Error("cache: conflicting object length", slog.Uint64("group", uint64(group)), slog.Uint64("object", uint64(object)))
			return ErrOverlap
		}
		info.hasLength = true
		info.length = objectLength
	}
	info.flags = flags
	if object == 0 {
		info.nbObjectsPreviousGroup = nbObjectsPreviousGroup
		if nbObjectsPreviousGroup > 0 && group > 0 {
			c.groupObjectCount[group-1] = nbObjectsPreviousGroup
		}
	}

	key := ids.FragmentKey{Group: group, Object: object, Offset: offset}
	idx := sort.Search(len(c.fragments), func(i int) bool {
		return !c.fragments[i].key.Less(key)
	})

	if idx < len(c.fragments) && c.fragments[idx].key == key {
		existing := c.fragments[idx].data
		if len(existing) != len(data) || string(existing) != string(data) {
			return ErrOverlap
		}
		return nil // duplicate, idempotent
	}

	if err := c.checkOverlapLocked(group, object, offset, uint64(len(data)), idx); err != nil {
		return err
	}

	rec := fragmentRecord{key: key, data: append([]byte(nil), data...)}
	c.fragments = append(c.fragments, fragmentRecord{})
	copy(c.fragments[idx+1:], c.fragments[idx:])
	c.fragments[idx] = rec

	end := offset + ids.Offset(len(data))
	if info.hasLength && uint64(end) >= info.length {
		// Last fragment of the object. Nothing is recorded here:
		// IsObjectComplete derives completeness from the stored fragments.
	}

	return nil
}

// checkOverlapLocked verifies that the new fragment [offset, offset+n) does
// not inconsistently overlap its immediate neighbors for the same object.
func (c *GroupCache) checkOverlapLocked(group ids.GroupID, object ids.ObjectID, offset ids.Offset, n uint64, insertIdx int) error {
	end := offset + ids.Offset(n)
	if insertIdx > 0 {
		prev := c.fragments[insertIdx-1]
		if prev.key.Group == group && prev.key.Object == object {
			prevEnd := prev.key.Offset + ids.Offset(len(prev.data))
			if prevEnd > offset {
				return ErrOverlap
			}
		}
	}
	if insertIdx < len(c.fragments) {
		next := c.fragments[insertIdx]
		if next.key.Group == group && next.key.Object == object {
			if end > next.key.Offset {
				return ErrOverlap
			}
		}
	}
	return nil
}

// GetObjectProperties returns the object's declared length, the
// nb_objects_previous_group of its first fragment (only meaningful for
// object 0), and its flags, or ErrNotYet if no fragment carrying them has
// been observed.
func (c *GroupCache) GetObjectProperties(group ids.GroupID, object ids.ObjectID) (objectLength uint64, nbObjectsPreviousGroup uint64, flags byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.objects[objectKey{group, object}]
	if !ok || !info.hasLength {
		return 0, 0, 0, ErrNotYet
	}
	return info.length, info.nbObjectsPreviousGroup, info.flags, nil
}

// GetObjectCount returns the number of objects known for group, and
// whether that count is currently known at all.
func (c *GroupCache) GetObjectCount(group ids.GroupID) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.groupObjectCount[group]
	return n, ok
}

// CopyAvailableData returns the largest contiguous byte run available in
// the cache starting exactly at offset, up to max bytes.
func (c *GroupCache) CopyAvailableData(group ids.GroupID, object ids.ObjectID, offset ids.Offset, max int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := ids.FragmentKey{Group: group, Object: object, Offset: offset}
	idx := sort.Search(len(c.fragments), func(i int) bool {
		return !c.fragments[i].key.Less(key)
	})

	out := make([]byte, 0, max)
	want := offset
	for idx < len(c.fragments) {
		f := c.fragments[idx]
		if f.key.Group != group || f.key.Object != object || f.key.Offset != want {
			break
		}
		remaining := max - len(out)
		if remaining <= 0 {
			break
		}
		chunk := f.data
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		out = append(out, chunk...)
		want += ids.Offset(len(f.data))
		if len(chunk) < len(f.data) {
			break // hit max mid-fragment
		}
		idx++
	}
	return out
}

// IsObjectComplete reports whether the union of inserted offsets for
// (group, object) covers [0, object_length).
func (c *GroupCache) IsObjectComplete(group ids.GroupID, object ids.ObjectID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.objects[objectKey{group, object}]
	if !ok || !info.hasLength {
		return false
	}
	if info.length == 0 {
		return true
	}

	key := ids.FragmentKey{Group: group, Object: object, Offset: 0}
	idx := sort.Search(len(c.fragments), func(i int) bool {
		return !c.fragments[i].key.Less(key)
	})
	want := ids.Offset(0)
	for idx < len(c.fragments) {
		f := c.fragments[idx]
		if f.key.Group != group || f.key.Object != object || f.key.Offset != want {
			break
		}
		want += ids.Offset(len(f.data))
		idx++
	}
	return uint64(want) >= info.length
}

// NotifyFinal records (group, object) as the logical end of the media.
// The mark is stored only: Insert does not reject fragments that arrive
// after it, and GetObjectCount does not derive a count from it.
func (c *GroupCache) NotifyFinal(group ids.GroupID, object ids.ObjectID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := c.infoLocked(group, object)
	info.final = true
}
