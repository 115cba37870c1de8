// Package ids defines the small set of distinct identifier types shared
// across the transport core, naming every wire-level numeric field
// instead of passing bare uint64s.
package ids

// GroupID identifies a group within a media stream.
type GroupID uint64

// ObjectID identifies an object within a group.
type ObjectID uint64

// MediaID is the connection-local numeric alias assigned to a URL.
type MediaID uint64

// StreamID is the QUIC-like transport's stream identifier.
type StreamID uint64

// Location is a lexicographically ordered (group, object) pair, used for
// start points, final-object boundaries, and next-to-send/receive cursors.
type Location struct {
	Group  GroupID
	Object ObjectID
}

// Less reports whether l is strictly before other in (group, object) order.
func (l Location) Less(other Location) bool {
	if l.Group != other.Group {
		return l.Group < other.Group
	}
	return l.Object < other.Object
}

// LessEqual reports whether l is before or equal to other.
func (l Location) LessEqual(other Location) bool {
	return l == other || l.Less(other)
}

// Offset is a byte offset within an object.
type Offset uint64

// FragmentKey orders fragments within the fragment cache and the ack tree:
// lexicographically by (Group, Object, Offset).
type FragmentKey struct {
	Group  GroupID
	Object ObjectID
	Offset Offset
}

// Less reports whether k sorts strictly before other.
func (k FragmentKey) Less(other FragmentKey) bool {
	if k.Group != other.Group {
		return k.Group < other.Group
	}
	if k.Object != other.Object {
		return k.Object < other.Object
	}
	return k.Offset < other.Offset
}

// LessEqual reports whether k sorts before or equal to other.
func (k FragmentKey) LessEqual(other FragmentKey) bool {
	return k == other || k.Less(other)
}
