// Package reassembly implements the consumer-side reassembly engine:
// it turns arriving, possibly out-of-order fragments into in-order object
// deliveries, tracking start points and the final object boundary, by
// wrapping an ordered delivery cursor behind a narrow public API.
package reassembly

import (
	"errors"
	"log/slog"

	"github.com/mediaquic/quicrq/cache"
	"github.com/mediaquic/quicrq/ids"
)

// ErrStartPointConflict is returned by LearnStartPoint when the new start
// point contradicts data that has already been delivered in-sequence.
var ErrStartPointConflict = errors.New("reassembly: start point conflicts with already-delivered data")

// DeliveryMode classifies how an object is handed to the consumer.
type DeliveryMode int

const (
	// Peek: the object is known to be out-of-order; delivered for
	// inspection, not written to the ordered stream.
	Peek DeliveryMode = iota
	// InSequence: the object is exactly the next expected object.
	InSequence
	// Repair: a previously peeked object has become the next expected
	// object; delivered once more, without a duplicate log entry.
	Repair
)

func (m DeliveryMode) String() string {
	switch m {
	case Peek:
		return "peek"
	case InSequence:
		return "in_sequence"
	case Repair:
		return "repair"
	default:
		return "unknown"
	}
}

// Consumer receives reassembled objects from a Reassembler.
type Consumer interface {
	Deliver(mode DeliveryMode, group ids.GroupID, object ids.ObjectID, data []byte, flags byte)
}

// Reassembler holds per-stream reassembly state for one consumer.
type Reassembler struct {
	cache *cache.GroupCache

	next         ids.Location
	hasStart     bool
	startedAt    ids.Location
	final        ids.Location
	hasFinal     bool
	isFinished   bool
	peeked       map[ids.Location]bool
	deliveredSeq map[ids.Location]bool

	consumer Consumer
}

// New returns a fresh reassembler delivering to consumer. Until
// LearnStartPoint is called, the stream expects to start at (0, 0).
func New(consumer Consumer) *Reassembler {
	return &Reassembler{
		cache:        cache.NewGroupCache(),
		consumer:     consumer,
		peeked:       make(map[ids.Location]bool),
		deliveredSeq: make(map[ids.Location]bool),
	}
}

// IsFinished reports whether all objects in [start, final) have been
// delivered in-sequence.
func (r *Reassembler) IsFinished() bool {
	return r.isFinished
}

// NextExpected returns the next (group, object) the reassembler expects
// to deliver in-sequence.
func (r *Reassembler) NextExpected() ids.Location {
	return r.next
}

// LearnStartPoint sets the earliest expected (group, object). Any already
// cached data at or beyond start becomes deliverable; the reassembler
// simply advances its cursor since earlier data is never delivered.
func (r *Reassembler) LearnStartPoint(start ids.Location) error {
	if len(r.deliveredSeq) > 0 && start.Less(r.next) {
		// Data has already been delivered in-sequence below the new start
		// point: the new start point contradicts it.
		return ErrStartPointConflict
	}

	r.hasStart = true
	r.startedAt = start
	if len(r.deliveredSeq) == 0 {
		r.next = start
	}
	r.checkFinished()
	return nil
}

// LearnFinalObjectID sets the exclusive end boundary.
func (r *Reassembler) LearnFinalObjectID(final ids.Location) {
	r.hasFinal = true
	r.final = final
	r.checkFinished()
}

func (r *Reassembler) checkFinished() {
	if r.hasFinal && !r.next.Less(r.final) {
		r.isFinished = true
	}
}

// InputFragment inserts an arriving fragment and delivers any objects it
// completes, following the peek/in-sequence/repair delivery rules.
func (r *Reassembler) InputFragment(group ids.GroupID, object ids.ObjectID, offset ids.Offset, flags byte, nbObjectsPreviousGroup uint64, objectLength uint64, data []byte) error {
	loc := ids.Location{Group: group, Object: object}

	if r.hasStart && loc.Less(r.startedAt) {
		// Entirely below the start point: discard, nothing to deliver.
		return nil
	}

	if err := r.cache.Insert(group, object, offset, objectLength, nbObjectsPreviousGroup, flags, data); err != nil {
		return err
	}

	if !r.cache.IsObjectComplete(group, object) {
		return nil
	}

	r.deliverCompleted(loc)
	return nil
}

// deliverCompleted decides how to deliver the now-complete object at loc,
// and then drains any further objects that have become deliverable as a
// result (contiguous successors, or repaired out-of-order objects).
func (r *Reassembler) deliverCompleted(loc ids.Location) {
	if r.deliveredSeq[loc] {
		return // already delivered in-sequence; fragment was a useless duplicate
	}

	// Draining may deliver loc itself, either directly (it is r.next) or
	// as a side effect of a group transition it unblocks.
	r.drainSuccessors()
	if r.deliveredSeq[loc] {
		return
	}

	if !r.peeked[loc] {
		r.peeked[loc] = true
		data, _, _, _ := r.objectPayload(loc)
		flags, _ := r.objectFlags(loc)
		r.consumer.Deliver(Peek, loc.Group, loc.Object, data, flags)
	}
}

func (r *Reassembler) deliverInSequence(loc ids.Location) {
	mode := InSequence
	if r.peeked[loc] {
		mode = Repair
	}
	data, _, _, _ := r.objectPayload(loc)
	flags, _ := r.objectFlags(loc)

	r.deliveredSeq[loc] = true
	delete(r.peeked, loc)
	r.consumer.Deliver(mode, loc.Group, loc.Object, data, flags)

	// Tentatively continue within the same group; tryAdvanceGroupTransition
	// overrides this when loc turns out to be the group's last object.
	r.next = ids.Location{Group: loc.Group, Object: loc.Object + 1}
	r.checkFinished()
}

// drainSuccessors delivers any run of contiguous next-in-order objects, or
// group transitions, that are already complete in the cache — covering
// both the "next object in same group" case and objects previously
// peeked that are now in sequence (repair).
func (r *Reassembler) drainSuccessors() {
	for {
		advanced := r.tryAdvanceWithinGroup()
		if !advanced {
			advanced = r.tryAdvanceGroupTransition()
		}
		if !advanced {
			return
		}
	}
}

func (r *Reassembler) tryAdvanceWithinGroup() bool {
	loc := r.next
	if !r.cache.IsObjectComplete(loc.Group, loc.Object) {
		return false
	}
	r.deliverInSequence(loc)
	return true
}

// tryAdvanceGroupTransition checks whether the group's first object
// (r.next.Group+1, 0) has arrived and whether its claimed
// nb_objects_previous_group matches r.next.Object, the count of objects
// [0, r.next.Object) delivered so far in the current group: the group
// progression rule.
func (r *Reassembler) tryAdvanceGroupTransition() bool {
	candidate := ids.Location{Group: r.next.Group + 1, Object: 0}
	if !r.cache.IsObjectComplete(candidate.Group, candidate.Object) {
		return false
	}
	_, nbopg, _, err := r.cache.GetObjectProperties(candidate.Group, candidate.Object)
	if err != nil {
		return false
	}
	if nbopg != uint64(r.next.Object) {
		slog.Warn("reassembly: group progression mismatch", slog.Uint64("group", uint64(candidate.Group)))
		return false
	}
	r.deliverInSequence(candidate)
	return true
}

func (r *Reassembler) objectPayload(loc ids.Location) ([]byte, uint64, uint64, byte) {
	length, _, flags, err := r.cache.GetObjectProperties(loc.Group, loc.Object)
	if err != nil {
		return nil, 0, 0, 0
	}
	return r.cache.CopyAvailableData(loc.Group, loc.Object, 0, int(length)), length, 0, flags
}

func (r *Reassembler) objectFlags(loc ids.Location) (byte, error) {
	_, _, flags, err := r.cache.GetObjectProperties(loc.Group, loc.Object)
	return flags, err
}
