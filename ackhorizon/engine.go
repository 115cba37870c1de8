// Package ackhorizon implements the sender-side acknowledgement and
// horizon-tracking engine for one outgoing stream: an ordered record of
// every fragment handed to the transport, a horizon below which every
// fragment is known acked or abandoned, and the extra-repeat scheduling
// that rides along with it.
//
// The ordered record set mirrors the fragment cache's sorted-slice
// pattern (cache.GroupCache); the extra-repeat schedule uses
// container/list rather than a priority queue, since it is walked in
// time order rather than popped by priority.
package ackhorizon

import (
	"container/list"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mediaquic/quicrq/ids"
)

// InitResult reports what ack_init did with an incoming fragment.
type InitResult int

const (
	// Created: a new record was inserted and will be tracked for acks.
	Created InitResult = iota
	// BelowHorizon: the fragment is already below the horizon; nothing
	// to track, the transport may drop it freely.
	BelowHorizon
	// Duplicate: an identical record already exists at this key.
	Duplicate
)

func (r InitResult) String() string {
	switch r {
	case Created:
		return "created"
	case BelowHorizon:
		return "below_horizon"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Config tunes the engine's congestion-control-adjacent behavior.
type Config struct {
	// ExtraRepeatAfterReceivedDelayed schedules a speculative extra
	// repeat whenever ack_init observes queue_delay > 20ms.
	ExtraRepeatAfterReceivedDelayed bool
	// ExtraRepeatOnNack schedules a speculative extra repeat whenever
	// handle_lost fires, in addition to the immediate repeat.
	ExtraRepeatOnNack bool
	// ExtraRepeatDelay is how far in the future a scheduled extra
	// repeat fires, relative to the time it was scheduled.
	ExtraRepeatDelay time.Duration
	// MaxDatagramSize bounds the payload length of a single repeat;
	// a record whose payload is longer is split into two records. The
	// datagram header is not counted.
	MaxDatagramSize int
}

// record is one tracked fragment: the slice of an object handed to the
// transport at a given (group, object, offset).
type record struct {
	key                    ids.FragmentKey
	length                 uint64
	objectLength           uint64
	nbObjectsPreviousGroup uint64
	flags                  byte
	data                   []byte
	acked                  bool
	nackReceived           bool
	startTime              time.Time

	extraRepeatElem *list.Element
}

// Engine is the ack/horizon tracker for one outgoing stream.
type Engine struct {
	mu sync.Mutex

	cfg Config

	records      []*record // sorted by key
	extraRepeats *list.List

	horizon               ids.FragmentKey
	horizonIsLastFragment bool
	horizonInitialized    bool

	nbFragmentLost  uint64
	nbExtraSent     uint64
	nbHorizonAcks   uint64
	nbHorizonEvents uint64
}

// New returns an empty ack/horizon engine using cfg.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:          cfg,
		extraRepeats: list.New(),
	}
}

// Counters is a point-in-time snapshot of the engine's counters, exposed
// for metrics and tests.
type Counters struct {
	FragmentLost  uint64
	ExtraSent     uint64
	HorizonAcks   uint64
	HorizonEvents uint64
}

// Counters returns the current counter values.
func (e *Engine) Counters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Counters{
		FragmentLost:  e.nbFragmentLost,
		ExtraSent:     e.nbExtraSent,
		HorizonAcks:   e.nbHorizonAcks,
		HorizonEvents: e.nbHorizonEvents,
	}
}

// Horizon returns the current horizon key and whether it has been
// initialized yet.
func (e *Engine) Horizon() (ids.FragmentKey, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.horizon, e.horizonInitialized
}

// Pending returns the number of fragments currently tracked awaiting ack.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.records)
}

func (e *Engine) findLocked(key ids.FragmentKey) (int, bool) {
	idx := sort.Search(len(e.records), func(i int) bool {
		return !e.records[i].key.Less(key)
	})
	if idx < len(e.records) && e.records[idx].key == key {
		return idx, true
	}
	return idx, false
}

// AckInit registers a fragment that has just been handed to the
// transport. It is the ack_init operation of the horizon engine.
func (e *Engine) AckInit(group ids.GroupID, object ids.ObjectID, offset ids.Offset, flags byte, nbObjectsPreviousGroup uint64, data []byte, length uint64, queueDelay time.Duration, objectLength uint64, now time.Time) InitResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := ids.FragmentKey{Group: group, Object: object, Offset: offset}

	if e.horizonInitialized && key.Less(e.horizon) {
		return BelowHorizon
	}

	idx, found := e.findLocked(key)
	if found {
		return Duplicate
	}

	rec := &record{
		key:                    key,
		length:                 length,
		objectLength:           objectLength,
		nbObjectsPreviousGroup: nbObjectsPreviousGroup,
		flags:                  flags,
		data:                   append([]byte(nil), data...),
		startTime:              now,
	}

	e.records = append(e.records, nil)
	copy(e.records[idx+1:], e.records[idx:])
	e.records[idx] = rec

	if e.cfg.ExtraRepeatAfterReceivedDelayed && queueDelay > 20*time.Millisecond {
		e.scheduleExtraRepeatLocked(rec, now.Add(e.cfg.ExtraRepeatDelay))
	}

	return Created
}

// scheduleExtraRepeatLocked inserts rec into the time-ordered extra-repeat
// list. New entries usually land at or near the tail since fireAt grows
// monotonically with now; walk back-to-front to keep insertion cheap.
func (e *Engine) scheduleExtraRepeatLocked(rec *record, fireAt time.Time) {
	if rec.extraRepeatElem != nil {
		return
	}
	entry := &extraRepeatEntry{rec: rec, fireAt: fireAt}
	back := e.extraRepeats.Back()
	for back != nil && back.Value.(*extraRepeatEntry).fireAt.After(fireAt) {
		back = back.Prev()
	}
	var elem *list.Element
	if back == nil {
		elem = e.extraRepeats.PushFront(entry)
	} else {
		elem = e.extraRepeats.InsertAfter(entry, back)
	}
	rec.extraRepeatElem = elem
}

func (e *Engine) dropExtraRepeatLocked(rec *record) {
	if rec.extraRepeatElem != nil {
		e.extraRepeats.Remove(rec.extraRepeatElem)
		rec.extraRepeatElem = nil
	}
}

// extraRepeatEntry is one scheduled speculative retransmission.
type extraRepeatEntry struct {
	rec    *record
	fireAt time.Time
}

// DueExtraRepeats pops every extra-repeat entry scheduled at or before
// now, in time order, for the caller to re-encode and send.
func (e *Engine) DueExtraRepeats(now time.Time) []RepeatDatagram {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []RepeatDatagram
	for {
		front := e.extraRepeats.Front()
		if front == nil {
			break
		}
		entry := front.Value.(*extraRepeatEntry)
		if entry.fireAt.After(now) {
			break
		}
		e.extraRepeats.Remove(front)
		entry.rec.extraRepeatElem = nil
		if entry.rec.acked {
			continue
		}
		out = append(out, e.encodeRepeatLocked(entry.rec, now))
		e.nbExtraSent++
	}
	return out
}

// NextExtraRepeatAt peeks the earliest still-pending extra-repeat time
// without firing it; Scheduled.NextFireTime uses it to satisfy
// scheduler.ExtraRepeatSource.
func (e *Engine) NextExtraRepeatAt() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	front := e.extraRepeats.Front()
	if front == nil {
		return time.Time{}, false
	}
	return front.Value.(*extraRepeatEntry).fireAt, true
}

// ExtraRepeatSink receives datagrams produced by a scheduler-driven
// extra-repeat firing.
type ExtraRepeatSink func(RepeatDatagram)

// Scheduled adapts an Engine to scheduler.ExtraRepeatSource: FireDue
// sends every due extra repeat to sink, and NextFireTime reports the
// next pending one.
type Scheduled struct {
	Engine *Engine
	Sink   ExtraRepeatSink
}

// FireDue retransmits every extra-repeat entry due at or before now.
func (s Scheduled) FireDue(now time.Time) {
	for _, dg := range s.Engine.DueExtraRepeats(now) {
		s.Sink(dg)
	}
}

// NextFireTime reports the earliest still-pending extra-repeat time.
func (s Scheduled) NextFireTime() (time.Time, bool) {
	return s.Engine.NextExtraRepeatAt()
}

// HandleAck marks the fragments covering [offset, offset+length) of
// (group, object) as acknowledged, then attempts to advance the horizon.
func (e *Engine) HandleAck(group ids.GroupID, object ids.ObjectID, offset ids.Offset, length uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	end := offset + ids.Offset(length)
	matched := false
	for _, rec := range e.records {
		if rec.key.Group != group || rec.key.Object != object {
			continue
		}
		if rec.key.Offset < offset || rec.key.Offset >= end {
			continue
		}
		rec.acked = true
		matched = true
	}

	if !matched {
		// Either a duplicate ack for data already below the horizon, or
		// a range acking fragments we never tracked.
		e.nbHorizonAcks++
	}

	e.advanceHorizonLocked()
}

// HandleLost reacts to a transport-reported loss: if the fragment is
// still tracked and not yet acked, it is repeated immediately, and
// optionally queued for an additional speculative repeat.
func (e *Engine) HandleLost(group ids.GroupID, object ids.ObjectID, offset ids.Offset, now time.Time) (RepeatDatagram, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := ids.FragmentKey{Group: group, Object: object, Offset: offset}
	idx, found := e.findLocked(key)
	if !found {
		return RepeatDatagram{}, false
	}
	rec := e.records[idx]
	if rec.acked {
		return RepeatDatagram{}, false
	}

	rec.nackReceived = true
	e.nbFragmentLost++

	dg := e.encodeRepeatLocked(rec, now)

	if e.cfg.ExtraRepeatOnNack {
		e.scheduleExtraRepeatLocked(rec, now.Add(e.cfg.ExtraRepeatDelay))
	}

	return dg, true
}

// RepeatDatagram is a re-encoded fragment ready for retransmission.
type RepeatDatagram struct {
	Group                  ids.GroupID
	Object                 ids.ObjectID
	Offset                 ids.Offset
	ObjectLength           uint64
	NbObjectsPreviousGroup uint64
	Flags                  byte
	Data                   []byte
	QueueDelayDelta        uint64 // milliseconds since the fragment was first sent
}

// encodeRepeatLocked implements the repeat operation: it recomputes
// queue_delay_delta from the record's original send time, and splits off
// a tail record when the record's payload exceeds MaxDatagramSize.
func (e *Engine) encodeRepeatLocked(rec *record, now time.Time) RepeatDatagram {
	if e.cfg.MaxDatagramSize > 0 && len(rec.data) > e.cfg.MaxDatagramSize {
		e.splitRecordLocked(rec, e.cfg.MaxDatagramSize)
	}

	queueDelayDelta := uint64(now.Sub(rec.startTime) / time.Millisecond)

	return RepeatDatagram{
		Group:                  rec.key.Group,
		Object:                 rec.key.Object,
		Offset:                 rec.key.Offset,
		ObjectLength:           rec.objectLength,
		NbObjectsPreviousGroup: rec.nbObjectsPreviousGroup,
		Flags:                  rec.flags,
		Data:                   append([]byte(nil), rec.data...),
		QueueDelayDelta:        queueDelayDelta,
	}
}

// splitRecordLocked shrinks rec to maxSize bytes of payload and inserts a
// new record for the remaining tail, inheriting object_length,
// nack_received, and flags from the record it was split from.
func (e *Engine) splitRecordLocked(rec *record, maxSize int) {
	tailData := append([]byte(nil), rec.data[maxSize:]...)
	rec.data = rec.data[:maxSize]
	rec.length = uint64(maxSize)

	tailKey := ids.FragmentKey{Group: rec.key.Group, Object: rec.key.Object, Offset: rec.key.Offset + ids.Offset(maxSize)}
	tail := &record{
		key:                    tailKey,
		length:                 uint64(len(tailData)),
		objectLength:           rec.objectLength,
		nbObjectsPreviousGroup: rec.nbObjectsPreviousGroup,
		flags:                  rec.flags,
		data:                   tailData,
		nackReceived:           rec.nackReceived,
		startTime:              rec.startTime,
	}

	idx, found := e.findLocked(tailKey)
	if found {
		// Tail key already tracked (a previous split produced it):
		// nothing further to insert.
		return
	}
	e.records = append(e.records, nil)
	copy(e.records[idx+1:], e.records[idx:])
	e.records[idx] = tail
}

// advanceHorizonLocked walks the tracked records in key order from the
// front, advancing the horizon across every contiguous acked run and
// across group boundaries validated by nb_objects_previous_group.
func (e *Engine) advanceHorizonLocked() {
	for len(e.records) > 0 {
		rec := e.records[0]
		if !rec.acked {
			return
		}

		if !e.matchesHorizonLocked(rec) {
			return
		}

		end := rec.key.Offset + ids.Offset(rec.length)
		e.horizon = ids.FragmentKey{Group: rec.key.Group, Object: rec.key.Object, Offset: end}
		e.horizonIsLastFragment = uint64(end) >= rec.objectLength
		e.horizonInitialized = true
		e.nbHorizonEvents++

		e.dropExtraRepeatLocked(rec)
		e.records = e.records[1:]
	}
}

func (e *Engine) matchesHorizonLocked(rec *record) bool {
	if !e.horizonInitialized {
		return true
	}
	hg, ho, hoff := e.horizon.Group, e.horizon.Object, e.horizon.Offset

	if rec.key.Group == hg && rec.key.Object == ho && rec.key.Offset == hoff {
		return true
	}
	if rec.key.Group == hg && rec.key.Object == ho+1 && rec.key.Offset == 0 && e.horizonIsLastFragment {
		return true
	}
	if rec.key.Group == hg+1 && rec.key.Object == 0 && rec.key.Offset == 0 && e.horizonIsLastFragment && rec.nbObjectsPreviousGroup == uint64(ho)+1 {
		return true
	}

	slog.Debug("ackhorizon: record does not yet advance horizon",
		slog.Uint64("group", uint64(rec.key.Group)),
		slog.Uint64("object", uint64(rec.key.Object)),
		slog.Uint64("offset", uint64(rec.key.Offset)))
	return false
}
