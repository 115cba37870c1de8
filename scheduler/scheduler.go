// Package scheduler implements the time/scheduler hook: time_check(now)
// combines the extra-repeat queue, transport wakeups, and relay cache
// maintenance into a single next-wakeup time, since the core is driven
// by a single-threaded cooperative event loop with no internal timers
// of its own.
package scheduler

import "time"

// ExtraRepeatSource fires due extra-repeat retransmissions for one
// stream and reports when it next needs to be polled again.
type ExtraRepeatSource interface {
	// FireDue retransmits every extra-repeat entry scheduled at or
	// before now.
	FireDue(now time.Time)
	// NextFireTime returns the earliest still-pending extra-repeat time,
	// and whether one is scheduled at all.
	NextFireTime() (time.Time, bool)
}

// CacheMaintainer runs periodic relay-cache upkeep (eviction of data
// older than the configured cache duration).
type CacheMaintainer interface {
	// Maintain runs cache upkeep if due, and returns the next time it
	// should run.
	Maintain(now time.Time) time.Time
}

type extraRepeatEntry struct {
	handle int
	src    ExtraRepeatSource
}

// Scheduler computes the event loop's next wakeup from every configured
// time source.
type Scheduler struct {
	extraRepeat []extraRepeatEntry
	nextHandle  int
	cache       CacheMaintainer
}

// New returns a scheduler with no sources registered.
func New() *Scheduler {
	return &Scheduler{}
}

// Register adds a stream's extra-repeat source to the scheduler and
// returns a handle identifying it for a later Unregister call. A plain
// equality comparison won't do: most ExtraRepeatSource implementations
// (e.g. ackhorizon.Scheduled) carry a func field, and comparing two
// interface values of such a type panics at runtime.
func (s *Scheduler) Register(src ExtraRepeatSource) int {
	h := s.nextHandle
	s.nextHandle++
	s.extraRepeat = append(s.extraRepeat, extraRepeatEntry{handle: h, src: src})
	return h
}

// Unregister removes the extra-repeat source identified by handle, e.g.
// once its stream is deleted.
func (s *Scheduler) Unregister(handle int) {
	for i, e := range s.extraRepeat {
		if e.handle == handle {
			s.extraRepeat = append(s.extraRepeat[:i], s.extraRepeat[i+1:]...)
			return
		}
	}
}

// SetCacheMaintainer installs the relay cache upkeep hook; nil disables
// step 3 of time_check.
func (s *Scheduler) SetCacheMaintainer(c CacheMaintainer) {
	s.cache = c
}

// TimeCheck implements time_check(now): it fires every due extra
// repeat, folds in the transport's own next wakeup (quicTime, supplied
// by the caller since the transport is out of core scope), folds in
// cache maintenance, and returns the minimum of all contributions.
func (s *Scheduler) TimeCheck(now time.Time, quicTime time.Time) time.Time {
	next := quicTime

	for _, e := range s.extraRepeat {
		e.src.FireDue(now)
		if t, ok := e.src.NextFireTime(); ok && t.Before(next) {
			next = t
		}
	}

	if s.cache != nil {
		if t := s.cache.Maintain(now); t.Before(next) {
			next = t
		}
	}

	return next
}
