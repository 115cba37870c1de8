// Package datagram implements the round-robin active-datagram-stream
// scan: on "ready to send datagram", scan streams round-robin and pick
// the first one in datagram mode that is_active_datagram and has a
// media_id assigned, servicing every active stream fairly rather than
// draining one queue to empty before moving to the next.
package datagram

import "github.com/mediaquic/quicrq/ids"

// Scheduler tracks which streams are in datagram mode and currently
// have data ready to send, and answers "ready to send datagram" events
// by round-robin scanning them.
type Scheduler struct {
	order      []ids.StreamID
	index      map[ids.StreamID]int
	active     map[ids.StreamID]bool
	hasMediaID map[ids.StreamID]bool
	cursor     int
}

// New returns a scheduler with no streams registered.
func New() *Scheduler {
	return &Scheduler{
		index:      make(map[ids.StreamID]int),
		active:     make(map[ids.StreamID]bool),
		hasMediaID: make(map[ids.StreamID]bool),
	}
}

// Register adds id to the round-robin rotation in datagram mode,
// initially inactive and without a media_id assigned.
func (s *Scheduler) Register(id ids.StreamID) {
	if _, ok := s.index[id]; ok {
		return
	}
	s.index[id] = len(s.order)
	s.order = append(s.order, id)
}

// Unregister removes id from the rotation, e.g. once its stream closes.
func (s *Scheduler) Unregister(id ids.StreamID) {
	i, ok := s.index[id]
	if !ok {
		return
	}
	s.order = append(s.order[:i], s.order[i+1:]...)
	delete(s.index, id)
	delete(s.active, id)
	delete(s.hasMediaID, id)
	for j := i; j < len(s.order); j++ {
		s.index[s.order[j]] = j
	}
	if s.cursor > i {
		s.cursor--
	}
}

// SetActive records whether id currently has a fragment ready to send
// (is_active_datagram).
func (s *Scheduler) SetActive(id ids.StreamID, active bool) {
	s.active[id] = active
}

// SetMediaAssigned records whether id has had a media_id assigned.
func (s *Scheduler) SetMediaAssigned(id ids.StreamID, assigned bool) {
	s.hasMediaID[id] = assigned
}

// eligible reports whether id is both active and media-assigned.
func (s *Scheduler) eligible(id ids.StreamID) bool {
	return s.active[id] && s.hasMediaID[id]
}

// NextActive implements the "ready to send datagram" scan: it returns
// the first eligible stream starting just after the last one serviced,
// advances the rotation past it, and reports whether any other stream
// is still eligible (at_least_one_active) for the caller to decide
// whether to re-arm the transport's send-ready notification.
func (s *Scheduler) NextActive() (id ids.StreamID, atLeastOneActive bool, found bool) {
	n := len(s.order)
	if n == 0 {
		return 0, false, false
	}

	for i := 0; i < n; i++ {
		idx := (s.cursor + i) % n
		candidate := s.order[idx]
		if s.eligible(candidate) {
			id = candidate
			found = true
			s.cursor = (idx + 1) % n
			break
		}
	}
	if !found {
		return 0, false, false
	}

	for _, other := range s.order {
		if other != id && s.eligible(other) {
			atLeastOneActive = true
			break
		}
	}
	return id, atLeastOneActive, true
}
