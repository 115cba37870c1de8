// Package substream implements the unidirectional substream engine:
// warp mode (one substream per group) and rush mode (one substream per
// object), both modeled as small send/receive state machines layered
// over the WARP_HEADER / OBJECT_HEADER message pair, each driven by
// explicit next-object bookkeeping rather than an implicit cursor.
package substream

import (
	"errors"

	"github.com/mediaquic/quicrq/ids"
	"github.com/mediaquic/quicrq/message"
)

// Mode selects warp (one substream per group) or rush (one substream
// per object) semantics.
type Mode int

const (
	Warp Mode = iota
	Rush
)

// ErrOutOfOrderObject is returned when a substream observes an object_id
// that violates its mode's ordering rule.
var ErrOutOfOrderObject = errors.New("substream: object_id out of order")

// SendState is the send-side state of one substream.
type SendState int

const (
	SendingOpen SendState = iota
	WarpHeaderSent
	ObjectData
	WarpAllSent
)

// Sender drives one outgoing unidirectional substream for exactly one
// group (warp) or one object (rush).
type Sender struct {
	mode    Mode
	mediaID ids.MediaID
	group   ids.GroupID

	state  SendState
	nextID ids.ObjectID

	hasLast bool
	lastID  ids.ObjectID
}

// NewSender returns a substream sender in sending_open, for the given
// group, not yet having emitted WARP_HEADER.
func NewSender(mode Mode, mediaID ids.MediaID, group ids.GroupID) *Sender {
	return &Sender{mode: mode, mediaID: mediaID, group: group, state: SendingOpen}
}

// State returns the sender's current state.
func (s *Sender) State() SendState { return s.state }

// Open emits the substream's WARP_HEADER and transitions to
// warp_header_sent.
func (s *Sender) Open() message.WarpHeaderMessage {
	s.state = WarpHeaderSent
	return message.WarpHeaderMessage{MediaID: s.mediaID, Group: s.group}
}

// SetLastObjectID records the exclusive object boundary, learned either
// from a final-object signal or from the next group's
// nb_objects_previous_group.
func (s *Sender) SetLastObjectID(id ids.ObjectID) {
	s.hasLast = true
	s.lastID = id
}

// Done reports whether every object up to the known boundary has been
// sent (step 2 of the warp/rush send sequence).
func (s *Sender) Done() bool {
	return s.hasLast && s.nextID >= s.lastID
}

// NextObjectHeader builds the OBJECT_HEADER for the next object (step
// 3). skip forces a zero-length placeholder with FlagSkipped, mirroring
// the congestion-control skip hook. When the header carries length 0,
// the object completes immediately and the cursor advances on the spot;
// otherwise the caller streams length bytes of payload and then calls
// AdvanceAfterPayload.
func (s *Sender) NextObjectHeader(nbObjectsPreviousGroup uint64, objectLength uint64, flags message.FragmentFlags, skip bool) message.ObjectHeaderMessage {
	if skip {
		objectLength = 0
		flags = message.FlagSkipped
	}

	hdr := message.ObjectHeaderMessage{
		Object:                 s.nextID,
		NbObjectsPreviousGroup: nbObjectsPreviousGroup,
		Flags:                  flags,
		ObjectLength:           objectLength,
	}

	if objectLength > 0 {
		s.state = ObjectData
	} else {
		s.advance()
	}
	return hdr
}

// AdvanceAfterPayload is called once a non-empty object's payload bytes
// have all been streamed.
func (s *Sender) AdvanceAfterPayload() {
	s.advance()
}

func (s *Sender) advance() {
	s.nextID++
	if s.mode == Rush {
		s.hasLast = true
		s.lastID = s.nextID
	}
	s.state = WarpHeaderSent
}

// Finish emits FIN on the substream once Done(), per step 4.
func (s *Sender) Finish() {
	s.state = WarpAllSent
}

// RecvState is the receive-side state of one substream.
type RecvState int

const (
	Open RecvState = iota
	WarpHeader
	ObjectHeader
	ObjectDataRecv
)

// Receiver drives one incoming unidirectional substream.
type Receiver struct {
	mode Mode

	state RecvState

	mediaID    ids.MediaID
	hasMediaID bool
	group      ids.GroupID

	expectedNext  ids.ObjectID
	currentObject ids.ObjectID
	currentOffset ids.Offset
	currentLength uint64
}

// NewReceiver returns a substream receiver in open, awaiting WARP_HEADER.
func NewReceiver(mode Mode) *Receiver {
	return &Receiver{mode: mode, state: Open}
}

// State returns the receiver's current state.
func (r *Receiver) State() RecvState { return r.state }

// MediaID returns the substream's bound media_id and whether
// WARP_HEADER has been seen yet.
func (r *Receiver) MediaID() (ids.MediaID, bool) { return r.mediaID, r.hasMediaID }

// Group returns the group this substream carries.
func (r *Receiver) Group() ids.GroupID { return r.group }

// HandleWarpHeader binds the substream to a control stream's media_id
// and group, moving to object_header.
func (r *Receiver) HandleWarpHeader(h message.WarpHeaderMessage) {
	r.mediaID = h.MediaID
	r.hasMediaID = true
	r.group = h.Group
	r.state = ObjectHeader
	r.expectedNext = 0
}

// HandleObjectHeader validates ordering (rush: strictly object_id == 0;
// warp: object_id == expected_next) and moves to object_data when
// length > 0, or stays in object_header when length == 0 (delivered
// immediately with no payload bytes).
func (r *Receiver) HandleObjectHeader(h message.ObjectHeaderMessage) error {
	if r.state != ObjectHeader {
		return ErrOutOfOrderObject
	}

	if r.mode == Rush {
		if h.Object != 0 {
			return ErrOutOfOrderObject
		}
	} else if h.Object != r.expectedNext {
		return ErrOutOfOrderObject
	}

	r.currentObject = h.Object
	r.currentLength = h.ObjectLength
	r.currentOffset = 0

	if h.ObjectLength > 0 {
		r.state = ObjectDataRecv
	} else {
		r.completeObject()
	}
	return nil
}

// CurrentObjectLength returns the declared length of the object
// currently being received.
func (r *Receiver) CurrentObjectLength() uint64 { return r.currentLength }

// ObjectFragmentLocation returns the (group, object, offset) to key into
// the reassembly engine for the bytes currently being received, and
// advances the internal offset by n.
func (r *Receiver) ObjectFragmentLocation(n int) (ids.GroupID, ids.ObjectID, ids.Offset) {
	loc := r.currentOffset
	r.currentOffset += ids.Offset(n)
	return r.group, r.currentObject, loc
}

// AdvanceAfterPayload is called once offset has reached the object's
// declared length, returning to object_header for the next object.
func (r *Receiver) AdvanceAfterPayload() {
	r.completeObject()
}

func (r *Receiver) completeObject() {
	r.expectedNext = r.currentObject + 1
	r.state = ObjectHeader
}
