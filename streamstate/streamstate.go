// Package streamstate implements the bidirectional control-stream
// protocol state machine: what a stream is currently allowed to
// send (the sender priority ladder) and what it is currently allowed to
// receive (message-type dispatch gated by receive state).
//
// A Context deliberately holds no mutex: the event loop that owns it is
// single-threaded and cooperative, so a callback never reenters the
// core from another goroutine, and guarding against concurrent access
// that cannot happen would misstate the actual invariant.
package streamstate

import (
	"errors"

	"github.com/mediaquic/quicrq/ids"
	"github.com/mediaquic/quicrq/message"
)

// ErrUnexpectedMessage is returned when a message type arrives in a
// receive state that does not permit it.
var ErrUnexpectedMessage = errors.New("streamstate: unexpected message for current receive state")

// SendState is one of the sender priority ladder's states.
type SendState int

const (
	SendInitial SendState = iota
	SendReady
	SendSingleStream
	SendRepair
	SendFinalPoint
	SendStartPoint
	SendCachePolicy
	SendSubscribe
	SendNotify
	SendWaitingNotify
	SendNotifyReady
	SendFin
	SendNoMore
)

func (s SendState) String() string {
	switch s {
	case SendInitial:
		return "initial"
	case SendReady:
		return "ready"
	case SendSingleStream:
		return "single_stream"
	case SendRepair:
		return "repair"
	case SendFinalPoint:
		return "final_point"
	case SendStartPoint:
		return "start_point"
	case SendCachePolicy:
		return "cache_policy"
	case SendSubscribe:
		return "subscribe"
	case SendNotify:
		return "notify"
	case SendWaitingNotify:
		return "waiting_notify"
	case SendNotifyReady:
		return "notify_ready"
	case SendFin:
		return "fin"
	case SendNoMore:
		return "no_more"
	default:
		return "unknown"
	}
}

// ReceiveState is one of the receive-side states.
type ReceiveState int

const (
	RecvNotReady ReceiveState = iota
	RecvInitial
	RecvFragment
	RecvNotify
	RecvDone
)

func (s ReceiveState) String() string {
	switch s {
	case RecvNotReady:
		return "not_ready"
	case RecvInitial:
		return "initial"
	case RecvFragment:
		return "fragment"
	case RecvNotify:
		return "notify"
	case RecvDone:
		return "done"
	default:
		return "unknown"
	}
}

// Action names what the sender priority ladder picked.
type Action int

const (
	ActionNone Action = iota
	ActionStartPoint
	ActionFinalPoint
	ActionCachePolicy
	ActionSingleStream
	ActionInactive
)

// Sender tracks send-side protocol state for one stream.
type Sender struct {
	state SendState

	singleStream bool // transport is in single-stream (control-channel) mode

	hasStart   bool
	start      ids.Location
	startSent  bool

	hasFinal   bool
	final      ids.Location
	finalSent  bool

	isCacheRealTime  bool
	cachePolicySent  bool

	isFinalObjectIDSent bool
	isLocalFinished     bool
}

// NewSender returns a sender in the initial state for a stream using the
// given transport mode.
func NewSender(singleStream bool) *Sender {
	return &Sender{state: SendInitial, singleStream: singleStream}
}

// State returns the sender's current state.
func (s *Sender) State() SendState { return s.state }

// StartLocation returns the start point to announce, valid once NextAction
// has returned ActionStartPoint.
func (s *Sender) StartLocation() ids.Location { return s.start }

// FinalLocation returns the final boundary to announce, valid once
// NextAction has returned ActionFinalPoint.
func (s *Sender) FinalLocation() ids.Location { return s.final }

// CacheRealTime reports the real-time cache flag to announce, valid once
// NextAction has returned ActionCachePolicy.
func (s *Sender) CacheRealTime() bool { return s.isCacheRealTime }

// MarkReady moves the sender into ready, from which the priority ladder
// in NextAction is evaluated. Called once a REQUEST/POST exchange has
// completed and data may start flowing.
func (s *Sender) MarkReady() { s.state = SendReady }

// SetStartPoint records a non-default start point to announce.
func (s *Sender) SetStartPoint(loc ids.Location) {
	s.hasStart = true
	s.start = loc
}

// SetFinal records the final (group, object) boundary to announce.
func (s *Sender) SetFinal(loc ids.Location) {
	s.hasFinal = true
	s.final = loc
}

// SetCacheRealTime marks that a CACHE_POLICY announcement is owed.
func (s *Sender) SetCacheRealTime(v bool) { s.isCacheRealTime = v }

// NextAction evaluates the sender priority ladder. fragmentReady
// reports whether the publisher has fragment data ready to send right
// now on a single-stream-mode transport. The returned Action also moves
// s into the matching transient send state; callers are expected to
// return to SendReady (via MarkReady) once the corresponding message has
// been written.
func (s *Sender) NextAction(fragmentReady bool) Action {
	if s.state != SendReady {
		return ActionNone
	}

	if s.hasStart && s.start != (ids.Location{}) && !s.startSent {
		s.state = SendStartPoint
		s.startSent = true
		return ActionStartPoint
	}
	if s.hasFinal && !s.finalSent {
		s.state = SendFinalPoint
		s.finalSent = true
		return ActionFinalPoint
	}
	if s.isCacheRealTime && !s.cachePolicySent {
		s.state = SendCachePolicy
		s.cachePolicySent = true
		return ActionCachePolicy
	}
	if s.singleStream && fragmentReady {
		s.state = SendSingleStream
		return ActionSingleStream
	}

	s.state = SendReady // stays inactive but remains ready for the next poll
	return ActionInactive
}

// FragmentOutcome describes how the publisher resolved a single-stream
// fragment send opportunity.
type FragmentOutcome struct {
	MediaFinished bool // no more payload; emit FIN_DATAGRAM
	ShouldSkip    bool // congestion control skip; emit a placeholder FRAGMENT
	IsRepair      bool // resending a previously skipped/lost fragment
}

// EmitKind names what ResolveFragmentSend decided to put on the wire.
type EmitKind int

const (
	EmitFragment EmitKind = iota
	EmitFinDatagram
)

// ResolveFragmentSend implements the single_stream send behavior: a
// normal fragment, a FIN_DATAGRAM when the publisher signals
// media_finished, or a zero-length placeholder fragment (flags 0xFF)
// when the publisher signals should_skip.
func (s *Sender) ResolveFragmentSend(o FragmentOutcome) (EmitKind, message.FragmentFlags) {
	if o.IsRepair {
		s.state = SendRepair
	}

	if o.MediaFinished {
		s.isFinalObjectIDSent = true
		s.state = SendReady
		return EmitFinDatagram, 0
	}
	if o.ShouldSkip {
		s.state = SendReady
		return EmitFragment, message.FlagSkipped
	}
	s.state = SendReady
	return EmitFragment, 0
}

// Receiver tracks receive-side protocol state for one stream.
type Receiver struct {
	state          ReceiveState
	isPeerFinished bool
}

// NewReceiver returns a receiver ready to accept the first message on a
// fresh stream.
func NewReceiver() *Receiver {
	return &Receiver{state: RecvNotReady}
}

// State returns the receiver's current state.
func (r *Receiver) State() ReceiveState { return r.state }

// Context couples a stream's send and receive state machines, since
// several received message types mutate the peer direction's state
// (e.g. SUBSCRIBE flips the local sender to notify_ready).
type Context struct {
	Send *Sender
	Recv *Receiver

	MediaID    ids.MediaID
	HasMediaID bool

	// Prefix is the subscribed URL prefix, set when this stream carries
	// a subscribe/notify exchange.
	Prefix string
}

// NewContext returns a fresh bidirectional stream context.
func NewContext(singleStream bool) *Context {
	return &Context{Send: NewSender(singleStream), Recv: NewReceiver()}
}

// HandleMessage dispatches an arriving message type against the current
// receive state. It only checks and advances the state machines; media_id
// allocation for the ACCEPT reply is left to the caller.
func (c *Context) HandleMessage(t message.Type) error {
	switch t {
	case message.TypeRequest:
		if c.Recv.state != RecvNotReady && c.Recv.state != RecvInitial {
			return ErrUnexpectedMessage
		}
		c.Recv.state = RecvFragment
		c.Send.MarkReady()
		return nil

	case message.TypePost:
		if c.Recv.state != RecvNotReady && c.Recv.state != RecvInitial {
			return ErrUnexpectedMessage
		}
		c.Recv.state = RecvFragment
		return nil

	case message.TypeAccept:
		if c.Recv.state != RecvNotReady && c.Recv.state != RecvInitial {
			return ErrUnexpectedMessage
		}
		c.Recv.state = RecvFragment
		c.Send.MarkReady()
		return nil

	case message.TypeStartPoint, message.TypeCachePolicy, message.TypeFinDatagram, message.TypeFragment:
		if c.Recv.state != RecvFragment {
			return ErrUnexpectedMessage
		}
		return nil

	case message.TypeSubscribe:
		if c.Recv.state != RecvNotReady && c.Recv.state != RecvInitial {
			return ErrUnexpectedMessage
		}
		c.Send.state = SendNotifyReady
		c.Recv.state = RecvNotify
		return nil

	case message.TypeNotify:
		if c.Recv.state != RecvNotify {
			return ErrUnexpectedMessage
		}
		return nil

	default:
		return ErrUnexpectedMessage
	}
}

// AssignMediaID records the media_id allocated in reply to a POST.
func (c *Context) AssignMediaID(id ids.MediaID) {
	c.MediaID = id
	c.HasMediaID = true
}

// HandleFin processes a received FIN. It returns true if the stream
// should now be deleted (both directions finished).
func (c *Context) HandleFin() bool {
	c.Recv.isPeerFinished = true
	if c.Send.isLocalFinished {
		c.Recv.state = RecvDone
		return true
	}
	c.Send.state = SendFin
	return false
}

// HandleLocalFin records that this side has finished sending. It
// returns true if the stream should now be deleted.
func (c *Context) HandleLocalFin() bool {
	c.Send.isLocalFinished = true
	c.Send.state = SendNoMore
	if c.Recv.isPeerFinished {
		c.Recv.state = RecvDone
		return true
	}
	return false
}
