// Package contracts defines the narrow callback interfaces through
// which the transport core invokes application code: a Publisher feeds
// outgoing media, a Consumer receives reassembled objects and lifecycle
// signals, and an ObjectSource is the higher-level API a media source
// is published through. Each is a small Go interface rather than a
// tagged union of an action enum plus a void context pointer.
package contracts

import (
	"time"

	"github.com/mediaquic/quicrq/ids"
)

// CloseReason explains why a stream or connection closed, surfaced to
// Publisher.Close / Consumer.Close.
type CloseReason struct {
	Err  error
	Code uint64
}

// FragmentRequest describes the send opportunity offered to a
// Publisher: up to Max bytes of the next fragment.
type FragmentRequest struct {
	Max uint64
	Now time.Time
}

// FragmentReply is what GetData fills in.
type FragmentReply struct {
	Data          []byte
	IsNewGroup    bool
	ObjectLength  uint64
	MediaFinished bool
	StillActive   bool
	HasBacklog    bool
}

// Publisher is the core's view of an outgoing media source on one
// stream or substream.
type Publisher interface {
	// GetData reports how many bytes are available (req.Max == 0 probes
	// availability without consuming), or copies up to req.Max bytes and
	// advances the publisher's cursor.
	GetData(req FragmentRequest) (FragmentReply, error)
	// SkipObject asks the publisher to skip the current object for
	// congestion control; the core emits a zero-length placeholder.
	SkipObject() error
	// Close notifies the publisher that its stream is going away.
	Close(reason CloseReason)
}

// Delivery is one object handed to a Consumer by the reassembly engine.
type Delivery struct {
	Group                  ids.GroupID
	Object                 ids.ObjectID
	Data                   []byte
	Flags                  byte
	QueueDelay             time.Duration
	NbObjectsPreviousGroup uint64
	ObjectLength           uint64
}

// Consumer is the core's view of an incoming media sink on one stream
// or substream.
type Consumer interface {
	// DatagramReady delivers one reassembled object.
	DatagramReady(now time.Time, d Delivery) error
	// FinalObjectID informs the consumer of the stream's final (group,
	// object) boundary.
	FinalObjectID(loc ids.Location)
	// StartPoint informs the consumer of the stream's start (group,
	// object) boundary.
	StartPoint(loc ids.Location)
	// RealTimeCache informs the consumer that the source is configured
	// as a bounded-duration real-time cache rather than a full replay.
	RealTimeCache(isRealTime bool)
	// Close notifies the consumer that its stream is going away.
	Close(reason CloseReason)
}

// ObjectProperties carries the out-of-band metadata accompanying a
// published object.
type ObjectProperties struct {
	Flags                  byte
	NbObjectsPreviousGroup uint64
}

// ObjectSource is the higher-level publish API a media source uses; the
// core exposes fragment-level Publisher semantics on top of whatever an
// ObjectSource buffers.
type ObjectSource interface {
	// PublishObject appends one complete object to the source.
	PublishObject(group ids.GroupID, object ids.ObjectID, data []byte, properties ObjectProperties) error
	// PublishObjectFin marks the source as having no further objects.
	PublishObjectFin() error
}
