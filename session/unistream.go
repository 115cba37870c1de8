package session

import (
	"time"

	"github.com/mediaquic/quicrq/contracts"
	"github.com/mediaquic/quicrq/ids"
	"github.com/mediaquic/quicrq/message"
	"github.com/mediaquic/quicrq/substream"
	"github.com/mediaquic/quicrq/transport"
)

// UniStreamContext is the per-substream state for one warp/rush
// unidirectional stream: either the send half (a publisher and a
// substream.Sender driving WARP_HEADER/OBJECT_HEADER framing) or the
// receive half (a substream.Receiver feeding a control stream's
// reassembler).
type UniStreamContext struct {
	streamID        transport.StreamID
	controlStreamID transport.StreamID

	sender *substream.Sender
	send   transport.SendStream

	publisher        contracts.Publisher
	objectBytesTotal uint64
	objectBytesSent  uint64

	hasFinal      bool
	finalObjectID ids.ObjectID

	receiver *substream.Receiver
	recv     transport.ReceiveStream

	currentFlags                  message.FragmentFlags
	currentNbObjectsPreviousGroup uint64
	currentObjectConsumed         uint64

	incoming []byte
}

// NewUniSender opens the send half of a warp/rush substream bound to
// controlStreamID's media_id and carrying group.
func NewUniSender(streamID, controlStreamID transport.StreamID, send transport.SendStream, mode substream.Mode, mediaID ids.MediaID, group ids.GroupID, publisher contracts.Publisher) *UniStreamContext {
	return &UniStreamContext{
		streamID:        streamID,
		controlStreamID: controlStreamID,
		sender:          substream.NewSender(mode, mediaID, group),
		send:            send,
		publisher:       publisher,
	}
}

// SetFinalObjectID records the exclusive object boundary for this
// substream's group, learned from a FIN_DATAGRAM or the next group's
// nb_objects_previous_group.
func (u *UniStreamContext) SetFinalObjectID(id ids.ObjectID) {
	u.hasFinal = true
	u.finalObjectID = id
	u.sender.SetLastObjectID(id)
}

// PumpSend drives the substream's send side one step: opening the
// substream, writing the next object's header and payload, or closing it
// once every known object has been sent.
func (u *UniStreamContext) PumpSend(now time.Time, maxBytes uint64) error {
	switch u.sender.State() {
	case substream.SendingOpen:
		hdr := u.sender.Open()
		return hdr.Encode(u.send)

	case substream.ObjectData:
		reply, err := u.publisher.GetData(contracts.FragmentRequest{Max: maxBytes, Now: now})
		if err != nil {
			return err
		}
		if _, err := u.send.Write(reply.Data); err != nil {
			return err
		}
		u.objectBytesSent += uint64(len(reply.Data))
		if u.objectBytesSent >= u.objectBytesTotal {
			u.sender.AdvanceAfterPayload()
		}
		return nil

	case substream.WarpHeaderSent:
		if u.sender.Done() {
			u.sender.Finish()
			return u.send.Close()
		}

		reply, err := u.publisher.GetData(contracts.FragmentRequest{Max: maxBytes, Now: now})
		if err != nil {
			return err
		}
		if reply.MediaFinished && !u.hasFinal {
			u.SetFinalObjectID(0) // no objects remain; the substream is finished just below
		}
		if reply.MediaFinished {
			u.sender.Finish()
			return u.send.Close()
		}

		hdr := u.sender.NextObjectHeader(0, reply.ObjectLength, 0, false)
		if err := hdr.Encode(u.send); err != nil {
			return err
		}
		u.objectBytesTotal = reply.ObjectLength
		u.objectBytesSent = uint64(len(reply.Data))
		if len(reply.Data) > 0 {
			if _, err := u.send.Write(reply.Data); err != nil {
				return err
			}
			if u.objectBytesSent >= u.objectBytesTotal {
				u.sender.AdvanceAfterPayload()
			}
		}
		return nil

	default:
		return nil
	}
}

// NewUniReceiver accepts the receive half of an incoming warp/rush
// substream, not yet bound to a media_id until its WARP_HEADER arrives.
func NewUniReceiver(streamID transport.StreamID, recv transport.ReceiveStream, mode substream.Mode) *UniStreamContext {
	return &UniStreamContext{
		streamID: streamID,
		receiver: substream.NewReceiver(mode),
		recv:     recv,
	}
}

// MediaID returns the media_id this substream was bound to by its
// WARP_HEADER, once received.
func (u *UniStreamContext) MediaID() (ids.MediaID, bool) {
	return u.receiver.MediaID()
}

// HandleData implements the substream half of the stream_data callback:
// it decodes WARP_HEADER/OBJECT_HEADER frames and feeds raw object
// payload bytes into the reassembler of the control stream bound to this
// substream's media_id, keyed by the substream's (group, object, offset)
// cursor. resolveTarget is consulted each time a reassembler is needed,
// since the media_id is only known once WARP_HEADER has been decoded.
func (u *UniStreamContext) HandleData(data []byte, resolveTarget func(ids.MediaID) *StreamContext) error {
	u.incoming = append(u.incoming, data...)

	for {
		if u.receiver.State() == substream.ObjectDataRecv {
			total := u.receiver.CurrentObjectLength()
			remaining := total - u.currentObjectConsumed
			take := remaining
			if uint64(len(u.incoming)) < take {
				take = uint64(len(u.incoming))
			}
			if take == 0 {
				return nil
			}
			target, err := u.resolve(resolveTarget)
			if err != nil {
				return err
			}
			group, object, offset := u.receiver.ObjectFragmentLocation(int(take))
			target.cacheFragment(group, object, offset, total, u.currentNbObjectsPreviousGroup, byte(u.currentFlags), u.incoming[:take])
			if err := target.reassembler.InputFragment(group, object, offset, byte(u.currentFlags), u.currentNbObjectsPreviousGroup, total, u.incoming[:take]); err != nil {
				return err
			}
			u.incoming = u.incoming[take:]
			u.currentObjectConsumed += take
			if u.currentObjectConsumed >= total {
				u.currentObjectConsumed = 0
				u.receiver.AdvanceAfterPayload()
			}
			continue
		}

		msg, n, ok, err := tryDecodeFrame(u.incoming)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		u.incoming = u.incoming[n:]

		switch m := msg.(type) {
		case *message.WarpHeaderMessage:
			u.receiver.HandleWarpHeader(*m)
		case *message.ObjectHeaderMessage:
			u.currentFlags = m.Flags
			u.currentNbObjectsPreviousGroup = m.NbObjectsPreviousGroup
			if err := u.receiver.HandleObjectHeader(*m); err != nil {
				return err
			}
			if m.ObjectLength == 0 {
				target, err := u.resolve(resolveTarget)
				if err != nil {
					return err
				}
				target.cacheFragment(u.receiver.Group(), m.Object, 0, 0, m.NbObjectsPreviousGroup, byte(m.Flags), nil)
				if err := target.reassembler.InputFragment(u.receiver.Group(), m.Object, 0, byte(m.Flags), m.NbObjectsPreviousGroup, 0, nil); err != nil {
					return err
				}
			}
		default:
			return ErrStateViolation
		}
	}
}

func (u *UniStreamContext) resolve(resolveTarget func(ids.MediaID) *StreamContext) (*StreamContext, error) {
	mediaID, ok := u.receiver.MediaID()
	if !ok {
		return nil, ErrStateViolation
	}
	target := resolveTarget(mediaID)
	if target == nil || target.reassembler == nil {
		return nil, ErrUnknownStream
	}
	return target, nil
}
