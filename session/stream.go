package session

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/mediaquic/quicrq/ackhorizon"
	"github.com/mediaquic/quicrq/cache"
	"github.com/mediaquic/quicrq/conn"
	"github.com/mediaquic/quicrq/contracts"
	"github.com/mediaquic/quicrq/ids"
	"github.com/mediaquic/quicrq/message"
	"github.com/mediaquic/quicrq/reassembly"
	"github.com/mediaquic/quicrq/streamstate"
	"github.com/mediaquic/quicrq/transport"
)

// StreamResolver looks up and mints the application-level state a bidirectional
// control stream needs once a REQUEST or POST names a URL: a publisher (this
// side sends media), a consumer (this side receives media), and the
// connection-local media_id to bind the exchange to. It is the Go-interface
// seam onto the application, playing the role of accept_media / the
// publisher and source registries in the connection/subscription manager.
type StreamResolver interface {
	// OpenPublisher resolves url against the locally registered sources and
	// mints a media_id for it, servicing a peer's REQUEST.
	OpenPublisher(url string) (contracts.Publisher, conn.SourceProperties, ids.MediaID, error)
	// AcceptConsumer creates a consumer for an incoming publication at url
	// servicing a peer's POST, and mints a media_id for it.
	AcceptConsumer(url string, mode message.TransportMode) (contracts.Consumer, ids.MediaID, error)
	// AckConfig is installed on every ack/horizon engine this connection
	// creates for a newly bound publisher.
	AckConfig() ackhorizon.Config
	// RegisterNotifyReady records that streamID is now a notify_ready
	// stream for prefix, per a received SUBSCRIBE.
	RegisterNotifyReady(streamID ids.StreamID, prefix string)
	// NotifyReceived dispatches an incoming NOTIFY's URL to the pending
	// subscription registered for streamID.
	NotifyReceived(streamID ids.StreamID, url string) error
}

type pendingRole int

const (
	pendingNone pendingRole = iota
	pendingConsumerRole
	pendingPublisherRole
)

// StreamContext is the bidirectional control-stream state for one
// subscription: the send/receive protocol state machine, plus — depending
// on which direction carries media — a reassembly engine and consumer
// callback (this side receives) or a publisher callback and ack/horizon
// engine (this side sends).
type StreamContext struct {
	streamID transport.StreamID
	stream   transport.Stream

	proto *streamstate.Context
	mode  message.TransportMode
	url   string

	mediaID    ids.MediaID
	hasMediaID bool

	publisher contracts.Publisher
	ack       *ackhorizon.Engine

	sendNext                   ids.Location
	sendOffset                 ids.Offset
	sendNbObjectsPreviousGroup uint64

	consumer    contracts.Consumer
	reassembler *reassembly.Reassembler

	// groupCache is this stream's slot in the connection's per-media
	// fragment cache, letting a relay serve late subscribers from
	// fragments already seen on this media_id. Set once media_id is
	// bound; nil until then, and insertion failures are logged rather
	// than treated as reassembly errors.
	groupCache *cache.GroupCache

	pending          pendingRole
	pendingConsumer  contracts.Consumer
	pendingPublisher contracts.Publisher
	pendingStart     ids.Location
	pendingAckCfg    ackhorizon.Config

	incoming []byte
}

// NewStreamContext wraps a freshly opened or accepted bidirectional
// transport stream in a protocol state machine. singleStream selects
// whether FRAGMENT data may be carried inline on this stream (as opposed
// to warp/rush unidirectional substreams or datagrams).
func NewStreamContext(streamID transport.StreamID, stream transport.Stream, singleStream bool) *StreamContext {
	return &StreamContext{
		streamID: streamID,
		stream:   stream,
		proto:    streamstate.NewContext(singleStream),
	}
}

// StreamID returns the transport stream id this context drives.
func (c *StreamContext) StreamID() transport.StreamID { return c.streamID }

// MediaID returns the media_id bound to this stream, once known.
func (c *StreamContext) MediaID() (ids.MediaID, bool) { return c.mediaID, c.hasMediaID }

// ConsumerFinished reports whether this stream's reassembler has delivered
// everything up to the final object (the consumer_finished signal).
func (c *StreamContext) ConsumerFinished() bool {
	return c.reassembler != nil && c.reassembler.IsFinished()
}

// Close notifies the bound publisher or consumer that this stream is going
// away.
func (c *StreamContext) Close(reason contracts.CloseReason) {
	if c.publisher != nil {
		c.publisher.Close(reason)
	}
	if c.consumer != nil {
		c.consumer.Close(reason)
	}
}

// HandleFin processes a received stream FIN and reports whether the
// context should now be deleted (both directions finished).
func (c *StreamContext) HandleFin() bool { return c.proto.HandleFin() }

// HandleLocalFin records that this side has finished sending and reports
// whether the context should now be deleted.
func (c *StreamContext) HandleLocalFin() bool { return c.proto.HandleLocalFin() }

// OpenRequest sends a REQUEST for url, registering consumer as the
// recipient of the reassembled media once the peer's ACCEPT arrives.
func (c *StreamContext) OpenRequest(url string, mode message.TransportMode, intent message.SubscribeIntent, consumer contracts.Consumer) error {
	req := message.RequestMessage{URL: url, TransportMode: mode, SubscribeIntent: intent}
	if err := req.Encode(c.stream); err != nil {
		return err
	}
	c.url = url
	c.mode = mode
	c.pending = pendingConsumerRole
	c.pendingConsumer = consumer
	c.pendingStart = intent.StartPoint
	return nil
}

// OpenPost sends a POST proposing to publish url, registering publisher as
// the source of fragments once the peer's ACCEPT arrives.
func (c *StreamContext) OpenPost(url string, mode message.TransportMode, cachePolicy bool, start ids.Location, publisher contracts.Publisher, ackCfg ackhorizon.Config) error {
	post := message.PostMessage{URL: url, TransportMode: mode, CachePolicy: cachePolicy, Start: start}
	if err := post.Encode(c.stream); err != nil {
		return err
	}
	c.url = url
	c.mode = mode
	c.pending = pendingPublisherRole
	c.pendingPublisher = publisher
	c.pendingAckCfg = ackCfg
	return nil
}

// HandleIncomingStreamData implements the stream_data transport callback
// for this bidirectional control stream: it buffers data, decodes every
// complete length-prefixed message (a message may arrive split across
// several stream_data invocations), and applies each one's semantics.
func (c *StreamContext) HandleIncomingStreamData(now time.Time, data []byte, resolve StreamResolver) error {
	c.incoming = append(c.incoming, data...)
	for {
		msg, n, ok, err := tryDecodeFrame(c.incoming)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		c.incoming = c.incoming[n:]
		if err := c.handleMessage(now, msg, resolve); err != nil {
			return err
		}
	}
}

func (c *StreamContext) handleMessage(now time.Time, m message.Message, resolve StreamResolver) error {
	switch msg := m.(type) {
	case *message.RequestMessage:
		return c.handleRequest(msg, resolve)
	case *message.PostMessage:
		return c.handlePost(now, msg, resolve)
	case *message.AcceptMessage:
		return c.handleAccept(now, msg)
	case *message.StartPointMessage:
		if err := c.proto.HandleMessage(message.TypeStartPoint); err != nil {
			return err
		}
		if c.reassembler == nil {
			return ErrStateViolation
		}
		if err := c.reassembler.LearnStartPoint(msg.Location); err != nil {
			return err
		}
		c.consumer.StartPoint(msg.Location)
		return nil
	case *message.CachePolicyMessage:
		if err := c.proto.HandleMessage(message.TypeCachePolicy); err != nil {
			return err
		}
		if c.consumer == nil {
			return ErrStateViolation
		}
		c.consumer.RealTimeCache(msg.Flag)
		return nil
	case *message.FinDatagramMessage:
		if err := c.proto.HandleMessage(message.TypeFinDatagram); err != nil {
			return err
		}
		if c.reassembler == nil {
			return ErrStateViolation
		}
		c.reassembler.LearnFinalObjectID(msg.Final)
		c.consumer.FinalObjectID(msg.Final)
		if c.groupCache != nil {
			c.groupCache.NotifyFinal(msg.Final.Group, msg.Final.Object)
		}
		return nil
	case *message.FragmentMessage:
		if err := c.proto.HandleMessage(message.TypeFragment); err != nil {
			return err
		}
		if c.reassembler == nil {
			return ErrStateViolation
		}
		c.cacheFragment(msg.Group, msg.Object, msg.Offset, msg.ObjectLength, msg.NbObjectsPreviousGroup, byte(msg.Flags), msg.Data)
		return c.reassembler.InputFragment(msg.Group, msg.Object, msg.Offset, byte(msg.Flags), msg.NbObjectsPreviousGroup, msg.ObjectLength, msg.Data)
	case *message.SubscribeMessage:
		if err := c.proto.HandleMessage(message.TypeSubscribe); err != nil {
			return err
		}
		resolve.RegisterNotifyReady(ids.StreamID(c.streamID), msg.URLPrefix)
		return nil
	case *message.NotifyMessage:
		if err := c.proto.HandleMessage(message.TypeNotify); err != nil {
			return err
		}
		return resolve.NotifyReceived(ids.StreamID(c.streamID), msg.URL)
	default:
		return ErrStateViolation
	}
}

func (c *StreamContext) handleRequest(msg *message.RequestMessage, resolve StreamResolver) error {
	if err := c.proto.HandleMessage(message.TypeRequest); err != nil {
		return err
	}
	pub, props, mediaID, err := resolve.OpenPublisher(msg.URL)
	if err != nil {
		return err
	}
	c.url = msg.URL
	c.mode = msg.TransportMode
	c.publisher = pub
	c.ack = ackhorizon.New(resolve.AckConfig())
	c.mediaID = mediaID
	c.hasMediaID = true

	start := msg.SubscribeIntent.StartPoint
	if props.HasStartPoint {
		start = props.StartPoint
	}
	if start != (ids.Location{}) {
		c.proto.Send.SetStartPoint(start)
		c.sendNext = start
	}
	if props.IsRealTime {
		c.proto.Send.SetCacheRealTime(true)
	}

	accept := message.AcceptMessage{TransportMode: msg.TransportMode, MediaID: mediaID}
	return accept.Encode(c.stream)
}

func (c *StreamContext) handlePost(now time.Time, msg *message.PostMessage, resolve StreamResolver) error {
	if err := c.proto.HandleMessage(message.TypePost); err != nil {
		return err
	}
	con, mediaID, err := resolve.AcceptConsumer(msg.URL, msg.TransportMode)
	if err != nil {
		return err
	}
	c.url = msg.URL
	c.mode = msg.TransportMode
	c.consumer = con
	c.reassembler = reassembly.New(consumerAdapter{con})
	if err := c.reassembler.LearnStartPoint(msg.Start); err != nil {
		return err
	}
	con.StartPoint(msg.Start)
	if msg.CachePolicy {
		con.RealTimeCache(true)
	}
	c.mediaID = mediaID
	c.hasMediaID = true

	accept := message.AcceptMessage{TransportMode: msg.TransportMode, MediaID: mediaID}
	return accept.Encode(c.stream)
}

func (c *StreamContext) handleAccept(now time.Time, msg *message.AcceptMessage) error {
	if err := c.proto.HandleMessage(message.TypeAccept); err != nil {
		return err
	}
	switch c.pending {
	case pendingConsumerRole:
		c.consumer = c.pendingConsumer
		c.reassembler = reassembly.New(consumerAdapter{c.pendingConsumer})
		if c.pendingStart != (ids.Location{}) {
			if err := c.reassembler.LearnStartPoint(c.pendingStart); err != nil {
				return err
			}
		}
	case pendingPublisherRole:
		c.publisher = c.pendingPublisher
		c.ack = ackhorizon.New(c.pendingAckCfg)
	}
	c.mediaID = msg.MediaID
	c.hasMediaID = true
	c.pending = pendingNone
	return nil
}

// PumpSend implements the prepare_to_send transport callback against the
// sender priority ladder (streamstate.Sender.NextAction).
func (c *StreamContext) PumpSend(now time.Time, maxBytes uint64) error {
	if c.proto.Send.State() != streamstate.SendReady {
		return nil
	}

	var fragmentReady bool
	if c.publisher != nil && c.mode == message.ModeStream {
		probe, err := c.publisher.GetData(contracts.FragmentRequest{Max: 0, Now: now})
		if err != nil {
			return err
		}
		fragmentReady = len(probe.Data) > 0 || probe.MediaFinished || probe.HasBacklog
	}

	switch c.proto.Send.NextAction(fragmentReady) {
	case streamstate.ActionStartPoint:
		m := message.StartPointMessage{Location: c.proto.Send.StartLocation()}
		if err := m.Encode(c.stream); err != nil {
			return err
		}
		c.proto.Send.MarkReady()
	case streamstate.ActionFinalPoint:
		m := message.FinDatagramMessage{Final: c.proto.Send.FinalLocation()}
		if err := m.Encode(c.stream); err != nil {
			return err
		}
		c.proto.Send.MarkReady()
	case streamstate.ActionCachePolicy:
		m := message.CachePolicyMessage{Flag: c.proto.Send.CacheRealTime()}
		if err := m.Encode(c.stream); err != nil {
			return err
		}
		c.proto.Send.MarkReady()
	case streamstate.ActionSingleStream:
		return c.sendSingleStreamFragment(now, maxBytes)
	}
	return nil
}

func (c *StreamContext) sendSingleStreamFragment(now time.Time, maxBytes uint64) error {
	reply, err := c.publisher.GetData(contracts.FragmentRequest{Max: maxBytes, Now: now})
	if err != nil {
		return err
	}

	if reply.IsNewGroup {
		c.sendNbObjectsPreviousGroup = uint64(c.sendNext.Object)
		c.sendNext = ids.Location{Group: c.sendNext.Group + 1, Object: 0}
		c.sendOffset = 0
	}

	kind, flags := c.proto.Send.ResolveFragmentSend(streamstate.FragmentOutcome{
		MediaFinished: reply.MediaFinished,
	})

	if kind == streamstate.EmitFinDatagram {
		m := message.FinDatagramMessage{Final: c.sendNext}
		return m.Encode(c.stream)
	}

	frag := message.FragmentMessage{
		Group:                  c.sendNext.Group,
		Object:                 c.sendNext.Object,
		NbObjectsPreviousGroup: c.sendNbObjectsPreviousGroup,
		Offset:                 c.sendOffset,
		ObjectLength:           reply.ObjectLength,
		Flags:                  flags,
		Data:                   reply.Data,
	}
	if err := frag.Encode(c.stream); err != nil {
		return err
	}

	c.ack.AckInit(frag.Group, frag.Object, frag.Offset, byte(frag.Flags), frag.NbObjectsPreviousGroup, frag.Data, uint64(len(frag.Data)), 0, frag.ObjectLength, now)

	c.sendOffset += ids.Offset(len(frag.Data))
	if frag.ObjectLength > 0 && uint64(c.sendOffset) >= frag.ObjectLength {
		c.sendNext.Object++
		c.sendOffset = 0
	}
	return nil
}

// sendDatagramFragment implements the datagram-mode half of the sender:
// invoked from the round-robin datagram scan, it formats one fragment into
// a DatagramHeader-prefixed datagram and hands it to ack_init.
func (c *StreamContext) sendDatagramFragment(now time.Time, maxBytes uint64, conn transport.Connection) error {
	reply, err := c.publisher.GetData(contracts.FragmentRequest{Max: maxBytes, Now: now})
	if err != nil {
		return err
	}
	if reply.IsNewGroup {
		c.sendNbObjectsPreviousGroup = uint64(c.sendNext.Object)
		c.sendNext = ids.Location{Group: c.sendNext.Group + 1, Object: 0}
		c.sendOffset = 0
	}
	if len(reply.Data) == 0 && !reply.MediaFinished {
		return nil
	}

	hdr := message.DatagramHeader{
		MediaID:                c.mediaID,
		Group:                  c.sendNext.Group,
		Object:                 c.sendNext.Object,
		ObjectOffset:           c.sendOffset,
		Flags:                  0,
		NbObjectsPreviousGroup: c.sendNbObjectsPreviousGroup,
		ObjectLength:           reply.ObjectLength,
	}

	var buf bytes.Buffer
	if err := hdr.Encode(&buf); err != nil {
		return err
	}
	buf.Write(reply.Data)

	c.ack.AckInit(hdr.Group, hdr.Object, hdr.ObjectOffset, byte(hdr.Flags), hdr.NbObjectsPreviousGroup, reply.Data, uint64(len(reply.Data)), 0, hdr.ObjectLength, now)

	c.sendOffset += ids.Offset(len(reply.Data))
	if hdr.ObjectLength > 0 && uint64(c.sendOffset) >= hdr.ObjectLength {
		c.sendNext.Object++
		c.sendOffset = 0
	}

	return conn.SendDatagram(buf.Bytes())
}

// cacheFragment records a fragment in this stream's per-media cache slot,
// if one is bound, so a relay can serve late subscribers from it. Best
// effort: a cache rejection (e.g. a conflicting retransmission) is logged
// rather than failing reassembly, which has already accepted the fragment
// on its own terms.
func (c *StreamContext) cacheFragment(group ids.GroupID, object ids.ObjectID, offset ids.Offset, objectLength, nbObjectsPreviousGroup uint64, flags byte, data []byte) {
	if c.groupCache == nil {
		return
	}
	if err := c.groupCache.Insert(group, object, offset, objectLength, nbObjectsPreviousGroup, flags, data); err != nil {
		slog.Error("session: fragment cache insert failed",
			slog.Uint64("group", uint64(group)), slog.Uint64("object", uint64(object)),
			slog.String("error", err.Error()))
	}
}

// consumerAdapter bridges reassembly.Consumer's mode-tagged Deliver into
// contracts.Consumer.DatagramReady.
type consumerAdapter struct {
	c contracts.Consumer
}

func (a consumerAdapter) Deliver(mode reassembly.DeliveryMode, group ids.GroupID, object ids.ObjectID, data []byte, flags byte) {
	if err := a.c.DatagramReady(time.Time{}, contracts.Delivery{
		Group:  group,
		Object: object,
		Data:   data,
		Flags:  flags,
	}); err != nil {
		slog.Error("session: consumer rejected delivered object",
			slog.Uint64("group", uint64(group)), slog.Uint64("object", uint64(object)),
			slog.String("error", err.Error()))
	}
}

// tryDecodeFrame decodes one length-prefixed message from the front of
// buf, reporting how many bytes it consumed. ok is false when buf does not
// yet hold a complete frame (accumulate more and retry).
func tryDecodeFrame(buf []byte) (message.Message, int, bool, error) {
	const prefixSize = 2
	if len(buf) < prefixSize {
		return nil, 0, false, nil
	}
	total := int(binary.BigEndian.Uint16(buf[:prefixSize]))
	frameLen := prefixSize + total
	if len(buf) < frameLen {
		return nil, 0, false, nil
	}
	msg, err := message.Decode(bytes.NewReader(buf[:frameLen]))
	if err != nil {
		return nil, 0, false, err
	}
	return msg, frameLen, true, nil
}
