package session

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/mediaquic/quicrq/ackhorizon"
	"github.com/mediaquic/quicrq/cache"
	"github.com/mediaquic/quicrq/conn"
	"github.com/mediaquic/quicrq/contracts"
	"github.com/mediaquic/quicrq/datagram"
	"github.com/mediaquic/quicrq/ids"
	"github.com/mediaquic/quicrq/message"
	"github.com/mediaquic/quicrq/scheduler"
	"github.com/mediaquic/quicrq/substream"
	"github.com/mediaquic/quicrq/transport"
)

// SourceProvider is the application hook a Connection consults to service
// REQUEST and POST: given a URL, it either opens a publisher over a
// locally published source or builds a consumer to accept an incoming
// publication. What a URL resolves to, and how the bytes are produced or
// consumed, is entirely up to the embedding application.
type SourceProvider interface {
	// OpenSource resolves url against locally published media, for a
	// peer's REQUEST.
	OpenSource(url string) (contracts.Publisher, error)
	// AcceptIncoming builds a consumer for an incoming publication at
	// url, for a peer's POST.
	AcceptIncoming(url string, mode message.TransportMode) (contracts.Consumer, error)
}

// Connection is the connection-level integration layer: it owns every
// StreamContext and UniStreamContext multiplexed over one transport
// connection, dispatches the transport's callback surface against them,
// and wires the connection/subscription manager, per-media fragment
// cache, datagram scheduler, and time/scheduler hook together.
type Connection struct {
	conn     transport.Connection
	provider SourceProvider
	ackCfg   ackhorizon.Config

	manager       *conn.Manager
	mediaCache    *cache.MediaCache
	datagramSched *datagram.Scheduler
	timeSched     *scheduler.Scheduler

	streams      map[transport.StreamID]*StreamContext
	unistreams   map[transport.StreamID]*UniStreamContext
	mediaStreams map[ids.MediaID]transport.StreamID
	timeHandles  map[transport.StreamID]int
}

// NewConnection wraps c, dispatching its callback surface against
// application state resolved through provider.
func NewConnection(c transport.Connection, provider SourceProvider, ackCfg ackhorizon.Config) *Connection {
	return &Connection{
		conn:          c,
		provider:      provider,
		ackCfg:        ackCfg,
		manager:       conn.New(),
		mediaCache:    cache.NewMediaCache(),
		datagramSched: datagram.New(),
		timeSched:     scheduler.New(),
		streams:       make(map[transport.StreamID]*StreamContext),
		unistreams:    make(map[transport.StreamID]*UniStreamContext),
		mediaStreams:  make(map[ids.MediaID]transport.StreamID),
		timeHandles:   make(map[transport.StreamID]int),
	}
}

// --- StreamResolver -------------------------------------------------------

func (c *Connection) OpenPublisher(url string) (contracts.Publisher, conn.SourceProperties, ids.MediaID, error) {
	props, err := c.manager.Source(url)
	if err != nil {
		return nil, conn.SourceProperties{}, 0, err
	}
	pub, err := c.provider.OpenSource(url)
	if err != nil {
		return nil, conn.SourceProperties{}, 0, err
	}
	return pub, props, c.manager.AcceptMedia(url), nil
}

func (c *Connection) AcceptConsumer(url string, mode message.TransportMode) (contracts.Consumer, ids.MediaID, error) {
	con, err := c.provider.AcceptIncoming(url, mode)
	if err != nil {
		return nil, 0, err
	}
	return con, c.manager.AcceptMedia(url), nil
}

func (c *Connection) AckConfig() ackhorizon.Config { return c.ackCfg }

func (c *Connection) RegisterNotifyReady(streamID ids.StreamID, prefix string) {
	c.manager.RegisterNotifyReady(streamID, prefix)
}

func (c *Connection) NotifyReceived(streamID ids.StreamID, url string) error {
	return c.manager.NotifyReceived(streamID, url)
}

// --- Stream lifecycle -------------------------------------------------------

// OpenRequestStream opens a new bidirectional stream and sends a REQUEST
// for url over it.
func (c *Connection) OpenRequestStream(ctx context.Context, url string, mode message.TransportMode, intent message.SubscribeIntent, consumer contracts.Consumer) (*StreamContext, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	sc := NewStreamContext(s.StreamID(), s, mode == message.ModeStream)
	if err := sc.OpenRequest(url, mode, intent, consumer); err != nil {
		return nil, err
	}
	c.streams[s.StreamID()] = sc
	if mode == message.ModeDatagram {
		c.datagramSched.Register(ids.StreamID(s.StreamID()))
	}
	return sc, nil
}

// OpenPostStream opens a new bidirectional stream and proposes to publish
// url over it.
func (c *Connection) OpenPostStream(ctx context.Context, url string, mode message.TransportMode, cachePolicy bool, start ids.Location, publisher contracts.Publisher) (*StreamContext, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	sc := NewStreamContext(s.StreamID(), s, mode == message.ModeStream)
	if err := sc.OpenPost(url, mode, cachePolicy, start, publisher, c.ackCfg); err != nil {
		return nil, err
	}
	c.streams[s.StreamID()] = sc
	if mode == message.ModeDatagram {
		c.datagramSched.Register(ids.StreamID(s.StreamID()))
	}
	return sc, nil
}

// AcceptIncomingStream binds a freshly accepted bidirectional stream, to
// be driven by subsequent OnStreamData calls.
func (c *Connection) AcceptIncomingStream(s transport.Stream) *StreamContext {
	sc := NewStreamContext(s.StreamID(), s, true)
	c.streams[s.StreamID()] = sc
	return sc
}

// OpenUniSenderStream opens a new unidirectional substream carrying group
// in warp/rush mode on behalf of the control stream bound to mediaID.
func (c *Connection) OpenUniSenderStream(ctx context.Context, controlStreamID transport.StreamID, mode substream.Mode, mediaID ids.MediaID, group ids.GroupID, publisher contracts.Publisher) (*UniStreamContext, error) {
	s, err := c.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	u := NewUniSender(s.StreamID(), controlStreamID, s, mode, mediaID, group, publisher)
	c.unistreams[s.StreamID()] = u
	return u, nil
}

// AcceptUniReceiverStream binds a freshly accepted unidirectional
// substream, to be driven by subsequent OnStreamData calls.
func (c *Connection) AcceptUniReceiverStream(s transport.ReceiveStream, mode substream.Mode) *UniStreamContext {
	u := NewUniReceiver(s.StreamID(), s, mode)
	c.unistreams[s.StreamID()] = u
	return u
}

// RegisterSource implements publish_object_source: it registers url as a
// locally available media source and flushes NOTIFY to every matching
// subscribed stream.
func (c *Connection) RegisterSource(url string, props conn.SourceProperties) error {
	matched, err := c.manager.RegisterSource(url, props)
	if err != nil {
		return err
	}
	for _, streamID := range matched {
		sc, ok := c.streams[transport.StreamID(streamID)]
		if !ok {
			continue
		}
		for _, pending := range c.manager.DrainPending(streamID) {
			notify := message.NotifyMessage{URL: pending}
			if err := notify.Encode(sc.stream); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- Transport callback dispatch --------------------------------------------

// OnStreamData implements the stream_data(stream_id, bytes, fin) callback.
func (c *Connection) OnStreamData(now time.Time, streamID transport.StreamID, data []byte, fin bool) error {
	if u, ok := c.unistreams[streamID]; ok {
		return c.dispatchUniData(now, u, data, fin)
	}

	sc, ok := c.streams[streamID]
	if !ok {
		return ErrUnknownStream
	}
	_, hadMediaID := sc.MediaID()
	if err := sc.HandleIncomingStreamData(now, data, c); err != nil {
		return c.handleConsumerFinished(sc, false, false, err)
	}
	if !hadMediaID {
		if mediaID, ok := sc.MediaID(); ok {
			c.bindMediaID(sc, mediaID, streamID)
		}
	}
	if fin {
		if sc.HandleFin() {
			c.forgetStream(streamID)
		}
	}
	return nil
}

// bindMediaID records the stream now bound to mediaID, so datagram and
// unistream callbacks naming mediaID can be routed to it; for a
// datagram-mode stream that sends media it adds the stream to the
// round-robin datagram scheduler and marks it media-assigned and active,
// and for a stream that just became a sender it registers its ack/horizon
// engine's extra-repeat queue with the time/scheduler hook.
func (c *Connection) bindMediaID(sc *StreamContext, mediaID ids.MediaID, streamID transport.StreamID) {
	c.mediaStreams[mediaID] = streamID
	sc.groupCache = c.mediaCache.Get(mediaID)
	if sc.mode == message.ModeDatagram && sc.publisher != nil {
		c.datagramSched.Register(ids.StreamID(streamID))
		c.datagramSched.SetMediaAssigned(ids.StreamID(streamID), true)
		c.datagramSched.SetActive(ids.StreamID(streamID), true)
	}
	if sc.ack != nil {
		handle := c.timeSched.Register(ackhorizon.Scheduled{
			Engine: sc.ack,
			Sink: func(dg ackhorizon.RepeatDatagram) {
				if err := c.repeatDatagram(sc, mediaID, dg); err != nil {
					slog.Error("session: extra-repeat datagram send failed",
						slog.Uint64("media_id", uint64(mediaID)), slog.String("error", err.Error()))
				}
			},
		})
		c.timeHandles[streamID] = handle
	}
}

// forgetStream removes every registration for streamID: its context, its
// datagram-scheduler slot, and its ack/horizon engine's extra-repeat
// registration.
func (c *Connection) forgetStream(streamID transport.StreamID) {
	if handle, ok := c.timeHandles[streamID]; ok {
		c.timeSched.Unregister(handle)
		delete(c.timeHandles, streamID)
	}
	c.datagramSched.Unregister(ids.StreamID(streamID))
	delete(c.streams, streamID)
}

func (c *Connection) dispatchUniData(now time.Time, u *UniStreamContext, data []byte, fin bool) error {
	if err := u.HandleData(data, c.streamForMedia); err != nil {
		return err
	}
	if fin {
		delete(c.unistreams, u.streamID)
	}
	return nil
}

func (c *Connection) streamForMedia(mediaID ids.MediaID) *StreamContext {
	streamID, ok := c.mediaStreams[mediaID]
	if !ok {
		return nil
	}
	return c.streams[streamID]
}

// OnPrepareToSend implements the prepare_to_send(stream_id, buffer,
// space) callback.
func (c *Connection) OnPrepareToSend(now time.Time, streamID transport.StreamID, maxBytes uint64) error {
	if u, ok := c.unistreams[streamID]; ok {
		if err := u.PumpSend(now, maxBytes); err != nil {
			return err
		}
		if u.sender != nil && u.sender.State() == substream.WarpAllSent {
			delete(c.unistreams, streamID)
		}
		return nil
	}
	sc, ok := c.streams[streamID]
	if !ok {
		return ErrUnknownStream
	}
	if err := sc.PumpSend(now, maxBytes); err != nil {
		return c.handleConsumerFinished(sc, false, false, err)
	}
	if sc.ConsumerFinished() {
		return c.handleConsumerFinished(sc, true, false, nil)
	}
	return nil
}

// OnDatagram implements the datagram(bytes) callback: it decodes the
// DatagramHeader, routes the payload to the stream bound to its
// media_id, and feeds the fragment into that stream's reassembler.
func (c *Connection) OnDatagram(now time.Time, data []byte) error {
	var hdr message.DatagramHeader
	r := bytes.NewReader(data)
	if err := hdr.Decode(r); err != nil {
		return err
	}
	payload := data[len(data)-r.Len():]

	sc := c.streamForMedia(hdr.MediaID)
	if sc == nil || sc.reassembler == nil {
		return ErrUnknownStream
	}
	sc.cacheFragment(hdr.Group, hdr.Object, hdr.ObjectOffset, hdr.ObjectLength, hdr.NbObjectsPreviousGroup, byte(hdr.Flags), payload)
	if err := sc.reassembler.InputFragment(hdr.Group, hdr.Object, hdr.ObjectOffset, byte(hdr.Flags), hdr.NbObjectsPreviousGroup, hdr.ObjectLength, payload); err != nil {
		return c.handleConsumerFinished(sc, false, false, err)
	}
	if sc.ConsumerFinished() {
		return c.handleConsumerFinished(sc, true, false, nil)
	}
	return nil
}

// OnPrepareDatagram implements the prepare_datagram(buffer, space)
// callback via the round-robin active-datagram-stream scan.
func (c *Connection) OnPrepareDatagram(now time.Time, maxBytes uint64) (bool, error) {
	id, atLeastOneActive, found := c.datagramSched.NextActive()
	if !found {
		return false, nil
	}
	sc, ok := c.streams[transport.StreamID(id)]
	if !ok {
		return atLeastOneActive, ErrUnknownStream
	}
	if err := sc.sendDatagramFragment(now, maxBytes, c.conn); err != nil {
		return atLeastOneActive, err
	}
	return atLeastOneActive, nil
}

// OnStreamReset implements the stream_reset(stream_id) callback.
func (c *Connection) OnStreamReset(streamID transport.StreamID) error {
	return c.closeWithReset(streamID)
}

// OnStopSending implements the stop_sending(stream_id) callback.
func (c *Connection) OnStopSending(streamID transport.StreamID) error {
	return c.closeWithReset(streamID)
}

func (c *Connection) closeWithReset(streamID transport.StreamID) error {
	sc, ok := c.streams[streamID]
	if !ok {
		return ErrUnknownStream
	}
	sc.Close(contracts.CloseReason{Err: ErrTransportReset})
	c.forgetStream(streamID)
	return nil
}

// OnDatagramAcked implements the datagram_acked(send_time, bytes)
// callback, routing the acked datagram to its owning stream's
// ack/horizon engine.
func (c *Connection) OnDatagramAcked(sentBytes []byte) error {
	sc, hdr, err := c.lookupSentDatagram(sentBytes)
	if err != nil {
		return err
	}
	sc.ack.HandleAck(hdr.Group, hdr.Object, hdr.ObjectOffset, uint64(len(sentBytes))-uint64(hdr.Len()))
	return nil
}

// OnDatagramLost implements the datagram_lost(send_time, bytes) callback.
func (c *Connection) OnDatagramLost(now time.Time, sentBytes []byte) error {
	sc, hdr, err := c.lookupSentDatagram(sentBytes)
	if err != nil {
		return err
	}
	dg, ok := sc.ack.HandleLost(hdr.Group, hdr.Object, hdr.ObjectOffset, now)
	if !ok {
		return nil
	}
	return c.repeatDatagram(sc, hdr.MediaID, dg)
}

// OnDatagramSpurious implements the datagram_spurious(send_time, bytes)
// callback: a loss report later proven wrong. The horizon engine has no
// separate bookkeeping for this; logged for visibility only.
func (c *Connection) OnDatagramSpurious(sentBytes []byte) error {
	_, hdr, err := c.lookupSentDatagram(sentBytes)
	if err != nil {
		return err
	}
	slog.Debug("session: spurious datagram loss report",
		slog.Uint64("media_id", uint64(hdr.MediaID)),
		slog.Uint64("group", uint64(hdr.Group)),
		slog.Uint64("object", uint64(hdr.Object)))
	return nil
}

func (c *Connection) lookupSentDatagram(sentBytes []byte) (*StreamContext, message.DatagramHeader, error) {
	var hdr message.DatagramHeader
	if err := hdr.Decode(bytes.NewReader(sentBytes)); err != nil {
		return nil, message.DatagramHeader{}, err
	}
	sc := c.streamForMedia(hdr.MediaID)
	if sc == nil || sc.ack == nil {
		return nil, hdr, ErrUnknownStream
	}
	return sc, hdr, nil
}

func (c *Connection) repeatDatagram(sc *StreamContext, mediaID ids.MediaID, dg ackhorizon.RepeatDatagram) error {
	hdr := message.DatagramHeader{
		MediaID:                mediaID,
		Group:                  dg.Group,
		Object:                 dg.Object,
		ObjectOffset:           dg.Offset,
		QueueDelay:             dg.QueueDelayDelta,
		Flags:                  message.FragmentFlags(dg.Flags),
		NbObjectsPreviousGroup: dg.NbObjectsPreviousGroup,
		ObjectLength:           dg.ObjectLength,
	}
	var buf bytes.Buffer
	if err := hdr.Encode(&buf); err != nil {
		return err
	}
	buf.Write(dg.Data)
	return c.conn.SendDatagram(buf.Bytes())
}

// OnClose implements the close(reason, code) callback, tearing down
// every stream context on the connection.
func (c *Connection) OnClose(reason contracts.CloseReason) {
	for id, sc := range c.streams {
		sc.Close(reason)
		c.forgetStream(id)
	}
	for id, u := range c.unistreams {
		if u.publisher != nil {
			u.publisher.Close(reason)
		}
		delete(c.unistreams, id)
	}
}

// handleConsumerFinished implements cnx_handle_consumer_finished: a
// reassembler reporting ErrConsumerFinished (or having already finished)
// is not a connection-level failure, it converts into a graceful local
// FIN on that stream. Any other error propagates unchanged.
func (c *Connection) handleConsumerFinished(sc *StreamContext, finFromFinal, finFromFragment bool, priorErr error) error {
	if priorErr != nil && priorErr != ErrConsumerFinished {
		return priorErr
	}
	if !finFromFinal && !finFromFragment && priorErr == nil {
		return nil
	}
	if sc.HandleLocalFin() {
		c.forgetStream(sc.StreamID())
	}
	return nil
}
