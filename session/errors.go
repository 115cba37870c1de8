// Package session is the connection/stream-context integration layer: it
// owns the per-connection registry of stream and unidirectional-substream
// contexts, wires each one's reassembly/publisher and ack/horizon engine
// together per the stream protocol state machine, and dispatches the
// transport's callback surface (stream_data, prepare_to_send, datagram,
// datagram_acked/lost/spurious, close) against them.
//
// Nothing in this package holds a mutex: like streamstate, it assumes a
// single-threaded cooperative event loop driving the transport callbacks
// one at a time.
package session

import "errors"

// ErrConsumerFinished is not a failure: a reassembler reporting it has
// delivered everything up to the final object converts into a graceful
// local FIN on that stream rather than a connection abort.
var ErrConsumerFinished = errors.New("session: consumer finished")

// ErrStateViolation is returned when a message or payload byte arrives on
// a stream that is not yet bound to a consumer/publisher for it, or a
// substream delivers a message type its current state forbids.
var ErrStateViolation = errors.New("session: message arrived in a state that forbids it")

// ErrUnknownStream is returned when a transport callback names a stream_id
// this connection has no context for.
var ErrUnknownStream = errors.New("session: unknown stream_id")

// ErrTransportReset is the close reason recorded when the transport
// reports stream_reset or stop_sending for a stream.
var ErrTransportReset = errors.New("session: stream reset by transport")
