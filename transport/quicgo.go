// Value-receiver wrapper types over raw quic-go connections and streams;
// no Wrap/UnWrap round-trip helpers, since nothing in this module needs
// to recover the underlying quic-go value once wrapped.
package transport

import (
	"context"
	"net"
	"time"

	quicgo "github.com/quic-go/quic-go"
)

// WrapQuicGoConnection adapts a raw quic-go connection to Connection.
func WrapQuicGoConnection(conn quicgo.Connection) Connection {
	return quicGoConnection{conn: conn}
}

var _ Connection = quicGoConnection{}

type quicGoConnection struct {
	conn quicgo.Connection
}

func (c quicGoConnection) OpenStream() (Stream, error) {
	s, err := c.conn.OpenStream()
	if err != nil {
		return nil, err
	}
	return quicGoStream{stream: s}, nil
}

func (c quicGoConnection) OpenStreamSync(ctx context.Context) (Stream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return quicGoStream{stream: s}, nil
}

func (c quicGoConnection) OpenUniStream() (SendStream, error) {
	s, err := c.conn.OpenUniStream()
	if err != nil {
		return nil, err
	}
	return quicGoSendStream{stream: s}, nil
}

func (c quicGoConnection) OpenUniStreamSync(ctx context.Context) (SendStream, error) {
	s, err := c.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return quicGoSendStream{stream: s}, nil
}

func (c quicGoConnection) AcceptStream(ctx context.Context) (Stream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return quicGoStream{stream: s}, nil
}

func (c quicGoConnection) AcceptUniStream(ctx context.Context) (ReceiveStream, error) {
	s, err := c.conn.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return quicGoReceiveStream{stream: s}, nil
}

func (c quicGoConnection) SendDatagram(b []byte) error {
	return c.conn.SendDatagram(b)
}

func (c quicGoConnection) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return c.conn.ReceiveDatagram(ctx)
}

func (c quicGoConnection) CloseWithError(code ConnErrorCode, msg string) error {
	return c.conn.CloseWithError(quicgo.ApplicationErrorCode(code), msg)
}

func (c quicGoConnection) Context() context.Context { return c.conn.Context() }
func (c quicGoConnection) LocalAddr() net.Addr      { return c.conn.LocalAddr() }
func (c quicGoConnection) RemoteAddr() net.Addr     { return c.conn.RemoteAddr() }

type quicGoStream struct {
	stream quicgo.Stream
}

func (s quicGoStream) StreamID() StreamID          { return StreamID(s.stream.StreamID()) }
func (s quicGoStream) Read(b []byte) (int, error)  { return s.stream.Read(b) }
func (s quicGoStream) Write(b []byte) (int, error) { return s.stream.Write(b) }
func (s quicGoStream) CancelRead(code StreamErrorCode) {
	s.stream.CancelRead(quicgo.StreamErrorCode(code))
}
func (s quicGoStream) CancelWrite(code StreamErrorCode) {
	s.stream.CancelWrite(quicgo.StreamErrorCode(code))
}
func (s quicGoStream) SetDeadline(t time.Time) error      { return s.stream.SetDeadline(t) }
func (s quicGoStream) SetReadDeadline(t time.Time) error  { return s.stream.SetReadDeadline(t) }
func (s quicGoStream) SetWriteDeadline(t time.Time) error { return s.stream.SetWriteDeadline(t) }
func (s quicGoStream) Close() error                       { return s.stream.Close() }
func (s quicGoStream) Context() context.Context           { return s.stream.Context() }

type quicGoReceiveStream struct {
	stream quicgo.ReceiveStream
}

func (s quicGoReceiveStream) StreamID() StreamID         { return StreamID(s.stream.StreamID()) }
func (s quicGoReceiveStream) Read(b []byte) (int, error) { return s.stream.Read(b) }
func (s quicGoReceiveStream) CancelRead(code StreamErrorCode) {
	s.stream.CancelRead(quicgo.StreamErrorCode(code))
}
func (s quicGoReceiveStream) SetReadDeadline(t time.Time) error {
	return s.stream.SetReadDeadline(t)
}

type quicGoSendStream struct {
	stream quicgo.SendStream
}

func (s quicGoSendStream) StreamID() StreamID          { return StreamID(s.stream.StreamID()) }
func (s quicGoSendStream) Write(b []byte) (int, error) { return s.stream.Write(b) }
func (s quicGoSendStream) CancelWrite(code StreamErrorCode) {
	s.stream.CancelWrite(quicgo.StreamErrorCode(code))
}
func (s quicGoSendStream) SetWriteDeadline(t time.Time) error {
	return s.stream.SetWriteDeadline(t)
}
func (s quicGoSendStream) Close() error             { return s.stream.Close() }
func (s quicGoSendStream) Context() context.Context { return s.stream.Context() }
