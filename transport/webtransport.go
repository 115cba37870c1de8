// A WebTransport session exposes the same Connection-shaped surface as
// a raw quic-go connection, differing mainly in the close error-code
// type.
package transport

import (
	"context"
	"net"
	"time"

	"github.com/quic-go/webtransport-go"
)

// WrapWebTransportSession adapts a WebTransport session to Connection.
func WrapWebTransportSession(session *webtransport.Session) Connection {
	return webTransportConnection{session: session}
}

var _ Connection = webTransportConnection{}

type webTransportConnection struct {
	session *webtransport.Session
}

func (c webTransportConnection) OpenStream() (Stream, error) {
	s, err := c.session.OpenStream()
	if err != nil {
		return nil, err
	}
	return webTransportStream{stream: s}, nil
}

func (c webTransportConnection) OpenStreamSync(ctx context.Context) (Stream, error) {
	s, err := c.session.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return webTransportStream{stream: s}, nil
}

func (c webTransportConnection) OpenUniStream() (SendStream, error) {
	s, err := c.session.OpenUniStream()
	if err != nil {
		return nil, err
	}
	return webTransportSendStream{stream: s}, nil
}

func (c webTransportConnection) OpenUniStreamSync(ctx context.Context) (SendStream, error) {
	s, err := c.session.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return webTransportSendStream{stream: s}, nil
}

func (c webTransportConnection) AcceptStream(ctx context.Context) (Stream, error) {
	s, err := c.session.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return webTransportStream{stream: s}, nil
}

func (c webTransportConnection) AcceptUniStream(ctx context.Context) (ReceiveStream, error) {
	s, err := c.session.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return webTransportReceiveStream{stream: s}, nil
}

func (c webTransportConnection) SendDatagram(b []byte) error {
	return c.session.SendDatagram(b)
}

func (c webTransportConnection) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return c.session.ReceiveDatagram(ctx)
}

func (c webTransportConnection) CloseWithError(code ConnErrorCode, msg string) error {
	return c.session.CloseWithError(webtransport.SessionErrorCode(code), msg)
}

func (c webTransportConnection) Context() context.Context { return c.session.Context() }
func (c webTransportConnection) LocalAddr() net.Addr      { return c.session.LocalAddr() }
func (c webTransportConnection) RemoteAddr() net.Addr     { return c.session.RemoteAddr() }

type webTransportStream struct {
	stream webtransport.Stream
}

func (s webTransportStream) StreamID() StreamID          { return StreamID(s.stream.StreamID()) }
func (s webTransportStream) Read(b []byte) (int, error)  { return s.stream.Read(b) }
func (s webTransportStream) Write(b []byte) (int, error) { return s.stream.Write(b) }
func (s webTransportStream) CancelRead(code StreamErrorCode) {
	s.stream.CancelRead(webtransport.StreamErrorCode(code))
}
func (s webTransportStream) CancelWrite(code StreamErrorCode) {
	s.stream.CancelWrite(webtransport.StreamErrorCode(code))
}
func (s webTransportStream) SetDeadline(t time.Time) error      { return s.stream.SetDeadline(t) }
func (s webTransportStream) SetReadDeadline(t time.Time) error  { return s.stream.SetReadDeadline(t) }
func (s webTransportStream) SetWriteDeadline(t time.Time) error { return s.stream.SetWriteDeadline(t) }
func (s webTransportStream) Close() error                       { return s.stream.Close() }
func (s webTransportStream) Context() context.Context           { return s.stream.Context() }

type webTransportReceiveStream struct {
	stream webtransport.ReceiveStream
}

func (s webTransportReceiveStream) StreamID() StreamID         { return StreamID(s.stream.StreamID()) }
func (s webTransportReceiveStream) Read(b []byte) (int, error) { return s.stream.Read(b) }
func (s webTransportReceiveStream) CancelRead(code StreamErrorCode) {
	s.stream.CancelRead(webtransport.StreamErrorCode(code))
}
func (s webTransportReceiveStream) SetReadDeadline(t time.Time) error {
	return s.stream.SetReadDeadline(t)
}

type webTransportSendStream struct {
	stream webtransport.SendStream
}

func (s webTransportSendStream) StreamID() StreamID          { return StreamID(s.stream.StreamID()) }
func (s webTransportSendStream) Write(b []byte) (int, error) { return s.stream.Write(b) }
func (s webTransportSendStream) CancelWrite(code StreamErrorCode) {
	s.stream.CancelWrite(webtransport.StreamErrorCode(code))
}
func (s webTransportSendStream) SetWriteDeadline(t time.Time) error {
	return s.stream.SetWriteDeadline(t)
}
func (s webTransportSendStream) Close() error             { return s.stream.Close() }
func (s webTransportSendStream) Context() context.Context { return s.stream.Context() }
