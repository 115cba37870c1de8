// Package message implements the control-message and datagram/unistream
// header codec described in the transport's wire format. Every message is
// length-prefixed by a 16-bit big-endian length followed by a type byte and
// type-specific fields (datagram headers are the one exception: they are
// not length-prefixed, since the datagram frame itself carries the length).
package message

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/quic-go/quic-go/quicvarint"
)

// ErrMalformedMessage is returned when a decoder runs off the end of the
// buffer, a declared length does not match the bytes consumed, or a
// variable-length integer overflows.
var ErrMalformedMessage = errors.New("message: malformed message")

// Type identifies the kind of control message carried after the 16-bit
// length prefix.
type Type byte

const (
	TypeRequest      Type = 0x01
	TypePost         Type = 0x02
	TypeAccept       Type = 0x03
	TypeStartPoint   Type = 0x04
	TypeFinDatagram  Type = 0x05
	TypeFragment     Type = 0x06
	TypeCachePolicy  Type = 0x07
	TypeSubscribe    Type = 0x08
	TypeNotify       Type = 0x09
	TypeWarpHeader   Type = 0x0a
	TypeObjectHeader Type = 0x0b
)

// TransportMode identifies how bulk object data is carried for a stream.
type TransportMode byte

const (
	ModeStream   TransportMode = 0x00
	ModeDatagram TransportMode = 0x01
	ModeWarp     TransportMode = 0x02
	ModeRush     TransportMode = 0x03
)

// Message is implemented by every control message in this package.
type Message interface {
	Len() int
	Encode(w io.Writer) error
	Decode(r io.Reader) error
}

var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, 1<<10)
		return &buf
	},
}

func getBuffer(n int) []byte {
	p := bufferPool.Get().(*[]byte)
	if cap(*p) < n {
		*p = make([]byte, 0, n)
	}
	return (*p)[:0]
}

func putBuffer(b []byte) {
	bufferPool.Put(&b)
}

func varintLen(v uint64) int {
	return quicvarint.Len(v)
}

func stringLen(s string) int {
	return varintLen(uint64(len(s))) + len(s)
}

func bytesLen(b []byte) int {
	return varintLen(uint64(len(b))) + len(b)
}

func appendVarint(b []byte, v uint64) []byte {
	return quicvarint.Append(b, v)
}

func appendString(b []byte, s string) []byte {
	b = quicvarint.Append(b, uint64(len(s)))
	return append(b, s...)
}

func appendBytes(b []byte, data []byte) []byte {
	b = quicvarint.Append(b, uint64(len(data)))
	return append(b, data...)
}

// writeFramed writes the 2-byte big-endian length prefix, the message type
// byte, and the payload to w in a single call.
func writeFramed(w io.Writer, typ Type, payload []byte) error {
	if len(payload)+1 > 0xffff {
		return ErrMalformedMessage
	}
	header := make([]byte, 3)
	binary.BigEndian.PutUint16(header[0:2], uint16(len(payload)+1))
	header[2] = byte(typ)
	if _, err := w.Write(header); err != nil {
		slog.Error("message: failed to write header", slog.String("error", err.Error()))
		return err
	}
	_, err := w.Write(payload)
	if err != nil {
		slog.Error("message: failed to write payload", slog.String("error", err.Error()))
	}
	return err
}

// ReadHeader reads the 16-bit length prefix and the type byte, and returns
// a reader limited to the remaining declared payload.
func ReadHeader(r io.Reader) (Type, io.Reader, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, ErrMalformedMessage
	}
	total := int(binary.BigEndian.Uint16(lenBuf[:]))
	if total < 1 {
		return 0, nil, ErrMalformedMessage
	}
	var typBuf [1]byte
	if _, err := io.ReadFull(r, typBuf[:]); err != nil {
		return 0, nil, ErrMalformedMessage
	}
	return Type(typBuf[0]), io.LimitReader(r, int64(total-1)), nil
}

func readVarint(r io.Reader) (uint64, error) {
	v, err := quicvarint.Read(quicvarint.NewReader(r))
	if err != nil {
		return 0, ErrMalformedMessage
	}
	return v, nil
}

func readString(r io.Reader) (string, error) {
	n, err := readVarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", ErrMalformedMessage
	}
	return string(buf), nil
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readVarint(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, ErrMalformedMessage
	}
	return buf, nil
}

// requireDrained returns ErrMalformedMessage if r still has unread bytes,
// i.e. the decoded fields did not consume exactly the declared length.
func requireDrained(r io.Reader) error {
	var b [1]byte
	n, err := r.Read(b[:])
	if n > 0 {
		return ErrMalformedMessage
	}
	if err != nil && err != io.EOF {
		return ErrMalformedMessage
	}
	return nil
}
