package message

import (
	"io"

	"github.com/mediaquic/quicrq/ids"
)

// AcceptMessage replies to a REQUEST or POST, binding the stream to a
// connection-local media_id.
type AcceptMessage struct {
	TransportMode TransportMode
	MediaID       ids.MediaID
}

func (m AcceptMessage) Len() int {
	return 1 + varintLen(uint64(m.MediaID))
}

func (m AcceptMessage) Encode(w io.Writer) error {
	b := getBuffer(m.Len())
	defer putBuffer(b)
	b = append(b, byte(m.TransportMode))
	b = appendVarint(b, uint64(m.MediaID))
	return writeFramed(w, TypeAccept, b)
}

func (m *AcceptMessage) Decode(r io.Reader) error {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ErrMalformedMessage
	}
	id, err := readVarint(r)
	if err != nil {
		return err
	}
	if err := requireDrained(r); err != nil {
		return err
	}
	m.TransportMode = TransportMode(buf[0])
	m.MediaID = ids.MediaID(id)
	return nil
}
