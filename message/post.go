package message

import (
	"io"

	"github.com/mediaquic/quicrq/ids"
)

// PostMessage initiates an incoming publication from the peer.
type PostMessage struct {
	URL           string
	TransportMode TransportMode
	CachePolicy   bool
	Start         ids.Location
}

func (m PostMessage) Len() int {
	return stringLen(m.URL) + 1 + 1 + varintLen(uint64(m.Start.Group)) + varintLen(uint64(m.Start.Object))
}

func (m PostMessage) Encode(w io.Writer) error {
	b := getBuffer(m.Len())
	defer putBuffer(b)
	b = appendString(b, m.URL)
	b = append(b, byte(m.TransportMode))
	b = append(b, boolByte(m.CachePolicy))
	b = appendVarint(b, uint64(m.Start.Group))
	b = appendVarint(b, uint64(m.Start.Object))
	return writeFramed(w, TypePost, b)
}

func (m *PostMessage) Decode(r io.Reader) error {
	url, err := readString(r)
	if err != nil {
		return err
	}
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ErrMalformedMessage
	}
	g, err := readVarint(r)
	if err != nil {
		return err
	}
	o, err := readVarint(r)
	if err != nil {
		return err
	}
	if err := requireDrained(r); err != nil {
		return err
	}
	m.URL = url
	m.TransportMode = TransportMode(buf[0])
	m.CachePolicy = buf[1] != 0
	m.Start = ids.Location{Group: ids.GroupID(g), Object: ids.ObjectID(o)}
	return nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
