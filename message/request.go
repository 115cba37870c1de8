package message

import (
	"io"

	"github.com/mediaquic/quicrq/ids"
)

// SubscribeIntent carries the subscriber's preferred starting point for a
// REQUEST: the group the publisher is currently sending (current_group),
// the next group it will open (next_group), and an explicit start point.
type SubscribeIntent struct {
	CurrentGroup ids.GroupID
	NextGroup    ids.GroupID
	StartPoint   ids.Location
}

func (si SubscribeIntent) len() int {
	return varintLen(uint64(si.CurrentGroup)) +
		varintLen(uint64(si.NextGroup)) +
		varintLen(uint64(si.StartPoint.Group)) +
		varintLen(uint64(si.StartPoint.Object))
}

func (si SubscribeIntent) append(b []byte) []byte {
	b = appendVarint(b, uint64(si.CurrentGroup))
	b = appendVarint(b, uint64(si.NextGroup))
	b = appendVarint(b, uint64(si.StartPoint.Group))
	b = appendVarint(b, uint64(si.StartPoint.Object))
	return b
}

func decodeSubscribeIntent(r io.Reader) (SubscribeIntent, error) {
	var si SubscribeIntent
	cg, err := readVarint(r)
	if err != nil {
		return si, err
	}
	ng, err := readVarint(r)
	if err != nil {
		return si, err
	}
	sg, err := readVarint(r)
	if err != nil {
		return si, err
	}
	so, err := readVarint(r)
	if err != nil {
		return si, err
	}
	si.CurrentGroup = ids.GroupID(cg)
	si.NextGroup = ids.GroupID(ng)
	si.StartPoint = ids.Location{Group: ids.GroupID(sg), Object: ids.ObjectID(so)}
	return si, nil
}

// RequestMessage opens a subscription to url over the given transport mode.
type RequestMessage struct {
	URL             string
	TransportMode   TransportMode
	SubscribeIntent SubscribeIntent
}

func (m RequestMessage) Len() int {
	return stringLen(m.URL) + 1 + m.SubscribeIntent.len()
}

func (m RequestMessage) Encode(w io.Writer) error {
	b := getBuffer(m.Len())
	defer putBuffer(b)
	b = appendString(b, m.URL)
	b = append(b, byte(m.TransportMode))
	b = m.SubscribeIntent.append(b)
	return writeFramed(w, TypeRequest, b)
}

func (m *RequestMessage) Decode(r io.Reader) error {
	url, err := readString(r)
	if err != nil {
		return err
	}
	var modeBuf [1]byte
	if _, err := io.ReadFull(r, modeBuf[:]); err != nil {
		return ErrMalformedMessage
	}
	si, err := decodeSubscribeIntent(r)
	if err != nil {
		return err
	}
	if err := requireDrained(r); err != nil {
		return err
	}
	m.URL = url
	m.TransportMode = TransportMode(modeBuf[0])
	m.SubscribeIntent = si
	return nil
}
