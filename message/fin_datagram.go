package message

import (
	"io"

	"github.com/mediaquic/quicrq/ids"
)

// FinDatagramMessage signals the final (group, object) of a media stream,
// one past the last object the sender will deliver.
type FinDatagramMessage struct {
	Final ids.Location
}

func (m FinDatagramMessage) Len() int {
	return varintLen(uint64(m.Final.Group)) + varintLen(uint64(m.Final.Object))
}

func (m FinDatagramMessage) Encode(w io.Writer) error {
	b := getBuffer(m.Len())
	defer putBuffer(b)
	b = appendVarint(b, uint64(m.Final.Group))
	b = appendVarint(b, uint64(m.Final.Object))
	return writeFramed(w, TypeFinDatagram, b)
}

func (m *FinDatagramMessage) Decode(r io.Reader) error {
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
	m.Final = ids.Location{Group: ids.GroupID(g), Object: ids.ObjectID(o)}
	return nil
}
