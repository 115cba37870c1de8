package message

import (
	"io"

	"github.com/mediaquic/quicrq/ids"
)

// StartPointMessage tells a late-joining subscriber the (group, object)
// at which the sender will begin delivering data.
type StartPointMessage struct {
	Location ids.Location
}

func (m StartPointMessage) Len() int {
	return varintLen(uint64(m.Location.Group)) + varintLen(uint64(m.Location.Object))
}

func (m StartPointMessage) Encode(w io.Writer) error {
	b := getBuffer(m.Len())
	defer putBuffer(b)
	b = appendVarint(b, uint64(m.Location.Group))
	b = appendVarint(b, uint64(m.Location.Object))
	return writeFramed(w, TypeStartPoint, b)
}

func (m *StartPointMessage) Decode(r io.Reader) error {
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
	m.Location = ids.Location{Group: ids.GroupID(g), Object: ids.ObjectID(o)}
	return nil
}
