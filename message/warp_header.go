package message

import (
	"io"

	"github.com/mediaquic/quicrq/ids"
)

// WarpHeaderMessage opens a unidirectional substream carrying exactly one
// group's objects, binding it to the control stream identified by media_id.
type WarpHeaderMessage struct {
	MediaID ids.MediaID
	Group   ids.GroupID
}

func (m WarpHeaderMessage) Len() int {
	return varintLen(uint64(m.MediaID)) + varintLen(uint64(m.Group))
}

func (m WarpHeaderMessage) Encode(w io.Writer) error {
	b := getBuffer(m.Len())
	defer putBuffer(b)
	b = appendVarint(b, uint64(m.MediaID))
	b = appendVarint(b, uint64(m.Group))
	return writeFramed(w, TypeWarpHeader, b)
}

func (m *WarpHeaderMessage) Decode(r io.Reader) error {
	id, err := readVarint(r)
	if err != nil {
		return err
	}
	g, err := readVarint(r)
	if err != nil {
		return err
	}
	if err := requireDrained(r); err != nil {
		return err
	}
	m.MediaID = ids.MediaID(id)
	m.Group = ids.GroupID(g)
	return nil
}

// ObjectHeaderMessage precedes an object's payload bytes on a warp/rush
// unidirectional substream. ObjectLength == 0 delivers an empty object
// immediately with no following payload bytes.
type ObjectHeaderMessage struct {
	Object                 ids.ObjectID
	NbObjectsPreviousGroup uint64
	Flags                  FragmentFlags
	ObjectLength           uint64
}

func (m ObjectHeaderMessage) Len() int {
	return varintLen(uint64(m.Object)) + varintLen(m.NbObjectsPreviousGroup) + 1 + varintLen(m.ObjectLength)
}

func (m ObjectHeaderMessage) Encode(w io.Writer) error {
	b := getBuffer(m.Len())
	defer putBuffer(b)
	b = appendVarint(b, uint64(m.Object))
	b = appendVarint(b, m.NbObjectsPreviousGroup)
	b = append(b, byte(m.Flags))
	b = appendVarint(b, m.ObjectLength)
	return writeFramed(w, TypeObjectHeader, b)
}

func (m *ObjectHeaderMessage) Decode(r io.Reader) error {
	o, err := readVarint(r)
	if err != nil {
		return err
	}
	nbopg, err := readVarint(r)
	if err != nil {
		return err
	}
	var flagBuf [1]byte
	if _, err := io.ReadFull(r, flagBuf[:]); err != nil {
		return ErrMalformedMessage
	}
	objLen, err := readVarint(r)
	if err != nil {
		return err
	}
	if err := requireDrained(r); err != nil {
		return err
	}
	m.Object = ids.ObjectID(o)
	m.NbObjectsPreviousGroup = nbopg
	m.Flags = FragmentFlags(flagBuf[0])
	m.ObjectLength = objLen
	return nil
}
