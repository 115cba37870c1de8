package message

import (
	"io"

	"github.com/mediaquic/quicrq/ids"
)

// FragmentFlags carries per-fragment flags. FlagSkipped (0xFF) marks a
// zero-length placeholder fragment emitted when the publisher asks to
// skip an object (congestion control).
type FragmentFlags byte

const FlagSkipped FragmentFlags = 0xFF

// FragmentMessage carries a slice of an object's payload, inline on a
// control or single-stream-mode stream.
type FragmentMessage struct {
	Group                  ids.GroupID
	Object                 ids.ObjectID
	NbObjectsPreviousGroup uint64
	Offset                 ids.Offset
	ObjectLength           uint64
	Flags                  FragmentFlags
	Data                   []byte
}

func (m FragmentMessage) Len() int {
	return varintLen(uint64(m.Group)) +
		varintLen(uint64(m.Object)) +
		varintLen(m.NbObjectsPreviousGroup) +
		varintLen(uint64(m.Offset)) +
		varintLen(m.ObjectLength) +
		1 +
		bytesLen(m.Data)
}

func (m FragmentMessage) Encode(w io.Writer) error {
	b := getBuffer(m.Len())
	defer putBuffer(b)
	b = appendVarint(b, uint64(m.Group))
	b = appendVarint(b, uint64(m.Object))
	b = appendVarint(b, m.NbObjectsPreviousGroup)
	b = appendVarint(b, uint64(m.Offset))
	b = appendVarint(b, m.ObjectLength)
	b = append(b, byte(m.Flags))
	b = appendBytes(b, m.Data)
	return writeFramed(w, TypeFragment, b)
}

func (m *FragmentMessage) Decode(r io.Reader) error {
	g, err := readVarint(r)
	if err != nil {
		return err
	}
	o, err := readVarint(r)
	if err != nil {
		return err
	}
	nbopg, err := readVarint(r)
	if err != nil {
		return err
	}
	off, err := readVarint(r)
	if err != nil {
		return err
	}
	objLen, err := readVarint(r)
	if err != nil {
		return err
	}
	var flagBuf [1]byte
	if _, err := io.ReadFull(r, flagBuf[:]); err != nil {
		return ErrMalformedMessage
	}
	data, err := readBytes(r)
	if err != nil {
		return err
	}
	if err := requireDrained(r); err != nil {
		return err
	}
	m.Group = ids.GroupID(g)
	m.Object = ids.ObjectID(o)
	m.NbObjectsPreviousGroup = nbopg
	m.Offset = ids.Offset(off)
	m.ObjectLength = objLen
	m.Flags = FragmentFlags(flagBuf[0])
	m.Data = data
	return nil
}
