package message

import (
	"io"

	"github.com/mediaquic/quicrq/ids"
)

// DatagramHeader is packed into a datagram frame ahead of the payload. It
// is not length-prefixed: the surrounding datagram frame carries its own
// length, and the payload runs to the end of the datagram.
type DatagramHeader struct {
	MediaID                ids.MediaID
	Group                  ids.GroupID
	Object                 ids.ObjectID
	ObjectOffset           ids.Offset
	QueueDelay             uint64
	Flags                  FragmentFlags
	NbObjectsPreviousGroup uint64
	ObjectLength           uint64
}

func (h DatagramHeader) Len() int {
	return varintLen(uint64(h.MediaID)) +
		varintLen(uint64(h.Group)) +
		varintLen(uint64(h.Object)) +
		varintLen(uint64(h.ObjectOffset)) +
		varintLen(h.QueueDelay) +
		1 +
		varintLen(h.NbObjectsPreviousGroup) +
		varintLen(h.ObjectLength)
}

// Encode appends the header (not the payload) to w.
func (h DatagramHeader) Encode(w io.Writer) error {
	b := getBuffer(h.Len())
	defer putBuffer(b)
	b = appendVarint(b, uint64(h.MediaID))
	b = appendVarint(b, uint64(h.Group))
	b = appendVarint(b, uint64(h.Object))
	b = appendVarint(b, uint64(h.ObjectOffset))
	b = appendVarint(b, h.QueueDelay)
	b = append(b, byte(h.Flags))
	b = appendVarint(b, h.NbObjectsPreviousGroup)
	b = appendVarint(b, h.ObjectLength)
	_, err := w.Write(b)
	return err
}

// Decode reads a header from r. The remaining bytes of r (if any) are the
// payload and are left untouched.
func (h *DatagramHeader) Decode(r io.Reader) error {
	mediaID, err := readVarint(r)
	if err != nil {
		return err
	}
	g, err := readVarint(r)
	if err != nil {
		return err
	}
	o, err := readVarint(r)
	if err != nil {
		return err
	}
	off, err := readVarint(r)
	if err != nil {
		return err
	}
	qd, err := readVarint(r)
	if err != nil {
		return err
	}
	var flagBuf [1]byte
	if _, err := io.ReadFull(r, flagBuf[:]); err != nil {
		return ErrMalformedMessage
	}
	nbopg, err := readVarint(r)
	if err != nil {
		return err
	}
	objLen, err := readVarint(r)
	if err != nil {
		return err
	}
	h.MediaID = ids.MediaID(mediaID)
	h.Group = ids.GroupID(g)
	h.Object = ids.ObjectID(o)
	h.ObjectOffset = ids.Offset(off)
	h.QueueDelay = qd
	h.Flags = FragmentFlags(flagBuf[0])
	h.NbObjectsPreviousGroup = nbopg
	h.ObjectLength = objLen
	return nil
}
