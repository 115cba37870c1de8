package message

import (
	"fmt"
	"io"
)

// Decode reads one length-prefixed control message from r and returns the
// decoded Message, dispatching on its type byte.
func Decode(r io.Reader) (Message, error) {
	typ, body, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	var m Message
	switch typ {
	case TypeRequest:
		m = &RequestMessage{}
	case TypePost:
		m = &PostMessage{}
	case TypeAccept:
		m = &AcceptMessage{}
	case TypeStartPoint:
		m = &StartPointMessage{}
	case TypeFinDatagram:
		m = &FinDatagramMessage{}
	case TypeFragment:
		m = &FragmentMessage{}
	case TypeCachePolicy:
		m = &CachePolicyMessage{}
	case TypeSubscribe:
		m = &SubscribeMessage{}
	case TypeNotify:
		m = &NotifyMessage{}
	case TypeWarpHeader:
		m = &WarpHeaderMessage{}
	case TypeObjectHeader:
		m = &ObjectHeaderMessage{}
	default:
		return nil, fmt.Errorf("%w: unknown message type %#x", ErrMalformedMessage, typ)
	}

	if err := m.Decode(body); err != nil {
		return nil, err
	}
	return m, nil
}
