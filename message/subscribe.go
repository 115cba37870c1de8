package message

import "io"

// SubscribeMessage registers a URL prefix to receive NOTIFY events about
// newly published sources matching that prefix.
type SubscribeMessage struct {
	URLPrefix string
}

func (m SubscribeMessage) Len() int { return stringLen(m.URLPrefix) }

func (m SubscribeMessage) Encode(w io.Writer) error {
	b := getBuffer(m.Len())
	defer putBuffer(b)
	b = appendString(b, m.URLPrefix)
	return writeFramed(w, TypeSubscribe, b)
}

func (m *SubscribeMessage) Decode(r io.Reader) error {
	prefix, err := readString(r)
	if err != nil {
		return err
	}
	if err := requireDrained(r); err != nil {
		return err
	}
	m.URLPrefix = prefix
	return nil
}

// NotifyMessage delivers a single matching URL to a subscriber.
type NotifyMessage struct {
	URL string
}

func (m NotifyMessage) Len() int { return stringLen(m.URL) }

func (m NotifyMessage) Encode(w io.Writer) error {
	b := getBuffer(m.Len())
	defer putBuffer(b)
	b = appendString(b, m.URL)
	return writeFramed(w, TypeNotify, b)
}

func (m *NotifyMessage) Decode(r io.Reader) error {
	url, err := readString(r)
	if err != nil {
		return err
	}
	if err := requireDrained(r); err != nil {
		return err
	}
	m.URL = url
	return nil
}
