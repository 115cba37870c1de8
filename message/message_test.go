package message_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaquic/quicrq/ids"
	"github.com/mediaquic/quicrq/message"
)

func roundtrip[M message.Message](t *testing.T, m M) {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, m.Encode(&buf))

	decodedMsg, err := message.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, m, decodedMsg)
}

func TestRequestMessageRoundTrip(t *testing.T) {
	m := &message.RequestMessage{
		URL:           "video/camA",
		TransportMode: message.ModeWarp,
		SubscribeIntent: message.SubscribeIntent{
			CurrentGroup: 4,
			NextGroup:    5,
			StartPoint:   ids.Location{Group: 1, Object: 0},
		},
	}
	roundtrip(t, m)
}

func TestPostMessageRoundTrip(t *testing.T) {
	m := &message.PostMessage{
		URL:           "audio/mic",
		TransportMode: message.ModeDatagram,
		CachePolicy:   true,
		Start:         ids.Location{Group: 2, Object: 1},
	}
	roundtrip(t, m)
}

func TestAcceptMessageRoundTrip(t *testing.T) {
	m := &message.AcceptMessage{TransportMode: message.ModeStream, MediaID: 42}
	roundtrip(t, m)
}

func TestStartPointMessageRoundTrip(t *testing.T) {
	m := &message.StartPointMessage{Location: ids.Location{Group: 1, Object: 0}}
	roundtrip(t, m)
}

func TestFinDatagramMessageRoundTrip(t *testing.T) {
	m := &message.FinDatagramMessage{Final: ids.Location{Group: 2, Object: 0}}
	roundtrip(t, m)
}

func TestFragmentMessageRoundTrip(t *testing.T) {
	m := &message.FragmentMessage{
		Group:                  0,
		Object:                 1,
		NbObjectsPreviousGroup: 0,
		Offset:                 100,
		ObjectLength:           20000,
		Flags:                  0,
		Data:                   []byte("hello world"),
	}
	roundtrip(t, m)
}

func TestFragmentMessageSkippedPlaceholder(t *testing.T) {
	m := &message.FragmentMessage{
		Group:  3,
		Object: 7,
		Flags:  message.FlagSkipped,
		Data:   nil,
	}
	roundtrip(t, m)
}

func TestCachePolicyMessageRoundTrip(t *testing.T) {
	m := &message.CachePolicyMessage{Flag: true}
	roundtrip(t, m)
}

func TestSubscribeNotifyRoundTrip(t *testing.T) {
	sub := &message.SubscribeMessage{URLPrefix: "video/"}
	roundtrip(t, sub)

	notify := &message.NotifyMessage{URL: "video/camA"}
	roundtrip(t, notify)
}

func TestWarpHeaderMessageRoundTrip(t *testing.T) {
	m := &message.WarpHeaderMessage{MediaID: 3, Group: 9}
	roundtrip(t, m)
}

func TestObjectHeaderMessageRoundTrip(t *testing.T) {
	m := &message.ObjectHeaderMessage{Object: 2, NbObjectsPreviousGroup: 6, Flags: 0, ObjectLength: 512}
	roundtrip(t, m)

	zero := &message.ObjectHeaderMessage{Object: 3, ObjectLength: 0}
	roundtrip(t, zero)
}

func TestDatagramHeaderRoundTrip(t *testing.T) {
	h := message.DatagramHeader{
		MediaID:                1,
		Group:                  0,
		Object:                 9,
		ObjectOffset:           128,
		QueueDelay:             42,
		Flags:                  0,
		NbObjectsPreviousGroup: 0,
		ObjectLength:           4096,
	}

	var buf bytes.Buffer
	require.NoError(t, h.Encode(&buf))

	var decoded message.DatagramHeader
	require.NoError(t, decoded.Decode(&buf))
	assert.Equal(t, h, decoded)
}

func TestDecodeMalformedMessage(t *testing.T) {
	_, err := message.Decode(bytes.NewReader([]byte{0x00, 0x01}))
	assert.ErrorIs(t, err, message.ErrMalformedMessage)
}

func TestDecodeTrailingBytesIsMalformed(t *testing.T) {
	m := &message.StartPointMessage{Location: ids.Location{Group: 1, Object: 0}}
	var buf bytes.Buffer
	require.NoError(t, m.Encode(&buf))

	raw := buf.Bytes()
	raw[1] = raw[1] + 1 // declare one extra payload byte...
	raw = append(raw, 0xAA) // ...and actually supply it, so decode leaves it undrained

	_, err := message.Decode(bytes.NewReader(raw))
	assert.ErrorIs(t, err, message.ErrMalformedMessage)
}
