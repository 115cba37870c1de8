package substream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaquic/quicrq/ids"
	"github.com/mediaquic/quicrq/message"
	"github.com/mediaquic/quicrq/substream"
)

func TestWarpSenderSequence(t *testing.T) {
	s := substream.NewSender(substream.Warp, 7, 3)
	hdr := s.Open()
	assert.Equal(t, ids.MediaID(7), hdr.MediaID)
	assert.Equal(t, ids.GroupID(3), hdr.Group)
	assert.Equal(t, substream.WarpHeaderSent, s.State())

	s.SetLastObjectID(2)
	assert.False(t, s.Done())

	oh := s.NextObjectHeader(0, 10, 0, false)
	assert.Equal(t, ids.ObjectID(0), oh.Object)
	assert.Equal(t, substream.ObjectData, s.State())
	s.AdvanceAfterPayload()
	assert.Equal(t, substream.WarpHeaderSent, s.State())
	assert.False(t, s.Done())

	oh = s.NextObjectHeader(0, 0, 0, false)
	assert.Equal(t, ids.ObjectID(1), oh.Object)
	assert.Equal(t, uint64(0), oh.ObjectLength)
	assert.True(t, s.Done())

	s.Finish()
	assert.Equal(t, substream.WarpAllSent, s.State())
}

func TestWarpSenderSkipEmitsPlaceholder(t *testing.T) {
	s := substream.NewSender(substream.Warp, 1, 0)
	s.Open()
	oh := s.NextObjectHeader(0, 500, 0, true)
	assert.Equal(t, uint64(0), oh.ObjectLength)
	assert.Equal(t, message.FlagSkipped, oh.Flags)
}

func TestRushSenderSingleObject(t *testing.T) {
	s := substream.NewSender(substream.Rush, 1, 4)
	s.Open()
	oh := s.NextObjectHeader(0, 10, 0, false)
	assert.Equal(t, ids.ObjectID(0), oh.Object)
	s.AdvanceAfterPayload()
	assert.True(t, s.Done(), "rush substream finishes after exactly one object")
}

func TestWarpReceiverSequence(t *testing.T) {
	r := substream.NewReceiver(substream.Warp)
	r.HandleWarpHeader(message.WarpHeaderMessage{MediaID: 7, Group: 3})
	assert.Equal(t, substream.ObjectHeader, r.State())

	require.NoError(t, r.HandleObjectHeader(message.ObjectHeaderMessage{Object: 0, ObjectLength: 4}))
	assert.Equal(t, substream.ObjectDataRecv, r.State())

	g, o, off := r.ObjectFragmentLocation(4)
	assert.Equal(t, ids.GroupID(3), g)
	assert.Equal(t, ids.ObjectID(0), o)
	assert.Equal(t, ids.Offset(0), off)

	r.AdvanceAfterPayload()
	assert.Equal(t, substream.ObjectHeader, r.State())

	err := r.HandleObjectHeader(message.ObjectHeaderMessage{Object: 2, ObjectLength: 0})
	assert.ErrorIs(t, err, substream.ErrOutOfOrderObject)

	require.NoError(t, r.HandleObjectHeader(message.ObjectHeaderMessage{Object: 1, ObjectLength: 0}))
	assert.Equal(t, substream.ObjectHeader, r.State(), "zero-length object completes immediately")
}

func TestRushReceiverRejectsNonzeroObject(t *testing.T) {
	r := substream.NewReceiver(substream.Rush)
	r.HandleWarpHeader(message.WarpHeaderMessage{MediaID: 1, Group: 0})
	err := r.HandleObjectHeader(message.ObjectHeaderMessage{Object: 1, ObjectLength: 0})
	assert.ErrorIs(t, err, substream.ErrOutOfOrderObject)
}
