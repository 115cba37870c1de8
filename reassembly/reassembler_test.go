package reassembly_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaquic/quicrq/ids"
	"github.com/mediaquic/quicrq/reassembly"
)

type delivery struct {
	mode   reassembly.DeliveryMode
	group  ids.GroupID
	object ids.ObjectID
	data   string
}

type recordingConsumer struct {
	deliveries []delivery
}

func (c *recordingConsumer) Deliver(mode reassembly.DeliveryMode, group ids.GroupID, object ids.ObjectID, data []byte, flags byte) {
	c.deliveries = append(c.deliveries, delivery{mode: mode, group: group, object: object, data: string(data)})
}

func TestInSequenceDeliveryNoLoss(t *testing.T) {
	c := &recordingConsumer{}
	r := reassembly.New(c)

	require.NoError(t, r.InputFragment(0, 0, 0, 0, 0, 3, []byte("abc")))
	require.NoError(t, r.InputFragment(0, 1, 0, 0, 0, 3, []byte("def")))
	require.NoError(t, r.InputFragment(1, 0, 0, 0, 2, 3, []byte("ghi")))

	require.Len(t, c.deliveries, 3)
	assert.Equal(t, reassembly.InSequence, c.deliveries[0].mode)
	assert.Equal(t, reassembly.InSequence, c.deliveries[1].mode)
	assert.Equal(t, reassembly.InSequence, c.deliveries[2].mode)
	assert.Equal(t, ids.Location{Group: 1, Object: 1}, r.NextExpected())
}

func TestOutOfOrderGroupsPeekThenRepair(t *testing.T) {
	c := &recordingConsumer{}
	r := reassembly.New(c)

	// Group 1 (the only object, object 0) finishes first, out of order.
	require.NoError(t, r.InputFragment(1, 0, 0, 0, 1, 3, []byte("ghi")))
	require.Len(t, c.deliveries, 1)
	assert.Equal(t, reassembly.Peek, c.deliveries[0].mode)

	// Now group 0 completes; it is delivered in_sequence, and the
	// previously peeked group-1 object is repaired.
	require.NoError(t, r.InputFragment(0, 0, 0, 0, 0, 3, []byte("abc")))

	require.Len(t, c.deliveries, 3)
	assert.Equal(t, reassembly.InSequence, c.deliveries[1].mode)
	assert.Equal(t, ids.GroupID(0), c.deliveries[1].group)
	assert.Equal(t, reassembly.Repair, c.deliveries[2].mode)
	assert.Equal(t, ids.GroupID(1), c.deliveries[2].group)
}

func TestGroupProgressionMismatchHeldAsPeek(t *testing.T) {
	c := &recordingConsumer{}
	r := reassembly.New(c)

	require.NoError(t, r.InputFragment(0, 0, 0, 0, 0, 3, []byte("abc")))
	require.Len(t, c.deliveries, 1)

	// Group 1 object 0 claims the wrong previous-group count (2 instead
	// of 1): the transition must not be taken, so it is delivered as a
	// peek rather than in_sequence.
	require.NoError(t, r.InputFragment(1, 0, 0, 0, 2, 3, []byte("xyz")))
	require.Len(t, c.deliveries, 2)
	assert.Equal(t, reassembly.Peek, c.deliveries[1].mode)
	assert.Equal(t, ids.Location{Group: 0, Object: 1}, r.NextExpected())
}

func TestStartPointDiscardsEarlierData(t *testing.T) {
	c := &recordingConsumer{}
	r := reassembly.New(c)

	require.NoError(t, r.LearnStartPoint(ids.Location{Group: 1, Object: 0}))
	require.NoError(t, r.InputFragment(0, 0, 0, 0, 0, 3, []byte("abc")))
	assert.Empty(t, c.deliveries, "data below the start point must be discarded")

	require.NoError(t, r.InputFragment(1, 0, 0, 0, 0, 3, []byte("xyz")))
	require.Len(t, c.deliveries, 1)
	assert.Equal(t, reassembly.InSequence, c.deliveries[0].mode)
}

func TestFinishesAtFinalObject(t *testing.T) {
	c := &recordingConsumer{}
	r := reassembly.New(c)
	r.LearnFinalObjectID(ids.Location{Group: 0, Object: 1})
	assert.False(t, r.IsFinished())

	// The final object id is the exclusive, never-sent boundary: once the
	// last real object (0,0) is delivered in-sequence, r.next reaches the
	// boundary itself and the stream is finished. No fragment ever arrives
	// at (0,1); a sender never emits one.
	require.NoError(t, r.InputFragment(0, 0, 0, 0, 0, 3, []byte("abc")))
	assert.True(t, r.IsFinished())
}

func TestZeroLengthObjectDeliversEmptyData(t *testing.T) {
	c := &recordingConsumer{}
	r := reassembly.New(c)

	require.NoError(t, r.InputFragment(0, 0, 0, 0, 0, 0, nil))
	require.Len(t, c.deliveries, 1)
	assert.Equal(t, "", c.deliveries[0].data)
}
