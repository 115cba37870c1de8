package ackhorizon_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaquic/quicrq/ackhorizon"
	"github.com/mediaquic/quicrq/ids"
)

func TestAckInitCreatedThenDuplicate(t *testing.T) {
	e := ackhorizon.New(ackhorizon.Config{})
	now := time.Unix(0, 0)

	res := e.AckInit(0, 0, 0, 0, 0, []byte("abc"), 3, 0, 3, now)
	assert.Equal(t, ackhorizon.Created, res)

	res = e.AckInit(0, 0, 0, 0, 0, []byte("abc"), 3, 0, 3, now)
	assert.Equal(t, ackhorizon.Duplicate, res)
	assert.Equal(t, 1, e.Pending())
}

func TestHorizonAdvancesContiguousWithinObject(t *testing.T) {
	e := ackhorizon.New(ackhorizon.Config{})
	now := time.Unix(0, 0)

	require.Equal(t, ackhorizon.Created, e.AckInit(0, 0, 0, 0, 0, []byte("abcd"), 4, 0, 8, now))
	require.Equal(t, ackhorizon.Created, e.AckInit(0, 0, 4, 0, 0, []byte("efgh"), 4, 0, 8, now))

	e.HandleAck(0, 0, 0, 4)
	h, ok := e.Horizon()
	require.True(t, ok)
	assert.Equal(t, ids.FragmentKey{Group: 0, Object: 0, Offset: 4}, h)
	assert.Equal(t, 1, e.Pending(), "second fragment still unacked")

	e.HandleAck(0, 0, 4, 4)
	h, ok = e.Horizon()
	require.True(t, ok)
	assert.Equal(t, ids.FragmentKey{Group: 0, Object: 0, Offset: 8}, h)
	assert.Equal(t, 0, e.Pending())
}

func TestHorizonAdvancesAcrossObjectWithinGroup(t *testing.T) {
	e := ackhorizon.New(ackhorizon.Config{})
	now := time.Unix(0, 0)

	require.Equal(t, ackhorizon.Created, e.AckInit(0, 0, 0, 0, 0, []byte("abc"), 3, 0, 3, now))
	require.Equal(t, ackhorizon.Created, e.AckInit(0, 1, 0, 0, 0, []byte("def"), 3, 0, 3, now))

	e.HandleAck(0, 0, 0, 3)
	h, _ := e.Horizon()
	assert.Equal(t, ids.FragmentKey{Group: 0, Object: 0, Offset: 3}, h)

	e.HandleAck(0, 1, 0, 3)
	h, _ = e.Horizon()
	assert.Equal(t, ids.FragmentKey{Group: 0, Object: 1, Offset: 3}, h)
}

func TestHorizonAdvancesAcrossGroupBoundaryWhenCountMatches(t *testing.T) {
	e := ackhorizon.New(ackhorizon.Config{})
	now := time.Unix(0, 0)

	require.Equal(t, ackhorizon.Created, e.AckInit(0, 0, 0, 0, 0, []byte("a"), 1, 0, 1, now))
	// group 1's first fragment claims 1 object in group 0 (object 0 only).
	require.Equal(t, ackhorizon.Created, e.AckInit(1, 0, 0, 0, 1, []byte("b"), 1, 0, 1, now))

	e.HandleAck(0, 0, 0, 1)
	h, _ := e.Horizon()
	assert.Equal(t, ids.FragmentKey{Group: 0, Object: 0, Offset: 1}, h)

	e.HandleAck(1, 0, 0, 1)
	h, _ = e.Horizon()
	assert.Equal(t, ids.FragmentKey{Group: 1, Object: 0, Offset: 1}, h)
}

func TestHorizonHeldWhenGroupCountMismatches(t *testing.T) {
	e := ackhorizon.New(ackhorizon.Config{})
	now := time.Unix(0, 0)

	require.Equal(t, ackhorizon.Created, e.AckInit(0, 0, 0, 0, 0, []byte("a"), 1, 0, 1, now))
	// Wrong count: claims 2 objects in group 0, but group 0 only had 1.
	require.Equal(t, ackhorizon.Created, e.AckInit(1, 0, 0, 0, 2, []byte("b"), 1, 0, 1, now))

	e.HandleAck(0, 0, 0, 1)
	e.HandleAck(1, 0, 0, 1)

	h, _ := e.Horizon()
	assert.Equal(t, ids.FragmentKey{Group: 0, Object: 0, Offset: 1}, h, "the mismatched group-1 record must not advance the horizon")
	assert.Equal(t, 1, e.Pending())
}

func TestAckInitBelowHorizonRejected(t *testing.T) {
	e := ackhorizon.New(ackhorizon.Config{})
	now := time.Unix(0, 0)

	require.Equal(t, ackhorizon.Created, e.AckInit(0, 0, 0, 0, 0, []byte("abc"), 3, 0, 3, now))
	e.HandleAck(0, 0, 0, 3)

	res := e.AckInit(0, 0, 0, 0, 0, []byte("abc"), 3, 0, 3, now)
	assert.Equal(t, ackhorizon.BelowHorizon, res)
}

func TestHandleLostSchedulesImmediateRepeat(t *testing.T) {
	e := ackhorizon.New(ackhorizon.Config{})
	start := time.Unix(0, 0)

	require.Equal(t, ackhorizon.Created, e.AckInit(0, 0, 0, 0, 0, []byte("abc"), 3, 0, 3, start))

	later := start.Add(250 * time.Millisecond)
	dg, ok := e.HandleLost(0, 0, 0, later)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), dg.Data)
	assert.Equal(t, uint64(250), dg.QueueDelayDelta)
	assert.Equal(t, uint64(1), e.Counters().FragmentLost)
}

func TestHandleLostAckedRecordIsNoop(t *testing.T) {
	e := ackhorizon.New(ackhorizon.Config{})
	now := time.Unix(0, 0)

	require.Equal(t, ackhorizon.Created, e.AckInit(0, 0, 0, 0, 0, []byte("abc"), 3, 0, 3, now))
	e.HandleAck(0, 0, 0, 3)

	_, ok := e.HandleLost(0, 0, 0, now)
	assert.False(t, ok)
}

func TestRepeatSplitsOversizeRecord(t *testing.T) {
	e := ackhorizon.New(ackhorizon.Config{MaxDatagramSize: 4})
	start := time.Unix(0, 0)

	require.Equal(t, ackhorizon.Created, e.AckInit(0, 0, 0, 0, 0, []byte("abcdefgh"), 8, 0, 8, start))
	require.Equal(t, 1, e.Pending())

	dg, ok := e.HandleLost(0, 0, 0, start)
	require.True(t, ok)
	assert.Equal(t, []byte("abcd"), dg.Data)
	assert.Equal(t, 2, e.Pending(), "split must leave the tail as a second tracked record")

	_, found := e.HandleLost(0, 0, 4, start)
	assert.True(t, found, "the split tail must be independently trackable")
}

func TestExtraRepeatScheduledAfterReceivedDelayed(t *testing.T) {
	e := ackhorizon.New(ackhorizon.Config{
		ExtraRepeatAfterReceivedDelayed: true,
		ExtraRepeatDelay:                50 * time.Millisecond,
	})
	start := time.Unix(0, 0)

	e.AckInit(0, 0, 0, 0, 0, []byte("abc"), 3, 25*time.Millisecond, 3, start)

	due := e.DueExtraRepeats(start)
	assert.Empty(t, due, "not due yet")

	due = e.DueExtraRepeats(start.Add(60 * time.Millisecond))
	require.Len(t, due, 1)
	assert.Equal(t, uint64(1), e.Counters().ExtraSent)
}

func TestExtraRepeatSkippedIfAlreadyAcked(t *testing.T) {
	e := ackhorizon.New(ackhorizon.Config{
		ExtraRepeatAfterReceivedDelayed: true,
		ExtraRepeatDelay:                10 * time.Millisecond,
	})
	start := time.Unix(0, 0)

	e.AckInit(0, 0, 0, 0, 0, []byte("abc"), 3, 25*time.Millisecond, 3, start)
	e.HandleAck(0, 0, 0, 3)

	due := e.DueExtraRepeats(start.Add(20 * time.Millisecond))
	assert.Empty(t, due, "acked records must not fire an extra repeat")
}
