package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaquic/quicrq/ackhorizon"
	"github.com/mediaquic/quicrq/scheduler"
)

var _ scheduler.ExtraRepeatSource = ackhorizon.Scheduled{}

type fakeCache struct {
	calls    int
	nextTime time.Time
}

func (f *fakeCache) Maintain(now time.Time) time.Time {
	f.calls++
	return f.nextTime
}

func TestTimeCheckReturnsEarliestSource(t *testing.T) {
	s := scheduler.New()

	engine := ackhorizon.New(ackhorizon.Config{
		ExtraRepeatAfterReceivedDelayed: true,
		ExtraRepeatDelay:                30 * time.Millisecond,
	})
	start := time.Unix(100, 0)
	engine.AckInit(0, 0, 0, 0, 0, []byte("abc"), 3, 25*time.Millisecond, 3, start)

	var sent []ackhorizon.RepeatDatagram
	s.Register(ackhorizon.Scheduled{Engine: engine, Sink: func(dg ackhorizon.RepeatDatagram) { sent = append(sent, dg) }})

	cache := &fakeCache{nextTime: start.Add(time.Hour)}
	s.SetCacheMaintainer(cache)

	quicTime := start.Add(2 * time.Hour)
	next := s.TimeCheck(start, quicTime)

	require.True(t, next.Before(quicTime))
	assert.True(t, next.Equal(start.Add(30*time.Millisecond)), "the extra-repeat deadline is the earliest source")
	assert.Equal(t, 1, cache.calls)
	assert.Empty(t, sent, "the repeat isn't due yet at start")
}

func TestTimeCheckFiresDueExtraRepeat(t *testing.T) {
	s := scheduler.New()

	engine := ackhorizon.New(ackhorizon.Config{
		ExtraRepeatAfterReceivedDelayed: true,
		ExtraRepeatDelay:                10 * time.Millisecond,
	})
	start := time.Unix(200, 0)
	engine.AckInit(0, 0, 0, 0, 0, []byte("xyz"), 3, 25*time.Millisecond, 3, start)

	var sent []ackhorizon.RepeatDatagram
	s.Register(ackhorizon.Scheduled{Engine: engine, Sink: func(dg ackhorizon.RepeatDatagram) { sent = append(sent, dg) }})

	later := start.Add(20 * time.Millisecond)
	quicTime := later.Add(time.Hour)
	s.TimeCheck(later, quicTime)

	require.Len(t, sent, 1)
	assert.Equal(t, []byte("xyz"), sent[0].Data)
}
