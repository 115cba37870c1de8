package conn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaquic/quicrq/conn"
	"github.com/mediaquic/quicrq/ids"
)

func TestNotifyDispatchedForMatchingPrefix(t *testing.T) {
	m := conn.New()
	m.RegisterNotifyReady(ids.StreamID(1), "video/")

	matched, err := m.RegisterSource("video/camA", conn.SourceProperties{})
	require.NoError(t, err)
	assert.Equal(t, []ids.StreamID{1}, matched)

	_, err = m.RegisterSource("audio/mic", conn.SourceProperties{})
	require.NoError(t, err)

	pending := m.DrainPending(ids.StreamID(1))
	assert.Equal(t, []string{"video/camA"}, pending, "audio/mic must not match the video/ prefix")

	assert.Empty(t, m.DrainPending(ids.StreamID(1)), "drained queue must not redeliver")
}

func TestRegisterSourceRejectsDuplicate(t *testing.T) {
	m := conn.New()
	_, err := m.RegisterSource("video/camA", conn.SourceProperties{})
	require.NoError(t, err)

	_, err = m.RegisterSource("video/camA", conn.SourceProperties{})
	assert.ErrorIs(t, err, conn.ErrAlreadyRegistered)
}

func TestSourceNotFound(t *testing.T) {
	m := conn.New()
	_, err := m.Source("nope")
	assert.ErrorIs(t, err, conn.ErrSourceNotFound)
}

func TestAcceptMediaAllocatesSequentialIDs(t *testing.T) {
	m := conn.New()
	a := m.AcceptMedia("video/camA")
	b := m.AcceptMedia("audio/mic")
	assert.NotEqual(t, a, b)

	url, ok := m.MediaURL(a)
	require.True(t, ok)
	assert.Equal(t, "video/camA", url)
}

func TestSubscribePatternDispatchesNotify(t *testing.T) {
	m := conn.New()
	var got string
	m.SubscribePattern(ids.StreamID(5), "video/", func(url string) { got = url })

	require.NoError(t, m.NotifyReceived(ids.StreamID(5), "video/camA"))
	assert.Equal(t, "video/camA", got)

	err := m.NotifyReceived(ids.StreamID(99), "video/camA")
	assert.Error(t, err)
}
