package datagram_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaquic/quicrq/datagram"
	"github.com/mediaquic/quicrq/ids"
)

func TestNextActiveSkipsInactiveAndUnassigned(t *testing.T) {
	s := datagram.New()
	s.Register(1)
	s.Register(2)
	s.Register(3)

	s.SetMediaAssigned(1, true)
	s.SetMediaAssigned(2, true)
	s.SetMediaAssigned(3, true)

	s.SetActive(2, true)

	id, more, found := s.NextActive()
	require.True(t, found)
	assert.Equal(t, ids.StreamID(2), id)
	assert.False(t, more, "only one stream is active")
}

func TestNextActiveRoundRobinsAcrossCalls(t *testing.T) {
	s := datagram.New()
	s.Register(1)
	s.Register(2)
	s.SetMediaAssigned(1, true)
	s.SetMediaAssigned(2, true)
	s.SetActive(1, true)
	s.SetActive(2, true)

	first, more, found := s.NextActive()
	require.True(t, found)
	assert.True(t, more, "the other stream is still active")
	assert.Equal(t, ids.StreamID(1), first)

	second, more, found := s.NextActive()
	require.True(t, found)
	assert.True(t, more)
	assert.Equal(t, ids.StreamID(2), second, "rotation resumes after the last stream serviced")

	third, _, found := s.NextActive()
	require.True(t, found)
	assert.Equal(t, ids.StreamID(1), third, "rotation wraps back to the start")
}

func TestNextActiveIgnoresStreamWithoutMediaID(t *testing.T) {
	s := datagram.New()
	s.Register(1)
	s.SetActive(1, true)

	_, _, found := s.NextActive()
	assert.False(t, found, "a stream without a media_id is not datagram-ready")
}

func TestNextActiveEmptyWhenNothingRegistered(t *testing.T) {
	s := datagram.New()
	_, more, found := s.NextActive()
	assert.False(t, found)
	assert.False(t, more)
}

func TestUnregisterRemovesFromRotation(t *testing.T) {
	s := datagram.New()
	s.Register(1)
	s.Register(2)
	s.SetMediaAssigned(1, true)
	s.SetMediaAssigned(2, true)
	s.SetActive(1, true)
	s.SetActive(2, true)

	s.Unregister(1)

	id, more, found := s.NextActive()
	require.True(t, found)
	assert.Equal(t, ids.StreamID(2), id)
	assert.False(t, more)
}
