package streamstate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaquic/quicrq/ids"
	"github.com/mediaquic/quicrq/message"
	"github.com/mediaquic/quicrq/streamstate"
)

func TestSenderPriorityLadder(t *testing.T) {
	s := streamstate.NewSender(true)
	s.MarkReady()
	s.SetStartPoint(ids.Location{Group: 1, Object: 0})
	s.SetFinal(ids.Location{Group: 5, Object: 0})
	s.SetCacheRealTime(true)

	assert.Equal(t, streamstate.ActionStartPoint, s.NextAction(true))
	s.MarkReady()
	assert.Equal(t, streamstate.ActionFinalPoint, s.NextAction(true))
	s.MarkReady()
	assert.Equal(t, streamstate.ActionCachePolicy, s.NextAction(true))
	s.MarkReady()
	assert.Equal(t, streamstate.ActionSingleStream, s.NextAction(true))
	s.MarkReady()
	assert.Equal(t, streamstate.ActionInactive, s.NextAction(false))
}

func TestSenderSkipsDefaultStartPoint(t *testing.T) {
	s := streamstate.NewSender(true)
	s.MarkReady()
	s.SetStartPoint(ids.Location{}) // default (0,0): never announced
	assert.Equal(t, streamstate.ActionInactive, s.NextAction(false))
}

func TestResolveFragmentSendNormal(t *testing.T) {
	s := streamstate.NewSender(true)
	kind, flags := s.ResolveFragmentSend(streamstate.FragmentOutcome{})
	assert.Equal(t, streamstate.EmitFragment, kind)
	assert.Equal(t, message.FragmentFlags(0), flags)
	assert.Equal(t, streamstate.SendReady, s.State())
}

func TestResolveFragmentSendSkip(t *testing.T) {
	s := streamstate.NewSender(true)
	kind, flags := s.ResolveFragmentSend(streamstate.FragmentOutcome{ShouldSkip: true})
	assert.Equal(t, streamstate.EmitFragment, kind)
	assert.Equal(t, message.FlagSkipped, flags)
}

func TestResolveFragmentSendMediaFinished(t *testing.T) {
	s := streamstate.NewSender(true)
	kind, _ := s.ResolveFragmentSend(streamstate.FragmentOutcome{MediaFinished: true})
	assert.Equal(t, streamstate.EmitFinDatagram, kind)
}

func TestContextRequestThenFragment(t *testing.T) {
	c := streamstate.NewContext(true)
	require.NoError(t, c.HandleMessage(message.TypeRequest))
	assert.Equal(t, streamstate.RecvFragment, c.Recv.State())
	assert.Equal(t, streamstate.SendReady, c.Send.State())

	require.NoError(t, c.HandleMessage(message.TypeFragment))
	require.NoError(t, c.HandleMessage(message.TypeStartPoint))
}

func TestContextFragmentBeforeRequestRejected(t *testing.T) {
	c := streamstate.NewContext(true)
	err := c.HandleMessage(message.TypeFragment)
	assert.ErrorIs(t, err, streamstate.ErrUnexpectedMessage)
}

func TestContextSubscribeFlipsToNotifyReady(t *testing.T) {
	c := streamstate.NewContext(false)
	require.NoError(t, c.HandleMessage(message.TypeSubscribe))
	assert.Equal(t, streamstate.SendNotifyReady, c.Send.State())
	assert.Equal(t, streamstate.RecvNotify, c.Recv.State())

	require.NoError(t, c.HandleMessage(message.TypeNotify))
}

func TestContextFinBothSidesDeletes(t *testing.T) {
	c := streamstate.NewContext(true)
	require.NoError(t, c.HandleMessage(message.TypeRequest))

	assert.False(t, c.HandleFin()) // peer finished, local not yet
	assert.Equal(t, streamstate.SendFin, c.Send.State())

	assert.True(t, c.HandleLocalFin()) // now both finished: delete
}

func TestContextLocalFinThenPeerFinDeletes(t *testing.T) {
	c := streamstate.NewContext(true)
	require.NoError(t, c.HandleMessage(message.TypeRequest))

	assert.False(t, c.HandleLocalFin())
	assert.True(t, c.HandleFin())
}
