package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StartsAwaitingHandshake(t *testing.T) {
	s := New()
	assert.Equal(t, AwaitingHandshake, s.State())
	assert.False(t, s.Ready())
}

func TestCompleteHandshake_TransitionsToReady(t *testing.T) {
	s := New()
	err := s.CompleteHandshake("agent-1", []string{"speed_recommendation"})
	require.NoError(t, err)
	assert.Equal(t, Ready, s.State())
	assert.True(t, s.Ready())
	assert.Equal(t, "agent-1", s.ClientID())
	assert.Equal(t, []string{"speed_recommendation"}, s.Capabilities())
}

func TestCompleteHandshake_RejectsSecondHandshake(t *testing.T) {
	s := New()
	require.NoError(t, s.CompleteHandshake("agent-1", nil))

	err := s.CompleteHandshake("agent-2", nil)
	assert.Error(t, err)
	assert.Equal(t, "agent-1", s.ClientID(), "a rejected second handshake must not overwrite the first")
}

func TestCompleteHandshake_RejectsAfterClose(t *testing.T) {
	s := New()
	s.Close()
	err := s.CompleteHandshake("agent-1", nil)
	assert.Error(t, err)
}

func TestClose_IsIdempotent(t *testing.T) {
	s := New()
	s.Close()
	s.Close()
	assert.Equal(t, Closed, s.State())
}

func TestCheckSequence_RejectsZeroSequence(t *testing.T) {
	s := New()
	assert.Error(t, s.CheckSequence(0), "sequence zero must never be accepted, even as the first sequence")
}

func TestCheckSequence_FirstNonZeroSequenceAccepted(t *testing.T) {
	s := New()
	assert.NoError(t, s.CheckSequence(100))
}

func TestCheckSequence_RequiresStrictMonotonicity(t *testing.T) {
	s := New()
	s.AcceptSequence(5)

	assert.NoError(t, s.CheckSequence(6))
	assert.Error(t, s.CheckSequence(5), "a repeated sequence number must be rejected")
	assert.Error(t, s.CheckSequence(4), "a lower sequence number must be rejected")
}

func TestCheckSequence_DoesNotMutateState(t *testing.T) {
	s := New()
	s.AcceptSequence(5)

	_ = s.CheckSequence(6)
	_ = s.CheckSequence(6)
	assert.NoError(t, s.CheckSequence(6), "CheckSequence must be idempotent and side-effect free")
}

func TestAcceptSequence_AdvancesHighWaterMark(t *testing.T) {
	s := New()
	s.AcceptSequence(1)
	s.AcceptSequence(2)

	assert.Error(t, s.CheckSequence(2))
	assert.NoError(t, s.CheckSequence(3))
}

func TestNewReady_StartsReadyWithDeclaredIdentity(t *testing.T) {
	s := NewReady("agent-1", []string{"speed_recommendation"})
	assert.Equal(t, Ready, s.State())
	assert.True(t, s.Ready())
	assert.Equal(t, "agent-1", s.ClientID())
	assert.Equal(t, []string{"speed_recommendation"}, s.Capabilities())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_handshake", AwaitingHandshake.String())
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "closed", Closed.String())
}
