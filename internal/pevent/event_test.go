package pevent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_CanTransition_HappyPath(t *testing.T) {
	require.True(t, CanTransition(StateNone, StateDecoding))
	require.True(t, CanTransition(StateDecoding, StatePlaying))
	require.True(t, CanTransition(StatePlaying, StatePaused))
	require.True(t, CanTransition(StatePaused, StatePlaying))
	require.True(t, CanTransition(StatePlaying, StateEnded))
}

func Test_CanTransition_RestartFromEnded(t *testing.T) {
	require.True(t, CanTransition(StateEnded, StateDecoding))
	require.False(t, CanTransition(StateEnded, StatePlaying))
}

func Test_CanTransition_AnyToError(t *testing.T) {
	for _, s := range []State{StateNone, StateDecoding, StatePlaying, StatePaused, StateEnded} {
		require.True(t, CanTransition(s, StateError), "state %s should transition to error", s)
	}
	require.False(t, CanTransition(StateError, StateError))
}

func Test_CanTransition_ErrorOnlyGoesToEnded(t *testing.T) {
	require.True(t, CanTransition(StateError, StateEnded))
	require.False(t, CanTransition(StateError, StatePlaying))
	require.False(t, CanTransition(StateError, StateDecoding))
}

func Test_CanTransition_RejectsSkippedStates(t *testing.T) {
	require.False(t, CanTransition(StateNone, StatePlaying))
	require.False(t, CanTransition(StateDecoding, StatePaused))
}

func Test_PipelineError_UnwrapsCause(t *testing.T) {
	cause := errors.New("device busy")
	err := NewError(ErrorDevice, "capture.video", cause)

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "device")
	require.Contains(t, err.Error(), "capture.video")
}
