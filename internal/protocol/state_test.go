package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachine_Lifecycle(t *testing.T) {
	var m StateMachine
	assert.Equal(t, StateUninitialized, m.Current())

	require.NoError(t, m.Enter(StateInitializing))
	require.NoError(t, m.Enter(StateReady))
	require.NoError(t, m.Enter(StateDiscovering))
	require.NoError(t, m.Enter(StateReady))
	require.NoError(t, m.Enter(StateRunning))
	require.NoError(t, m.Enter(StateReady))
	require.NoError(t, m.Enter(StateClosed))
	assert.Error(t, m.Enter(StateReady))

	m.Reset()
	assert.Equal(t, StateUninitialized, m.Current())
}

func TestStateMachine_Rejections(t *testing.T) {
	var m StateMachine

	err := m.Enter(StateRunning)
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.NotInitialized())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, m.Enter(StateInitializing))
	require.NoError(t, m.Enter(StateReady))
	require.NoError(t, m.Enter(StateRunning))

	err = m.Enter(StateDiscovering)
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Busy())
	assert.Equal(t, StateRunning, m.Current())

	err = m.Enter(StateInitializing)
	require.Error(t, err)
}

func TestStateMachine_FailedInitializeCanRetry(t *testing.T) {
	var m StateMachine
	require.NoError(t, m.Enter(StateInitializing))
	require.NoError(t, m.Enter(StateUninitialized))
	require.NoError(t, m.Enter(StateInitializing))
}
