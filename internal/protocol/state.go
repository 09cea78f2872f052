package protocol

import (
	"errors"
	"fmt"
	"sync"
)

// State of a protocol session
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDiscovering
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDiscovering:
		return "discovering"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrInvalidTransition is wrapped by every TransitionError
var ErrInvalidTransition = errors.New("invalid state transition")

type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// NotInitialized reports whether the session had not finished initializing
func (e *TransitionError) NotInitialized() bool {
	return e.From == StateUninitialized || e.From == StateInitializing
}

// Busy reports whether another discovery or run was in progress
func (e *TransitionError) Busy() bool {
	return e.From == StateDiscovering || e.From == StateRunning
}

var transitions = map[State][]State{
	StateUninitialized: {StateInitializing},
	StateInitializing:  {StateReady, StateUninitialized},
	StateReady:         {StateDiscovering, StateRunning},
	StateDiscovering:   {StateReady},
	StateRunning:       {StateReady},
}

// StateMachine guards the session state. Any state may move to Closed; Closed is final.
type StateMachine struct {
	mu    sync.Mutex
	state State
}

// Current returns the current state
func (m *StateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Enter moves to the given state, or returns a *TransitionError
func (m *StateMachine) Enter(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == StateClosed {
		m.state = StateClosed
		return nil
	}
	for _, allowed := range transitions[m.state] {
		if allowed == to {
			m.state = to
			return nil
		}
	}
	return &TransitionError{From: m.state, To: to}
}

// Reset returns to Uninitialized, for a restarted session
func (m *StateMachine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateUninitialized
}
