// Package session coordinates alignment, scoring and aggregation for one
// reference clip played against one live user.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a session.
type State int

const (
	// StateIdle - No buffers, no history.
	StateIdle State = iota
	// StateLoading - Waiting for the pose estimator to signal readiness.
	StateLoading
	// StateReady - Estimator ready, buffers empty, awaiting Start.
	StateReady
	// StateActive - Frames are buffered and evaluation ticks append history.
	StateActive
	// StatePaused - History and average are frozen.
	StatePaused
	// StateFinalized - Score persisted. Terminal until Reset.
	StateFinalized
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateLoading:
		return "LOADING"
	case StateReady:
		return "READY"
	case StateActive:
		return "ACTIVE"
	case StatePaused:
		return "PAUSED"
	case StateFinalized:
		return "FINALIZED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true for FINALIZED.
func (s State) IsTerminal() bool {
	return s == StateFinalized
}

// Errors for invalid state transitions and rejected input.
var (
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrSessionFinalized  = errors.New("session is finalized")
	ErrNotAccepting      = errors.New("session is not accepting frames")
)

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	IDLE → LOADING → READY → ACTIVE ⇄ PAUSED
//	                           │        │
//	                           └────────┴── Finalize() ──→ FINALIZED (once)
//
//	any state ── Reset() ──→ IDLE
//
// Rules:
//   - READY may also be reached straight from IDLE when no estimator gates the session
//   - FINALIZED rejects everything except Reset
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a lifecycle in IDLE state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateIdle}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsFinalized returns true once Finalize has succeeded.
func (l *Lifecycle) IsFinalized() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateFinalized
}

// Load transitions IDLE → LOADING.
func (l *Lifecycle) Load() (State, error) {
	return l.transition(StateLoading, StateIdle)
}

// MarkReady transitions LOADING (or IDLE) → READY.
func (l *Lifecycle) MarkReady() (State, error) {
	return l.transition(StateReady, StateLoading, StateIdle)
}

// Start transitions READY → ACTIVE.
func (l *Lifecycle) Start() (State, error) {
	return l.transition(StateActive, StateReady)
}

// Pause transitions ACTIVE → PAUSED.
func (l *Lifecycle) Pause() (State, error) {
	return l.transition(StatePaused, StateActive)
}

// Resume transitions PAUSED → ACTIVE.
func (l *Lifecycle) Resume() (State, error) {
	return l.transition(StateActive, StatePaused)
}

// Finalize transitions ACTIVE or PAUSED → FINALIZED.
// A second call returns ErrSessionFinalized.
func (l *Lifecycle) Finalize() (State, error) {
	return l.transition(StateFinalized, StateActive, StatePaused)
}

// Reset returns to IDLE from any state and reports the previous state.
func (l *Lifecycle) Reset() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.state
	l.state = StateIdle
	return prev
}

// transition moves to `to` if the current state is one of from.
// It returns the previous state.
func (l *Lifecycle) transition(to State, from ...State) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.state
	for _, f := range from {
		if prev == f {
			l.state = to
			return prev, nil
		}
	}
	if prev == StateFinalized {
		return prev, ErrSessionFinalized
	}
	return prev, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, prev, to)
}
