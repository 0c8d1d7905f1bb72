// Package session runs one capture-and-transcribe session against an STT
// adapter and owns the audio captured for it.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a session.
type State int

const (
	// StateConnecting - creating the provider session and opening the connection.
	StateConnecting State = iota
	// StateConfiguring - connection open, transcription parameters not yet sent.
	StateConfiguring
	// StateStreaming - appending captured audio.
	StateStreaming
	// StateCommitting - capture finished, commit in progress.
	StateCommitting
	// StateAwaitingResult - commit sent, waiting for the transcript.
	StateAwaitingResult
	// StateDone - transcript received. Terminal.
	StateDone
	// StateClosed - connection error, close or timeout. Terminal.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConfiguring:
		return "CONFIGURING"
	case StateStreaming:
		return "STREAMING"
	case StateCommitting:
		return "COMMITTING"
	case StateAwaitingResult:
		return "AWAITING_RESULT"
	case StateDone:
		return "DONE"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (DONE or CLOSED).
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateClosed
}

// Errors for invalid state transitions.
var (
	ErrSessionClosed     = errors.New("session is closed")
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// next lists the single forward transition allowed from each live state.
var next = map[State]State{
	StateConnecting:     StateConfiguring,
	StateConfiguring:    StateStreaming,
	StateStreaming:      StateCommitting,
	StateCommitting:     StateAwaitingResult,
	StateAwaitingResult: StateDone,
}

// Lifecycle manages the protocol state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	CONNECTING → CONFIGURING → STREAMING → COMMITTING → AWAITING_RESULT → DONE
//	     │            │            │            │               │
//	     └────────────┴────────────┴────────────┴───────────────┴──→ CLOSED
//
// Rules:
//   - Advance moves exactly one step forward; skipping or going back fails
//   - Close may be called from any state and is a no-op once terminal
//   - DONE and CLOSED accept no further transitions
type Lifecycle struct {
	mu    sync.RWMutex
	runId string
	state State
}

// NewLifecycle creates a new session lifecycle in CONNECTING state.
func NewLifecycle(runId string) *Lifecycle {
	return &Lifecycle{
		runId: runId,
		state: StateConnecting,
	}
}

// RunId returns the local run identifier.
func (l *Lifecycle) RunId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.runId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsTerminal returns true if the session reached DONE or CLOSED.
func (l *Lifecycle) IsTerminal() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// Advance transitions to the given state if it is the next one.
func (l *Lifecycle) Advance(to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.IsTerminal() {
		return ErrSessionClosed
	}
	if want, ok := next[l.state]; !ok || want != to {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, to)
	}
	l.state = to
	return nil
}

// Close transitions the session to CLOSED.
// Returns true if the state changed, false if already terminal.
func (l *Lifecycle) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateClosed
	return true
}
