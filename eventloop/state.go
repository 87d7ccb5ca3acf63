//go:build linux || darwin

package eventloop

import (
	"sync/atomic"
)

// LoopState represents the current state of the event loop.
//
// State Machine:
//
//	StateIdle (0) → StateRunning (1)   [outermost run level entered]
//	StateRunning (1) → StateIdle (0)   [outermost run level exited]
//	StateIdle (0) → StateClosed (2)    [Close()]
//	StateClosed (2) → (terminal)
//
// A running loop cannot be closed.
type LoopState uint64

const (
	// StateIdle indicates the loop is not running, and may be run or closed.
	StateIdle LoopState = 0
	// StateRunning indicates a main loop bound to the loop's context is
	// running, whether started by RunForever, or by foreign code.
	StateRunning LoopState = 1
	// StateClosed indicates the loop has been closed.
	StateClosed LoopState = 2
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// FastState is a lock-free state machine with cache-line padding.
type FastState struct { // betteralign:ignore
	_ [64]byte      // Cache line padding (before value) //nolint:unused
	v atomic.Uint64 // State value
	_ [56]byte      // Pad to complete cache line (64 - 8 = 56) //nolint:unused
}

// NewFastState creates a new state machine in the Idle state.
func NewFastState() *FastState {
	s := &FastState{}
	s.v.Store(uint64(StateIdle))
	return s
}

// Load returns the current state atomically.
func (s *FastState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store atomically stores a new state, without validation.
func (s *FastState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
// Returns true if the transition was successful.
func (s *FastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// IsRunning returns true if the loop is running.
func (s *FastState) IsRunning() bool {
	return s.Load() == StateRunning
}

// IsClosed returns true if the loop is closed.
func (s *FastState) IsClosed() bool {
	return s.Load() == StateClosed
}
