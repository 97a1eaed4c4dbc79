// Package lifecycle implements the dispatcher's state machine
// (stopped/starting/running/draining/stopping) described in spec.md
// §4.1. It is deliberately small and mutex-guarded, the same shape the
// teacher uses for internal/breaker.CircuitBreaker's state field, but
// generalized from 3 states to 5 and given bounded-wait predicates.
package lifecycle

import (
	"sync"
	"time"
)

// State is one of the five lifecycle positions.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Draining
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// pollInterval is the fixed granularity used by the bounded-wait
// predicates (spec.md §4.1: "≈1 ms").
const pollInterval = time.Millisecond

// Manager guards dispatcher lifecycle transitions and exposes one-shot
// signals for "reactor is ready" and "shutdown has begun".
type Manager struct {
	mu    sync.Mutex
	state State

	reactorReady chan struct{}
	shutdown     chan struct{}
}

// New returns a Manager starting in the Stopped state.
func New() *Manager {
	return &Manager{
		state:        Stopped,
		reactorReady: make(chan struct{}),
		shutdown:     make(chan struct{}),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TryStart transitions Stopped|Draining -> Starting. Returns false
// (idempotent no-op) if already starting/running/stopping.
func (m *Manager) TryStart() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Stopped, Draining:
		m.state = Starting
		m.reactorReady = make(chan struct{})
		m.shutdown = make(chan struct{})
		return true
	default:
		return false
	}
}

// MarkRunning transitions Starting -> Running and releases
// ReactorReady waiters. Called by the reactor once it has entered its
// main loop.
func (m *Manager) MarkRunning() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Starting {
		m.state = Running
	}
	select {
	case <-m.reactorReady:
	default:
		close(m.reactorReady)
	}
}

// TryDrain transitions Running -> Draining. Valid only from Running
// (spec.md §4.8 Drain: "valid only from running"); a manager that is
// already Draining reports true without changing state, so repeated
// drains are idempotent. Any other state reports false.
func (m *Manager) TryDrain() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Running {
		m.state = Draining
		return true
	}
	return m.state == Draining
}

// TryStop transitions any non-terminal state to Stopping and releases
// Shutdown waiters. Idempotent.
func (m *Manager) TryStop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Stopping || m.state == Stopped {
		return m.state == Stopping
	}
	m.state = Stopping
	select {
	case <-m.shutdown:
	default:
		close(m.shutdown)
	}
	return true
}

// MarkStopped transitions Stopping -> Stopped.
func (m *Manager) MarkStopped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Stopped
}

// IsRunning reports whether enqueue admission should be allowed
// (spec.md §4.8 Enqueue: "require running (not draining/stopping)").
func (m *Manager) IsRunning() bool {
	return m.State() == Running
}

// ReactorReady returns a channel closed once the reactor has signaled
// it is ready.
func (m *Manager) ReactorReady() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reactorReady
}

// ShutdownSignal returns a channel closed once Stop has been called.
func (m *Manager) ShutdownSignal() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// WaitUntil polls pred at pollInterval granularity until it returns
// true or timeout elapses, returning whether pred was satisfied.
func WaitUntil(timeout time.Duration, pred func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if pred() {
			return true
		}
		if time.Now().After(deadline) {
			return pred()
		}
		time.Sleep(pollInterval)
	}
}
