package session

import (
	"errors"
	"sync"
)

// ErrThreadBusy is returned when an invocation arrives for a thread whose
// previous invocation is still running. State mutation is not idempotent
// (cursor advances, answers recorded, versions appended), so overlapping
// invocations for one thread are rejected rather than interleaved. This is
// the only hard, caller-visible failure class.
var ErrThreadBusy = errors.New("thread is busy processing a previous message")

// Guard serializes invocations per thread id. Different threads are fully
// independent and run in parallel.
type Guard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewGuard creates an empty guard
func NewGuard() *Guard {
	return &Guard{
		active: make(map[string]struct{}),
	}
}

// Acquire marks a thread as active, or fails with ErrThreadBusy
func (g *Guard) Acquire(threadID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.active[threadID]; busy {
		return ErrThreadBusy
	}
	g.active[threadID] = struct{}{}
	return nil
}

// Release marks a thread as idle again
func (g *Guard) Release(threadID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, threadID)
}
