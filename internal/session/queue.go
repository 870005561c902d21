package session

import (
	"errors"
	"sync"

	"github.com/ehrlich-b/perch/internal/agent"
)

// ErrQueueFull means the agent is far behind on user turns.
var ErrQueueFull = errors.New("input queue full")

// inputQueue buffers user turns for the agent's single reader. Many writers,
// one reader. Push and Close share a mutex so a push can never race the
// close.
type inputQueue struct {
	mu     sync.Mutex
	closed bool
	ch     chan agent.UserTurn
}

func newInputQueue() *inputQueue {
	return &inputQueue{ch: make(chan agent.UserTurn, 64)}
}

// Push enqueues a turn without blocking. If the agent is already awaiting
// its next turn the buffered channel wakes it directly.
func (q *inputQueue) Push(t agent.UserTurn) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrNoActiveSession
	}
	select {
	case q.ch <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close ends the input stream. Idempotent.
func (q *inputQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Turns is the reader side handed to the agent runner.
func (q *inputQueue) Turns() <-chan agent.UserTurn {
	return q.ch
}
