package agent

import (
	"context"
	"sync"
)

// Stream is the ordered output of one agent run. Single consumer.
type Stream struct {
	ctx  context.Context
	ch   chan Message
	mu   sync.Mutex
	err  error
	done bool
}

func newStream(ctx context.Context) *Stream {
	return &Stream{
		ctx: ctx,
		ch:  make(chan Message, 64),
	}
}

func (s *Stream) send(m Message) {
	select {
	case s.ch <- m:
	case <-s.ctx.Done():
	}
}

func (s *Stream) close(err error) {
	s.mu.Lock()
	s.err = err
	s.done = true
	s.mu.Unlock()
	close(s.ch)
}

// Next returns the next message; ok is false once the stream has ended.
func (s *Stream) Next() (Message, bool) {
	m, ok := <-s.ch
	return m, ok
}

// Err is the terminal error, valid after Next has returned ok=false.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
