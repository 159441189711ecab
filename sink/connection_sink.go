package sink

import (
	"chat-connect/domain/chat"
	"chat-connect/domain/event"
	"chat-connect/errors"
	"context"
	"sync"
)

const defaultBufferSize = 128

// ConnectionSink buffers the outbound events of one connection.
// The transport drains Events until Done is closed.
// A full buffer closes the sink, keeping backpressure bounded.
type ConnectionSink struct {
	events chan event.Event
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	reason chat.CloseReason
}

func NewConnectionSink(bufferSize int) *ConnectionSink {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &ConnectionSink{
		events: make(chan event.Event, bufferSize),
		done:   make(chan struct{}),
	}
}

// Consume implements the EventSink interface. It never blocks.
func (s *ConnectionSink) Consume(_ context.Context, e event.Event) error {
	select {
	case <-s.done:
		return errors.ErrConnectionClosed
	default:
	}
	select {
	case s.events <- e:
		return nil
	default:
		s.Close(chat.CloseServerError)
		return errors.ErrSlowConsumer
	}
}

// Close is idempotent, the first reason wins.
func (s *ConnectionSink) Close(reason chat.CloseReason) {
	s.once.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *ConnectionSink) Events() <-chan event.Event {
	return s.events
}

func (s *ConnectionSink) Done() <-chan struct{} {
	return s.done
}

// Reason is meaningful once Done is closed.
func (s *ConnectionSink) Reason() chat.CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
