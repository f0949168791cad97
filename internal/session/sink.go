package session

import (
	"context"
	"errors"
	"sync"

	"github.com/hackclub/tshare/internal/protocol"
)

// ErrNoOwner is returned when input is sent while no owner is attached. The
// input is dropped.
var ErrNoOwner = errors.New("no owner attached")

// OwnerAttachment is the owner's claim on a session's input sink. Frames sent
// by viewers arrive on Input until Detach is called.
type OwnerAttachment struct {
	session *Session
	queue   chan protocol.Frame
	done    chan struct{}
	once    sync.Once
}

func (a *OwnerAttachment) Input() <-chan protocol.Frame {
	return a.queue
}

// Detach releases the sink. It only clears the slot if this attachment still
// holds it, so a stale owner can never clear a newer one.
func (a *OwnerAttachment) Detach() {
	a.once.Do(func() {
		a.session.sink.clear(a)
		close(a.done)
	})
}

// inputSink is the single-slot holder of the live owner's input queue.
type inputSink struct {
	mu  sync.Mutex
	cur *OwnerAttachment
}

func (s *inputSink) install(a *OwnerAttachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		return ErrOwnerAttached
	}
	s.cur = a
	return nil
}

func (s *inputSink) clear(a *OwnerAttachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == a {
		s.cur = nil
	}
}

func (s *inputSink) current() *OwnerAttachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// send queues f for the current owner. It blocks while the queue is full,
// until the owner detaches or ctx is done.
func (s *inputSink) send(ctx context.Context, f protocol.Frame) error {
	a := s.current()
	if a == nil {
		return ErrNoOwner
	}
	select {
	case a.queue <- f:
		return nil
	case <-a.done:
		return ErrNoOwner
	case <-ctx.Done():
		return ctx.Err()
	}
}
