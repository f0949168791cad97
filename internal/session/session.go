package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hackclub/tshare/internal/api"
	"github.com/hackclub/tshare/internal/auth"
	"github.com/hackclub/tshare/internal/protocol"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrSessionEnded  = errors.New("session ended")
	ErrOwnerAttached = errors.New("owner already attached")
)

// Session is one shared terminal. The owner relay is its only publisher;
// viewers subscribe to the frames it publishes.
type Session struct {
	id        string
	creds     auth.Credentials
	createdAt time.Time

	subBuffer   int
	inputBuffer int
	now         func() time.Time

	mu      sync.Mutex
	history history
	subs    map[*Subscription]struct{}
	ended   bool
	endedAt time.Time
	cols    uint16
	rows    uint16
	viewers int

	sink inputSink
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Credentials() auth.Credentials {
	return s.creds
}

// Details is the read-only policy view of the session.
func (s *Session) Details() api.SessionDetails {
	d := api.SessionDetails{
		SessionID:       s.id,
		IsGuestReadonly: s.creds.GuestsReadOnly,
		CreatedAt:       s.createdAt,
	}
	if s.creds.OwnerHash != "" {
		h := s.creds.OwnerHash
		d.OwnerPasswordHash = &h
	}
	if s.creds.GuestHash != "" {
		h := s.creds.GuestHash
		d.GuestPasswordHash = &h
	}
	return d
}

// Publish appends data to the history and fans it out to every subscriber.
// Both happen under the session lock so a concurrent Subscribe sees either
// all of the frame in its snapshot or all of it on its channel.
func (s *Session) Publish(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrSessionEnded
	}
	s.history.append(data)
	s.fanOutLocked(protocol.DataFrame(data))
	return nil
}

func (s *Session) fanOutLocked(f protocol.Frame) {
	for sub := range s.subs {
		select {
		case sub.ch <- f:
		default:
			// subscriber can't keep up, drop it
			sub.lagged.Store(true)
			delete(s.subs, sub)
			close(sub.ch)
		}
	}
}

// End marks the session over and delivers the end frame to every subscriber.
// It reports whether this call was the one that ended the session.
func (s *Session) End() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	s.endedAt = s.now()
	for sub := range s.subs {
		select {
		case sub.ch <- protocol.EndFrame():
		default:
			// full buffer: the close alone tells the reader the session ended
		}
		sub.ended.Store(true)
		delete(s.subs, sub)
		close(sub.ch)
	}
	return true
}

func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Session) EndedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt, s.ended
}

// Subscribe registers a new viewer and returns the history accumulated so
// far. Frames published after the snapshot arrive on the subscription. On an
// ended session the subscription holds only the end frame.
func (s *Session) Subscribe() (*Subscription, []byte) {
	sub := &Subscription{session: s}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewers++
	snapshot := s.history.snapshot()
	if s.ended {
		sub.ch = make(chan protocol.Frame, 1)
		sub.ch <- protocol.EndFrame()
		sub.ended.Store(true)
		close(sub.ch)
		return sub, snapshot
	}
	sub.ch = make(chan protocol.Frame, s.subBuffer)
	s.subs[sub] = struct{}{}
	return sub, snapshot
}

func (s *Session) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewers--
	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		close(sub.ch)
	}
}

// AttachOwner claims the input sink for a new owner connection.
func (s *Session) AttachOwner() (*OwnerAttachment, error) {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return nil, ErrSessionEnded
	}

	a := &OwnerAttachment{
		session: s,
		queue:   make(chan protocol.Frame, s.inputBuffer),
		done:    make(chan struct{}),
	}
	if err := s.sink.install(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Session) OwnerAttached() bool {
	return s.sink.current() != nil
}

// SendInput forwards a viewer frame to the owner. Without an owner the frame
// is dropped and ErrNoOwner returned.
func (s *Session) SendInput(ctx context.Context, f protocol.Frame) error {
	return s.sink.send(ctx, f)
}

// SetTerminalSize records the size the owner last reported and passes it on
// to current subscribers. Viewers joining later read it with TerminalSize.
func (s *Session) SetTerminalSize(cols, rows uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || (s.cols == cols && s.rows == rows) {
		return
	}
	s.cols, s.rows = cols, rows
	s.fanOutLocked(protocol.ResizeFrame(cols, rows))
}

func (s *Session) TerminalSize() (cols, rows uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

func (s *Session) Viewers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewers
}

func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.len()
}

// Subscription is one viewer's feed of frames from a session.
type Subscription struct {
	session *Session
	ch      chan protocol.Frame
	lagged  atomic.Bool
	ended   atomic.Bool
	once    sync.Once
}

// Frames is closed when the session ends, the subscriber lags behind, or
// Close is called. The end frame is normally the last value received, but a
// subscriber whose buffer was full at End only sees the close; Ended reports
// that case.
func (sub *Subscription) Frames() <-chan protocol.Frame {
	return sub.ch
}

// Lagged reports whether the subscription was dropped for not keeping up.
func (sub *Subscription) Lagged() bool {
	return sub.lagged.Load()
}

// Ended reports whether the subscription was closed because the session ended.
func (sub *Subscription) Ended() bool {
	return sub.ended.Load()
}

func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.session.unsubscribe(sub)
	})
}
