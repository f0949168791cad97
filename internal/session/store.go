package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hackclub/tshare/internal/auth"
)

const (
	DefaultSubscriberBuffer = 1024
	DefaultInputBuffer      = 1024
)

type Options struct {
	SubscriberBuffer int
	InputBuffer      int
	// HistoryLimit caps the replay buffer in bytes. Zero keeps everything.
	HistoryLimit int
	Now          func() time.Time
}

type CreateParams struct {
	OwnerPassword  string
	GuestPassword  string
	GuestsReadOnly bool
}

type Stats struct {
	Total   int
	Live    int
	Ended   int
	Owners  int
	Viewers int
}

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	hasher   auth.Hasher
	opts     Options
}

func NewStore(hasher auth.Hasher, opts Options) *Store {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if opts.InputBuffer <= 0 {
		opts.InputBuffer = DefaultInputBuffer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		sessions: make(map[string]*Session),
		hasher:   hasher,
		opts:     opts,
	}
}

// Create hashes the supplied passwords and registers a new session under a
// fresh id. Empty passwords are treated as unset.
func (s *Store) Create(p CreateParams) (*Session, error) {
	creds := auth.Credentials{GuestsReadOnly: p.GuestsReadOnly}
	var err error
	if p.OwnerPassword != "" {
		if creds.OwnerHash, err = s.hasher.Hash(p.OwnerPassword); err != nil {
			return nil, fmt.Errorf("hash owner password: %w", err)
		}
	}
	if p.GuestPassword != "" {
		if creds.GuestHash, err = s.hasher.Hash(p.GuestPassword); err != nil {
			return nil, fmt.Errorf("hash guest password: %w", err)
		}
	}

	sess := &Session{
		id:          uuid.NewString(),
		creds:       creds,
		createdAt:   s.opts.Now(),
		subBuffer:   s.opts.SubscriberBuffer,
		inputBuffer: s.opts.InputBuffer,
		now:         s.opts.Now,
		history:     history{limit: s.opts.HistoryLimit},
		subs:        make(map[*Subscription]struct{}),
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Lookup is Get with ErrNotFound for missing ids.
func (s *Store) Lookup(id string) (*Session, error) {
	sess, ok := s.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) all() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		result = append(result, sess)
	}
	return result
}

func (s *Store) Stats() Stats {
	var st Stats
	for _, sess := range s.all() {
		st.Total++
		if sess.Ended() {
			st.Ended++
		} else {
			st.Live++
		}
		if sess.OwnerAttached() {
			st.Owners++
		}
		st.Viewers += sess.Viewers()
	}
	return st
}

// Sweep removes sessions that ended at least retention ago and have no
// viewers left. It returns the removed ids.
func (s *Store) Sweep(now time.Time, retention time.Duration) []string {
	var removed []string
	for _, sess := range s.all() {
		endedAt, ended := sess.EndedAt()
		if !ended || now.Sub(endedAt) < retention || sess.Viewers() > 0 {
			continue
		}
		s.Remove(sess.id)
		removed = append(removed, sess.id)
	}
	return removed
}
