// Package session keeps authenticated operator sessions, each bound to its
// own directory handle for its whole lifetime.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	ipa "github.com/netresearch/ipa-admin-portal"
)

var (
	// ErrNotFound is returned for tokens the store has never issued or has
	// already removed.
	ErrNotFound = errors.New("session: not found")
	// ErrExpired is returned on the first lookup after a session's expiry.
	// The session is removed by that lookup.
	ErrExpired = errors.New("session: expired")
)

// Session is one authenticated operator.
type Session struct {
	Token     string
	Owner     string
	Created   time.Time
	Expires   time.Time
	Directory ipa.Directory
}

// ExpiredAt reports whether the session has expired at t.
func (s *Session) ExpiredAt(t time.Time) bool {
	return !t.Before(s.Expires)
}

// Store holds sessions by token. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(token string) (*Session, error)
	Put(s *Session) error
	// Delete removes the session and closes its directory handle.
	Delete(token string) error
	// SweepExpired removes every expired session and returns how many.
	SweepExpired() int
	Len() int
}

// MemoryStore is an in-process Store. A background janitor sweeps expired
// sessions every interval; Close stops it and ends every remaining session.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]*Session
	now    func() time.Time
	logger *slog.Logger

	ticker   *time.Ticker
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store. A non-positive interval disables the
// janitor; expired sessions are then removed only on lookup or SweepExpired.
func NewMemoryStore(interval time.Duration, logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MemoryStore{
		items:    make(map[string]*Session),
		now:      time.Now,
		logger:   logger.With(slog.String("component", "session_store")),
		stopChan: make(chan struct{}),
	}
	if interval > 0 {
		s.startJanitor(interval)
	}
	return s
}

// Get returns the session for token.
func (s *MemoryStore) Get(token string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.items[token]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !sess.ExpiredAt(s.now()) {
		return sess, nil
	}

	s.mu.Lock()
	cur, ok := s.items[token]
	removed := ok && cur == sess
	if removed {
		delete(s.items, token)
	}
	s.mu.Unlock()
	// Only the caller that removed the entry closes its handle.
	if removed {
		s.release(sess, "expired")
	}
	return nil, ErrExpired
}

// Put stores s, replacing any session with the same token.
func (s *MemoryStore) Put(sess *Session) error {
	if sess == nil || sess.Token == "" {
		return errors.New("session: token is required")
	}
	s.mu.Lock()
	old := s.items[sess.Token]
	s.items[sess.Token] = sess
	s.mu.Unlock()
	if old != nil && old != sess {
		s.release(old, "replaced")
	}
	return nil
}

// Delete removes the session for token.
func (s *MemoryStore) Delete(token string) error {
	s.mu.Lock()
	sess, ok := s.items[token]
	delete(s.items, token)
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.release(sess, "deleted")
	return nil
}

// SweepExpired removes every expired session.
func (s *MemoryStore) SweepExpired() int {
	now := s.now()
	var expired []*Session

	s.mu.Lock()
	for token, sess := range s.items {
		if sess.ExpiredAt(now) {
			expired = append(expired, sess)
			delete(s.items, token)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		s.release(sess, "expired")
	}
	return len(expired)
}

// Len returns the number of stored sessions, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Close stops the janitor and ends every session.
func (s *MemoryStore) Close() error {
	s.once.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopChan)
		s.wg.Wait()

		s.mu.Lock()
		remaining := s.items
		s.items = make(map[string]*Session)
		s.mu.Unlock()
		for _, sess := range remaining {
			s.release(sess, "shutdown")
		}
	})
	return nil
}

// release closes the session's directory handle outside the store lock.
func (s *MemoryStore) release(sess *Session, reason string) {
	if sess.Directory != nil {
		if err := sess.Directory.Close(); err != nil {
			s.logger.Warn("session_directory_close_failed",
				slog.String("owner", sess.Owner),
				slog.String("error", err.Error()))
		}
	}
	s.logger.Debug("session_removed",
		slog.String("owner", sess.Owner),
		slog.String("reason", reason))
}

func (s *MemoryStore) startJanitor(interval time.Duration) {
	s.ticker = time.NewTicker(interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ticker.C:
				if n := s.SweepExpired(); n > 0 {
					s.logger.Info("sessions_swept", slog.Int("count", n))
				}
			case <-s.stopChan:
				return
			}
		}
	}()
}
