package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	ipa "github.com/netresearch/ipa-admin-portal"
)

// Manager issues and ends sessions.
type Manager struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewManager creates a Manager issuing sessions that live for ttl.
func NewManager(store Store, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, ttl: ttl, now: time.Now, logger: logger}
}

// TTL returns the lifetime of new sessions.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create stores a new session for owner bound to dir. The token is a random
// UUID.
func (m *Manager) Create(owner string, dir ipa.Directory) (*Session, error) {
	now := m.now()
	sess := &Session{
		Token:     uuid.NewString(),
		Owner:     owner,
		Created:   now,
		Expires:   now.Add(m.ttl),
		Directory: dir,
	}
	if err := m.store.Put(sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	m.logger.Info("session_created",
		slog.String("owner", owner),
		slog.Time("expires", sess.Expires))
	return sess, nil
}

// Lookup returns the live session for token.
func (m *Manager) Lookup(token string) (*Session, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return m.store.Get(token)
}

// End removes the session and closes its directory handle.
func (m *Manager) End(token string) error {
	return m.store.Delete(token)
}

// Active returns the number of stored sessions.
func (m *Manager) Active() int {
	return m.store.Len()
}
