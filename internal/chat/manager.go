package chat

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Manager binds at most one Session to the current identity. Changing the
// identity always tears the previous session down before a new one starts,
// so a connection never carries state for more than one user.
type Manager struct {
	dialer  Dialer
	history HistoryService
	opts    []Option
	log     zerolog.Logger

	// switchMu serializes SetIdentity; mu guards current only
	switchMu sync.Mutex
	mu       sync.Mutex
	current  *Session
}

// NewManager creates a manager with no identity
func NewManager(dialer Dialer, history HistoryService, log zerolog.Logger, opts ...Option) *Manager {
	return &Manager{
		dialer:  dialer,
		history: history,
		opts:    append([]Option{WithLogger(log)}, opts...),
		log:     log.With().Str("component", "chat_manager").Logger(),
	}
}

// SetIdentity switches the manager to userID. An empty userID means logged
// out: the current session is closed and none is created. Setting the same
// identity again keeps the live session.
func (m *Manager) SetIdentity(ctx context.Context, userID string) (*Session, error) {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	m.mu.Lock()
	if m.current != nil && m.current.UserID() == userID {
		s := m.current
		m.mu.Unlock()
		return s, nil
	}

	prev := m.current
	m.current = nil
	var s *Session
	if userID != "" {
		s = NewSession(userID, m.dialer, m.history, m.opts...)
		m.current = s
	}
	m.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			m.log.Warn().Err(err).Str("user_id", prev.UserID()).Msg("failed to close previous session")
		}
	}

	if s == nil {
		m.log.Info().Msg("identity cleared")
		return nil, nil
	}

	// Start runs unlocked so Current and Close stay responsive while it dials.
	// A failed refresh is recorded in the session state; the session stays usable.
	m.log.Info().Str("user_id", userID).Msg("starting chat session")
	if err := s.Start(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// Current returns the live session, or nil when no identity is set
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close releases the current session
func (m *Manager) Close() error {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Close()
}
