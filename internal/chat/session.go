package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Rrens/laundry-chat/internal/domain"
	"github.com/rs/zerolog"
)

// Session is the chat state of one signed-in identity. It owns exactly one
// transport, created by Start and released by Close.
//
// Every inbound event and every operation runs to completion under a single
// mutex, so handlers never observe each other half way. Listeners are called
// after the mutation, outside the lock.
type Session struct {
	userID  string
	dialer  Dialer
	history HistoryService
	log     zerolog.Logger

	mu          sync.Mutex
	st          state
	conn        Transport
	closed      bool
	dialing     bool
	pendingAuth bool
	recent      *idRing
	version     uint64

	listenerMu   sync.Mutex
	listeners    map[int]Listener
	nextListener int
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the logger used for dropped events and precondition failures
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// NewSession creates an idle session for userID. Call Start to connect.
func NewSession(userID string, dialer Dialer, history HistoryService, opts ...Option) *Session {
	s := &Session{
		userID:    userID,
		dialer:    dialer,
		history:   history,
		log:       zerolog.Nop(),
		recent:    newIDRing(recentMessageIDs),
		listeners: make(map[int]Listener),
		st:        state{unreadCounts: make(map[string]int)},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "chat_session").Str("user_id", userID).Logger()
	return s
}

// UserID returns the identity the session is bound to
func (s *Session) UserID() string {
	return s.userID
}

// Start opens the transport and loads the conversation list once.
// An empty identity is a guard, not an error: nothing is dialed.
func (s *Session) Start(ctx context.Context) error {
	if s.userID == "" {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.conn != nil || s.dialing {
		s.mu.Unlock()
		return nil
	}
	s.dialing = true
	s.mu.Unlock()

	conn, err := s.dialer.Dial(ctx, s.userID, s.handleEvent)
	if err != nil {
		s.mu.Lock()
		s.dialing = false
		s.mu.Unlock()

		s.log.Error().Err(err).Msg("failed to open transport")
		s.update(func() bool {
			s.st.lastError = fmt.Sprintf("connection failed: %v", err)
			return true
		})
		return fmt.Errorf("failed to open transport: %w", err)
	}

	s.mu.Lock()
	s.dialing = false
	if s.closed || s.conn != nil {
		closed := s.closed
		s.mu.Unlock()
		_ = conn.Close()
		if closed {
			return ErrSessionClosed
		}
		return nil
	}
	s.conn = conn
	if s.pendingAuth {
		// connect arrived before Dial returned
		s.pendingAuth = false
		s.authenticateLocked()
	}
	s.mu.Unlock()

	return s.RefreshChats(ctx)
}

// Close tears the transport down. Events delivered afterwards by the old
// transport are ignored. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.st.connected = false
	s.mu.Unlock()

	s.listenerMu.Lock()
	s.listeners = make(map[int]Listener)
	s.listenerMu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

// State returns a snapshot of the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn for state changes and returns a function that removes it
func (s *Session) Subscribe(fn Listener) (cancel func()) {
	s.listenerMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

// JoinChat selects conv, joins its room and marks it read. The unread entry
// for the conversation is removed, so repeated joins are harmless.
func (s *Session) JoinChat(conv *domain.Conversation) error {
	if conv == nil || conv.OrderID == "" {
		s.log.Warn().Msg("join ignored: conversation without order id")
		return ErrNoConversation
	}

	err := ErrSessionClosed
	s.update(func() bool {
		err = nil
		if s.conn == nil {
			s.log.Warn().Str("order_id", conv.OrderID).Msg("join ignored: no connection")
			err = ErrNotConnected
			return false
		}

		orderID := conv.OrderID
		if s.st.selectedOrderID() != orderID {
			// conversation switch: wait for chat_history
			s.st.messages = nil
			s.st.loading = true
		}
		sel := *conv
		s.st.selected = &sel

		err = s.emitLocked(domain.EventJoinChat, domain.OrderPayload{OrderID: orderID})
		if markErr := s.emitLocked(domain.EventMarkMessagesRead, domain.OrderPayload{OrderID: orderID}); err == nil {
			err = markErr
		}
		delete(s.st.unreadCounts, orderID)
		if err == nil {
			s.st.lastError = ""
		}
		return true
	})
	return err
}

// SendMessage emits content to the selected conversation. Nothing is appended
// locally: the message shows up when the server echoes it as new_message.
func (s *Session) SendMessage(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		s.log.Debug().Msg("send ignored: empty message")
		return ErrEmptyMessage
	}

	err := ErrSessionClosed
	s.update(func() bool {
		err = nil
		if s.st.selected == nil {
			s.log.Warn().Msg("send ignored: no conversation selected")
			err = ErrNoSelection
			return false
		}
		if s.conn == nil {
			s.log.Warn().Msg("send ignored: no connection")
			err = ErrNotConnected
			return false
		}

		err = s.emitLocked(domain.EventSendMessage, domain.SendMessagePayload{
			OrderID: s.st.selected.OrderID,
			Content: content,
		})
		if err != nil || s.st.lastError == "" {
			return false
		}
		s.st.lastError = ""
		return true
	})
	return err
}

// RefreshChats replaces the conversation list with the one served by the
// history service. On failure the previous list is kept and the error recorded.
func (s *Session) RefreshChats(ctx context.Context) error {
	if s.userID == "" {
		return nil
	}

	closed := true
	s.update(func() bool {
		closed = false
		s.st.loading = true
		return true
	})
	if closed {
		return ErrSessionClosed
	}

	res, err := s.history.FetchUsersChat(ctx, s.userID)
	if err == nil && res == nil {
		err = fmt.Errorf("history service returned no result")
	} else if err == nil && !res.Success {
		err = fmt.Errorf("history service reported failure: %s", res.Message)
	}

	s.update(func() bool {
		s.st.loading = false
		if err != nil {
			s.st.lastError = fmt.Sprintf("failed to fetch chats: %v", err)
			return true
		}
		s.st.chats = res.Chats
		s.st.lastError = ""
		return true
	})

	if err != nil {
		s.log.Error().Err(err).Msg("failed to refresh chats")
		return fmt.Errorf("failed to refresh chats: %w", err)
	}
	return nil
}

// SetMessages replaces the message list
func (s *Session) SetMessages(messages []domain.Message) {
	s.update(func() bool {
		s.st.messages = append([]domain.Message(nil), messages...)
		return true
	})
}

// SetChats replaces the conversation list
func (s *Session) SetChats(chats []domain.Conversation) {
	s.update(func() bool {
		s.st.chats = append([]domain.Conversation(nil), chats...)
		return true
	})
}

// SetSelected changes the selected conversation without any transport
// traffic. Use JoinChat to open a conversation.
func (s *Session) SetSelected(conv *domain.Conversation) {
	s.update(func() bool {
		if conv == nil {
			s.st.selected = nil
			return true
		}
		sel := *conv
		s.st.selected = &sel
		return true
	})
}

// update runs fn under the lock and notifies listeners when fn reports a change.
// Mutations of a closed session are dropped.
func (s *Session) update(fn func() bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !fn() {
		s.mu.Unlock()
		return
	}
	s.version++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

func (s *Session) notify(snap State) {
	s.listenerMu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.listenerMu.Unlock()

	for _, l := range ls {
		l(snap)
	}
}

func (s *Session) snapshotLocked() State {
	snap := s.st.snapshot()
	snap.Version = s.version
	return snap
}

func (s *Session) emitLocked(event string, payload any) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	if err := s.conn.Emit(event, payload); err != nil {
		s.log.Error().Err(err).Str("event", event).Msg("failed to emit event")
		return fmt.Errorf("failed to emit %s: %w", event, err)
	}
	return nil
}
