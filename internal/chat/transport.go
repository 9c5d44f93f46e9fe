package chat

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Rrens/laundry-chat/internal/history"
)

// EventHandler receives inbound transport events. Implementations of Dialer
// must invoke it sequentially, in the order events arrive.
type EventHandler func(event string, data json.RawMessage)

// Transport is a live bidirectional event channel owned by one Session.
// Emit must not call back into the EventHandler synchronously.
type Transport interface {
	Emit(event string, payload any) error
	Close() error
}

// Dialer opens a Transport for an identity. Dial returns once the transport
// has been started; connection progress is reported through handler.
type Dialer interface {
	Dial(ctx context.Context, userID string, handler EventHandler) (Transport, error)
}

// HistoryService lists the conversations of a user
type HistoryService interface {
	FetchUsersChat(ctx context.Context, userID string) (*history.Result, error)
}

// Precondition errors. They are logged and returned, never panicked, and the
// session state is left untouched when one is returned.
var (
	ErrNotConnected   = errors.New("chat: no connection")
	ErrNoConversation = errors.New("chat: conversation is missing an order id")
	ErrEmptyMessage   = errors.New("chat: message is empty")
	ErrNoSelection    = errors.New("chat: no conversation selected")
	ErrSessionClosed  = errors.New("chat: session closed")
)
