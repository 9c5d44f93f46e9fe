package domain

import (
	"encoding/json"
	"errors"
)

// Event names on the realtime transport.
const (
	// client -> server
	EventAuthenticateUser = "authenticate_user"
	EventGetUnreadCounts  = "get_unread_counts"
	EventJoinChat         = "join_chat"
	EventMarkMessagesRead = "mark_messages_read"
	EventSendMessage      = "send_message"

	// server -> client
	EventAuthenticationSuccess = "authentication_success"
	EventAuthenticationError   = "authentication_error"
	EventUnreadCounts          = "unread_counts"
	EventNewMessage            = "new_message"
	EventChatHistory           = "chat_history"
	EventMessagesRead          = "messages_read"
	EventError                 = "error"

	// synthesized by the transport client
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"
)

// Frame is the envelope every event travels in
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals payload into a frame
func NewFrame(event string, payload any) ([]byte, error) {
	f := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		f.Data = data
	}
	return json.Marshal(f)
}

type AuthenticatePayload struct {
	UserID string `json:"userId" validate:"required,max=128"`
}

type AuthenticationSuccessPayload struct {
	UserID string `json:"userId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type OrderPayload struct {
	OrderID string `json:"orderId" validate:"required,max=128"`
}

type SendMessagePayload struct {
	OrderID string `json:"orderId" validate:"required,max=128"`
	Content string `json:"content" validate:"required"`
}

type UnreadCountsPayload struct {
	UnreadCounts map[string]int `json:"unreadCounts"`
}

// NewMessagePayload carries a message; the conversation key may arrive as
// chatId or orderId depending on the sender.
type NewMessagePayload struct {
	Message *Message `json:"message"`
	ChatID  string   `json:"chatId,omitempty"`
	OrderID string   `json:"orderId,omitempty"`
}

// ConversationKey resolves which conversation the message belongs to
func (p NewMessagePayload) ConversationKey() string {
	switch {
	case p.OrderID != "":
		return p.OrderID
	case p.ChatID != "":
		return p.ChatID
	case p.Message != nil:
		return p.Message.OrderID
	}
	return ""
}

type ChatHistory struct {
	OrderID  string    `json:"orderId"`
	Messages []Message `json:"messages"`
}

type ChatHistoryPayload struct {
	Chat *ChatHistory `json:"chat"`
}

type MessagesReadPayload struct {
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
}

// Common errors
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)
