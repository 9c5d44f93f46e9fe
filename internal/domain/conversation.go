package domain

import (
	"context"
	"time"
)

// Conversation is an order-scoped messaging thread between a customer and a rider.
// OrderID is the room key on the realtime transport.
type Conversation struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"orderId"`
	CustomerID  string    `json:"customerId"`
	RiderID     string    `json:"riderId,omitempty"`
	LastMessage string    `json:"lastMessage,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID is the customer or the rider of the chat
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.CustomerID == userID || c.RiderID == userID)
}

// Participants returns the non-empty participant IDs
func (c *Conversation) Participants() []string {
	out := make([]string, 0, 2)
	if c.CustomerID != "" {
		out = append(out, c.CustomerID)
	}
	if c.RiderID != "" && c.RiderID != c.CustomerID {
		out = append(out, c.RiderID)
	}
	return out
}

// ConversationCreate opens a chat for an order
type ConversationCreate struct {
	OrderID    string `json:"orderId" validate:"required,max=128"`
	CustomerID string `json:"customerId" validate:"required,max=128"`
	RiderID    string `json:"riderId" validate:"omitempty,max=128,nefield=CustomerID"`
}

// ConversationRepository defines the interface for conversation storage
type ConversationRepository interface {
	Create(ctx context.Context, conv *Conversation) error
	GetByOrderID(ctx context.Context, orderID string) (*Conversation, error)
	ListByUser(ctx context.Context, userID string) ([]Conversation, error)
	Touch(ctx context.Context, orderID, lastMessage string, at time.Time) error
}

// UnreadStore keeps per-user, per-order unread counters
type UnreadStore interface {
	Increment(ctx context.Context, userID, orderID string) (int64, error)
	Clear(ctx context.Context, userID, orderID string) error
	Counts(ctx context.Context, userID string) (map[string]int, error)
}
