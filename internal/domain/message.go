package domain

import (
	"context"
	"time"
)

// SenderRole identifies which side of the order sent a message
type SenderRole string

const (
	RoleCustomer SenderRole = "customer"
	RoleRider    SenderRole = "rider"
	RoleSystem   SenderRole = "system"
)

// Message is a single chat entry. It is never mutated after creation.
type Message struct {
	ID         string     `json:"id"`
	OrderID    string     `json:"orderId"`
	SenderID   string     `json:"sender"`
	SenderRole SenderRole `json:"senderRole,omitempty"`
	Content    string     `json:"content"`
	Timestamp  time.Time  `json:"timestamp"`
}

// MessageRepository defines the interface for message storage
type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	ListByOrder(ctx context.Context, orderID string, limit int) ([]Message, error)
}
