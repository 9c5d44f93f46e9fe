package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/laundry-chat/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ConversationRepository implements domain.ConversationRepository
type ConversationRepository struct {
	db *DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create inserts a conversation for an order
func (r *ConversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	query := `
		INSERT INTO conversations (id, order_id, customer_id, rider_id, last_message, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		conv.ID,
		conv.OrderID,
		conv.CustomerID,
		conv.RiderID,
		conv.LastMessage,
		conv.CreatedAt,
		conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	return nil
}

// GetByOrderID retrieves the conversation of an order
func (r *ConversationRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Conversation, error) {
	query := `
		SELECT id, order_id, customer_id, COALESCE(rider_id, ''), last_message, created_at, updated_at
		FROM conversations
		WHERE order_id = $1
	`

	var c domain.Conversation
	err := r.db.Pool.QueryRow(ctx, query, orderID).Scan(
		&c.ID, &c.OrderID, &c.CustomerID, &c.RiderID, &c.LastMessage, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return &c, nil
}

// ListByUser returns the conversations a user takes part in, most recent first
func (r *ConversationRepository) ListByUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	query := `
		SELECT id, order_id, customer_id, COALESCE(rider_id, ''), last_message, created_at, updated_at
		FROM conversations
		WHERE customer_id = $1 OR rider_id = $1
		ORDER BY updated_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]domain.Conversation, 0)
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.OrderID, &c.CustomerID, &c.RiderID, &c.LastMessage, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	return convs, nil
}

// Touch records the latest message preview of an order
func (r *ConversationRepository) Touch(ctx context.Context, orderID, lastMessage string, at time.Time) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE conversations SET last_message = $2, updated_at = $3 WHERE order_id = $1`,
		orderID, lastMessage, at,
	)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
