package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Rrens/laundry-chat/internal/domain"
	"github.com/google/uuid"
)

// MessageStore implements domain.MessageRepository
type MessageStore struct {
	db *sql.DB
}

// Create inserts a new message, assigning an ID when missing
func (s *MessageStore) Create(ctx context.Context, message *domain.Message) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, order_id, sender_id, sender_role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		message.ID, message.OrderID, message.SenderID, string(message.SenderRole),
		message.Content, message.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ListByOrder returns the latest messages of an order, oldest first
func (s *MessageStore) ListByOrder(ctx context.Context, orderID string, limit int) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, sender_id, sender_role, content, created_at
		FROM (
			SELECT seq, id, order_id, sender_id, sender_role, content, created_at
			FROM chat_messages
			WHERE order_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, seq ASC`, orderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		var role string
		var ts int64
		if err := rows.Scan(&m.ID, &m.OrderID, &m.SenderID, &role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.SenderRole = domain.SenderRole(role)
		m.Timestamp = time.Unix(0, ts).UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}
