package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// UnreadStore implements domain.UnreadStore on the unread_counts table
type UnreadStore struct {
	db *sql.DB
}

// Increment bumps the unread counter of orderID for userID and returns the new value
func (s *UnreadStore) Increment(ctx context.Context, userID, orderID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO unread_counts (user_id, order_id, count) VALUES (?, ?, 1)
		ON CONFLICT (user_id, order_id) DO UPDATE SET count = count + 1
		RETURNING count`, userID, orderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to increment unread count: %w", err)
	}
	return n, nil
}

// Clear resets the counter of orderID for userID
func (s *UnreadStore) Clear(ctx context.Context, userID, orderID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM unread_counts WHERE user_id = ? AND order_id = ?`, userID, orderID); err != nil {
		return fmt.Errorf("failed to clear unread count: %w", err)
	}
	return nil
}

// Counts returns every non-zero counter of userID keyed by order id
func (s *UnreadStore) Counts(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id, count FROM unread_counts WHERE user_id = ? AND count > 0`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read unread counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var orderID string
		var n int
		if err := rows.Scan(&orderID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan unread count: %w", err)
		}
		counts[orderID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unread counts: %w", err)
	}
	return counts, nil
}
