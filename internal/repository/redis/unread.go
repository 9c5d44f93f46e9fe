package redis

import (
	"context"
	"fmt"
	"strconv"
)

const unreadPrefix = "unread:"

// UnreadStore implements domain.UnreadStore with one hash per user.
// Fields are order ids, values are counters.
type UnreadStore struct {
	client *Client
}

// NewUnreadStore creates a new unread store
func NewUnreadStore(client *Client) *UnreadStore {
	return &UnreadStore{client: client}
}

func unreadKey(userID string) string {
	return unreadPrefix + userID
}

// Increment bumps the unread counter of orderID for userID and returns the new value
func (s *UnreadStore) Increment(ctx context.Context, userID, orderID string) (int64, error) {
	n, err := s.client.rdb.HIncrBy(ctx, unreadKey(userID), orderID, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment unread count: %w", err)
	}
	return n, nil
}

// Clear resets the counter of orderID for userID
func (s *UnreadStore) Clear(ctx context.Context, userID, orderID string) error {
	if err := s.client.rdb.HDel(ctx, unreadKey(userID), orderID).Err(); err != nil {
		return fmt.Errorf("failed to clear unread count: %w", err)
	}
	return nil
}

// Counts returns every non-zero counter of userID keyed by order id
func (s *UnreadStore) Counts(ctx context.Context, userID string) (map[string]int, error) {
	raw, err := s.client.rdb.HGetAll(ctx, unreadKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read unread counts: %w", err)
	}
	return parseCounts(raw), nil
}

func parseCounts(raw map[string]string) map[string]int {
	counts := make(map[string]int, len(raw))
	for orderID, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			continue
		}
		counts[orderID] = n
	}
	return counts
}
