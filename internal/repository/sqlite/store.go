package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/laundry-chat/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id           TEXT PRIMARY KEY,
	order_id     TEXT NOT NULL UNIQUE,
	customer_id  TEXT NOT NULL,
	rider_id     TEXT NOT NULL DEFAULT '',
	last_message TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_customer ON conversations (customer_id);
CREATE INDEX IF NOT EXISTS idx_conversations_rider ON conversations (rider_id);

CREATE TABLE IF NOT EXISTS chat_messages (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	order_id    TEXT NOT NULL,
	sender_id   TEXT NOT NULL,
	sender_role TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_order ON chat_messages (order_id, created_at);

CREATE TABLE IF NOT EXISTS unread_counts (
	user_id  TEXT NOT NULL,
	order_id TEXT NOT NULL,
	count    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, order_id)
);
`

// Store is a single-file chat store. It implements domain.ConversationRepository,
// domain.MessageRepository and domain.UnreadStore.
type Store struct {
	db *sql.DB
}

// Open opens (creating when needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database file path is required")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer; also keeps a :memory: database alive on a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create inserts a conversation for an order
func (s *Store) Create(ctx context.Context, conv *domain.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, order_id, customer_id, rider_id, last_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.OrderID, conv.CustomerID, conv.RiderID, conv.LastMessage,
		conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetByOrderID retrieves the conversation of an order
func (s *Store) GetByOrderID(ctx context.Context, orderID string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, customer_id, rider_id, last_message, created_at, updated_at
		FROM conversations WHERE order_id = ?`, orderID)

	c, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

// ListByUser returns the conversations a user takes part in, most recent first
func (s *Store) ListByUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, customer_id, rider_id, last_message, created_at, updated_at
		FROM conversations
		WHERE customer_id = ? OR rider_id = ?
		ORDER BY updated_at DESC`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]domain.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return convs, nil
}

// Touch records the latest message preview of an order
func (s *Store) Touch(ctx context.Context, orderID, lastMessage string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message = ?, updated_at = ? WHERE order_id = ?`,
		lastMessage, at.UnixNano(), orderID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*domain.Conversation, error) {
	var c domain.Conversation
	var created, updated int64
	if err := row.Scan(&c.ID, &c.OrderID, &c.CustomerID, &c.RiderID, &c.LastMessage, &created, &updated); err != nil {
		return nil, err
	}
	c.CreatedAt = time.Unix(0, created).UTC()
	c.UpdatedAt = time.Unix(0, updated).UTC()
	return &c, nil
}

// Messages returns a domain.MessageRepository view of the store
func (s *Store) Messages() *MessageStore {
	return &MessageStore{db: s.db}
}

// Unread returns a domain.UnreadStore view of the store
func (s *Store) Unread() *UnreadStore {
	return &UnreadStore{db: s.db}
}
