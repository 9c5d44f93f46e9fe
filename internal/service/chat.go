package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/laundry-chat/internal/domain"
	"github.com/Rrens/laundry-chat/internal/security"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultHistoryLimit = 100

// HistoryCache stores the recent message window of an order.
// Get returns (nil, nil) on a miss.
type HistoryCache interface {
	Get(ctx context.Context, orderID string) ([]domain.Message, error)
	Set(ctx context.Context, orderID string, messages []domain.Message) error
	Invalidate(ctx context.Context, orderID string) error
}

// ChatService handles order chat operations
type ChatService struct {
	convRepo     domain.ConversationRepository
	msgRepo      domain.MessageRepository
	unread       domain.UnreadStore
	cache        HistoryCache
	validator    *security.MessageValidator
	historyLimit int
	now          func() time.Time
}

// Option configures a ChatService
type Option func(*ChatService)

// WithHistoryCache enables history caching
func WithHistoryCache(cache HistoryCache) Option {
	return func(s *ChatService) { s.cache = cache }
}

// WithHistoryLimit caps the number of messages returned by GetHistory
func WithHistoryLimit(n int) Option {
	return func(s *ChatService) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// NewChatService creates a new chat service
func NewChatService(
	convRepo domain.ConversationRepository,
	msgRepo domain.MessageRepository,
	unread domain.UnreadStore,
	validator *security.MessageValidator,
	opts ...Option,
) *ChatService {
	s := &ChatService{
		convRepo:     convRepo,
		msgRepo:      msgRepo,
		unread:       unread,
		validator:    validator,
		historyLimit: defaultHistoryLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenConversation creates the chat of an order
func (s *ChatService) OpenConversation(ctx context.Context, req domain.ConversationCreate) (*domain.Conversation, error) {
	now := s.now()
	conv := &domain.Conversation{
		ID:         uuid.NewString(),
		OrderID:    req.OrderID,
		CustomerID: req.CustomerID,
		RiderID:    req.RiderID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.convRepo.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to open conversation: %w", err)
	}
	return conv, nil
}

// ListChats returns the conversations userID takes part in
func (s *ChatService) ListChats(ctx context.Context, userID string) ([]domain.Conversation, error) {
	return s.convRepo.ListByUser(ctx, userID)
}

// Authorize returns the conversation of orderID when userID participates in it
func (s *ChatService) Authorize(ctx context.Context, userID, orderID string) (*domain.Conversation, error) {
	conv, err := s.convRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, domain.ErrForbidden
	}
	return conv, nil
}

// GetHistory returns the recent messages of an order, oldest first
func (s *ChatService) GetHistory(ctx context.Context, userID, orderID string) (*domain.ChatHistory, error) {
	if _, err := s.Authorize(ctx, userID, orderID); err != nil {
		return nil, err
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, orderID)
		if err != nil {
			log.Warn().Err(err).Str("order_id", orderID).Msg("history cache read failed")
		} else if cached != nil {
			return &domain.ChatHistory{OrderID: orderID, Messages: cached}, nil
		}
	}

	messages, err := s.msgRepo.ListByOrder(ctx, orderID, s.historyLimit)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, orderID, messages); err != nil {
			log.Warn().Err(err).Str("order_id", orderID).Msg("history cache write failed")
		}
	}

	return &domain.ChatHistory{OrderID: orderID, Messages: messages}, nil
}

// PostMessage validates, persists and accounts a message from userID.
// Every other participant gets its unread counter for the order bumped.
func (s *ChatService) PostMessage(ctx context.Context, userID, orderID, content string) (*domain.Message, *domain.Conversation, error) {
	conv, err := s.Authorize(ctx, userID, orderID)
	if err != nil {
		return nil, nil, err
	}

	content, err = s.validator.ValidateAndPrepare(content)
	if err != nil {
		return nil, nil, err
	}

	role := domain.RoleRider
	if userID == conv.CustomerID {
		role = domain.RoleCustomer
	}

	msg := &domain.Message{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		SenderID:   userID,
		SenderRole: role,
		Content:    content,
		Timestamp:  s.now(),
	}
	if err := s.msgRepo.Create(ctx, msg); err != nil {
		return nil, nil, err
	}

	if err := s.convRepo.Touch(ctx, orderID, content, msg.Timestamp); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Warn().Err(err).Str("order_id", orderID).Msg("failed to update conversation preview")
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, orderID); err != nil {
			log.Warn().Err(err).Str("order_id", orderID).Msg("history cache invalidation failed")
		}
	}

	for _, participant := range conv.Participants() {
		if participant == userID {
			continue
		}
		if _, err := s.unread.Increment(ctx, participant, orderID); err != nil {
			log.Error().Err(err).Str("user_id", participant).Str("order_id", orderID).Msg("failed to increment unread count")
		}
	}

	return msg, conv, nil
}

// MarkRead clears the unread counter of orderID for userID
func (s *ChatService) MarkRead(ctx context.Context, userID, orderID string) error {
	if _, err := s.Authorize(ctx, userID, orderID); err != nil {
		return err
	}
	return s.unread.Clear(ctx, userID, orderID)
}

// UnreadCounts returns the unread counters of userID keyed by order id
func (s *ChatService) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	return s.unread.Counts(ctx, userID)
}
