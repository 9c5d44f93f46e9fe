package service

import (
	"context"
	"time"

	"github.com/Rrens/laundry-chat/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockConversationRepository mocks the ConversationRepository interface
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	args := m.Called(ctx, conv)
	return args.Error(0)
}

func (m *MockConversationRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Conversation, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) ListByUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) Touch(ctx context.Context, orderID, lastMessage string, at time.Time) error {
	args := m.Called(ctx, orderID, lastMessage, at)
	return args.Error(0)
}

// MockMessageRepository mocks the MessageRepository interface
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Create(ctx context.Context, message *domain.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockMessageRepository) ListByOrder(ctx context.Context, orderID string, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, orderID, limit)
	return args.Get(0).([]domain.Message), args.Error(1)
}

// MockUnreadStore mocks the UnreadStore interface
type MockUnreadStore struct {
	mock.Mock
}

func (m *MockUnreadStore) Increment(ctx context.Context, userID, orderID string) (int64, error) {
	args := m.Called(ctx, userID, orderID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUnreadStore) Clear(ctx context.Context, userID, orderID string) error {
	args := m.Called(ctx, userID, orderID)
	return args.Error(0)
}

func (m *MockUnreadStore) Counts(ctx context.Context, userID string) (map[string]int, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(map[string]int), args.Error(1)
}

// MockHistoryCache mocks the HistoryCache interface
type MockHistoryCache struct {
	mock.Mock
}

func (m *MockHistoryCache) Get(ctx context.Context, orderID string) ([]domain.Message, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

func (m *MockHistoryCache) Set(ctx context.Context, orderID string, messages []domain.Message) error {
	args := m.Called(ctx, orderID, messages)
	return args.Error(0)
}

func (m *MockHistoryCache) Invalidate(ctx context.Context, orderID string) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}
