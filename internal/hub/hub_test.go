package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/laundry-chat/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu     sync.Mutex
	convs  map[string]*domain.Conversation
	msgs   map[string][]domain.Message
	unread map[string]map[string]int
	seq    int
}

func newFakeService() *fakeService {
	return &fakeService{
		convs: map[string]*domain.Conversation{
			"o1": {ID: "c1", OrderID: "o1", CustomerID: "cust", RiderID: "rider"},
		},
		msgs: map[string][]domain.Message{
			"o1": {{ID: "m0", OrderID: "o1", SenderID: "rider", Content: "picked up"}},
		},
		unread: map[string]map[string]int{"cust": {"o1": 2}},
	}
}

func (s *fakeService) Authorize(_ context.Context, userID, orderID string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !conv.HasParticipant(userID) {
		return nil, domain.ErrForbidden
	}
	return conv, nil
}

func (s *fakeService) GetHistory(ctx context.Context, userID, orderID string) (*domain.ChatHistory, error) {
	if _, err := s.Authorize(ctx, userID, orderID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &domain.ChatHistory{OrderID: orderID, Messages: append([]domain.Message(nil), s.msgs[orderID]...)}, nil
}

func (s *fakeService) PostMessage(ctx context.Context, userID, orderID, content string) (*domain.Message, *domain.Conversation, error) {
	conv, err := s.Authorize(ctx, userID, orderID)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	msg := domain.Message{ID: "m" + string(rune('0'+s.seq)), OrderID: orderID, SenderID: userID, Content: content, Timestamp: time.Now()}
	s.msgs[orderID] = append(s.msgs[orderID], msg)
	return &msg, conv, nil
}

func (s *fakeService) MarkRead(ctx context.Context, userID, orderID string) error {
	if _, err := s.Authorize(ctx, userID, orderID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.unread[userID], orderID)
	return nil
}

func (s *fakeService) UnreadCounts(_ context.Context, userID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int)
	for k, v := range s.unread[userID] {
		out[k] = v
	}
	return out, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, int, time.Time, error) {
	return false, 0, time.Now().Add(time.Minute), nil
}

// startHub serves the hub; the "sub" query parameter stands in for a verified token subject.
func startHub(t *testing.T, opts Options) (*Hub, string) {
	t.Helper()
	opts.Logger = zerolog.Nop()
	h := New(newFakeService(), opts)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, r.URL.Query().Get("sub"))
	}))
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

type peer struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, url string) *peer {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &peer{t: t, conn: conn}
}

func (p *peer) emit(event string, payload any) {
	p.t.Helper()
	frame, err := domain.NewFrame(event, payload)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteMessage(websocket.TextMessage, frame))
}

func (p *peer) next() domain.Frame {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f domain.Frame
	require.NoError(p.t, p.conn.ReadJSON(&f))
	return f
}

func (p *peer) expect(event string, dst any) {
	p.t.Helper()
	f := p.next()
	require.Equal(p.t, event, f.Event, "payload: %s", string(f.Data))
	if dst != nil {
		require.NoError(p.t, json.Unmarshal(f.Data, dst))
	}
}

func (p *peer) login(userID string) {
	p.t.Helper()
	p.emit(domain.EventAuthenticateUser, domain.AuthenticatePayload{UserID: userID})
	var ok domain.AuthenticationSuccessPayload
	p.expect(domain.EventAuthenticationSuccess, &ok)
	require.Equal(p.t, userID, ok.UserID)
}

func TestHub_RequiresAuthentication(t *testing.T) {
	_, url := startHub(t, Options{})
	p := dial(t, url)

	p.emit(domain.EventGetUnreadCounts, nil)
	var e domain.ErrorPayload
	p.expect(domain.EventError, &e)
	assert.Equal(t, "not authenticated", e.Message)

	p.emit(domain.EventAuthenticateUser, domain.AuthenticatePayload{})
	p.expect(domain.EventAuthenticationError, &e)
}

func TestHub_TokenSubjectMustMatch(t *testing.T) {
	_, url := startHub(t, Options{})
	p := dial(t, url+"?sub=cust")

	p.emit(domain.EventAuthenticateUser, domain.AuthenticatePayload{UserID: "rider"})
	var e domain.ErrorPayload
	p.expect(domain.EventAuthenticationError, &e)
	assert.Equal(t, "user id does not match token", e.Message)

	p.login("cust")
}

func TestHub_UnreadCountsAndJoin(t *testing.T) {
	h, url := startHub(t, Options{})
	p := dial(t, url)
	p.login("cust")
	assert.Eventually(t, func() bool { return h.IsOnline("cust") }, time.Second, 10*time.Millisecond)

	p.emit(domain.EventGetUnreadCounts, nil)
	var counts domain.UnreadCountsPayload
	p.expect(domain.EventUnreadCounts, &counts)
	assert.Equal(t, map[string]int{"o1": 2}, counts.UnreadCounts)

	p.emit(domain.EventJoinChat, domain.OrderPayload{OrderID: "o1"})
	var history domain.ChatHistoryPayload
	p.expect(domain.EventChatHistory, &history)
	require.NotNil(t, history.Chat)
	assert.Equal(t, "o1", history.Chat.OrderID)
	require.Len(t, history.Chat.Messages, 1)
	assert.Equal(t, "picked up", history.Chat.Messages[0].Content)
}

func TestHub_JoinRejectsOutsiders(t *testing.T) {
	_, url := startHub(t, Options{})
	p := dial(t, url)
	p.login("stranger")

	p.emit(domain.EventJoinChat, domain.OrderPayload{OrderID: "o1"})
	var e domain.ErrorPayload
	p.expect(domain.EventError, &e)
	assert.Equal(t, "you are not a participant of this chat", e.Message)

	p.emit(domain.EventJoinChat, domain.OrderPayload{OrderID: "missing"})
	p.expect(domain.EventError, &e)
	assert.Equal(t, "chat not found", e.Message)

	p.emit(domain.EventJoinChat, map[string]string{})
	p.expect(domain.EventError, &e)
	assert.Equal(t, "invalid payload", e.Message)
}

func TestHub_SendDeliversToEveryParticipantConnection(t *testing.T) {
	_, url := startHub(t, Options{})

	customer := dial(t, url)
	customer.login("cust")
	customerTab := dial(t, url)
	customerTab.login("cust")
	rider := dial(t, url)
	rider.login("rider")

	customer.emit(domain.EventSendMessage, domain.SendMessagePayload{OrderID: "o1", Content: "where are you?"})

	for _, p := range []*peer{customer, customerTab, rider} {
		var nm domain.NewMessagePayload
		p.expect(domain.EventNewMessage, &nm)
		assert.Equal(t, "o1", nm.OrderID)
		require.NotNil(t, nm.Message)
		assert.Equal(t, "where are you?", nm.Message.Content)
		assert.Equal(t, "cust", nm.Message.SenderID)
	}
}

func TestHub_MarkReadNotifiesRoom(t *testing.T) {
	_, url := startHub(t, Options{})

	rider := dial(t, url)
	rider.login("rider")
	rider.emit(domain.EventJoinChat, domain.OrderPayload{OrderID: "o1"})
	rider.expect(domain.EventChatHistory, nil)

	customer := dial(t, url)
	customer.login("cust")
	customer.emit(domain.EventJoinChat, domain.OrderPayload{OrderID: "o1"})
	customer.expect(domain.EventChatHistory, nil)

	customer.emit(domain.EventMarkMessagesRead, domain.OrderPayload{OrderID: "o1"})

	for _, p := range []*peer{rider, customer} {
		var read domain.MessagesReadPayload
		p.expect(domain.EventMessagesRead, &read)
		assert.Equal(t, "o1", read.OrderID)
		assert.Equal(t, "cust", read.UserID)
	}

	customer.emit(domain.EventGetUnreadCounts, nil)
	var counts domain.UnreadCountsPayload
	customer.expect(domain.EventUnreadCounts, &counts)
	assert.Empty(t, counts.UnreadCounts)
}

func TestHub_ReauthenticationAsAnotherUserRejected(t *testing.T) {
	h, url := startHub(t, Options{})

	p := dial(t, url)
	p.login("rider")
	p.emit(domain.EventJoinChat, domain.OrderPayload{OrderID: "o1"})
	p.expect(domain.EventChatHistory, nil)

	p.emit(domain.EventAuthenticateUser, domain.AuthenticatePayload{UserID: "cust"})
	var e domain.ErrorPayload
	p.expect(domain.EventAuthenticationError, &e)
	assert.Contains(t, e.Message, "another user")

	// the connection still acts as rider, not cust
	p.emit(domain.EventGetUnreadCounts, nil)
	var counts domain.UnreadCountsPayload
	p.expect(domain.EventUnreadCounts, &counts)
	assert.Empty(t, counts.UnreadCounts)
	assert.False(t, h.IsOnline("cust"))
	assert.True(t, h.IsOnline("rider"))

	// repeating the bound identity is fine
	p.login("rider")
}

func TestHub_RateLimitedSend(t *testing.T) {
	_, url := startHub(t, Options{RateLimiter: denyLimiter{}})
	p := dial(t, url)
	p.login("cust")

	p.emit(domain.EventSendMessage, domain.SendMessagePayload{OrderID: "o1", Content: "hi"})
	var e domain.ErrorPayload
	p.expect(domain.EventError, &e)
	assert.Contains(t, e.Message, "rate limit")
}

func TestHub_MalformedAndUnknownFrames(t *testing.T) {
	_, url := startHub(t, Options{})
	p := dial(t, url)

	require.NoError(t, p.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var e domain.ErrorPayload
	p.expect(domain.EventError, &e)
	assert.Equal(t, "malformed frame", e.Message)

	p.login("cust")
	p.emit("dance", nil)
	p.expect(domain.EventError, &e)
	assert.Equal(t, "unknown event dance", e.Message)
}

func TestHub_CloseDropsConnections(t *testing.T) {
	h, url := startHub(t, Options{})
	p := dial(t, url)
	p.login("cust")
	assert.Eventually(t, func() bool { return h.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	h.Close()
	assert.Eventually(t, func() bool { return h.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.False(t, h.IsOnline("cust"))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://portal.example.com"})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://portal.example.com")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(r))

	assert.True(t, originChecker(nil)(r))
}
