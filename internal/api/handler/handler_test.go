package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Rrens/laundry-chat/internal/api"
	"github.com/Rrens/laundry-chat/internal/api/handler"
	"github.com/Rrens/laundry-chat/internal/config"
	"github.com/Rrens/laundry-chat/internal/domain"
	"github.com/Rrens/laundry-chat/internal/hub"
	"github.com/Rrens/laundry-chat/internal/repository/sqlite"
	"github.com/Rrens/laundry-chat/internal/security"
	"github.com/Rrens/laundry-chat/internal/service"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret-key-with-32-chars!!"

type testEnv struct {
	server *httptest.Server
	jwt    *security.JWTManager
	svc    *service.ChatService
}

func newTestEnv(t *testing.T, requireToken bool) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := service.NewChatService(store, store.Messages(), store.Unread(), security.NewMessageValidator(500))
	jwt := security.NewJWTManager(secret, time.Hour)
	h := hub.New(svc, hub.Options{Logger: zerolog.Nop()})

	cfg := &config.Config{
		Server: config.ServerConfig{MiddlewareTimeout: 5 * time.Second},
		Auth:   config.AuthConfig{RequireSocketToken: requireToken},
	}
	router := api.NewRouter(cfg, api.Dependencies{
		Chat:  svc,
		Hub:   h,
		JWT:   jwt,
		Ready: map[string]handler.Pinger{"database": store},
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})

	_, err = svc.OpenConversation(ctx, domain.ConversationCreate{OrderID: "o1", CustomerID: "cust", RiderID: "rider"})
	require.NoError(t, err)

	return &testEnv{server: srv, jwt: jwt, svc: svc}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.jwt.GenerateAccessToken(userID, domain.RoleCustomer)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()

	handler.HealthCheck(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response["success"] != true {
		t.Error("expected success to be true")
	}

	data, ok := response["data"].(map[string]any)
	if !ok {
		t.Fatal("expected data to be a map")
	}

	if data["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", data["status"])
	}
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return context.DeadlineExceeded }

func TestReadyCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	handler.ReadyCheck(map[string]handler.Pinger{"redis": downPinger{}})(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis not ready")

	env := newTestEnv(t, false)
	resp, body := env.do(t, http.MethodGet, "/api/v1/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
}

func TestChats_ListByUser(t *testing.T) {
	env := newTestEnv(t, false)

	resp, body := env.do(t, http.MethodGet, "/api/v1/chats/user/cust", "cust", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	chats := data["chats"].([]any)
	require.Len(t, chats, 1)
	assert.Equal(t, "o1", chats[0].(map[string]any)["orderId"])

	resp, _ = env.do(t, http.MethodGet, "/api/v1/chats/user/cust", "rider", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/v1/chats/user/cust", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestChats_CreateAndMessages(t *testing.T) {
	env := newTestEnv(t, false)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/chats", "cust", domain.ConversationCreate{OrderID: "o2", CustomerID: "cust", RiderID: "rider"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/chats", "cust", domain.ConversationCreate{OrderID: "o3", CustomerID: "someone", RiderID: "else"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/chats", "cust", map[string]string{"customerId": "cust"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, _, err := env.svc.PostMessage(context.Background(), "rider", "o2", "on the way")
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodGet, "/api/v1/chats/o2/messages", "cust", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	chat := body["data"].(map[string]any)["chat"].(map[string]any)
	msgs := chat["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "on the way", msgs[0].(map[string]any)["content"])

	resp, _ = env.do(t, http.MethodGet, "/api/v1/chats/o2/messages", "stranger", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/chats/missing/messages", "cust", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/v1/unread", "cust", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	counts := body["data"].(map[string]any)["unreadCounts"].(map[string]any)
	assert.Equal(t, float64(1), counts["o2"])
}

func wsURL(env *testEnv) string {
	return "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
}

func TestWS_TokenHandling(t *testing.T) {
	t.Run("optional token", func(t *testing.T) {
		env := newTestEnv(t, false)
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(env)+"?userId=cust", nil)
		require.NoError(t, err)
		conn.Close()
	})

	t.Run("required token missing", func(t *testing.T) {
		env := newTestEnv(t, true)
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(env), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("invalid token", func(t *testing.T) {
		env := newTestEnv(t, false)
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(env)+"?token=bogus", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("token subject enforced", func(t *testing.T) {
		env := newTestEnv(t, true)
		header := http.Header{"Authorization": []string{"Bearer " + env.token(t, "cust")}}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(env), header)
		require.NoError(t, err)
		defer conn.Close()

		frame, err := domain.NewFrame(domain.EventAuthenticateUser, domain.AuthenticatePayload{UserID: "rider"})
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var f domain.Frame
		require.NoError(t, conn.ReadJSON(&f))
		assert.Equal(t, domain.EventAuthenticationError, f.Event)
	})
}
