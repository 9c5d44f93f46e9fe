package history

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_FetchUsersChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chats/user/u1", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"chats":[{"orderId":"o1","customerId":"u1"},{"orderId":"o2","customerId":"u1"}]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "tok", time.Second)
	res, err := c.FetchUsersChat(context.Background(), "u1")
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.Len(t, res.Chats, 2)
	assert.Equal(t, "o1", res.Chats[0].OrderID)
	assert.Equal(t, "o2", res.Chats[1].OrderID)
}

func TestClient_FetchUsersChat_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"success":false,"error":"cannot list chats of another user"}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, "", time.Second).FetchUsersChat(context.Background(), "u2")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "cannot list chats of another user", res.Message)
}

func TestClient_FetchUsersChat_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "", time.Second).FetchUsersChat(context.Background(), "u1")
	assert.Error(t, err)
}

func TestClient_FetchUsersChat_NotJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway</html>"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).FetchUsersChat(context.Background(), "u1")
	assert.Error(t, err)
}
