package handler

import (
	"net/http"

	"github.com/Rrens/laundry-chat/internal/api/middleware"
	"github.com/Rrens/laundry-chat/internal/api/response"
	"github.com/Rrens/laundry-chat/internal/hub"
	"github.com/Rrens/laundry-chat/internal/security"
)

// WSHandler upgrades realtime connections into the hub
type WSHandler struct {
	hub          *hub.Hub
	jwtManager   *security.JWTManager
	requireToken bool
}

// NewWSHandler creates a new websocket handler
func NewWSHandler(h *hub.Hub, jwtManager *security.JWTManager, requireToken bool) *WSHandler {
	return &WSHandler{hub: h, jwtManager: jwtManager, requireToken: requireToken}
}

// Serve verifies the optional bearer token and hands the connection to the hub.
// Browsers cannot set headers on upgrades, so a token query parameter is accepted too.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		response.Unauthorized(w, "invalid authorization header format")
		return
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	var subject string
	if token != "" {
		claims, err := h.jwtManager.ValidateAccessToken(token)
		if err != nil {
			response.Unauthorized(w, "invalid or expired token")
			return
		}
		subject = claims.UserID()
	} else if h.requireToken {
		response.Unauthorized(w, "missing token")
		return
	}

	h.hub.ServeWS(w, r, subject)
}
