package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Rrens/laundry-chat/internal/api/middleware"
	"github.com/Rrens/laundry-chat/internal/api/response"
	"github.com/Rrens/laundry-chat/internal/domain"
	"github.com/Rrens/laundry-chat/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// ChatHandler handles chat endpoints
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// ListByUser returns every chat of the path user. Callers may only list their own chats.
func (h *ChatHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	if chi.URLParam(r, "userID") != userID {
		response.Forbidden(w, "cannot list chats of another user")
		return
	}

	chats, err := h.chatService.ListChats(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to list chats")
		response.InternalError(w, "failed to list chats")
		return
	}

	response.OK(w, map[string]any{"chats": chats})
}

// Create opens the chat of an order. The caller must be one of its participants.
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var input domain.ConversationCreate
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := validate.Struct(input); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if input.CustomerID != userID && input.RiderID != userID {
		response.Forbidden(w, "caller must be a participant of the chat")
		return
	}

	conv, err := h.chatService.OpenConversation(r.Context(), input)
	if err != nil {
		log.Error().Err(err).Str("order_id", input.OrderID).Msg("failed to open chat")
		response.InternalError(w, "failed to open chat")
		return
	}

	response.Created(w, conv)
}

// Messages returns the recent history of an order
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	history, err := h.chatService.GetHistory(r.Context(), userID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.OK(w, map[string]any{"chat": history})
}

// Unread returns the caller's unread counters keyed by order id
func (h *ChatHandler) Unread(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	counts, err := h.chatService.UnreadCounts(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.OK(w, map[string]any{"unreadCounts": counts})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, "chat not found")
	case errors.Is(err, domain.ErrForbidden):
		response.Forbidden(w, "not a participant of this chat")
	default:
		log.Error().Err(err).Msg("chat request failed")
		response.InternalError(w, "internal error")
	}
}
