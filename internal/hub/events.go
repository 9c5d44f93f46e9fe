package hub

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Rrens/laundry-chat/internal/domain"
	"github.com/Rrens/laundry-chat/internal/security"
)

var (
	errNotAuthenticated = errors.New("not authenticated")
	errRateLimited      = errors.New("rate limit exceeded, try again later")
	errInvalidPayload   = errors.New("invalid payload")
)

func (h *Hub) dispatch(c *Client, data []byte) {
	var f domain.Frame
	if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
		h.reply(c, domain.EventError, domain.ErrorPayload{Message: "malformed frame"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.eventTimeout)
	defer cancel()

	if f.Event == domain.EventAuthenticateUser {
		h.handleAuthenticate(c, f.Data)
		return
	}

	userID, _ := c.identity()
	if userID == "" {
		h.reply(c, domain.EventError, domain.ErrorPayload{Message: errNotAuthenticated.Error()})
		return
	}

	var err error
	switch f.Event {
	case domain.EventGetUnreadCounts:
		err = h.handleUnreadCounts(ctx, c, userID)
	case domain.EventJoinChat:
		err = h.handleJoin(ctx, c, userID, f.Data)
	case domain.EventMarkMessagesRead:
		err = h.handleMarkRead(ctx, userID, f.Data)
	case domain.EventSendMessage:
		err = h.handleSend(ctx, userID, f.Data)
	default:
		h.reply(c, domain.EventError, domain.ErrorPayload{Message: "unknown event " + f.Event})
		return
	}

	if err != nil {
		h.reply(c, domain.EventError, domain.ErrorPayload{Message: h.clientMessage(f.Event, userID, err)})
	}
}

func (h *Hub) handleAuthenticate(c *Client, data json.RawMessage) {
	var p domain.AuthenticatePayload
	if err := h.decode(data, &p); err != nil {
		h.reply(c, domain.EventAuthenticationError, domain.ErrorPayload{Message: "user id is required"})
		return
	}

	if c.subject != "" && c.subject != p.UserID {
		h.log.Warn().Str("conn_id", c.connID).Str("user_id", p.UserID).Msg("authentication rejected: token subject mismatch")
		h.reply(c, domain.EventAuthenticationError, domain.ErrorPayload{Message: "user id does not match token"})
		return
	}

	if !h.bindUser(c, p.UserID) {
		h.log.Warn().Str("conn_id", c.connID).Str("user_id", p.UserID).Msg("authentication rejected: connection bound to another user")
		h.reply(c, domain.EventAuthenticationError, domain.ErrorPayload{Message: "connection already authenticated as another user"})
		return
	}
	h.log.Debug().Str("conn_id", c.connID).Str("user_id", p.UserID).Msg("connection authenticated")
	h.reply(c, domain.EventAuthenticationSuccess, domain.AuthenticationSuccessPayload{UserID: p.UserID})
}

func (h *Hub) handleUnreadCounts(ctx context.Context, c *Client, userID string) error {
	counts, err := h.svc.UnreadCounts(ctx, userID)
	if err != nil {
		return err
	}
	h.reply(c, domain.EventUnreadCounts, domain.UnreadCountsPayload{UnreadCounts: counts})
	return nil
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, userID string, data json.RawMessage) error {
	var p domain.OrderPayload
	if err := h.decode(data, &p); err != nil {
		return err
	}

	if _, err := h.svc.Authorize(ctx, userID, p.OrderID); err != nil {
		return err
	}
	h.joinRoom(c, p.OrderID)

	history, err := h.svc.GetHistory(ctx, userID, p.OrderID)
	if err != nil {
		return err
	}
	h.reply(c, domain.EventChatHistory, domain.ChatHistoryPayload{Chat: history})
	return nil
}

func (h *Hub) handleMarkRead(ctx context.Context, userID string, data json.RawMessage) error {
	var p domain.OrderPayload
	if err := h.decode(data, &p); err != nil {
		return err
	}

	if err := h.svc.MarkRead(ctx, userID, p.OrderID); err != nil {
		return err
	}

	frame, err := domain.NewFrame(domain.EventMessagesRead, domain.MessagesReadPayload{OrderID: p.OrderID, UserID: userID})
	if err != nil {
		return err
	}
	h.SendToRoom(p.OrderID, frame)
	return nil
}

func (h *Hub) handleSend(ctx context.Context, userID string, data json.RawMessage) error {
	var p domain.SendMessagePayload
	if err := h.decode(data, &p); err != nil {
		return err
	}

	if h.limiter != nil {
		allowed, _, _, err := h.limiter.Allow(ctx, "send:"+userID)
		if err != nil {
			h.log.Warn().Err(err).Str("user_id", userID).Msg("rate limiter unavailable, allowing send")
		} else if !allowed {
			return errRateLimited
		}
	}

	msg, conv, err := h.svc.PostMessage(ctx, userID, p.OrderID, p.Content)
	if err != nil {
		return err
	}

	frame, err := domain.NewFrame(domain.EventNewMessage, domain.NewMessagePayload{Message: msg, OrderID: msg.OrderID})
	if err != nil {
		return err
	}
	n := h.SendToUsers(conv.Participants(), frame)

	h.log.Debug().
		Str("order_id", msg.OrderID).
		Str("sender", userID).
		Int("delivered", n).
		Msg("message delivered")
	return nil
}

func (h *Hub) decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return errInvalidPayload
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errInvalidPayload
	}
	if err := h.validate.Struct(dst); err != nil {
		return errInvalidPayload
	}
	return nil
}

func (h *Hub) reply(c *Client, event string, payload any) {
	frame, err := domain.NewFrame(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to encode frame")
		return
	}
	c.enqueue(frame)
}

// clientMessage maps an error to the text sent back to the client
func (h *Hub) clientMessage(event, userID string, err error) string {
	var verr *security.ValidationError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "chat not found"
	case errors.Is(err, domain.ErrForbidden):
		return "you are not a participant of this chat"
	case errors.Is(err, errRateLimited), errors.Is(err, errInvalidPayload):
		return err.Error()
	case errors.As(err, &verr):
		return verr.Message
	}

	h.log.Error().Err(err).Str("event", event).Str("user_id", userID).Msg("event handling failed")
	return "internal error"
}
