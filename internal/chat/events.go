package chat

import (
	"encoding/json"
	"maps"

	"github.com/Rrens/laundry-chat/internal/domain"
)

// handleEvent is the EventHandler given to the Dialer. Events arriving after
// Close are dropped by update.
func (s *Session) handleEvent(event string, data json.RawMessage) {
	switch event {
	case domain.EventConnect:
		s.update(s.onConnect)
	case domain.EventConnectError:
		p := decodeError(data)
		s.log.Warn().Str("error", p.Message).Msg("transport connect error")
		s.update(func() bool {
			s.st.connected = false
			s.st.lastError = "connection error: " + p.Message
			return true
		})
	case domain.EventDisconnect:
		var p struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(data, &p)
		s.log.Info().Str("reason", p.Reason).Msg("transport disconnected")
		s.update(func() bool {
			s.st.connected = false
			s.st.lastError = "disconnected: " + p.Reason
			return true
		})
	case domain.EventAuthenticationSuccess:
		s.update(func() bool {
			s.st.lastError = ""
			_ = s.emitLocked(domain.EventGetUnreadCounts, nil)
			return true
		})
	case domain.EventAuthenticationError:
		p := decodeError(data)
		s.log.Warn().Str("error", p.Message).Msg("authentication rejected")
		s.update(func() bool {
			s.st.lastError = p.Message
			return true
		})
	case domain.EventUnreadCounts:
		s.onUnreadCounts(data)
	case domain.EventNewMessage:
		s.onNewMessage(data)
	case domain.EventChatHistory:
		s.onChatHistory(data)
	case domain.EventMessagesRead:
		s.log.Debug().RawJSON("payload", nonEmpty(data)).Msg("messages read")
	case domain.EventError:
		p := decodeError(data)
		s.log.Error().Str("error", p.Message).Msg("server error")
		s.update(func() bool {
			s.st.lastError = p.Message
			return true
		})
	default:
		s.log.Debug().Str("event", event).Msg("unhandled event")
	}
}

func (s *Session) onConnect() bool {
	s.st.connected = true
	s.st.lastError = ""
	if s.conn == nil {
		s.pendingAuth = true
		return true
	}
	s.authenticateLocked()
	return true
}

// authenticateLocked performs the application-level handshake and, after a
// reconnect, re-enters the room of the selected conversation.
func (s *Session) authenticateLocked() {
	_ = s.emitLocked(domain.EventAuthenticateUser, domain.AuthenticatePayload{UserID: s.userID})
	if orderID := s.st.selectedOrderID(); orderID != "" {
		_ = s.emitLocked(domain.EventJoinChat, domain.OrderPayload{OrderID: orderID})
	}
}

func (s *Session) onUnreadCounts(data json.RawMessage) {
	var p domain.UnreadCountsPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.log.Error().Err(err).Msg("dropping malformed unread_counts")
		return
	}

	s.update(func() bool {
		counts := maps.Clone(p.UnreadCounts)
		if counts == nil {
			counts = make(map[string]int)
		}
		// the open conversation is never unread
		delete(counts, s.st.selectedOrderID())
		s.st.unreadCounts = counts
		return true
	})
}

func (s *Session) onNewMessage(data json.RawMessage) {
	var p domain.NewMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.Message == nil {
		s.log.Error().Err(err).Msg("dropping new_message without a message")
		return
	}
	key := p.ConversationKey()
	if key == "" {
		s.log.Error().Str("message_id", p.Message.ID).Msg("dropping new_message without a conversation")
		return
	}

	s.update(func() bool {
		if s.st.hasMessage(p.Message.ID) || s.recent.contains(p.Message.ID) {
			s.log.Debug().Str("message_id", p.Message.ID).Msg("dropping duplicate message")
			return false
		}
		s.recent.add(p.Message.ID)

		if key == s.st.selectedOrderID() {
			s.st.messages = append(s.st.messages, *p.Message)
			_ = s.emitLocked(domain.EventMarkMessagesRead, domain.OrderPayload{OrderID: key})
			return true
		}
		s.st.unreadCounts[key]++
		return true
	})
}

func (s *Session) onChatHistory(data json.RawMessage) {
	var p domain.ChatHistoryPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Chat == nil {
		s.log.Error().Err(err).Msg("dropping malformed chat_history")
		return
	}

	s.update(func() bool {
		selected := s.st.selectedOrderID()
		if p.Chat.OrderID != "" && p.Chat.OrderID != selected {
			// history of a conversation the user already left
			return false
		}
		s.st.messages = append([]domain.Message(nil), p.Chat.Messages...)
		s.st.loading = false
		return true
	})
}

func decodeError(data json.RawMessage) domain.ErrorPayload {
	var p domain.ErrorPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Message == "" {
		p.Message = "unknown error"
	}
	return p
}

func nonEmpty(data json.RawMessage) []byte {
	if len(data) == 0 {
		return []byte("null")
	}
	return data
}
