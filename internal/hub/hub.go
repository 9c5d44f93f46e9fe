// Package hub is the server side of the realtime chat protocol: it owns the
// websocket connections, the per-user connection index and the order rooms.
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Rrens/laundry-chat/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ChatService is the part of the chat service the hub drives
type ChatService interface {
	Authorize(ctx context.Context, userID, orderID string) (*domain.Conversation, error)
	GetHistory(ctx context.Context, userID, orderID string) (*domain.ChatHistory, error)
	PostMessage(ctx context.Context, userID, orderID, content string) (*domain.Message, *domain.Conversation, error)
	MarkRead(ctx context.Context, userID, orderID string) error
	UnreadCounts(ctx context.Context, userID string) (map[string]int, error)
}

// RateLimiter limits sends per user.
// Returns (allowed, remaining, resetTime, error)
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, int, time.Time, error)
}

// Options configures a Hub
type Options struct {
	SendBuffer     int
	PingInterval   time.Duration
	EventTimeout   time.Duration
	AllowedOrigins []string
	RateLimiter    RateLimiter
	Logger         zerolog.Logger
}

// Hub routes events between connections and the chat service
type Hub struct {
	svc          ChatService
	limiter      RateLimiter
	validate     *validator.Validate
	upgrader     websocket.Upgrader
	log          zerolog.Logger
	sendBuffer   int
	pingInterval time.Duration
	eventTimeout time.Duration

	mu      sync.RWMutex
	clients map[*Client]struct{}
	users   map[string]map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	closed  bool
}

// New creates a hub
func New(svc ChatService, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingGap
	}
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = 10 * time.Second
	}

	h := &Hub{
		svc:          svc,
		limiter:      opts.RateLimiter,
		validate:     validator.New(),
		log:          opts.Logger.With().Str("component", "hub").Logger(),
		sendBuffer:   opts.SendBuffer,
		pingInterval: opts.PingInterval,
		eventTimeout: opts.EventTimeout,
		clients:      make(map[*Client]struct{}),
		users:        make(map[string]map[*Client]struct{}),
		rooms:        make(map[string]map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set["*"]
		if ok {
			return true
		}
		_, ok = set[origin]
		return ok
	}
}

// ServeWS upgrades the request and runs the connection until it closes.
// subject is the verified token subject, or empty when the upgrade was anonymous.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, subject string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &Client{
		hub:     h,
		connID:  uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, h.sendBuffer),
		subject: subject,
		done:    make(chan struct{}),
	}

	if !h.register(c) {
		_ = conn.Close()
		return
	}

	h.log.Debug().Str("conn_id", c.connID).Str("remote", r.RemoteAddr).Msg("connection opened")

	go c.writePump()
	c.readPump()
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *Client) {
	userID, room := c.identity()

	h.mu.Lock()
	delete(h.clients, c)
	removeMember(h.users, userID, c)
	removeMember(h.rooms, room, c)
	h.mu.Unlock()

	h.log.Debug().Str("conn_id", c.connID).Str("user_id", userID).Msg("connection closed")
}

func removeMember(index map[string]map[*Client]struct{}, key string, c *Client) {
	if key == "" {
		return
	}
	members := index[key]
	delete(members, c)
	if len(members) == 0 {
		delete(index, key)
	}
}

func addMember(index map[string]map[*Client]struct{}, key string, c *Client) {
	members, ok := index[key]
	if !ok {
		members = make(map[*Client]struct{})
		index[key] = members
	}
	members[c] = struct{}{}
}

// bindUser attaches an authenticated identity to the connection. A
// connection keeps its first identity; binding a different one fails.
func (h *Hub) bindUser(c *Client, userID string) bool {
	c.mu.Lock()
	if c.userID != "" && c.userID != userID {
		c.mu.Unlock()
		return false
	}
	c.userID = userID
	c.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.clients[c]; live {
		addMember(h.users, userID, c)
	}
	return true
}

// joinRoom moves the connection into the room of orderID, leaving the previous one
func (h *Hub) joinRoom(c *Client, orderID string) {
	c.mu.Lock()
	previous := c.room
	c.room = orderID
	c.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.clients[c]; !live {
		return
	}
	if previous != orderID {
		removeMember(h.rooms, previous, c)
	}
	addMember(h.rooms, orderID, c)
}

// SendToUsers delivers a frame to every live connection of the given users
func (h *Hub) SendToUsers(userIDs []string, frame []byte) int {
	return h.deliver(h.users, userIDs, frame)
}

// SendToRoom delivers a frame to every connection that joined orderID
func (h *Hub) SendToRoom(orderID string, frame []byte) int {
	return h.deliver(h.rooms, []string{orderID}, frame)
}

func (h *Hub) deliver(index map[string]map[*Client]struct{}, keys []string, frame []byte) int {
	h.mu.RLock()
	targets := make([]*Client, 0)
	seen := make(map[*Client]struct{})
	for _, key := range keys {
		for c := range index[key] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	// enqueue may unregister a slow client, which takes the write lock
	delivered := 0
	for _, c := range targets {
		if c.enqueue(frame) {
			delivered++
		}
	}
	return delivered
}

// ConnectionCount returns the number of live connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsOnline reports whether userID has at least one authenticated connection
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// Close drops every connection and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
