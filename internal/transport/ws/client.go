// Package ws is the realtime transport used by chat sessions: a websocket
// client speaking JSON event frames, with a bounded reconnect policy.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Rrens/laundry-chat/internal/chat"
	"github.com/Rrens/laundry-chat/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait       = 10 * time.Second
	maxMessageBytes = 1 << 20
)

var (
	ErrNotConnected = errors.New("ws: not connected")
	ErrBufferFull   = errors.New("ws: send buffer full")
)

// Options controls dialing and reconnection
type Options struct {
	// URL of the chat backend, http(s) or ws(s). An empty path becomes /ws.
	URL   string
	Token string
	// ReconnectAttempts is the number of consecutive failed attempts tolerated
	// before the client gives up.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	// Timeout bounds each connection attempt
	Timeout    time.Duration
	SendBuffer int
	Logger     zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 20 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

// Dialer opens websocket transports for chat sessions
type Dialer struct {
	Options Options
}

// NewDialer creates a dialer
func NewDialer(opts Options) *Dialer {
	return &Dialer{Options: opts.withDefaults()}
}

// Dial starts a client for userID. It returns immediately; the first
// connection attempt runs in the background and is reported to handler.
func (d *Dialer) Dial(ctx context.Context, userID string, handler chat.EventHandler) (chat.Transport, error) {
	endpoint, err := socketURL(d.Options.URL, userID)
	if err != nil {
		return nil, err
	}
	c := newClient(endpoint, d.Options.withDefaults(), handler)
	c.start(ctx)
	return c, nil
}

// Client is one logical connection, transparently re-established after drops
type Client struct {
	url     string
	opts    Options
	handler chat.EventHandler
	log     zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	send chan []byte

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(endpoint string, opts Options, handler chat.EventHandler) *Client {
	return &Client{
		url:     endpoint,
		opts:    opts,
		handler: handler,
		log:     opts.Logger.With().Str("component", "ws_client").Logger(),
		done:    make(chan struct{}),
	}
}

func (c *Client) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	go c.run(runCtx)
}

// Emit queues an event for the current connection
func (c *Client) Emit(event string, payload any) error {
	msg, err := domain.NewFrame(event, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.send == nil {
		return ErrNotConnected
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

// Done is closed when the client has stopped for good
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close stops reconnection and closes the socket. It does not wait for the
// background goroutine, so it is safe to call from the event handler.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}
	})
	return nil
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	failures := 0
	for {
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			c.log.Warn().Err(err).Int("attempt", failures).Msg("connect failed")
			c.deliver(domain.EventConnectError, domain.ErrorPayload{Message: err.Error()})
			if failures > c.opts.ReconnectAttempts {
				c.log.Error().Int("attempts", failures).Msg("giving up reconnecting")
				return
			}
			if !c.wait(ctx) {
				return
			}
			continue
		}

		failures = 0
		reason := c.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		c.deliver(domain.EventDisconnect, map[string]string{"reason": reason})
		if !c.wait(ctx) {
			return
		}
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.Timeout,
	}

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(attemptCtx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	conn.SetReadLimit(maxMessageBytes)
	return conn, nil
}

// serve pumps one connection until it drops and returns the disconnect reason
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) string {
	send := make(chan []byte, c.opts.SendBuffer)

	c.mu.Lock()
	c.conn = conn
	c.send = send
	c.mu.Unlock()

	if ctx.Err() != nil {
		// Close ran between dial and registration
		_ = conn.Close()
	} else {
		c.deliver(domain.EventConnect, nil)
	}

	writerDone := make(chan struct{})
	go c.writePump(conn, send, writerDone)

	reason := c.readPump(ctx, conn)

	c.mu.Lock()
	c.conn = nil
	c.send = nil
	c.mu.Unlock()

	close(send)
	_ = conn.Close()
	<-writerDone
	return reason
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) string {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return "io client disconnect"
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				return "io server disconnect"
			default:
				return "transport error: " + err.Error()
			}
		}

		var f domain.Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			c.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		c.handler(f.Event, f.Data)
	}
}

func (c *Client) writePump(conn *websocket.Conn, send <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for msg := range send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.log.Warn().Err(err).Msg("write failed")
			_ = conn.Close()
			// drain so serve can finish
			for range send {
			}
			return
		}
	}
}

func (c *Client) deliver(event string, payload any) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			c.log.Error().Err(err).Str("event", event).Msg("failed to encode local event")
			return
		}
		data = b
	}
	c.handler(event, data)
}

func (c *Client) wait(ctx context.Context) bool {
	t := time.NewTimer(c.opts.ReconnectDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// socketURL turns the backend base URL into the websocket endpoint for userID
func socketURL(base, userID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}

	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
