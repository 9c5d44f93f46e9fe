package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Rrens/laundry-chat/internal/history"
	"github.com/stretchr/testify/mock"
)

type emitted struct {
	Event   string
	Payload any
}

type fakeTransport struct {
	mu       sync.Mutex
	userID   string
	handler  EventHandler
	emits    []emitted
	closed   bool
	emitErr  error
	released func()
}

func (t *fakeTransport) Emit(event string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.emitErr != nil {
		return t.emitErr
	}
	t.emits = append(t.emits, emitted{Event: event, Payload: payload})
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		if t.released != nil {
			t.released()
		}
	}
	return nil
}

// fire delivers an inbound event the way a transport would, even after Close
func (t *fakeTransport) fire(event string, payload any) {
	var data json.RawMessage
	if payload != nil {
		switch p := payload.(type) {
		case string:
			data = json.RawMessage(p)
		default:
			b, err := json.Marshal(p)
			if err != nil {
				panic(err)
			}
			data = b
		}
	}
	t.handler(event, data)
}

func (t *fakeTransport) events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.emits))
	for _, e := range t.emits {
		out = append(out, e.Event)
	}
	return out
}

func (t *fakeTransport) sent() []emitted {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]emitted(nil), t.emits...)
}

func (t *fakeTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emits = nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeDialer struct {
	mu            sync.Mutex
	transports    []*fakeTransport
	live          int
	maxLive       int
	connectOnDial bool
	err           error
	delay         time.Duration
	// entered receives once per Dial call; gate holds Dial until closed
	entered chan struct{}
	gate    chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, userID string, handler EventHandler) (Transport, error) {
	if d.entered != nil {
		d.entered <- struct{}{}
	}
	if d.gate != nil {
		<-d.gate
	}
	time.Sleep(d.delay)

	d.mu.Lock()
	if d.err != nil {
		d.mu.Unlock()
		return nil, d.err
	}
	t := &fakeTransport{userID: userID, handler: handler}
	t.released = func() {
		d.mu.Lock()
		d.live--
		d.mu.Unlock()
	}
	d.transports = append(d.transports, t)
	d.live++
	if d.live > d.maxLive {
		d.maxLive = d.live
	}
	connect := d.connectOnDial
	d.mu.Unlock()

	if connect {
		t.fire("connect", nil)
	}
	return t, nil
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) liveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) FetchUsersChat(ctx context.Context, userID string) (*history.Result, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*history.Result), args.Error(1)
}

var errBoom = errors.New("boom")
