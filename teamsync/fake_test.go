package teamsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"
)

// fakeConn is an in-memory push connection. Frames pushed on in are read
// by the client; frames the client writes arrive on out.
type fakeConn struct {
	in     chan Outbound
	out    chan Inbound
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan Outbound, 16),
		out:    make(chan Inbound, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context, v any) error {
	select {
	case o := <-c.in:
		*(v.(*Outbound)) = o
		return nil
	case <-c.closed:
		return io.EOF
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, v any) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	select {
	case c.out <- v.(Inbound):
		return nil
	case <-c.closed:
		return errors.New("write on closed connection")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Ping(context.Context) error { return nil }

func (c *fakeConn) Close(string) error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// push delivers an event frame to the client.
func (c *fakeConn) push(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	c.in <- Outbound{Type: outboundEvent, Event: event, Data: raw}
}

// next returns the next frame the client wrote with the given event name
// (or type, for hello), skipping others.
func (c *fakeConn) next(t *testing.T, name string) Inbound {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case in := <-c.out:
			if in.Event == name || (in.Event == "" && in.Type == name) {
				return in
			}
		case <-timeout:
			t.Fatalf("no %q frame written", name)
			return Inbound{}
		}
	}
}

type fakeTransport struct {
	mu      sync.Mutex
	fail    int
	headers []http.Header
	conns   chan *fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conns: make(chan *fakeConn, 8)}
}

func (t *fakeTransport) Dial(_ context.Context, _ string, header http.Header) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail > 0 {
		t.fail--
		return nil, errors.New("connection refused")
	}
	t.headers = append(t.headers, header)
	c := newFakeConn()
	t.conns <- c
	return c, nil
}

func (t *fakeTransport) failNext(n int) {
	t.mu.Lock()
	t.fail = n
	t.mu.Unlock()
}

func (t *fakeTransport) conn(tb testing.TB) *fakeConn {
	tb.Helper()
	select {
	case c := <-t.conns:
		return c
	case <-time.After(2 * time.Second):
		tb.Fatalf("no connection dialled")
		return nil
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.URL = "ws://chat.test/ws"
	cfg.RESTBaseURL = "http://chat.test/api"
	cfg.Token = "tok"
	cfg.PingInterval = 0
	cfg.ReconnectInterval = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 20 * time.Millisecond
	cfg.ViewRateLimit = 0
	return cfg
}
