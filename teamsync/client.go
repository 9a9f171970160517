package teamsync

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/internal"
	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/model"
	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/reconcile"
)

// Client is the push-channel client. It keeps one connection open,
// reconnecting with exponential backoff when AutoReconnect is set, and
// delivers events to the registered callbacks from a single goroutine in
// arrival order.
type Client struct {
	cfg        Config
	logger     Logger
	transport  Transport
	metrics    *Metrics
	writeCh    chan Inbound
	dispatcher Dispatcher
	clientID   string
	pending    atomic.Int64 // queued or in-flight writes

	mu      sync.Mutex
	state   ConnectionState
	token   string
	cancel  context.CancelFunc
	done    chan struct{}
	onState func(StateEvent)
}

// NewClient constructs a client with provided config.
// Use DefaultConfig() as a starting point and modify as needed.
// Set timeout to 0 to disable it.
func NewClient(cfg *Config) *Client {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	return &Client{
		cfg:       c,
		token:     c.Token,
		logger:    noopLogger{},
		transport: WebsocketTransport{ReadTimeout: c.ReadTimeout, WriteTimeout: c.WriteTimeout},
		writeCh:   make(chan Inbound, 64),
		clientID:  uuid.NewString(),
	}
}

// SetLogger overrides logger (optional).
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
}

// SetTransport replaces the websocket transport. Call before Connect.
func (c *Client) SetTransport(t Transport) {
	if t == nil {
		return
	}
	c.transport = t
}

// SetMetrics records emits and reconnects on m.
func (c *Client) SetMetrics(m *Metrics) { c.metrics = m }

// SetToken changes the token sent on the next (re)connect.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClientID identifies this client instance in the hello frame.
func (c *Client) ClientID() string { return c.clientID }

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnMessage registers callback for message events.
func (c *Client) OnMessage(fn func(reconcile.MessageReceived)) { c.dispatcher.SetOnMessage(fn) }

// OnThreadMessage registers callback for thread-message events.
func (c *Client) OnThreadMessage(fn func(reconcile.ThreadMessageReceived)) {
	c.dispatcher.SetOnThreadMessage(fn)
}

// OnMessageUpdate registers callback for message-update (content edit) events.
func (c *Client) OnMessageUpdate(fn func(reconcile.MessageContentUpdated)) {
	c.dispatcher.SetOnMessageUpdate(fn)
}

// OnMessageUpdated registers callback for message-updated (full replacement) events.
func (c *Client) OnMessageUpdated(fn func(reconcile.MessageUpdated)) {
	c.dispatcher.SetOnMessageUpdated(fn)
}

// OnMessageDelete registers callback for message-delete events.
func (c *Client) OnMessageDelete(fn func(reconcile.MessageDeleted)) {
	c.dispatcher.SetOnMessageDelete(fn)
}

// OnMessageViewed registers callback for message-viewed events.
func (c *Client) OnMessageViewed(fn func(reconcile.MessageViewed)) {
	c.dispatcher.SetOnMessageViewed(fn)
}

// OnNotification registers callback for notification events.
func (c *Client) OnNotification(fn func(NotificationEvent)) { c.dispatcher.SetOnNotification(fn) }

// OnPresence registers callback for user-join and user-leave events.
func (c *Client) OnPresence(fn func(reconcile.PresenceChanged)) { c.dispatcher.SetOnPresence(fn) }

// OnChannelUpdated registers callback for channel-updated events.
func (c *Client) OnChannelUpdated(fn func(reconcile.ChannelUpdated)) {
	c.dispatcher.SetOnChannelUpdated(fn)
}

// OnConvoUpdated registers callback for convo-updated events.
func (c *Client) OnConvoUpdated(fn func(reconcile.ConversationUpdated)) {
	c.dispatcher.SetOnConvoUpdated(fn)
}

// OnError registers callback for errors.
func (c *Client) OnError(fn func(error)) { c.dispatcher.SetOnError(fn) }

// OnStateChanged registers callback for connection state transitions.
func (c *Client) OnStateChanged(fn func(StateEvent)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// Connect dials the server, sends hello, and starts internal loops.
func (c *Client) Connect(ctx context.Context) error {
	if c.State().Active() {
		return NewError(ErrorConnection, "already connected")
	}

	if c.cfg.URL == "" {
		return NewError(ErrorInvalidConfig, "empty URL")
	}
	if _, err := url.Parse(c.cfg.URL); err != nil {
		return WrapError(ErrorInvalidConfig, "invalid URL", err)
	}

	c.setState(StateConnecting, nil)
	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected, err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel() // previous run already exited after giving up
	}
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.setState(StateConnected, nil)
	go c.run(runCtx, conn, done)
	return nil
}

// Close shuts down client and closes the connection. Queued events get up
// to WriteTimeout to be written; the rest are dropped. Must not be called
// from a callback.
func (c *Client) Close() error {
	c.flush()
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	for len(c.writeCh) > 0 {
		<-c.writeCh
		c.pending.Add(-1)
	}
	c.setState(StateClosed, nil)
	return nil
}

// Emit queues an arbitrary event. Events are accepted while connected or
// reconnecting and written in order.
func (c *Client) Emit(ctx context.Context, event string, data any) error {
	return c.send(ctx, Inbound{Type: inboundEmit, Event: event, Data: data})
}

// EmitPresence announces the user online (user-join) or offline (user-leave).
func (c *Client) EmitPresence(ctx context.Context, userID string, online bool) error {
	event := EventUserLeave
	if online {
		event = EventUserJoin
	}
	return c.Emit(ctx, event, PresencePayload{ID: userID, IsOnline: online})
}

// EmitOpen reports that the user opened a channel (channel-open) or a
// conversation (convo-open).
func (c *Client) EmitOpen(ctx context.Context, kind model.EntityKind, id, userID string) error {
	event := EventChannelOpen
	if kind == model.KindConversation {
		event = EventConvoOpen
	}
	return c.Emit(ctx, event, OpenPayload{ID: id, UserID: userID})
}

// EmitMessage posts a message.
func (c *Client) EmitMessage(ctx context.Context, p MessagePayload) error {
	return c.Emit(ctx, EventMessage, p)
}

// EmitThreadMessage posts a thread reply.
func (c *Client) EmitThreadMessage(ctx context.Context, p ThreadMessagePayload) error {
	return c.Emit(ctx, EventThreadMessage, p)
}

// EmitMessageView reports messageID as seen by userID.
func (c *Client) EmitMessageView(ctx context.Context, messageID, userID string) error {
	return c.Emit(ctx, EventMessageView, ViewPayload{MessageID: messageID, UserID: userID})
}

// EmitReaction toggles a reaction.
func (c *Client) EmitReaction(ctx context.Context, p ReactionPayload) error {
	return c.Emit(ctx, EventReaction, p)
}

// EmitMessageDelete deletes a message.
func (c *Client) EmitMessageDelete(ctx context.Context, p DeletePayload) error {
	return c.Emit(ctx, EventMessageDelete, p)
}

func (c *Client) send(ctx context.Context, in Inbound) error {
	if !c.State().AcceptsEmits() {
		return NewError(ErrorNotConnected, "not connected")
	}

	c.pending.Add(1)
	select {
	case c.writeCh <- in:
		return nil
	case <-ctx.Done():
		c.pending.Add(-1)
		return ctx.Err()
	}
}

func (c *Client) flush() {
	if c.State() != StateConnected {
		return
	}
	timeout := c.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	deadline := time.Now().Add(timeout)
	for c.pending.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, err := c.transport.Dial(ctx, c.cfg.URL, header)
	if err != nil {
		return nil, WrapError(ErrorConnection, "dial failed", err)
	}

	hello := Inbound{
		Type: inboundHello,
		Data: HelloPayload{
			Protocol: ProtocolVersion,
			Token:    token,
			ClientID: c.clientID,
		},
	}
	if err := conn.Write(ctx, hello); err != nil {
		_ = conn.Close("handshake error")
		return nil, WrapError(ErrorConnection, "handshake failed", err)
	}
	return conn, nil
}

func (c *Client) run(ctx context.Context, conn Conn, done chan struct{}) {
	defer close(done)
	for {
		err := c.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		lost := WrapError(ErrorDisconnected, "connection lost", err)
		if !c.cfg.AutoReconnect {
			c.setState(StateDisconnected, lost)
			return
		}
		c.setState(StateReconnecting, lost)

		conn, err = c.reconnect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.setState(StateError, err)
			}
			return
		}
		c.setState(StateConnected, nil)
	}
}

// serve runs the read and write loops of one connection until either fails
// or ctx is cancelled, then closes the connection.
func (c *Client) serve(ctx context.Context, conn Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeErr := make(chan error, 1)
	go func() { writeErr <- c.writeLoop(connCtx, conn, cancel) }()

	err := c.readLoop(connCtx, conn)
	cancel()
	if werr := <-writeErr; werr != nil {
		err = werr
	}
	_ = conn.Close("client close")
	return err
}

func (c *Client) readLoop(ctx context.Context, conn Conn) error {
	for {
		var out Outbound
		if err := conn.Read(ctx, &out); err != nil {
			if ctx.Err() == nil {
				fields := map[string]any{"error": err.Error()}
				if internal.IsNormalClose(err) {
					c.logger.Info("connection closed by server", fields)
				} else {
					c.logger.Warn("read loop exit", fields)
				}
			}
			return err
		}
		c.dispatcher.Dispatch(out)
	}
}

func (c *Client) writeLoop(ctx context.Context, conn Conn, fail context.CancelFunc) error {
	var ping <-chan time.Time
	if c.cfg.PingInterval > 0 {
		t := time.NewTicker(c.cfg.PingInterval)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case in := <-c.writeCh:
			err := conn.Write(ctx, in)
			if err == nil {
				c.metrics.emitted(in.Event)
			}
			c.pending.Add(-1)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Warn("write loop exit", map[string]any{"event": in.Event, "error": err.Error()})
				fail()
				return WrapError(ErrorConnection, "write failed", err)
			}
		case <-ping:
			if err := conn.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Warn("ping failed", map[string]any{"error": err.Error()})
				fail()
				return WrapError(ErrorTimeout, "ping failed", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) reconnect(ctx context.Context) (Conn, error) {
	delay := c.cfg.ReconnectInterval
	if delay <= 0 {
		delay = time.Second
	}
	for attempt := 1; c.cfg.MaxReconnectTries == 0 || attempt <= c.cfg.MaxReconnectTries; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		c.metrics.reconnect()
		conn, err := c.dial(ctx)
		if err == nil {
			c.logger.Info("reconnected", map[string]any{"attempt": attempt})
			return conn, nil
		}
		c.logger.Warn("reconnect failed", map[string]any{"attempt": attempt, "error": err.Error()})

		delay *= 2
		if c.cfg.MaxReconnectDelay > 0 && delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
	return nil, NewError(ErrorConnection, fmt.Sprintf("gave up after %d reconnect attempts", c.cfg.MaxReconnectTries))
}

func (c *Client) setState(s ConnectionState, err error) {
	c.mu.Lock()
	old := c.state
	c.state = s
	fn := c.onState
	c.mu.Unlock()
	if old == s {
		return
	}
	c.logger.Debug("state changed", map[string]any{"from": old.String(), "to": s.String()})
	if fn != nil {
		fn(StateEvent{OldState: old, NewState: s, Error: err})
	}
}
