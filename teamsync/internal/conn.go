// Package internal holds the websocket connection used by the push client.
package internal

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Conn wraps websocket.Conn with per-operation timeouts and JSON framing.
type Conn struct {
	ws           *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func NewConn(ws *websocket.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{ws: ws, readTimeout: readTimeout, writeTimeout: writeTimeout}
}

func (c *Conn) Read(ctx context.Context, v any) error {
	if c.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.readTimeout)
		defer cancel()
	}
	return wsjson.Read(ctx, c.ws, v)
}

func (c *Conn) Write(ctx context.Context, v any) error {
	ctx, cancel := c.writeContext(ctx)
	defer cancel()
	return wsjson.Write(ctx, c.ws, v)
}

// Ping sends a ping and waits for the pong. It needs a concurrent Read
// to deliver the pong.
func (c *Conn) Ping(ctx context.Context) error {
	ctx, cancel := c.writeContext(ctx)
	defer cancel()
	return c.ws.Ping(ctx)
}

// Close performs a normal-closure handshake.
func (c *Conn) Close(reason string) error {
	return c.ws.Close(websocket.StatusNormalClosure, reason)
}

func (c *Conn) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.writeTimeout > 0 {
		return context.WithTimeout(ctx, c.writeTimeout)
	}
	return context.WithCancel(ctx)
}

// IsNormalClose reports whether err is an orderly shutdown of the connection.
func IsNormalClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
