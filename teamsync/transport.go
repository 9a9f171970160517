package teamsync

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/internal"
)

// Conn is one established push connection carrying JSON frames.
type Conn interface {
	Read(ctx context.Context, v any) error
	Write(ctx context.Context, v any) error
	Ping(ctx context.Context) error
	Close(reason string) error
}

// Transport opens push connections. The default is WebsocketTransport;
// tests inject in-memory implementations.
type Transport interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketTransport dials with github.com/coder/websocket.
type WebsocketTransport struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	HTTPClient   *http.Client
}

func (t WebsocketTransport) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: t.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}
	return internal.NewConn(ws, t.ReadTimeout, t.WriteTimeout), nil
}
