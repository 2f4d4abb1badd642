package conn

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	readLimit    = 32 * 1024
)

// Transport is one established socket. The production implementation wraps a
// coder/websocket connection; tests substitute an in-memory fake.
type Transport interface {
	// ReadMessage blocks until one payload arrives or the transport fails.
	ReadMessage(ctx context.Context) ([]byte, error)
	// WriteMessage sends one text payload.
	WriteMessage(ctx context.Context, data []byte) error
	// Close tears the socket down. Safe to call concurrently with ReadMessage,
	// which then returns an error.
	Close() error
}

// Dialer establishes transports. Swapped for a fake in tests.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebsocketDialer dials real WebSocket endpoints.
type WebsocketDialer struct{}

// Dial implements Dialer.
func (WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	c, _, err := websocket.Dial(ctx, url, nil) //nolint:bodyclose // library owns the response body
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(readLimit)

	return &wsTransport{conn: c}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, err
	}

	return data, nil
}

func (t *wsTransport) WriteMessage(ctx context.Context, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return t.conn.Write(writeCtx, websocket.MessageText, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "client closing")
}

// CloseStatus extracts the WebSocket close code from a read error, or -1
// when the error was not a close frame.
func CloseStatus(err error) int {
	return int(websocket.CloseStatus(err))
}
