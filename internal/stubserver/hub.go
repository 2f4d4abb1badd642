package stubserver

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeTimeout     = 10 * time.Second
	wsReadLimit      = 32 * 1024
	clientSendBuffer = 64
)

// hub is one broadcast group: either the notifications feed or a single
// ticket's chat room. All mutations go through the mutex; there is no
// Run goroutine because the stub never carries production load.
type hub struct {
	log *logrus.Logger

	mu      sync.Mutex
	clients map[*wsClient]bool
}

func newHub(log *logrus.Logger) *hub {
	return &hub{log: log, clients: make(map[*wsClient]bool)}
}

func (h *hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.log.WithField("total", total).Debug("stub client registered")
}

func (h *hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.closeSend()
	}
	total := len(h.clients)
	h.mu.Unlock()

	h.log.WithField("total", total).Debug("stub client unregistered")
}

// broadcast queues msg to every connected client. Slow clients lose the
// frame rather than blocking the room.
func (h *hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("stub client not draining, dropping frame")
		}
	}
}

// closeAll empties the room. Each write pump drains its queue first, so
// frames broadcast just before the close still reach the wire.
func (h *hub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsClient]bool)
	h.mu.Unlock()

	for _, c := range clients {
		c.closeSend()
	}
}

// wsClient wraps one accepted WebSocket connection.
type wsClient struct {
	hub       *hub
	conn      *websocket.Conn
	send      chan []byte
	user      user
	closeOnce sync.Once
}

func newWSClient(h *hub, conn *websocket.Conn, u user) *wsClient {
	return &wsClient{hub: h, conn: conn, send: make(chan []byte, clientSendBuffer), user: u}
}

func (c *wsClient) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// readPump reads frames until the connection drops, handing each payload to
// handle. It unregisters the client on exit.
func (c *wsClient) readPump(ctx context.Context, handle func([]byte)) {
	defer func() {
		c.hub.remove(c)
		c.conn.CloseNow() //nolint:errcheck // best-effort close on teardown
	}()

	c.conn.SetReadLimit(wsReadLimit)

	for {
		_, payload, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if handle != nil {
			handle(payload)
		}
	}
}

// writePump drains the send channel onto the wire.
func (c *wsClient) writePump(ctx context.Context) {
	defer c.conn.CloseNow() //nolint:errcheck // best-effort close on teardown

	for msg := range c.send {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.conn.Write(writeCtx, websocket.MessageText, msg)
		cancel()

		if err != nil {
			c.hub.log.WithError(err).Debug("stub write failed")

			return
		}
	}

	c.conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck // best-effort
}
