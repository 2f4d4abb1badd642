// Package conn owns the socket lifecycle shared by the notification feed and
// chat sessions: one handle per logical channel, auto-reconnect with a fixed
// delay, and deterministic teardown.
package conn

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/assistio/intervene/internal/models"
	"github.com/assistio/intervene/internal/session"
)

// DefaultReconnectDelay matches the observed client behavior: one retry
// every 3 seconds until the caller closes the handle.
const DefaultReconnectDelay = 3 * time.Second

// Manager opens and tracks channel handles. Exactly one handle exists per
// channel key; opening a second one for the same key tears down the prior.
type Manager struct {
	wsBaseURL string
	sess      *session.Context
	dialer    Dialer
	delay     time.Duration
	log       *logrus.Logger

	mu      sync.Mutex
	handles map[string]*Handle
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDialer substitutes the transport dialer (fakes in tests).
func WithDialer(d Dialer) ManagerOption {
	return func(m *Manager) { m.dialer = d }
}

// WithReconnectDelay overrides the fixed reconnect delay.
func WithReconnectDelay(d time.Duration) ManagerOption {
	return func(m *Manager) { m.delay = d }
}

// NewManager creates a Manager for the given websocket base URL
// (e.g. "ws://localhost:8000").
func NewManager(wsBaseURL string, sess *session.Context, log *logrus.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		wsBaseURL: wsBaseURL,
		sess:      sess,
		dialer:    WebsocketDialer{},
		delay:     DefaultReconnectDelay,
		log:       log,
		handles:   make(map[string]*Handle),
	}
	for _, o := range opts {
		o(m)
	}

	return m
}

// OpenNotifications opens the singleton notifications channel.
func (m *Manager) OpenNotifications(ctx context.Context, cb Callbacks) (*Handle, error) {
	return m.open(ctx, ChannelNotifications, "notifications", "/ws/notifications/", cb)
}

// OpenChat opens the chat channel for one ticket.
func (m *Manager) OpenChat(ctx context.Context, ticketID int64, cb Callbacks) (*Handle, error) {
	key := fmt.Sprintf("chat:%d", ticketID)
	path := fmt.Sprintf("/ws/chat/%d/", ticketID)

	return m.open(ctx, ChannelChat, key, path, cb)
}

func (m *Manager) open(ctx context.Context, kind ChannelKind, key, path string, cb Callbacks) (*Handle, error) {
	if !m.sess.Authenticated() {
		return nil, models.ErrUnauthenticated
	}

	endpoint := m.wsBaseURL + path + "?" + url.Values{"token": {m.sess.Token().Value()}}.Encode()

	h := &Handle{
		key:    key,
		kind:   kind,
		url:    endpoint,
		cb:     cb,
		dialer: m.dialer,
		delay:  m.delay,
		log:    m.log.WithFields(logrus.Fields{"channel": kind, "key": key}),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	h.onTeardown = m.remove

	m.mu.Lock()
	prior := m.handles[key]
	m.handles[key] = h
	m.mu.Unlock()

	// One handle per key: drop any prior channel before the new one dials.
	if prior != nil {
		prior.Close()
		<-prior.Done()
	}

	go h.run(ctx)

	return h, nil
}

// remove unregisters a handle unless it was already replaced by a newer one
// for the same key.
func (m *Manager) remove(h *Handle) {
	m.mu.Lock()
	if m.handles[h.key] == h {
		delete(m.handles, h.key)
	}
	m.mu.Unlock()
}

// Handle returns the live handle for a key, if any.
func (m *Manager) Handle(key string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.handles[key]

	return h, ok
}

// CloseAll tears down every open handle and waits for their loops to stop.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}

	for _, h := range handles {
		<-h.Done()
	}
}
