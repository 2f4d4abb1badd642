package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/assistio/intervene/internal/metrics"
	"github.com/assistio/intervene/internal/models"
)

// ChannelKind distinguishes the two socket channels the client owns.
type ChannelKind string

// Channel kinds.
const (
	ChannelNotifications ChannelKind = "notifications"
	ChannelChat          ChannelKind = "chat"
)

// Status is the lifecycle state of a handle.
type Status int32

// Handle statuses.
const (
	StatusConnecting Status = iota
	StatusOpen
	StatusClosed
	StatusErrored
)

// String implements fmt.Stringer for log fields.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusErrored:
		return "errored"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Callbacks are the caller-supplied event hooks for a handle. Nil funcs are
// skipped. All callbacks fire from the handle's run goroutine, one at a time,
// so handlers need no locking against each other.
type Callbacks struct {
	OnMessage func(payload []byte)
	OnOpen    func()
	OnClose   func(code int, reason string)
	OnError   func(err error)
}

// Handle owns one logical channel: it dials, pumps inbound payloads to the
// callbacks, and on unexpected close schedules exactly one reconnect after a
// fixed delay, repeating until Close is called.
type Handle struct {
	key    string
	kind   ChannelKind
	url    string
	cb     Callbacks
	dialer Dialer
	delay  time.Duration
	log    *logrus.Entry

	status   atomic.Int32
	attempts atomic.Int32

	mu        sync.Mutex
	transport Transport

	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	onTeardown func(*Handle)
}

// Key returns the manager key of the handle (one handle per key).
func (h *Handle) Key() string { return h.key }

// Kind returns the channel kind.
func (h *Handle) Kind() ChannelKind { return h.kind }

// Status returns the current lifecycle state.
func (h *Handle) Status() Status { return Status(h.status.Load()) }

// ReconnectAttempts returns the number of dial attempts made so far.
func (h *Handle) ReconnectAttempts() int { return int(h.attempts.Load()) }

// Send transmits one payload. Fails with models.ErrNotConnected unless the
// handle is open.
func (h *Handle) Send(ctx context.Context, payload []byte) error {
	if h.Status() != StatusOpen {
		return models.ErrNotConnected
	}

	h.mu.Lock()
	tr := h.transport
	h.mu.Unlock()

	if tr == nil {
		return models.ErrNotConnected
	}

	if err := tr.WriteMessage(ctx, payload); err != nil {
		return fmt.Errorf("send on %s: %w", h.key, err)
	}

	return nil
}

// SendJSON marshals v and transmits it.
func (h *Handle) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	return h.Send(ctx, data)
}

// Close tears the handle down: it cancels any pending reconnect, closes the
// socket, and unregisters from the manager. Idempotent, and safe to call
// from inside a callback; use Done to wait for the run loop to finish.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		close(h.closed)

		h.mu.Lock()
		tr := h.transport
		h.mu.Unlock()

		if tr != nil {
			tr.Close() //nolint:errcheck // best-effort close on teardown
		}

		if h.onTeardown != nil {
			h.onTeardown(h)
		}
	})
}

// Done is closed once the handle's run loop has fully stopped.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) isClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

func (h *Handle) setStatus(s Status) {
	h.status.Store(int32(s))
}

// run is the handle's lifecycle loop: dial, pump, reconnect.
func (h *Handle) run(ctx context.Context) {
	defer close(h.done)
	defer h.setStatus(StatusClosed)

	for {
		if h.isClosed() {
			return
		}

		h.setStatus(StatusConnecting)
		h.attempts.Add(1)
		if h.attempts.Load() > 1 {
			metrics.Reconnects.WithLabelValues(string(h.kind)).Inc()
		}

		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		tr, err := h.dialer.Dial(dialCtx, h.url)
		cancel()

		if err != nil {
			if h.isClosed() {
				return
			}

			h.setStatus(StatusErrored)
			h.log.WithError(err).Warn("dial failed")
			h.emitError(err)

			if !h.waitReconnect(ctx) {
				return
			}

			continue
		}

		h.mu.Lock()
		if h.isClosed() {
			h.mu.Unlock()
			tr.Close() //nolint:errcheck // raced with Close, drop the socket

			return
		}
		h.transport = tr
		h.mu.Unlock()

		h.setStatus(StatusOpen)
		metrics.OpenChannels.Inc()
		h.log.WithField("attempt", h.attempts.Load()).Info("channel open")
		h.emitOpen()

		readErr := h.pump(ctx, tr)
		metrics.OpenChannels.Dec()

		h.mu.Lock()
		h.transport = nil
		h.mu.Unlock()

		if h.isClosed() || ctx.Err() != nil {
			return
		}

		// Unexpected close: report it, then reconnect after the fixed delay.
		code := CloseStatus(readErr)
		h.setStatus(StatusClosed)
		h.log.WithFields(logrus.Fields{"code": code}).Info("channel closed, scheduling reconnect")
		h.emitClose(code, closeReason(readErr))

		if !h.waitReconnect(ctx) {
			return
		}
	}
}

// pump reads payloads until the transport fails, returning the read error.
func (h *Handle) pump(ctx context.Context, tr Transport) error {
	for {
		data, err := tr.ReadMessage(ctx)
		if err != nil {
			return err
		}

		if h.cb.OnMessage != nil {
			h.cb.OnMessage(data)
		}
	}
}

// waitReconnect sleeps the fixed reconnect delay. Returns false when the
// handle was closed or the context cancelled while waiting, which cancels
// the pending reconnect.
func (h *Handle) waitReconnect(ctx context.Context) bool {
	timer := time.NewTimer(h.delay)
	defer timer.Stop()

	select {
	case <-h.closed:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (h *Handle) emitOpen() {
	if h.cb.OnOpen != nil {
		h.cb.OnOpen()
	}
}

func (h *Handle) emitClose(code int, reason string) {
	if h.cb.OnClose != nil {
		h.cb.OnClose(code, reason)
	}
}

func (h *Handle) emitError(err error) {
	if h.cb.OnError != nil {
		h.cb.OnError(err)
	}
}

func closeReason(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
