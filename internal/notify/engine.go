// Package notify implements the notification reconciliation engine: it
// merges polled ticket snapshots with pushed new_message events into one
// deduplicated per-ticket unread list, suppressed by durable read-markers.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/assistio/intervene/client"
	"github.com/assistio/intervene/internal/conn"
	"github.com/assistio/intervene/internal/metrics"
	"github.com/assistio/intervene/internal/models"
	"github.com/assistio/intervene/internal/session"
	"github.com/assistio/intervene/internal/statestore"
)

// DefaultPollInterval matches the observed client: one snapshot every 15
// seconds, plus an immediate run on start.
const DefaultPollInterval = 15 * time.Second

// EventKind tags engine events.
type EventKind string

// Engine event kinds.
const (
	// EventNew fires when a ticket gains a live notification entry.
	EventNew EventKind = "new"
	// EventCleared fires when the list content changes without a new entry
	// (mark-read, poll supersession), so badges re-render.
	EventCleared EventKind = "cleared"
)

const eventBuffer = 64

// Event is delivered to Events subscribers (presentation bridge, navigation).
type Event struct {
	Kind         EventKind
	Notification models.Notification
	UnreadCount  int
}

// Engine owns the notification list and unread counter. The unread count is
// always the list length, never tracked independently.
type Engine struct {
	api      *client.Client
	mgr      *conn.Manager
	sess     *session.Context
	markers  *statestore.Store
	log      *logrus.Logger
	interval time.Duration

	// All state mutations run under mu; the merge and each push upsert are
	// atomic with respect to each other.
	mu            sync.Mutex
	notifications []models.Notification

	events chan Event

	sched  *cron.Cron
	handle *conn.Handle
}

// Option configures an Engine.
type Option func(*Engine)

// WithPollInterval overrides the fixed poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// NewEngine creates the reconciliation engine.
func NewEngine(api *client.Client, mgr *conn.Manager, sess *session.Context, markers *statestore.Store, log *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{
		api:      api,
		mgr:      mgr,
		sess:     sess,
		markers:  markers,
		log:      log,
		interval: DefaultPollInterval,
		events:   make(chan Event, eventBuffer),
	}
	for _, o := range opts {
		o(e)
	}

	return e
}

// Events is the subscription point for notification events. The channel is
// buffered; events are dropped, never blocked on, when no one is draining.
func (e *Engine) Events() <-chan Event { return e.events }

// Start runs an immediate poll, schedules the recurring poll, and opens the
// notifications channel. Returns models.ErrUnauthenticated without any
// socket attempt when no token is present.
func (e *Engine) Start(ctx context.Context) error {
	handle, err := e.mgr.OpenNotifications(ctx, conn.Callbacks{
		OnMessage: func(payload []byte) { e.handlePayload(payload) },
		OnError: func(err error) {
			e.log.WithError(err).Debug("notifications channel error")
		},
	})
	if err != nil {
		return fmt.Errorf("open notifications channel: %w", err)
	}
	e.handle = handle

	e.sched = cron.New()
	if _, err := e.sched.AddFunc(fmt.Sprintf("@every %s", e.interval), func() { e.Poll(ctx) }); err != nil {
		handle.Close()

		return fmt.Errorf("schedule poll: %w", err)
	}

	e.Poll(ctx)
	e.sched.Start()

	return nil
}

// Stop cancels the poll schedule and closes the notifications channel.
// Idempotent; safe to call before Start.
func (e *Engine) Stop() {
	if e.sched != nil {
		e.sched.Stop()
	}

	if e.handle != nil {
		e.handle.Close()
	}
}

// Poll runs one reconciliation cycle against the ticket list capability.
func (e *Engine) Poll(ctx context.Context) {
	if !e.sess.Authenticated() {
		metrics.PollCycles.WithLabelValues("skipped").Inc()

		return
	}

	tickets, err := e.api.Tickets.List(ctx)
	if err != nil {
		metrics.PollCycles.WithLabelValues("error").Inc()
		e.log.WithError(err).Warn("notification poll failed")

		return
	}

	metrics.PollCycles.WithLabelValues("ok").Inc()
	e.reconcile(tickets)
}

// reconcile merges one polled snapshot into the list: freshly-qualifying
// tickets enter as poll entries, push entries survive unless superseded by a
// newer poll entry or by the read-marker, and at most one entry exists per
// ticket afterwards.
func (e *Engine) reconcile(tickets []client.Ticket) {
	user := e.sess.User()

	polled := make([]models.Notification, 0, len(tickets))
	for _, wire := range tickets {
		ticket := wire.Normalize()

		last, ok := ticket.LastMessage()
		if !ok || !last.FromOther(user.ID) {
			continue
		}

		if marker, ok := e.markers.LastSeen(user.ID, ticket.ID); ok && !last.Instant().After(marker) {
			continue
		}

		polled = append(polled, models.Notification{
			TicketID:  ticket.ID,
			Title:     ticket.Title,
			FromUser:  last.Author,
			Message:   last.Content,
			Timestamp: last.Timestamp,
			Source:    models.SourcePoll,
		})
	}

	e.mu.Lock()

	known := make(map[int64]bool, len(e.notifications))
	for _, n := range e.notifications {
		known[n.TicketID] = true
	}

	polledByTicket := make(map[int64]models.Notification, len(polled))
	for _, n := range polled {
		polledByTicket[n.TicketID] = n
	}

	merged := make([]models.Notification, 0, len(polled)+len(e.notifications))

	// Push entries first: they are strictly newer than the snapshot they
	// raced with. A push entry loses only to a newer poll entry for the
	// same ticket, or to a read-marker that has caught up.
	for _, prev := range e.notifications {
		if prev.Source != models.SourcePush {
			continue
		}

		if p, clash := polledByTicket[prev.TicketID]; clash {
			if p.Instant().After(prev.Instant()) {
				continue // superseded by newer poll data
			}
			delete(polledByTicket, prev.TicketID)
		} else if marker, ok := e.markers.LastSeen(user.ID, prev.TicketID); ok && !prev.Instant().After(marker) {
			continue // seen since the push arrived
		}

		merged = append(merged, prev)
	}

	for _, n := range polled {
		if _, still := polledByTicket[n.TicketID]; still {
			merged = append(merged, n)
		}
	}

	var fresh []models.Notification
	for _, n := range merged {
		if !known[n.TicketID] {
			fresh = append(fresh, n)
		}
	}

	changed := len(merged) != len(e.notifications)
	e.notifications = merged
	count := len(merged)
	e.mu.Unlock()

	metrics.LiveNotifications.Set(float64(count))

	for _, n := range fresh {
		e.emit(Event{Kind: EventNew, Notification: n, UnreadCount: count})
	}
	if len(fresh) == 0 && changed {
		e.emit(Event{Kind: EventCleared, UnreadCount: count})
	}
}

// handlePayload decodes one notifications-channel payload.
func (e *Engine) handlePayload(payload []byte) {
	frame, err := models.DecodeNotificationFrame(payload)
	if err != nil {
		e.log.WithError(err).Debug("dropping malformed notification payload")

		return
	}

	switch evt := frame.(type) {
	case models.NewMessageEvent:
		metrics.PushEvents.WithLabelValues("new_message").Inc()
		e.HandlePush(evt)
	case models.UnknownEvent:
		metrics.PushEvents.WithLabelValues("unknown").Inc()
		e.log.WithField("payload", string(evt.Raw)).Debug("ignoring unrecognized notification event")
	}
}

// HandlePush upserts a notification for a pushed new_message event. Events
// from the local user are ignored; an existing entry for the same ticket is
// replaced, never duplicated.
func (e *Engine) HandlePush(evt models.NewMessageEvent) {
	user := e.sess.User()
	if evt.FromUserID == user.ID {
		return
	}

	n := evt.Notification()

	e.mu.Lock()
	filtered := make([]models.Notification, 0, len(e.notifications)+1)
	filtered = append(filtered, n)
	for _, prev := range e.notifications {
		if prev.TicketID != n.TicketID {
			filtered = append(filtered, prev)
		}
	}
	e.notifications = filtered
	count := len(filtered)
	e.mu.Unlock()

	metrics.LiveNotifications.Set(float64(count))
	e.emit(Event{Kind: EventNew, Notification: n, UnreadCount: count})
}

// Notifications returns a copy of the live list, newest relevant first.
func (e *Engine) Notifications() []models.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.Notification, len(e.notifications))
	copy(out, e.notifications)

	return out
}

// UnreadCount is the badge value: always the list length.
func (e *Engine) UnreadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.notifications)
}

// MarkRead writes a fresh read-marker for the ticket and removes its entry.
func (e *Engine) MarkRead(ticketID int64) {
	user := e.sess.User()
	e.markers.SetLastSeen(user.ID, ticketID, time.Now())

	e.mu.Lock()
	kept := e.notifications[:0]
	for _, n := range e.notifications {
		if n.TicketID != ticketID {
			kept = append(kept, n)
		}
	}
	removed := len(kept) != len(e.notifications)
	e.notifications = kept
	count := len(kept)
	e.mu.Unlock()

	metrics.LiveNotifications.Set(float64(count))
	if removed {
		e.emit(Event{Kind: EventCleared, UnreadCount: count})
	}
}

// MarkAllRead writes each entry's own timestamp as its read-marker, then
// clears the list. Calling it twice is harmless.
func (e *Engine) MarkAllRead() {
	user := e.sess.User()

	e.mu.Lock()
	entries := e.notifications
	e.notifications = nil
	e.mu.Unlock()

	for _, n := range entries {
		ts := n.Instant()
		if ts.IsZero() {
			ts = time.Now()
		}
		e.markers.SetLastSeen(user.ID, n.TicketID, ts)
	}

	metrics.LiveNotifications.Set(0)
	if len(entries) > 0 {
		e.emit(Event{Kind: EventCleared, UnreadCount: 0})
	}
}

// OpenNotification marks the ticket read and returns the chat route the
// caller should navigate to.
func (e *Engine) OpenNotification(ticketID int64) string {
	e.MarkRead(ticketID)

	return fmt.Sprintf("/chat/%d", ticketID)
}

func (e *Engine) emit(evt Event) {
	select {
	case e.events <- evt:
	default:
		e.log.Debug("event subscriber not draining, dropping event")
	}
}
