// Package chat implements the per-ticket chat session: history load, live
// send/receive over the chat channel, close with rating collection, and the
// read-marker updates that suppress notifications for the open ticket.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/assistio/intervene/client"
	"github.com/assistio/intervene/internal/conn"
	"github.com/assistio/intervene/internal/metrics"
	"github.com/assistio/intervene/internal/models"
	"github.com/assistio/intervene/internal/session"
	"github.com/assistio/intervene/internal/statestore"
)

// State is the lifecycle state of a chat session. Closed and Error are
// terminal; a new session is created if the user retries.
type State int32

// Session states.
const (
	StateLoading State = iota
	StateActive
	StateClosing
	StateAwaitingRating
	StateClosed
	StateError
)

// String implements fmt.Stringer for log fields.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateAwaitingRating:
		return "awaiting_rating"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// EventKind tags session events.
type EventKind string

// Session event kinds.
const (
	// EventMessage fires for every message appended to the log.
	EventMessage EventKind = "message"
	// EventRejection fires for an inbound error frame; the session state is
	// unchanged and nothing is appended.
	EventRejection EventKind = "rejection"
	// EventStateChange fires on every state transition.
	EventStateChange EventKind = "state"
)

const eventBuffer = 64

// Event is delivered to the session's subscriber (UI, presentation bridge).
type Event struct {
	Kind    EventKind
	Message models.Message
	Text    string
	State   State
}

// Session is one open ticket chat. All mutations run under mu; callbacks
// from the connection handle arrive one at a time.
type Session struct {
	ticketID int64
	api      *client.Client
	mgr      *conn.Manager
	sess     *session.Context
	markers  *statestore.Store
	log      *logrus.Entry

	mu        sync.Mutex
	state     State
	stateErr  error
	messages  []models.Message
	pending   []models.Message // live frames received before history seeds
	seeded    bool
	rating    *int
	submitted bool

	connected bool
	handle    *conn.Handle

	events chan Event
}

// Open creates the session and enters Loading: it concurrently fetches the
// message history and opens the chat channel. With no token present the
// session lands in Error immediately and no socket attempt is made.
func Open(ctx context.Context, ticketID int64, api *client.Client, mgr *conn.Manager, sessCtx *session.Context, markers *statestore.Store, log *logrus.Logger) *Session {
	s := &Session{
		ticketID: ticketID,
		api:      api,
		mgr:      mgr,
		sess:     sessCtx,
		markers:  markers,
		log:      log.WithField("ticket_id", ticketID),
		state:    StateLoading,
		events:   make(chan Event, eventBuffer),
	}

	if !sessCtx.Authenticated() {
		s.fail(models.ErrUnauthenticated)

		return s
	}

	handle, err := mgr.OpenChat(ctx, ticketID, conn.Callbacks{
		OnMessage: s.handlePayload,
		OnOpen:    func() { s.setConnected(true) },
		OnClose:   func(_ int, _ string) { s.setConnected(false) },
		OnError:   s.handleConnError,
	})
	if err != nil {
		s.fail(err)

		return s
	}

	// The handle's run goroutine is already live and its callbacks read
	// s.handle, so the field is published under the lock. A dial failure can
	// beat the publication and fail the session first; the late handle must
	// then be closed here or its reconnect loop would outlive the session.
	s.mu.Lock()
	s.handle = handle
	terminal := s.state == StateError || s.state == StateClosed
	s.mu.Unlock()

	if terminal {
		handle.Close()

		return s
	}

	go s.load(ctx)

	return s
}

// load fetches history and the prior rating concurrently with the dial.
func (s *Session) load(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		history, err := s.api.Tickets.Messages(gctx, s.ticketID)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}

		s.seedHistory(history)

		return nil
	})

	// Recover the final rating of an already-closed chat. Best-effort: the
	// rating simply stays unknown on failure.
	g.Go(func() error {
		ticket, err := s.api.Tickets.Get(gctx, s.ticketID)
		if err != nil {
			s.log.WithError(err).Debug("rating recovery failed")

			return nil
		}

		if ticket.ChatRating != nil {
			s.mu.Lock()
			if s.rating == nil {
				s.rating = ticket.ChatRating
			}
			s.mu.Unlock()
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		s.fail(err)
	}
}

// seedHistory installs the normalized history as the log prefix, keeps any
// live frames that raced ahead as the suffix, and activates the session.
func (s *Session) seedHistory(history []client.Message) {
	s.mu.Lock()

	log := make([]models.Message, 0, len(history)+len(s.pending))
	for _, m := range history {
		log = append(log, m.Normalize(s.ticketID))
	}
	log = append(log, s.pending...)

	raced := s.pending
	s.messages = log
	s.pending = nil
	s.seeded = true

	transition := s.state == StateLoading
	if transition {
		s.state = StateActive
	}
	s.mu.Unlock()

	if transition {
		s.emit(Event{Kind: EventStateChange, State: StateActive})
	}

	// Frames that raced ahead of the history fetch surface now, in order.
	for _, msg := range raced {
		s.emit(Event{Kind: EventMessage, Message: msg})
	}
}

// TicketID returns the ticket the session is bound to.
func (s *Session) TicketID() int64 { return s.ticketID }

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Err returns the failure that drove the session into Error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stateErr
}

// Connected reports whether the chat channel is currently open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connected
}

// Messages returns a copy of the log, history prefix first, in arrival order.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)

	return out
}

// Rating returns the chat rating when known (recovered or collected).
func (s *Session) Rating() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rating == nil {
		return 0, false
	}

	return *s.rating, true
}

// Events is the subscription point for session events.
func (s *Session) Events() <-chan Event { return s.events }

// SendMessage transmits one chat line. Empty or whitespace-only text is a
// silent no-op. Roles other than client and employee are rejected before any
// transmission; a session that is not Active rejects with its lifecycle
// error. The message is not appended locally; the log reflects the
// channel's own echo of what the server accepted.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if !s.sess.User().Role.CanChat() {
		return models.ErrRoleForbidden
	}

	s.mu.Lock()
	state := s.state
	connected := s.connected
	handle := s.handle
	s.mu.Unlock()

	if state != StateActive {
		return models.ErrSessionClosed
	}
	if !connected {
		return models.ErrNotConnected
	}

	return handle.SendJSON(ctx, models.SendMessageFrame{Message: text})
}

// EndChat asks the server to close the chat. Employee-only; the state stays
// unchanged until the server confirms with a close frame.
func (s *Session) EndChat(ctx context.Context) error {
	if s.sess.User().Role != models.RoleEmployee {
		return models.ErrRoleForbidden
	}

	s.mu.Lock()
	state := s.state
	handle := s.handle
	s.mu.Unlock()

	if state != StateActive {
		return models.ErrSessionClosed
	}

	return handle.SendJSON(ctx, models.ActionFrame{Action: models.ActionEndChat})
}

// SubmitRating records the client's rating. Accepts exactly one integer in
// [1,5]; the frame is transmitted best-effort over the already-closing
// channel and the session reaches Closed regardless.
func (s *Session) SubmitRating(ctx context.Context, value int) error {
	if value < 1 || value > 5 {
		return models.ErrInvalidRating
	}

	s.mu.Lock()
	if s.state != StateAwaitingRating {
		s.mu.Unlock()

		return models.ErrSessionClosed
	}
	s.rating = &value
	s.submitted = true
	s.state = StateClosed
	handle := s.handle
	s.mu.Unlock()

	if handle != nil {
		if err := handle.SendJSON(ctx, models.ActionFrame{Action: models.ActionRateChat, Rating: value}); err != nil {
			s.log.WithError(err).Debug("rating transmission failed, keeping local value")
		}
	}

	s.emit(Event{Kind: EventStateChange, State: StateClosed})

	return nil
}

// MarkSeen advances the read-marker for the open ticket to now. Called by
// the presentation bridge when the user is actually looking at the chat.
func (s *Session) MarkSeen() {
	s.markers.SetLastSeen(s.sess.User().ID, s.ticketID, time.Now())
}

// Close tears the session down on unmount: the channel handle is closed
// synchronously, cancelling any pending reconnect.
func (s *Session) Close() {
	s.mu.Lock()
	transition := s.state == StateLoading || s.state == StateActive || s.state == StateAwaitingRating
	if transition {
		s.state = StateClosed
	}
	handle := s.handle
	s.mu.Unlock()

	if handle != nil {
		handle.Close()
	}

	if transition {
		s.emit(Event{Kind: EventStateChange, State: StateClosed})
	}
}

// handlePayload processes one inbound chat-channel payload.
func (s *Session) handlePayload(payload []byte) {
	frame, err := models.DecodeChatFrame(payload)
	if err != nil {
		s.log.WithError(err).Debug("dropping malformed chat payload")

		return
	}

	switch f := frame.(type) {
	case models.ChatMessageFrame:
		metrics.ChatFrames.WithLabelValues(string(f.Kind)).Inc()
		s.appendMessage(f.Message(s.ticketID))
	case models.ChatErrorFrame:
		metrics.ChatFrames.WithLabelValues("error").Inc()
		s.emit(Event{Kind: EventRejection, Text: f.Message})
	case models.ChatCloseFrame:
		metrics.ChatFrames.WithLabelValues("close_chat_channel").Inc()
		s.handleClose(f)
	case models.UnknownFrame:
		metrics.ChatFrames.WithLabelValues("unknown").Inc()
		s.log.WithField("payload", string(f.Raw)).Debug("ignoring unrecognized chat frame")
	}
}

// appendMessage adds one live message to the log, or to the pending buffer
// while history is still loading so the prefix order is preserved.
func (s *Session) appendMessage(msg models.Message) {
	s.mu.Lock()
	if !s.seeded {
		s.pending = append(s.pending, msg)
		s.mu.Unlock()

		return
	}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.emit(Event{Kind: EventMessage, Message: msg})
}

// handleClose drives the Closing transition: the channel is closed
// immediately, a carried rating is recorded, and clients move on to the
// rating prompt while everyone else lands in Closed.
func (s *Session) handleClose(f models.ChatCloseFrame) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateError {
		s.mu.Unlock()

		return
	}

	s.state = StateClosing
	s.connected = false
	if f.Rating != nil {
		s.rating = f.Rating
	}

	next := StateClosed
	if s.sess.User().Role == models.RoleClient {
		next = StateAwaitingRating
	}
	s.state = next
	handle := s.handle
	s.mu.Unlock()

	if handle != nil {
		handle.Close()
	}

	s.emit(Event{Kind: EventStateChange, State: next})
}

// handleConnError fails the session only while it is still loading; once
// Active, the handle's own reconnect loop covers transient drops.
func (s *Session) handleConnError(err error) {
	s.mu.Lock()
	loading := s.state == StateLoading
	s.mu.Unlock()

	if loading {
		s.fail(err)
	} else {
		s.log.WithError(err).Debug("chat channel error")
	}
}

// fail moves the session to the terminal Error state.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state == StateError || s.state == StateClosed {
		s.mu.Unlock()

		return
	}
	s.state = StateError
	s.stateErr = err
	s.connected = false
	handle := s.handle
	s.mu.Unlock()

	s.log.WithError(err).Warn("chat session failed")

	if handle != nil {
		handle.Close()
	}

	s.emit(Event{Kind: EventStateChange, State: StateError})
}

func (s *Session) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Session) emit(evt Event) {
	select {
	case s.events <- evt:
	default:
		s.log.Debug("event subscriber not draining, dropping event")
	}
}
