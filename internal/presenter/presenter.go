// Package presenter is the presentation bridge: it turns "message from
// someone else while the window is unfocused" into a desktop notification,
// an in-page toast, an audible cue, and a numeric title badge, and resets
// the badge when focus returns.
package presenter

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/assistio/intervene/internal/chat"
	"github.com/assistio/intervene/internal/models"
	"github.com/assistio/intervene/internal/session"
)

// Permission is the desktop-notification permission state.
type Permission string

// Permission states.
const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Notifier is the platform desktop-notification capability.
type Notifier interface {
	Permission() Permission
	// RequestPermission prompts the user and returns the decided state.
	RequestPermission() Permission
	// Show displays a desktop notification; onClick fires if the user
	// activates it.
	Show(title, body string, onClick func())
}

// Sounder plays the audible new-message cue.
type Sounder interface {
	Play()
}

// Titler reads and writes the page (or terminal) title.
type Titler interface {
	Get() string
	Set(title string)
}

// Session is the subset of the chat session the bridge consumes, satisfied
// by *chat.Session and by fakes in tests.
type Session interface {
	Events() <-chan chat.Event
	MarkSeen()
}

// Toast is one in-page toast.
type Toast struct {
	ID    string
	Title string
	Body  string
}

const toastBuffer = 16

// Bridge fans chat-session events out to the platform capabilities. One
// bridge serves one open session at a time.
type Bridge struct {
	notifier Notifier
	sounder  Sounder
	titler   Titler
	sess     *session.Context
	log      *logrus.Logger

	mu        sync.Mutex
	focused   bool
	badge     int
	baseTitle string
	requested bool
	warned    bool
	current   Session

	toasts chan Toast
}

// New creates a bridge. The window is assumed focused until told otherwise.
func New(notifier Notifier, sounder Sounder, titler Titler, sess *session.Context, log *logrus.Logger) *Bridge {
	return &Bridge{
		notifier:  notifier,
		sounder:   sounder,
		titler:    titler,
		sess:      sess,
		log:       log,
		focused:   true,
		baseTitle: titler.Get(),
		toasts:    make(chan Toast, toastBuffer),
	}
}

// Toasts is the subscription point for in-page toasts.
func (b *Bridge) Toasts() <-chan Toast { return b.toasts }

// PermissionDenied reports whether the user has refused desktop
// notifications; surfaced as an inline warning, never re-prompted.
func (b *Bridge) PermissionDenied() bool {
	return b.notifier.Permission() == PermissionDenied
}

// Watch consumes a session's events until the channel closes or the session
// reaches a terminal state. It requests notification permission once per
// bridge lifetime if the user has not decided yet.
func (b *Bridge) Watch(s Session) {
	b.mu.Lock()
	b.current = s
	b.mu.Unlock()

	b.ensurePermission()

	for evt := range s.Events() {
		switch evt.Kind {
		case chat.EventMessage:
			b.handleMessage(s, evt.Message)
		case chat.EventRejection:
			b.pushToast("Message rejected", evt.Text)
		case chat.EventStateChange:
			if evt.State == chat.StateAwaitingRating || evt.State == chat.StateClosed {
				b.pushToast("Chat ended", "This chat has been closed.")
			}
			if evt.State == chat.StateClosed || evt.State == chat.StateError {
				return
			}
		}
	}
}

// handleMessage applies the qualifying condition: from someone else while
// the window is unfocused. A focused user is reading the chat, so the
// read-marker advances instead.
func (b *Bridge) handleMessage(s Session, msg models.Message) {
	if !msg.FromOther(b.sess.User().ID) {
		return
	}

	b.mu.Lock()
	focused := b.focused
	b.mu.Unlock()

	if focused {
		s.MarkSeen()

		return
	}

	if b.notifier.Permission() == PermissionGranted {
		b.notifier.Show(msg.Author, msg.Content, func() { b.SetFocused(true) })
	}
	b.pushToast(msg.Author, msg.Content)
	b.sounder.Play()
	b.incrementBadge()
}

// SetFocused records window focus. Regaining focus resets the title badge
// and marks the open ticket's read-marker as now.
func (b *Bridge) SetFocused(focused bool) {
	b.mu.Lock()
	regained := focused && !b.focused
	b.focused = focused
	if regained {
		b.badge = 0
	}
	current := b.current
	b.mu.Unlock()

	if !regained {
		return
	}

	b.titler.Set(b.baseTitle)
	if current != nil {
		current.MarkSeen()
	}
}

// Badge returns the current title-badge count.
func (b *Bridge) Badge() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.badge
}

func (b *Bridge) incrementBadge() {
	b.mu.Lock()
	b.badge++
	badge := b.badge
	b.mu.Unlock()

	b.titler.Set(fmt.Sprintf("(%d) %s", badge, b.baseTitle))
}

// ensurePermission asks for desktop-notification permission at most once
// per bridge lifetime, and surfaces a denial exactly once.
func (b *Bridge) ensurePermission() {
	b.mu.Lock()
	requested := b.requested
	b.requested = true
	b.mu.Unlock()

	perm := b.notifier.Permission()
	if perm == PermissionDefault && !requested {
		perm = b.notifier.RequestPermission()
	}

	if perm == PermissionDenied {
		b.mu.Lock()
		warned := b.warned
		b.warned = true
		b.mu.Unlock()

		if !warned {
			b.log.Warn("desktop notifications are blocked; showing inline alerts only")
			b.pushToast("Notifications blocked", "Enable notifications in your browser settings to get alerts.")
		}
	}
}

func (b *Bridge) pushToast(title, body string) {
	toast := Toast{ID: uuid.NewString(), Title: title, Body: body}

	select {
	case b.toasts <- toast:
	default:
		b.log.Debug("toast subscriber not draining, dropping toast")
	}
}
