package main

import (
	"fmt"
	"io"

	"github.com/assistio/intervene/internal/chat"
	"github.com/assistio/intervene/internal/presenter"
)

// Terminal implementations of the presentation capabilities. Escape
// sequences go to the controlling terminal via stderr so stdout stays a
// clean message log.

// termNotifier raises a desktop-style notification through the OSC 9
// escape (iTerm2, kitty, and friends; terminals without it ignore the
// sequence). Terminals have no permission model, so it is always granted.
type termNotifier struct {
	out io.Writer
}

func (termNotifier) Permission() presenter.Permission        { return presenter.PermissionGranted }
func (termNotifier) RequestPermission() presenter.Permission { return presenter.PermissionGranted }

func (n termNotifier) Show(title, body string, _ func()) {
	fmt.Fprintf(n.out, "\033]9;%s: %s\a", title, body)
}

// bellSounder rings the terminal bell.
type bellSounder struct {
	out io.Writer
}

func (b bellSounder) Play() { fmt.Fprint(b.out, "\a") }

// termTitler sets the terminal title through the OSC 0 escape. The title
// cannot be read back, so Get returns the base it was created with.
type termTitler struct {
	base string
	out  io.Writer
}

func (t *termTitler) Get() string { return t.base }

func (t *termTitler) Set(title string) {
	fmt.Fprintf(t.out, "\033]0;%s\a", title)
}

// teeSession adapts a forwarded event stream to the presenter's Session
// interface, delegating read-marker writes to the real chat session.
type teeSession struct {
	room   *chat.Session
	events chan chat.Event
}

func newTeeSession(room *chat.Session) *teeSession {
	return &teeSession{room: room, events: make(chan chat.Event, 16)}
}

func (t *teeSession) Events() <-chan chat.Event { return t.events }

func (t *teeSession) MarkSeen() { t.room.MarkSeen() }

// forward hands one event to the bridge; a stalled bridge loses events
// rather than blocking chat rendering.
func (t *teeSession) forward(evt chat.Event) {
	select {
	case t.events <- evt:
	default:
	}
}
