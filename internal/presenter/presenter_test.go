package presenter_test

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/assistio/intervene/internal/chat"
	"github.com/assistio/intervene/internal/config"
	"github.com/assistio/intervene/internal/models"
	"github.com/assistio/intervene/internal/presenter"
	"github.com/assistio/intervene/internal/session"
)

type fakeNotifier struct {
	mu       sync.Mutex
	perm     presenter.Permission
	requests int
	shown    []string
}

func (n *fakeNotifier) Permission() presenter.Permission {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.perm
}

func (n *fakeNotifier) RequestPermission() presenter.Permission {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.requests++
	if n.perm == presenter.PermissionDefault {
		n.perm = presenter.PermissionGranted
	}

	return n.perm
}

func (n *fakeNotifier) Show(title, _ string, _ func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.shown = append(n.shown, title)
}

func (n *fakeNotifier) shownCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.shown)
}

type fakeSounder struct {
	mu    sync.Mutex
	plays int
}

func (s *fakeSounder) Play() {
	s.mu.Lock()
	s.plays++
	s.mu.Unlock()
}

func (s *fakeSounder) playCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.plays
}

type fakeTitler struct {
	mu    sync.Mutex
	title string
}

func (t *fakeTitler) Get() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.title
}

func (t *fakeTitler) Set(title string) {
	t.mu.Lock()
	t.title = title
	t.mu.Unlock()
}

type fakeSession struct {
	events chan chat.Event

	mu   sync.Mutex
	seen int
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan chat.Event, 16)}
}

func (s *fakeSession) Events() <-chan chat.Event { return s.events }

func (s *fakeSession) MarkSeen() {
	s.mu.Lock()
	s.seen++
	s.mu.Unlock()
}

func (s *fakeSession) seenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.seen
}

type fixture struct {
	bridge   *presenter.Bridge
	notifier *fakeNotifier
	sounder  *fakeSounder
	titler   *fakeTitler
	session  *fakeSession
	done     chan struct{}
}

func newFixture(t *testing.T, perm presenter.Permission) *fixture {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	notifier := &fakeNotifier{perm: perm}
	sounder := &fakeSounder{}
	titler := &fakeTitler{title: "Support Desk"}
	sess := session.New(config.Secret("tok"), models.User{ID: 1, Username: "alice", Role: models.RoleClient})

	f := &fixture{
		bridge:   presenter.New(notifier, sounder, titler, sess, log),
		notifier: notifier,
		sounder:  sounder,
		titler:   titler,
		session:  newFakeSession(),
		done:     make(chan struct{}),
	}

	go func() {
		defer close(f.done)
		f.bridge.Watch(f.session)
	}()
	t.Cleanup(func() {
		f.session.events <- chat.Event{Kind: chat.EventStateChange, State: chat.StateClosed}
		<-f.done
	})

	return f
}

func fromBob() models.Message {
	return models.Message{Kind: models.KindChat, AuthorID: 2, Author: "bob", Content: "hello there"}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestUnfocusedMessage_FullFanout(t *testing.T) {
	f := newFixture(t, presenter.PermissionGranted)
	f.bridge.SetFocused(false)

	f.session.events <- chat.Event{Kind: chat.EventMessage, Message: fromBob()}

	waitFor(t, "fanout", func() bool {
		return f.notifier.shownCount() == 1 && f.sounder.playCount() == 1 &&
			f.bridge.Badge() == 1 && f.titler.Get() == "(1) Support Desk"
	})

	select {
	case toast := <-f.bridge.Toasts():
		if toast.Title != "bob" || toast.Body != "hello there" {
			t.Errorf("unexpected toast %#v", toast)
		}
		if toast.ID == "" {
			t.Error("toast must carry an id")
		}
	default:
		t.Error("expected exactly one toast")
	}

	// Nothing was marked seen while unfocused.
	if f.session.seenCount() != 0 {
		t.Error("unfocused message must not advance the read-marker")
	}
}

func TestRefocus_ResetsBadgeAndMarksSeen(t *testing.T) {
	f := newFixture(t, presenter.PermissionGranted)
	f.bridge.SetFocused(false)

	f.session.events <- chat.Event{Kind: chat.EventMessage, Message: fromBob()}
	f.session.events <- chat.Event{Kind: chat.EventMessage, Message: fromBob()}

	waitFor(t, "badge", func() bool {
		return f.bridge.Badge() == 2 && f.titler.Get() == "(2) Support Desk"
	})

	f.bridge.SetFocused(true)

	if f.bridge.Badge() != 0 {
		t.Errorf("badge %d after refocus, want 0", f.bridge.Badge())
	}
	if got := f.titler.Get(); got != "Support Desk" {
		t.Errorf("title %q after refocus", got)
	}
	if f.session.seenCount() != 1 {
		t.Errorf("refocus must mark the open ticket read once, got %d", f.session.seenCount())
	}
}

func TestFocusedMessage_MarksSeenInsteadOfNotifying(t *testing.T) {
	f := newFixture(t, presenter.PermissionGranted)

	f.session.events <- chat.Event{Kind: chat.EventMessage, Message: fromBob()}

	waitFor(t, "mark seen", func() bool { return f.session.seenCount() == 1 })

	if f.notifier.shownCount() != 0 || f.sounder.playCount() != 0 || f.bridge.Badge() != 0 {
		t.Error("focused messages must not notify")
	}
}

func TestOwnMessage_Ignored(t *testing.T) {
	f := newFixture(t, presenter.PermissionGranted)
	f.bridge.SetFocused(false)

	own := models.Message{Kind: models.KindChat, AuthorID: 1, Author: "alice", Content: "mine"}
	sys := models.Message{Kind: models.KindSystem, Content: "employee joined"}
	f.session.events <- chat.Event{Kind: chat.EventMessage, Message: own}
	f.session.events <- chat.Event{Kind: chat.EventMessage, Message: sys}

	// Give the watch loop a beat to process both.
	time.Sleep(20 * time.Millisecond)

	if f.notifier.shownCount() != 0 || f.bridge.Badge() != 0 {
		t.Error("own and system messages must not notify")
	}
}

func TestPermission_RequestedOnce(t *testing.T) {
	f := newFixture(t, presenter.PermissionDefault)

	waitFor(t, "permission request", func() bool {
		f.notifier.mu.Lock()
		defer f.notifier.mu.Unlock()

		return f.notifier.requests == 1
	})
}

func TestPermission_DeniedWarnsOnceNeverPrompts(t *testing.T) {
	f := newFixture(t, presenter.PermissionDenied)

	select {
	case toast := <-f.bridge.Toasts():
		if toast.Title != "Notifications blocked" {
			t.Errorf("unexpected toast %#v", toast)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a denied warning toast")
	}

	if f.notifier.requests != 0 {
		t.Error("denied permission must never be re-prompted")
	}
	if !f.bridge.PermissionDenied() {
		t.Error("PermissionDenied() should report the refusal")
	}

	// A qualifying message still toasts and beeps, but no desktop dispatch.
	f.bridge.SetFocused(false)
	f.session.events <- chat.Event{Kind: chat.EventMessage, Message: fromBob()}

	waitFor(t, "sound", func() bool { return f.sounder.playCount() == 1 })

	if f.notifier.shownCount() != 0 {
		t.Error("denied permission must suppress desktop notifications")
	}
}
