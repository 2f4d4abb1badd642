package conn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/assistio/intervene/internal/config"
	"github.com/assistio/intervene/internal/models"
	"github.com/assistio/intervene/internal/session"
)

// fakeTransport is an in-memory Transport driven by the test.
type fakeTransport struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	case <-t.closed:
		return nil, errors.New("transport closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) WriteMessage(_ context.Context, data []byte) error {
	select {
	case <-t.closed:
		return errors.New("transport closed")
	default:
	}

	t.mu.Lock()
	t.writes = append(t.writes, data)
	t.mu.Unlock()

	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) writeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.writes)
}

// fakeDialer hands out transports in order; a nil entry means dial failure.
type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	dials      int
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if len(d.transports) == 0 {
		return nil, errors.New("dial refused")
	}

	tr := d.transports[0]
	d.transports = d.transports[1:]
	if tr == nil {
		return nil, errors.New("dial refused")
	}

	return tr, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.dials
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func testManager(t *testing.T, token string, d Dialer) *Manager {
	t.Helper()

	sess := session.New(config.Secret(token), models.User{ID: 1, Role: models.RoleClient})
	m := NewManager("ws://test", sess, testLogger(),
		WithDialer(d), WithReconnectDelay(10*time.Millisecond))
	t.Cleanup(m.CloseAll)

	return m
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

func TestOpen_Unauthenticated(t *testing.T) {
	m := testManager(t, "", &fakeDialer{})

	_, err := m.OpenNotifications(context.Background(), Callbacks{})
	if !errors.Is(err, models.ErrUnauthenticated) {
		t.Errorf("got %v, want ErrUnauthenticated", err)
	}

	if d := m.dialer.(*fakeDialer).dialCount(); d != 0 {
		t.Errorf("expected no socket attempt, got %d dials", d)
	}
}

func TestOpen_DeliversMessages(t *testing.T) {
	tr := newFakeTransport()
	d := &fakeDialer{transports: []*fakeTransport{tr}}
	m := testManager(t, "tok", d)

	var mu sync.Mutex
	var got [][]byte

	h, err := m.OpenNotifications(context.Background(), Callbacks{
		OnMessage: func(p []byte) {
			mu.Lock()
			got = append(got, p)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	waitFor(t, "open status", func() bool { return h.Status() == StatusOpen })

	tr.in <- []byte(`{"event":"new_message"}`)

	waitFor(t, "message delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(got) == 1
	})
}

func TestSend_RequiresOpen(t *testing.T) {
	tr := newFakeTransport()
	d := &fakeDialer{transports: []*fakeTransport{tr}}
	m := testManager(t, "tok", d)

	h, err := m.OpenChat(context.Background(), 42, Callbacks{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	waitFor(t, "open status", func() bool { return h.Status() == StatusOpen })

	if err := h.SendJSON(context.Background(), map[string]string{"message": "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if tr.writeCount() != 1 {
		t.Errorf("got %d writes, want 1", tr.writeCount())
	}

	h.Close()
	<-h.Done()

	if err := h.Send(context.Background(), []byte("x")); !errors.Is(err, models.ErrNotConnected) {
		t.Errorf("send after close: got %v, want ErrNotConnected", err)
	}
}

func TestReconnect_AfterUnexpectedClose(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	d := &fakeDialer{transports: []*fakeTransport{first, second}}
	m := testManager(t, "tok", d)

	var mu sync.Mutex
	closes := 0

	h, err := m.OpenNotifications(context.Background(), Callbacks{
		OnClose: func(_ int, _ string) {
			mu.Lock()
			closes++
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	waitFor(t, "first open", func() bool { return h.Status() == StatusOpen })

	// Server drops the connection.
	first.Close() //nolint:errcheck

	waitFor(t, "reconnect", func() bool { return d.dialCount() == 2 && h.Status() == StatusOpen })

	mu.Lock()
	gotCloses := closes
	mu.Unlock()
	if gotCloses != 1 {
		t.Errorf("got %d OnClose calls, want 1", gotCloses)
	}
	if h.ReconnectAttempts() != 2 {
		t.Errorf("got %d attempts, want 2", h.ReconnectAttempts())
	}
}

func TestReconnect_KeepsRetryingDialFailures(t *testing.T) {
	d := &fakeDialer{} // every dial refused
	m := testManager(t, "tok", d)

	var mu sync.Mutex
	errs := 0

	h, err := m.OpenNotifications(context.Background(), Callbacks{
		OnError: func(_ error) {
			mu.Lock()
			errs++
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	waitFor(t, "repeated dials", func() bool { return d.dialCount() >= 3 })

	if h.Status() != StatusErrored && h.Status() != StatusConnecting {
		t.Errorf("got status %s", h.Status())
	}

	mu.Lock()
	gotErrs := errs
	mu.Unlock()
	if gotErrs < 2 {
		t.Errorf("got %d OnError calls, want >= 2", gotErrs)
	}
}

func TestClose_CancelsPendingReconnect(t *testing.T) {
	d := &fakeDialer{}
	m := testManager(t, "tok", d)

	h, err := m.OpenNotifications(context.Background(), Callbacks{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	waitFor(t, "first dial", func() bool { return d.dialCount() >= 1 })

	h.Close()
	h.Close() // idempotent
	<-h.Done()

	settled := d.dialCount()
	time.Sleep(50 * time.Millisecond)

	if d.dialCount() != settled {
		t.Errorf("dials continued after Close: %d -> %d", settled, d.dialCount())
	}
	if h.Status() != StatusClosed {
		t.Errorf("got status %s, want closed", h.Status())
	}
}

func TestOpen_ReplacesPriorHandleForSameKey(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	d := &fakeDialer{transports: []*fakeTransport{first, second}}
	m := testManager(t, "tok", d)

	h1, err := m.OpenChat(context.Background(), 42, Callbacks{})
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	waitFor(t, "first open", func() bool { return h1.Status() == StatusOpen })

	h2, err := m.OpenChat(context.Background(), 42, Callbacks{})
	if err != nil {
		t.Fatalf("open second: %v", err)
	}
	waitFor(t, "second open", func() bool { return h2.Status() == StatusOpen })

	<-h1.Done()
	if h1.Status() != StatusClosed {
		t.Errorf("prior handle status %s, want closed", h1.Status())
	}

	live, ok := m.Handle("chat:42")
	if !ok || live != h2 {
		t.Error("manager should track the replacement handle")
	}
}
