// Package conntest provides in-memory fakes of the conn transport for
// state-machine tests that need a scriptable channel.
package conntest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/assistio/intervene/internal/conn"
)

// ErrClosed is returned by fake reads and writes after Close.
var ErrClosed = errors.New("conntest: transport closed")

// Transport is a scriptable in-memory conn.Transport.
type Transport struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes [][]byte
}

// NewTransport creates an open fake transport.
func NewTransport() *Transport {
	return &Transport{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

// Deliver queues one inbound payload for the reader.
func (t *Transport) Deliver(payload []byte) {
	t.in <- payload
}

// DeliverJSON marshals v and queues it for the reader.
func (t *Transport) DeliverJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.Deliver(data)

	return nil
}

// Writes returns a copy of every payload written so far.
func (t *Transport) Writes() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([][]byte, len(t.writes))
	copy(out, t.writes)

	return out
}

// Closed reports whether the transport has been torn down.
func (t *Transport) Closed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// ReadMessage implements conn.Transport.
func (t *Transport) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	case <-t.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteMessage implements conn.Transport.
func (t *Transport) WriteMessage(_ context.Context, data []byte) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}

	t.mu.Lock()
	t.writes = append(t.writes, data)
	t.mu.Unlock()

	return nil
}

// Close implements conn.Transport. Idempotent.
func (t *Transport) Close() error {
	t.once.Do(func() { close(t.closed) })

	return nil
}

// Dialer hands out scripted transports in order. A nil entry simulates a
// dial failure; an exhausted script also fails.
type Dialer struct {
	mu         sync.Mutex
	transports []*Transport
	dials      int
}

var _ conn.Dialer = (*Dialer)(nil)

// NewDialer creates a dialer scripted with the given transports.
func NewDialer(transports ...*Transport) *Dialer {
	return &Dialer{transports: transports}
}

// Dial implements conn.Dialer.
func (d *Dialer) Dial(_ context.Context, _ string) (conn.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if len(d.transports) == 0 {
		return nil, errors.New("conntest: dial refused")
	}

	tr := d.transports[0]
	d.transports = d.transports[1:]
	if tr == nil {
		return nil, errors.New("conntest: dial refused")
	}

	return tr, nil
}

// DialCount returns how many dials were attempted.
func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.dials
}
