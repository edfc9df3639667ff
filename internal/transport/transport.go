// Package transport owns the client side of the terminal data channel: one
// websocket connection, frame-level sends and lifecycle callbacks.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remote-agent-terminal/webterm/internal/metrics"
	"github.com/remote-agent-terminal/webterm/internal/protocol"
)

// Time allowed to write a frame to the peer.
const writeWait = 10 * time.Second

// State is the connection state of a Transport.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Callbacks receive the lifecycle events of a Transport. They are invoked
// from the transport's own goroutine. OnOpen and OnClose fire at most once;
// OnClose always fires, even when the dial fails.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func()
}

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// DropFunc observes frames discarded because the connection was not open.
type DropFunc func(kind protocol.Kind, size int, state State)

// Option configures a Transport.
type Option func(*Transport)

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d Dialer) Option {
	return func(t *Transport) {
		t.dialer = d
	}
}

// WithHeader sets extra handshake headers.
func WithHeader(h http.Header) Option {
	return func(t *Transport) {
		t.header = h
	}
}

// WithDropReporter replaces the default drop reporter, which logs a warning.
func WithDropReporter(fn DropFunc) Option {
	return func(t *Transport) {
		t.onDrop = fn
	}
}

// Transport owns exactly one websocket connection.
type Transport struct {
	endpoint string
	cb       Callbacks
	dialer   Dialer
	header   http.Header
	onDrop   DropFunc

	// mu guards state and conn. It is never held across socket I/O.
	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	// writeMu serializes data messages.
	writeMu sync.Mutex
}

// Dial starts connecting to endpoint and returns immediately. The outcome is
// reported only through cb.
func Dial(ctx context.Context, endpoint string, cb Callbacks, opts ...Option) *Transport {
	t := &Transport{
		endpoint: endpoint,
		cb:       normalize(cb),
		dialer:   websocket.DefaultDialer,
		onDrop:   logDrop,
		state:    StateConnecting,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	ctx, t.cancel = context.WithCancel(ctx)
	go t.run(ctx)
	return t
}

// Endpoint returns the URL the transport connects to.
func (t *Transport) Endpoint() string {
	return t.endpoint
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done returns a channel that is closed after OnClose has returned.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Send frames payload with kind and writes it as a single binary message.
// When the connection is not open the frame is dropped and reported; Send
// never queues and never fails loudly.
func (t *Transport) Send(kind protocol.Kind, payload []byte) {
	t.mu.Lock()
	if t.state != StateOpen {
		state := t.state
		t.mu.Unlock()
		metrics.FramesDropped.WithLabelValues(kind.String()).Inc()
		t.onDrop(kind, len(payload), state)
		return
	}

	conn := t.conn
	t.mu.Unlock()

	// A Close racing with this write makes it fail with ErrCloseSent or a
	// closed-connection error; nothing reaches the peer after the close frame.
	t.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteMessage(websocket.BinaryMessage, protocol.Encode(kind, payload))
	t.writeMu.Unlock()

	if err != nil {
		// The read loop observes the broken connection and reports it.
		slog.Warn("transport write failed", "kind", kind, "error", err)
		conn.Close()
		return
	}
	metrics.FramesSent.WithLabelValues(kind.String()).Inc()
}

// Close tears the connection down. It is safe to call in any state and more
// than once. Frames sent afterwards are dropped.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = StateClosed
	conn := t.conn
	t.mu.Unlock()

	// The close frame is skipped while a data write is stalled; closing the
	// socket below unblocks that write.
	if conn != nil && t.writeMu.TryLock() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		t.writeMu.Unlock()
	}
	t.cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (t *Transport) run(ctx context.Context) {
	defer t.finish()

	conn, _, err := t.dialer.DialContext(ctx, t.endpoint, t.header)
	if err != nil {
		if ctx.Err() == nil {
			t.cb.OnError(fmt.Errorf("failed to connect to %s: %w", t.endpoint, err))
		}
		return
	}

	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.state = StateOpen
	t.mu.Unlock()

	// Cancelling ctx is a proactive close, reported like Close.
	go func() {
		<-ctx.Done()
		t.Close()
	}()

	t.cb.OnOpen()
	t.readLoop(conn)
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if t.State() != StateClosed && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.cb.OnError(err)
			}
			return
		}
		metrics.BytesReceived.Add(float64(len(data)))
		t.cb.OnMessage(data)
	}
}

func (t *Transport) finish() {
	t.mu.Lock()
	t.state = StateClosed
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	t.cancel()
	t.cb.OnClose()
	close(t.done)
}

func logDrop(kind protocol.Kind, size int, state State) {
	slog.Warn("transport not open, dropping frame", "kind", kind, "bytes", size, "state", state)
}

func normalize(cb Callbacks) Callbacks {
	if cb.OnOpen == nil {
		cb.OnOpen = func() {}
	}
	if cb.OnMessage == nil {
		cb.OnMessage = func([]byte) {}
	}
	if cb.OnError == nil {
		cb.OnError = func(error) {}
	}
	if cb.OnClose == nil {
		cb.OnClose = func() {}
	}
	return cb
}
