// Package session binds one terminal Surface to one Transport and keeps the
// remote side's idea of the terminal geometry in sync with the surface.
//
// All session work runs on a single event loop (Run): transport callbacks,
// surface notifications and debounce expiry are posted to it, so the surface
// is never touched concurrently.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/remote-agent-terminal/webterm/internal/protocol"
	"github.com/remote-agent-terminal/webterm/internal/transport"
)

// Status lines written locally, styled so they stand apart from remote output.
const (
	errorLine  = "\x1b[31mConnection error.\x1b[0m"
	closedLine = "\x1b[33mConnection closed.\x1b[0m"
)

const eventQueueSize = 256

// State is the lifecycle state of a Session.
type State int32

const (
	StateInit State = iota
	StateFitting
	StateStreaming
	StateErrored
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateFitting:
		return "fitting"
	case StateStreaming:
		return "streaming"
	case StateErrored:
		return "errored"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further streaming can happen in this state.
func (s State) Terminal() bool {
	return s == StateErrored || s == StateClosed
}

// Config configures a Session.
type Config struct {
	Surface SurfaceOptions

	// ResizeDebounce is the window resize quiet interval.
	// Default: DefaultResizeDebounce.
	ResizeDebounce time.Duration

	// Banner, if set, is written to the surface once the connection opens.
	Banner string
}

// Session orchestrates one terminal against one Transport.
type Session struct {
	surface   Surface
	transport *transport.Transport
	debounce  *Debouncer
	banner    string

	state atomic.Int32

	events  chan func()
	stopped chan struct{}

	// Resize notifications are coalesced into one slot. Fit raises them on
	// the event loop itself, so they must never block on the event queue.
	resizeMu      sync.Mutex
	pendingResize protocol.Geometry
	hasResize     bool
	resized       chan struct{}

	// Owned by the event loop.
	lastSent   protocol.Geometry
	haveSent   bool
	connClosed bool

	closeOnce sync.Once
}

// New opens surface, connects a Transport to endpoint and wires the two
// together. The connection is established asynchronously; call Run to
// process its events.
func New(ctx context.Context, surface Surface, endpoint string, cfg Config, opts ...transport.Option) (*Session, error) {
	if cfg.ResizeDebounce <= 0 {
		cfg.ResizeDebounce = DefaultResizeDebounce
	}

	s := &Session{
		surface:  surface,
		debounce: NewDebouncer(cfg.ResizeDebounce),
		banner:   cfg.Banner,
		events:   make(chan func(), eventQueueSize),
		stopped:  make(chan struct{}),
		resized:  make(chan struct{}, 1),
	}

	surface.Configure(cfg.Surface)
	if err := surface.Open(); err != nil {
		return nil, fmt.Errorf("failed to open surface: %w", err)
	}
	surface.OnData(func(data []byte) {
		s.post(func() { s.handleInput(data) })
	})
	surface.OnResize(s.noteResize)

	// Teardown belongs to Unload: cancelling ctx must read as a proactive
	// close, not as a broken connection.
	s.transport = transport.Dial(context.WithoutCancel(ctx), endpoint, transport.Callbacks{
		OnOpen: func() {
			s.post(s.handleOpen)
		},
		OnMessage: func(data []byte) {
			s.post(func() { s.handleMessage(data) })
		},
		OnError: func(err error) {
			s.post(func() { s.handleError(err) })
		},
		OnClose: func() {
			s.post(s.handleClose)
		},
	}, opts...)

	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Transport returns the session's transport.
func (s *Session) Transport() *transport.Transport {
	return s.transport
}

// Run processes session events until the connection has closed. Cancelling
// ctx unloads the session; Run still waits for the close to be observed.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.stopped)

	done := ctx.Done()
	for {
		select {
		case fn := <-s.events:
			fn()
			if s.connClosed {
				return nil
			}
		case <-s.resized:
			if g, ok := s.takeResize(); ok {
				s.handleResize(g)
			}
		case <-done:
			done = nil
			s.Unload()
		}
	}
}

// WindowResized notes a host window resize. Bursts are coalesced: the
// surface is re-fit once, after no resize has arrived for the debounce
// interval.
func (s *Session) WindowResized() {
	s.debounce.Arm(func() {
		s.post(s.refit)
	})
}

// Unload tears the connection down. No frames are sent afterwards.
func (s *Session) Unload() {
	s.debounce.Cancel()
	if s.transport != nil {
		s.transport.Close()
	}
}

// Close unloads the session and closes its surface.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.Unload()
		err = s.surface.Close()
	})
	return err
}

func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.stopped:
	}
}

// noteResize records the latest surface geometry and wakes the event loop
// without blocking.
func (s *Session) noteResize(g protocol.Geometry) {
	s.resizeMu.Lock()
	s.pendingResize = g
	s.hasResize = true
	s.resizeMu.Unlock()

	select {
	case s.resized <- struct{}{}:
	default:
	}
}

func (s *Session) takeResize() (protocol.Geometry, bool) {
	s.resizeMu.Lock()
	defer s.resizeMu.Unlock()
	g, ok := s.pendingResize, s.hasResize
	s.hasResize = false
	return g, ok
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Session) handleOpen() {
	if s.State().Terminal() {
		return
	}
	s.setState(StateFitting)
	s.surface.Fit()
	s.sendGeometry(s.surface.Size())
	s.setState(StateStreaming)

	if s.banner != "" {
		s.writeln("\x1b[32m" + s.banner + "\x1b[0m")
	}
}

func (s *Session) handleInput(data []byte) {
	s.transport.Send(protocol.KindInput, data)
}

func (s *Session) handleResize(g protocol.Geometry) {
	if s.State().Terminal() {
		return
	}
	if s.State() == StateStreaming && s.haveSent && g == s.lastSent {
		return
	}
	s.sendGeometry(g)
}

func (s *Session) handleMessage(data []byte) {
	if _, err := s.surface.Write(data); err != nil {
		slog.Warn("surface write failed", "error", err)
	}
}

func (s *Session) handleError(err error) {
	slog.Debug("transport error", "endpoint", s.transport.Endpoint(), "error", err)
	s.writeln(errorLine)
	s.setState(StateErrored)
}

func (s *Session) handleClose() {
	s.debounce.Cancel()
	s.writeln(closedLine)
	if s.State() != StateErrored {
		s.setState(StateClosed)
	}
	s.connClosed = true
}

func (s *Session) refit() {
	if s.State().Terminal() {
		return
	}
	s.surface.Fit()
}

func (s *Session) sendGeometry(g protocol.Geometry) {
	payload, err := protocol.EncodeGeometry(g)
	if err != nil {
		slog.Warn("dropping geometry update", "geometry", g, "error", err)
		return
	}
	open := s.transport.State() == transport.StateOpen
	s.transport.Send(protocol.KindGeometry, payload)
	if open {
		s.lastSent = g
		s.haveSent = true
	}
}

func (s *Session) writeln(line string) {
	if err := s.surface.Writeln(line); err != nil {
		slog.Warn("surface write failed", "error", err)
	}
}
