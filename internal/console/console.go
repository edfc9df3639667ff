// Package console is a session.Surface backed by the process's own terminal.
// Escape sequences from the remote side are written through untouched; the
// user's terminal emulator interprets them.
package console

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/term"

	"github.com/remote-agent-terminal/webterm/internal/protocol"
	"github.com/remote-agent-terminal/webterm/internal/session"
)

// FallbackGeometry is reported when the output is not a terminal.
var FallbackGeometry = protocol.Geometry{Cols: 80, Rows: 24}

const readBufferSize = 4096

type fder interface {
	Fd() uintptr
}

// SizeFunc measures the container the surface fits into.
type SizeFunc func() (cols, rows int, err error)

// Console is a terminal surface over an input and an output stream.
type Console struct {
	in      io.Reader
	out     io.Writer
	inFd    int
	inTTY   bool
	measure SizeFunc

	mu         sync.Mutex
	size       protocol.Geometry
	background string
	oldState   *term.State
	onData     func([]byte)
	onResize   func(protocol.Geometry)
	opened     bool
	closed     bool
}

// Option configures a Console.
type Option func(*Console)

// WithSizeFunc replaces terminal size detection.
func WithSizeFunc(fn SizeFunc) Option {
	return func(c *Console) {
		c.measure = fn
	}
}

// New creates a Console reading user input from in and rendering to out.
// When in is a terminal it is switched to raw mode on Open.
func New(in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{in: in, out: out, inFd: -1}
	if f, ok := in.(fder); ok {
		c.inFd = int(f.Fd())
		c.inTTY = term.IsTerminal(c.inFd)
	}
	if f, ok := out.(fder); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		c.measure = func() (int, int, error) {
			return term.GetSize(fd)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ session.Surface = (*Console)(nil)

// Configure records the options applied on Open. Only the theme background
// has a terminal equivalent; other rendering options belong to the user's
// emulator.
func (c *Console) Configure(opts session.SurfaceOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.background = opts.Background
}

// Open enters raw mode, applies the background color and starts reading input.
func (c *Console) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		return errors.New("console already open")
	}
	if c.inTTY {
		state, err := term.MakeRaw(c.inFd)
		if err != nil {
			return fmt.Errorf("entering raw mode: %w", err)
		}
		c.oldState = state
	}
	if c.background != "" {
		fmt.Fprintf(c.out, "\x1b]11;%s\x07", c.background)
	}
	c.opened = true

	go c.readLoop()
	return nil
}

// Write renders remote output.
func (c *Console) Write(p []byte) (int, error) {
	n, err := c.out.Write(p)
	if err != nil {
		return n, fmt.Errorf("writing to console: %w", err)
	}
	return n, nil
}

// Writeln writes a status line. Raw mode needs an explicit carriage return.
func (c *Console) Writeln(line string) error {
	_, err := io.WriteString(c.out, line+"\r\n")
	return err
}

// Size returns the geometry from the last Fit.
func (c *Console) Size() protocol.Geometry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Fit measures the terminal and fires the resize notification on change.
func (c *Console) Fit() {
	g := FallbackGeometry
	if c.measure != nil {
		cols, rows, err := c.measure()
		if err != nil {
			slog.Debug("terminal size unavailable", "error", err)
		} else if m := (protocol.Geometry{Cols: cols, Rows: rows}); m.Valid() {
			g = m
		}
	}

	c.mu.Lock()
	changed := g != c.size
	c.size = g
	fn := c.onResize
	c.mu.Unlock()

	if changed && fn != nil {
		fn(g)
	}
}

// OnData registers the input callback.
func (c *Console) OnData(fn func([]byte)) {
	c.mu.Lock()
	c.onData = fn
	c.mu.Unlock()
}

// OnResize registers the geometry change callback.
func (c *Console) OnResize(fn func(protocol.Geometry)) {
	c.mu.Lock()
	c.onResize = fn
	c.mu.Unlock()
}

// Close resets the background and restores the terminal mode. The input
// reader stops at the next read; callbacks are not invoked after Close.
func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.background != "" {
		io.WriteString(c.out, "\x1b]111\x07")
	}
	if c.oldState != nil {
		if err := term.Restore(c.inFd, c.oldState); err != nil {
			return fmt.Errorf("exiting raw mode: %w", err)
		}
		c.oldState = nil
	}
	return nil
}

func (c *Console) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.in.Read(buf)
		if n > 0 {
			c.mu.Lock()
			fn := c.onData
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			if fn != nil {
				data := make([]byte, n)
				copy(data, buf[:n])
				fn(data)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("console input ended", "error", err)
			}
			return
		}
	}
}
