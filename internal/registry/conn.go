package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/remote-agent-terminal/webterm/internal/model"
	"github.com/remote-agent-terminal/webterm/internal/protocol"
	"github.com/remote-agent-terminal/webterm/internal/pty"
)

// exitGrace bounds how long Close waits for a process whose output has
// ended to be reaped.
const exitGrace = time.Second

// Conn is a live session as seen by its data connection. It implements
// webterm.Process.
type Conn struct {
	reg *Registry

	mu      sync.Mutex
	session model.Session
	term    *pty.Terminal

	finishOnce sync.Once
}

// ID returns the session ID.
func (c *Conn) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ID
}

// Session returns a snapshot of the session record.
func (c *Conn) Session() model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Conn) terminal() *pty.Terminal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.term
}

// Read reads process output.
func (c *Conn) Read(p []byte) (int, error) {
	return c.terminal().Read(p)
}

// Write sends input to the process.
func (c *Conn) Write(p []byte) (int, error) {
	return c.terminal().Write(p)
}

// SetWinSize resizes the terminal and persists the new geometry.
func (c *Conn) SetWinSize(cols, rows int) error {
	if err := c.terminal().SetWinSize(cols, rows); err != nil {
		return err
	}

	g := protocol.Geometry{Cols: cols, Rows: rows}
	c.mu.Lock()
	c.session.Cols, c.session.Rows = cols, rows
	id := c.session.ID
	c.mu.Unlock()

	if err := c.reg.repo.UpdateGeometry(context.Background(), id, g); err != nil {
		slog.Warn("failed to persist geometry", "session", id, "error", err)
	}
	return nil
}

// Close ends the session. A process still running is killed and the
// session is recorded as closed.
func (c *Conn) Close() error {
	term := c.terminal()
	if term == nil {
		return nil
	}
	select {
	case <-term.OutputDone():
		select {
		case <-term.Done():
		case <-time.After(exitGrace):
		}
	default:
	}
	c.finishOnce.Do(func() {
		c.reg.finish(c, term, model.SessionStatusClosed)
	})
	return term.Close()
}

// exited is the terminal's exit callback.
func (c *Conn) exited(term *pty.Terminal) {
	c.finishOnce.Do(func() {
		c.reg.finish(c, term, model.SessionStatusExited)
	})
}
