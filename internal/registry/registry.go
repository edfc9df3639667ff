// Package registry tracks the terminal sessions behind live data
// connections: it spawns their processes, enforces the connection limit and
// keeps their persisted records current.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remote-agent-terminal/webterm/internal/model"
	"github.com/remote-agent-terminal/webterm/internal/protocol"
	"github.com/remote-agent-terminal/webterm/internal/pty"
	"github.com/remote-agent-terminal/webterm/internal/repository"
	"github.com/remote-agent-terminal/webterm/internal/webterm"
)

// Config holds configuration for the registry.
type Config struct {
	// Command is run for every connection.
	Command string

	// Env is added to the server environment of each process.
	Env []string

	// WorkDir is the working directory of each process.
	WorkDir string

	// LogDir receives one asciicast recording per session. Empty disables
	// recording.
	LogDir string

	// MaxConnections bounds concurrent sessions. Zero means unlimited.
	MaxConnections int
}

// Registry manages terminal sessions.
type Registry struct {
	terms *pty.Manager
	repo  *repository.SessionRepository
	cfg   Config

	mu    sync.RWMutex
	conns map[string]*Conn
}

var _ webterm.Spawner = (*Registry)(nil)

// New creates a Registry.
func New(terms *pty.Manager, repo *repository.SessionRepository, cfg Config) *Registry {
	return &Registry{
		terms: terms,
		repo:  repo,
		cfg:   cfg,
		conns: make(map[string]*Conn),
	}
}

// Spawn implements webterm.Spawner.
func (r *Registry) Spawn(ctx context.Context, req webterm.SpawnRequest) (webterm.Process, error) {
	c, err := r.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Open starts a new session for a data connection.
func (r *Registry) Open(ctx context.Context, req webterm.SpawnRequest) (*Conn, error) {
	if r.cfg.Command == "" {
		return nil, model.ErrCommandRequired
	}
	size := req.Size
	if !size.Valid() {
		size = pty.DefaultGeometry
	}

	id := uuid.New().String()
	now := time.Now()
	c := &Conn{
		reg: r,
		session: model.Session{
			ID:         id,
			Command:    r.cfg.Command,
			Env:        envMap(r.cfg.Env),
			Status:     model.SessionStatusRunning,
			Cols:       size.Cols,
			Rows:       size.Rows,
			RemoteAddr: req.RemoteAddr,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
	if r.cfg.LogDir != "" {
		c.session.LogFilePath = filepath.Join(r.cfg.LogDir, id+".cast")
	}

	// Reserve the slot before spawning so concurrent opens respect the limit.
	r.mu.Lock()
	if r.cfg.MaxConnections > 0 && len(r.conns) >= r.cfg.MaxConnections {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %d connections open", model.ErrConcurrencyLimit, r.cfg.MaxConnections)
	}
	r.conns[id] = c
	r.mu.Unlock()

	record := c.session
	if err := r.repo.Create(ctx, &record); err != nil {
		r.release(id)
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	term, err := r.terms.Spawn(ctx, pty.SpawnOptions{
		ID:         id,
		Command:    r.cfg.Command,
		Env:        r.cfg.Env,
		Dir:        r.cfg.WorkDir,
		Size:       size,
		RecordPath: c.session.LogFilePath,
		OnExit:     c.exited,
	})
	if err != nil {
		r.release(id)
		if uerr := r.repo.UpdateStatus(context.Background(), id, model.SessionStatusFailed, nil); uerr != nil {
			slog.Warn("failed to record spawn failure", "session", id, "error", uerr)
		}
		return nil, fmt.Errorf("failed to spawn terminal: %w", err)
	}

	pid := term.PID()
	c.mu.Lock()
	c.term = term
	c.session.PID = &pid
	c.mu.Unlock()
	if err := r.repo.UpdatePID(ctx, id, pid); err != nil {
		slog.Warn("failed to record pid", "session", id, "error", err)
	}

	slog.Info("terminal session opened", "session", id, "pid", pid, "remote", req.RemoteAddr)
	return c, nil
}

// Get returns a session, live or finished.
func (r *Registry) Get(ctx context.Context, id string) (*model.Session, error) {
	if c, ok := r.conn(id); ok {
		s := c.Session()
		return &s, nil
	}
	return r.repo.GetByID(ctx, id)
}

// List returns sessions newest first, optionally filtered by status.
func (r *Registry) List(ctx context.Context, status model.SessionStatus) ([]*model.Session, error) {
	sessions, err := r.repo.List(ctx, status)
	if err != nil {
		return nil, err
	}
	for i, s := range sessions {
		if c, ok := r.conn(s.ID); ok {
			live := c.Session()
			sessions[i] = &live
		}
	}
	return sessions, nil
}

// Resize applies a geometry to a live session.
func (r *Registry) Resize(id string, g protocol.Geometry) error {
	c, ok := r.conn(id)
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrSessionNotRunning, id)
	}
	return c.SetWinSize(g.Cols, g.Rows)
}

// Kill terminates a live session. Its data connection ends as a result.
func (r *Registry) Kill(ctx context.Context, id string) error {
	c, ok := r.conn(id)
	if !ok {
		if _, err := r.repo.GetByID(ctx, id); err != nil {
			return err
		}
		return model.ErrSessionNotRunning
	}
	return c.Close()
}

// Delete kills the session if live, then removes its record and recording.
func (r *Registry) Delete(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if c, ok := r.conn(id); ok {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close session", "session", id, "error", err)
		}
	}
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.LogFilePath != "" {
		if err := os.Remove(s.LogFilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to remove recording", "session", id, "error", err)
		}
	}
	return nil
}

// Active returns the number of live sessions.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// MaxConnections returns the configured connection limit.
func (r *Registry) MaxConnections() int {
	return r.cfg.MaxConnections
}

// Close terminates every live session.
func (r *Registry) Close() error {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	var firstErr error
	for _, c := range conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) conn(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *Registry) release(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// finish records the final state of a session and releases its slot.
func (r *Registry) finish(c *Conn, term *pty.Terminal, status model.SessionStatus) {
	var exitCode *int
	select {
	case <-term.Done():
		if status == model.SessionStatusClosed {
			status = model.SessionStatusExited
		}
		code, err := term.ExitCode()
		if err != nil {
			status = model.SessionStatusFailed
		} else {
			exitCode = &code
		}
	default:
	}
	preview := term.LastLine()

	c.mu.Lock()
	c.session.Status = status
	c.session.ExitCode = exitCode
	c.session.PreviewLine = preview
	c.session.UpdatedAt = time.Now()
	id := c.session.ID
	c.mu.Unlock()

	ctx := context.Background()
	if err := r.repo.UpdatePreviewLine(ctx, id, preview); err != nil {
		slog.Warn("failed to update preview line", "session", id, "error", err)
	}
	if err := r.repo.UpdateStatus(ctx, id, status, exitCode); err != nil {
		slog.Warn("failed to update session status", "session", id, "error", err)
	}

	r.release(id)
	slog.Info("terminal session finished", "session", id, "status", status)
}

// envMap turns KEY=VALUE pairs into the map stored with a session.
func envMap(env []string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	m := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}
