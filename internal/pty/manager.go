package pty

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/remote-agent-terminal/webterm/internal/buffer"
	"github.com/remote-agent-terminal/webterm/internal/logger"
	"github.com/remote-agent-terminal/webterm/internal/model"
	"github.com/remote-agent-terminal/webterm/internal/protocol"
)

const (
	// DefaultBufferSize is the output tail kept per terminal (64KB).
	DefaultBufferSize = 64 * 1024

	// ReadBufferSize is the chunk size for reading PTY output.
	ReadBufferSize = 4096

	// drainTimeout bounds how long exit handling waits for buffered output.
	drainTimeout = 500 * time.Millisecond
)

var (
	// ErrNotFound is returned for an unknown terminal ID.
	ErrNotFound = errors.New("terminal not found")

	// ErrClosed is returned when writing to or resizing a closed terminal.
	ErrClosed = errors.New("terminal is closed")
)

// DefaultGeometry is the window size used until a client reports one.
var DefaultGeometry = protocol.Geometry{Cols: 80, Rows: 24}

// SpawnOptions contains options for spawning a terminal.
type SpawnOptions struct {
	ID string

	// Command is a shell-like command line; simple quoting is honored.
	Command string

	// Env is added to the server's own environment.
	Env []string

	// Dir is the working directory. A leading ~ is expanded and the
	// directory is created if missing.
	Dir string

	// Size is the initial window size. Default: DefaultGeometry.
	Size protocol.Geometry

	// RecordPath, if set, receives an asciicast recording.
	RecordPath string

	// OnExit is called once when the process has exited.
	OnExit func(t *Terminal)
}

// Terminal is a managed command in a PTY. Its output is readable through
// Read; the most recent output is also kept in a ring buffer and recorded.
type Terminal struct {
	ID      string
	Command string

	proc   *Process
	buf    *buffer.RingBuffer
	rec    *logger.Recorder
	onExit func(t *Terminal)

	out  *io.PipeReader
	outW *io.PipeWriter

	readDone chan struct{}
	done     chan struct{}

	mu       sync.RWMutex
	size     protocol.Geometry
	closed   bool
	exitCode int
	exitErr  error
}

// Manager tracks running terminals.
type Manager struct {
	mu        sync.RWMutex
	terminals map[string]*Terminal

	// BufferSize is the output tail kept per terminal.
	BufferSize int
}

// NewManager creates a Manager keeping bufferSize bytes of output per terminal.
func NewManager(bufferSize int) *Manager {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Manager{
		terminals:  make(map[string]*Terminal),
		BufferSize: bufferSize,
	}
}

// Spawn starts a command in a new terminal.
func (m *Manager) Spawn(ctx context.Context, opts SpawnOptions) (*Terminal, error) {
	if opts.ID == "" {
		return nil, errors.New("terminal id is required")
	}
	if strings.TrimSpace(opts.Command) == "" {
		return nil, model.ErrCommandRequired
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !opts.Size.Valid() {
		opts.Size = DefaultGeometry
	}

	parts := splitCommand(opts.Command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("invalid command %q", opts.Command)
	}

	dir, err := prepareDir(opts.Dir)
	if err != nil {
		return nil, err
	}

	env := append(os.Environ(), "TERM=xterm-256color")
	env = append(env, opts.Env...)

	var rec *logger.Recorder
	if opts.RecordPath != "" {
		rec, err = logger.Create(opts.RecordPath)
		if err != nil {
			return nil, err
		}
		if err := rec.WriteHeader(opts.Size, opts.Command, map[string]string{"TERM": "xterm-256color"}); err != nil {
			rec.Close()
			return nil, err
		}
	}

	proc, err := Start(StartOptions{
		Command: parts[0],
		Args:    parts[1:],
		Env:     env,
		Dir:     dir,
		Size:    opts.Size,
	})
	if err != nil {
		if rec != nil {
			rec.Close()
		}
		return nil, err
	}

	out, outW := io.Pipe()
	t := &Terminal{
		ID:       opts.ID,
		Command:  opts.Command,
		proc:     proc,
		buf:      buffer.NewRingBuffer(m.BufferSize),
		rec:      rec,
		onExit:   opts.OnExit,
		out:      out,
		outW:     outW,
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
		size:     opts.Size,
	}

	m.mu.Lock()
	m.terminals[t.ID] = t
	m.mu.Unlock()

	go t.readLoop()
	go t.waitLoop(m)

	return t, nil
}

// Get returns the terminal with the given ID.
func (m *Manager) Get(id string) (*Terminal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.terminals[id]
	return t, ok
}

// Kill terminates the terminal with the given ID.
func (m *Manager) Kill(id string) error {
	t, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.Close()
}

// Resize changes the window size of the terminal with the given ID.
func (m *Manager) Resize(id string, g protocol.Geometry) error {
	t, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.SetWinSize(g.Cols, g.Rows)
}

// Write sends input to the terminal with the given ID.
func (m *Manager) Write(id string, data []byte) error {
	t, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	_, err := t.Write(data)
	return err
}

// List returns all running terminals.
func (m *Manager) List() []*Terminal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Terminal, 0, len(m.terminals))
	for _, t := range m.terminals {
		result = append(result, t)
	}
	return result
}

// Len returns the number of running terminals.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.terminals)
}

// Close terminates every terminal.
func (m *Manager) Close() error {
	var firstErr error
	for _, t := range m.List() {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.terminals, id)
	m.mu.Unlock()
}

// Read reads process output. It returns io.EOF once the process has exited
// and its output is drained.
func (t *Terminal) Read(p []byte) (int, error) {
	return t.out.Read(p)
}

// Write sends input to the process.
func (t *Terminal) Write(p []byte) (int, error) {
	if t.IsClosed() {
		return 0, ErrClosed
	}
	n, err := t.proc.Device.Write(p)
	if err != nil {
		return n, fmt.Errorf("failed to write to terminal: %w", err)
	}
	if t.rec != nil {
		t.rec.Input(p[:n])
	}
	return n, nil
}

// SetWinSize resizes the terminal.
func (t *Terminal) SetWinSize(cols, rows int) error {
	g := protocol.Geometry{Cols: cols, Rows: rows}
	if !g.Valid() {
		return fmt.Errorf("%w: %s", protocol.ErrInvalidGeometry, g)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if err := t.proc.Device.Resize(g); err != nil {
		return fmt.Errorf("failed to resize terminal: %w", err)
	}
	t.size = g
	if t.rec != nil {
		t.rec.Resize(g)
	}
	return nil
}

// Size returns the current window size.
func (t *Terminal) Size() protocol.Geometry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// PID returns the process ID.
func (t *Terminal) PID() int {
	return t.proc.PID()
}

// Tail returns the most recent output.
func (t *Terminal) Tail() []byte {
	return t.buf.Bytes()
}

// LastLine returns the last visible line of output.
func (t *Terminal) LastLine() string {
	return t.buf.LastLine()
}

// OutputDone is closed once the PTY has no more output to read, which
// normally means the process is exiting.
func (t *Terminal) OutputDone() <-chan struct{} {
	return t.readDone
}

// Done is closed when the process has exited.
func (t *Terminal) Done() <-chan struct{} {
	return t.done
}

// ExitCode returns the exit code and wait error. Valid after Done.
func (t *Terminal) ExitCode() (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.exitCode, t.exitErr
}

// IsClosed reports whether Close has been called.
func (t *Terminal) IsClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// Close kills the process and releases the PTY and recording.
func (t *Terminal) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	var firstErr error
	select {
	case <-t.done:
	default:
		if err := t.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			firstErr = err
		}
	}
	if err := t.proc.Device.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	t.out.Close()
	if t.rec != nil {
		if err := t.rec.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Terminal) readLoop() {
	defer close(t.readDone)
	defer t.outW.Close()

	buf := make([]byte, ReadBufferSize)
	for {
		n, err := t.proc.Device.Read(buf)
		if n > 0 {
			data := buf[:n]
			t.buf.Write(data)
			if t.rec != nil {
				t.rec.Output(data)
			}
			// Output is discarded once the reader has gone away.
			t.outW.Write(data)
		}
		if err != nil {
			return
		}
	}
}

func (t *Terminal) waitLoop(m *Manager) {
	code, err := t.proc.Wait()

	select {
	case <-t.readDone:
	case <-time.After(drainTimeout):
	}

	t.mu.Lock()
	t.exitCode = code
	t.exitErr = err
	t.mu.Unlock()
	close(t.done)

	if err != nil {
		slog.Warn("terminal wait failed", "terminal", t.ID, "error", err)
	}
	if t.onExit != nil {
		t.onExit(t)
	}

	t.Close()
	m.remove(t.ID)
}

func prepareDir(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create working directory %s: %w", dir, err)
	}
	return dir, nil
}

// splitCommand splits a command line into words, honoring single and double
// quotes.
func splitCommand(cmd string) []string {
	var (
		parts  []string
		word   strings.Builder
		inWord bool
		quote  rune
	)
	for _, r := range cmd {
		switch {
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			word.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				parts = append(parts, word.String())
				word.Reset()
				inWord = false
			}
		default:
			word.WriteRune(r)
			inWord = true
		}
	}
	if inWord {
		parts = append(parts, word.String())
	}
	return parts
}
