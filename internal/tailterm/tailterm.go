// Package tailterm serves data connections that follow log files, like
// tail -F, with optional colouring. Input from the client is discarded.
package tailterm

import (
	"bytes"
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

	"github.com/fsnotify/fsnotify"

	"github.com/remote-agent-terminal/webterm/internal/webterm"
)

const (
	// DefaultPollInterval bounds how late a change is noticed when no
	// file event arrives, e.g. on network filesystems.
	DefaultPollInterval = time.Second

	readChunk = 32 * 1024
	lineQueue = 256
)

// Source is one followed file.
type Source struct {
	Path    string
	Plugins []Plugin
}

// Config lists the files a connection follows.
type Config struct {
	Sources      []Source
	PollInterval time.Duration
}

// Spawner starts a follower per data connection.
type Spawner struct {
	cfg Config
}

var _ webterm.Spawner = (*Spawner)(nil)

func New(cfg Config) *Spawner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Spawner{cfg: cfg}
}

// Spawn starts following every source from its current end.
func (s *Spawner) Spawn(_ context.Context, req webterm.SpawnRequest) (webterm.Process, error) {
	if len(s.cfg.Sources) == 0 {
		return nil, errors.New("no files to follow")
	}

	followers := make([]*follower, 0, len(s.cfg.Sources))
	for _, src := range s.cfg.Sources {
		f := &follower{src: src, poll: s.cfg.PollInterval}
		if len(s.cfg.Sources) > 1 {
			f.prefix = ColorDarkGray + "[" + filepath.Base(src.Path) + "]" + ColorReset + " "
		}
		if err := f.open(true); err != nil {
			for _, prev := range followers {
				prev.closeFile()
			}
			return nil, err
		}
		followers = append(followers, f)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out, outW := io.Pipe()
	p := &Process{cancel: cancel, out: out}

	lines := make(chan string, lineQueue)
	for _, f := range followers {
		p.wg.Add(1)
		go func(f *follower) {
			defer p.wg.Done()
			f.run(ctx, lines)
		}(f)
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer outW.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case line := <-lines:
				if _, err := io.WriteString(outW, line+"\r\n"); err != nil {
					return
				}
			}
		}
	}()

	slog.Info("tail started", "files", len(followers), "remote_addr", req.RemoteAddr)
	return p, nil
}

// Process streams followed lines, each terminated by CRLF.
type Process struct {
	cancel context.CancelFunc
	out    *io.PipeReader
	wg     sync.WaitGroup
}

func (p *Process) Read(b []byte) (int, error) {
	return p.out.Read(b)
}

// Write discards input; a followed file is read-only.
func (p *Process) Write(b []byte) (int, error) {
	return len(b), nil
}

func (p *Process) SetWinSize(cols, rows int) error {
	return nil
}

func (p *Process) Close() error {
	p.cancel()
	p.out.Close()
	p.wg.Wait()
	return nil
}

// follower tracks one file across truncation and rotation.
type follower struct {
	src    Source
	prefix string
	poll   time.Duration

	file    *os.File
	info    os.FileInfo
	partial []byte
}

func (f *follower) open(atEnd bool) error {
	file, err := os.Open(f.src.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.src.Path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat %s: %w", f.src.Path, err)
	}
	if atEnd {
		if _, err := file.Seek(0, io.SeekEnd); err != nil {
			file.Close()
			return fmt.Errorf("failed to seek %s: %w", f.src.Path, err)
		}
	}
	f.file = file
	f.info = info
	f.partial = f.partial[:0]
	return nil
}

func (f *follower) closeFile() {
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}
}

// check reopens a replaced file from its start and rewinds a truncated one.
func (f *follower) check() {
	info, err := os.Stat(f.src.Path)
	if err != nil {
		return
	}
	if f.file == nil || !os.SameFile(info, f.info) {
		f.closeFile()
		if err := f.open(false); err != nil {
			slog.Debug("tail reopen failed", "path", f.src.Path, "error", err)
		}
		return
	}
	pos, err := f.file.Seek(0, io.SeekCurrent)
	if err == nil && info.Size() < pos {
		f.file.Seek(0, io.SeekStart)
		f.partial = f.partial[:0]
	}
}

func (f *follower) run(ctx context.Context, lines chan<- string) {
	defer f.closeFile()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if w, err := fsnotify.NewWatcher(); err != nil {
		slog.Debug("tail falling back to polling", "path", f.src.Path, "error", err)
	} else {
		defer w.Close()
		if err := w.Add(filepath.Dir(f.src.Path)); err != nil {
			slog.Debug("tail falling back to polling", "path", f.src.Path, "error", err)
		} else {
			events, errs = w.Events, w.Errors
		}
	}

	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()

	for {
		if !f.drain(ctx, lines) {
			return
		}
		f.check()
		if !f.drain(ctx, lines) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
			} else {
				slog.Debug("tail watcher error", "path", f.src.Path, "error", err)
			}
		}
	}
}

// drain emits every complete line currently readable. It returns false
// once ctx is done.
func (f *follower) drain(ctx context.Context, lines chan<- string) bool {
	if f.file == nil {
		return true
	}
	buf := make([]byte, readChunk)
	for {
		n, err := f.file.Read(buf)
		if n > 0 {
			f.partial = append(f.partial, buf[:n]...)
			for {
				i := bytes.IndexByte(f.partial, '\n')
				if i < 0 {
					break
				}
				line := strings.TrimSuffix(string(f.partial[:i]), "\r")
				f.partial = append(f.partial[:0], f.partial[i+1:]...)

				line, keep := apply(f.src.Plugins, line)
				if !keep {
					continue
				}
				select {
				case lines <- f.prefix + line:
				case <-ctx.Done():
					return false
				}
			}
		}
		if err != nil {
			return ctx.Err() == nil
		}
	}
}
