// Package sshterm serves data connections from a shell on a remote host
// reached over SSH.
package sshterm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/crypto/ssh"

	"github.com/remote-agent-terminal/webterm/internal/protocol"
	"github.com/remote-agent-terminal/webterm/internal/webterm"
)

const (
	defaultPort     = 22
	defaultTermType = "xterm"
	dialTimeout     = 10 * time.Second
)

// ErrUnsupportedControl is returned for extension payloads that carry no
// known control.
var ErrUnsupportedControl = errors.New("unsupported control message")

// Config describes the remote host and how to log in to it.
type Config struct {
	Network string
	Host    string
	Port    int
	User    string

	// TermType is sent with the pty request. Default: xterm.
	TermType string

	// Command runs instead of the login shell when set.
	Command string

	Auth            []ssh.AuthMethod
	HostKeyCallback ssh.HostKeyCallback
}

// Spawner dials one SSH session per data connection.
type Spawner struct {
	cfg Config
}

var _ webterm.Spawner = (*Spawner)(nil)

// New returns a Spawner for cfg. A nil HostKeyCallback rejects every host.
func New(cfg Config) *Spawner {
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.User == "" {
		cfg.User = os.Getenv("USER")
	}
	if cfg.TermType == "" {
		cfg.TermType = defaultTermType
	}
	if cfg.HostKeyCallback == nil {
		cfg.HostKeyCallback = func(string, net.Addr, ssh.PublicKey) error {
			return errors.New("no host key callback configured")
		}
	}
	return &Spawner{cfg: cfg}
}

// Addr is the host:port the spawner dials.
func (s *Spawner) Addr() string {
	return net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
}

// Spawn logs in, requests a pty sized to req.Size and starts the shell or
// the configured command.
func (s *Spawner) Spawn(ctx context.Context, req webterm.SpawnRequest) (webterm.Process, error) {
	addr := s.Addr()
	dialer := net.Dialer{Timeout: dialTimeout}
	nc, err := dialer.DialContext(ctx, s.cfg.Network, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		nc.SetDeadline(deadline)
	}

	cc, chans, reqs, err := ssh.NewClientConn(nc, addr, &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            s.cfg.Auth,
		HostKeyCallback: s.cfg.HostKeyCallback,
		Timeout:         dialTimeout,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	nc.SetDeadline(time.Time{})
	client := ssh.NewClient(cc, chans, reqs)

	p, err := start(client, s.cfg, req.Size)
	if err != nil {
		client.Close()
		return nil, err
	}
	slog.Info("ssh session started", "addr", addr, "user", s.cfg.User, "remote_addr", req.RemoteAddr)
	return p, nil
}

// Process is one SSH session. Stdout and stderr share the output stream.
type Process struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	out     *io.PipeReader

	closeOnce sync.Once
}

var (
	_ webterm.Process    = (*Process)(nil)
	_ webterm.ExtHandler = (*Process)(nil)
)

func start(client *ssh.Client, cfg Config, size protocol.Geometry) (*Process, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	out, outW := io.Pipe()
	session.Stdout = outW
	session.Stderr = outW

	if !size.Valid() {
		size = protocol.Geometry{Cols: 80, Rows: 24}
	}
	modes := ssh.TerminalModes{ssh.ECHO: 1}
	if err := session.RequestPty(cfg.TermType, size.Rows, size.Cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("pty request failed: %w", err)
	}

	if cfg.Command != "" {
		err = session.Start(cfg.Command)
	} else {
		err = session.Shell()
	}
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start remote shell: %w", err)
	}

	go func() {
		err := session.Wait()
		var exitErr *ssh.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			slog.Debug("ssh session ended", "error", err)
		}
		outW.Close()
	}()

	return &Process{client: client, session: session, stdin: stdin, out: out}, nil
}

func (p *Process) Read(b []byte) (int, error) {
	return p.out.Read(b)
}

func (p *Process) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

// SetWinSize forwards the geometry as a window-change request.
func (p *Process) SetWinSize(cols, rows int) error {
	return p.session.WindowChange(rows, cols)
}

// HandleExt accepts `{"signal":"INT"}` style payloads and delivers the
// signal to the remote process.
func (p *Process) HandleExt(payload []byte) error {
	if !gjson.ValidBytes(payload) {
		return ErrUnsupportedControl
	}
	sig := gjson.GetBytes(payload, "signal")
	if sig.Type != gjson.String || sig.Str == "" {
		return ErrUnsupportedControl
	}
	name := strings.TrimPrefix(strings.ToUpper(sig.Str), "SIG")
	return p.session.Signal(ssh.Signal(name))
}

// Close kills the remote process and drops the connection.
func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.session.Signal(ssh.SIGKILL)
		p.session.Close()
		err = p.client.Close()
		p.out.Close()
	})
	return err
}
