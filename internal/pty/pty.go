// Package pty runs commands attached to pseudo-terminals.
package pty

import (
	"errors"
	"io"
	"os/exec"

	"github.com/remote-agent-terminal/webterm/internal/protocol"
)

// ErrUnsupported is returned by Start on platforms without pseudo-terminals.
var ErrUnsupported = errors.New("pseudo-terminals are not supported on this platform")

// Device is the controlling side of a pseudo-terminal.
type Device interface {
	io.ReadWriteCloser

	// Resize sets the window size seen by the child process.
	Resize(g protocol.Geometry) error
}

// StartOptions contains options for starting a command in a PTY.
type StartOptions struct {
	Command string
	Args    []string

	// Env is the complete child environment.
	Env []string

	// Dir is the working directory. Empty means the current one.
	Dir string

	// Size is the initial window size.
	Size protocol.Geometry
}

// Process is a command running in a PTY.
type Process struct {
	Device Device
	Cmd    *exec.Cmd
}

// PID returns the child's process ID.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return 0
	}
	return p.Cmd.Process.Pid
}

// Wait waits for the process to exit and returns its exit code.
// A process killed by a signal reports -1.
func (p *Process) Wait() (int, error) {
	err := p.Cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return -1, err
	}
}

// Kill terminates the process.
func (p *Process) Kill() error {
	if p.Cmd.Process != nil {
		return p.Cmd.Process.Kill()
	}
	return nil
}
