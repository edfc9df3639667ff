//go:build unix

package pty

import (
	"fmt"
	"os"
	"os/exec"

	cpty "github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/remote-agent-terminal/webterm/internal/protocol"
)

type unixDevice struct {
	*os.File
}

func (d unixDevice) Resize(g protocol.Geometry) error {
	ws := &unix.Winsize{Row: uint16(g.Rows), Col: uint16(g.Cols)}
	return unix.IoctlSetWinsize(int(d.Fd()), unix.TIOCSWINSZ, ws)
}

// Start starts opts.Command in a new PTY session.
func Start(opts StartOptions) (*Process, error) {
	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = opts.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Dir = opts.Dir

	var size *cpty.Winsize
	if opts.Size.Valid() {
		size = &cpty.Winsize{Rows: uint16(opts.Size.Rows), Cols: uint16(opts.Size.Cols)}
	}

	f, err := cpty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", opts.Command, err)
	}

	return &Process{Device: unixDevice{f}, Cmd: cmd}, nil
}
