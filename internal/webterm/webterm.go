// Package webterm serves the terminal data endpoint: a websocket carrying
// framed input and geometry from the client and raw process output back.
package webterm

import (
	"context"
	"io"

	"github.com/remote-agent-terminal/webterm/internal/protocol"
)

// Process is the program behind one data connection.
type Process interface {
	io.ReadWriteCloser

	// SetWinSize applies a terminal geometry reported by the client.
	SetWinSize(cols, rows int) error
}

// ExtHandler is implemented by processes that accept extension frames.
type ExtHandler interface {
	HandleExt(payload []byte) error
}

// SpawnRequest describes the connection a process is spawned for.
type SpawnRequest struct {
	RemoteAddr string
	UserAgent  string

	// Size is the geometry to start with until the client reports one.
	Size protocol.Geometry
}

// Spawner starts one Process per data connection.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (Process, error)
}

// SpawnFunc adapts a function to a Spawner.
type SpawnFunc func(ctx context.Context, req SpawnRequest) (Process, error)

func (f SpawnFunc) Spawn(ctx context.Context, req SpawnRequest) (Process, error) {
	return f(ctx, req)
}
