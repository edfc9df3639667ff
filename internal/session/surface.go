package session

import "github.com/remote-agent-terminal/webterm/internal/protocol"

// SurfaceOptions is the configuration handed to a Surface before it opens.
type SurfaceOptions struct {
	// Background is the theme background color, e.g. "#1e1e1e".
	Background string

	// Rendering holds surface specific options passed through untouched.
	Rendering map[string]any
}

// Surface is the terminal rendering capability a Session drives. It owns
// escape-sequence interpretation; the session only writes bytes to it and
// listens to its notifications.
//
// A Session calls every method from its own event loop goroutine.
// Notification callbacks may be invoked from any goroutine.
type Surface interface {
	Configure(opts SurfaceOptions)
	Open() error
	Write(p []byte) (int, error)
	Writeln(line string) error

	// Size reports the current geometry.
	Size() protocol.Geometry

	// Fit recomputes the geometry from the surface's container. If the
	// geometry changed, the resize notification fires.
	Fit()

	// OnData registers the user input notification. The slice is owned by
	// the callee.
	OnData(fn func(data []byte))

	// OnResize registers the geometry change notification.
	OnResize(fn func(g protocol.Geometry))

	Close() error
}
