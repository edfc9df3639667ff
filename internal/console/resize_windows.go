//go:build windows

package console

import "context"

// WatchResize is a no-op on Windows, which has no SIGWINCH. The geometry
// measured when the connection opens stays in effect.
func WatchResize(ctx context.Context, fn func()) {}
