//go:build unix

package console

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WatchResize calls fn on every window size change until ctx is done.
func WatchResize(ctx context.Context, fn func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				fn()
			case <-ctx.Done():
				return
			}
		}
	}()
}
