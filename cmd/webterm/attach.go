package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remote-agent-terminal/webterm/internal/config"
	"github.com/remote-agent-terminal/webterm/internal/console"
	"github.com/remote-agent-terminal/webterm/internal/session"
	"github.com/remote-agent-terminal/webterm/internal/transport"
)

func attachCmd(load loader) *cobra.Command {
	var (
		verbose bool
		banner  string
	)

	cmd := &cobra.Command{
		Use:   "attach <url>",
		Short: "Attach this terminal to a webterm page URL",
		Long: `Attach connects to the data channel of the given page URL
(http://host/path/ connects to ws://host/path/data) and relays the local
terminal to the remote process until the connection closes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if banner != "" {
				cfg.Client.Banner = banner
			}

			lc := cfg.Log
			if !verbose {
				lc.Level = "warn"
			}
			config.SetupLogging(os.Stderr, lc)

			endpoint, err := transport.Endpoint(args[0])
			if err != nil {
				return err
			}
			slog.Debug("attaching", "endpoint", endpoint)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			surface := console.New(os.Stdin, os.Stdout)
			s, err := session.New(ctx, surface, endpoint, session.Config{
				Surface: session.SurfaceOptions{
					Background: cfg.Terminal.Theme.Background,
					Rendering:  cfg.Terminal.Rendering(),
				},
				ResizeDebounce: cfg.Client.ResizeDebounce,
				Banner:         cfg.Client.Banner,
			})
			if err != nil {
				return err
			}
			console.WatchResize(ctx, s.WindowResized)

			runErr := s.Run(ctx)
			if err := s.Close(); err != nil {
				slog.Warn("failed to restore terminal", "error", err)
			}
			if runErr != nil {
				return runErr
			}
			if s.State() == session.StateErrored {
				return exitError{code: 1}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log at the configured level instead of warnings only")
	cmd.Flags().StringVar(&banner, "banner", "", "line written once the connection opens")

	return cmd
}
