package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/remote-agent-terminal/webterm/api/handlers"
	"github.com/remote-agent-terminal/webterm/internal/config"
	"github.com/remote-agent-terminal/webterm/internal/db"
	"github.com/remote-agent-terminal/webterm/internal/pty"
	"github.com/remote-agent-terminal/webterm/internal/registry"
	"github.com/remote-agent-terminal/webterm/internal/repository"
	"github.com/remote-agent-terminal/webterm/internal/webterm"
)

const shutdownTimeout = 5 * time.Second

func serveCmd(load loader, configPath *string) *cobra.Command {
	var (
		addr    string
		command string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve terminals over websockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if command != "" {
				cfg.Server.Command = command
			}
			config.SetupLogging(os.Stderr, cfg.Log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, *configPath)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&command, "command", "", "command to run per connection (overrides server.command)")

	return cmd
}

func serve(ctx context.Context, cfg config.Config, configPath string) error {
	sc := cfg.Server

	if err := os.MkdirAll(filepath.Dir(sc.DBPath), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	if sc.LogDir != "" {
		if err := os.MkdirAll(sc.LogDir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	database, err := db.InitDB(sc.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.CloseDB()

	repo := repository.NewSessionRepository(database)
	if n, err := repo.CloseStale(ctx); err != nil {
		slog.Warn("failed to close stale sessions", "error", err)
	} else if n > 0 {
		slog.Info("closed sessions left running by a previous server", "count", n)
	}

	terms := pty.NewManager(sc.BufferSize)
	defer terms.Close()

	reg := registry.New(terms, repo, registry.Config{
		Command:        sc.Command,
		Env:            sc.Env,
		WorkDir:        sc.WorkDir,
		LogDir:         sc.LogDir,
		MaxConnections: sc.MaxConnections,
	})
	defer reg.Close()

	spawner, err := newSpawner(cfg, reg)
	if err != nil {
		return fmt.Errorf("failed to set up %s backend: %w", sc.Backend, err)
	}
	data := webterm.NewHandler(spawner, webterm.WithAllowedOrigins(sc.AllowedOrigins))

	terminal := handlers.NewTerminalHandler(cfg.Terminal, data)
	if configPath != "" {
		// Only the published terminal options are reloaded; server
		// settings need a restart.
		err := config.Watch(ctx, configPath, func(c config.Config) {
			terminal.SetOptions(c.Terminal)
		})
		if err != nil {
			slog.Warn("config reload disabled", "error", err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := handlers.NewRouter(handlers.RouterConfig{
		BasePath:       sc.BasePath,
		AllowedOrigins: sc.AllowedOrigins,
		Terminal:       terminal,
		Sessions:       handlers.NewSessionHandler(reg),
		Stats:          reg,
	})

	srv := &http.Server{
		Addr:              sc.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", sc.Addr, "base_path", handlers.NormalizeBasePath(sc.BasePath), "backend", sc.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	// Hijacked websocket connections are not tracked by Shutdown; closing
	// the registry ends them.
	if err := reg.Close(); err != nil {
		slog.Warn("failed to close sessions", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
