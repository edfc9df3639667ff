package webterm

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/remote-agent-terminal/webterm/internal/metrics"
	"github.com/remote-agent-terminal/webterm/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// Size of each process output read.
	outputChunkSize = 8192
)

// Handler upgrades data requests and pumps frames between the websocket and
// a freshly spawned Process.
type Handler struct {
	spawner  Spawner
	upgrader websocket.Upgrader
	tracer   trace.Tracer

	pingPeriod time.Duration
	pongWait   time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithAllowedOrigins restricts upgrades to requests whose Origin host is
// listed. Requests without an Origin header are always accepted.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) {
		if len(origins) == 0 {
			return
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return slices.Contains(origins, u.Host) || slices.Contains(origins, "*")
		}
	}
}

// WithKeepalive overrides the ping period and pong wait.
func WithKeepalive(ping, pong time.Duration) Option {
	return func(h *Handler) {
		h.pingPeriod = ping
		h.pongWait = pong
	}
}

// NewHandler creates a Handler spawning processes with sp.
func NewHandler(sp Spawner, opts ...Option) *Handler {
	h := &Handler{
		spawner: sp,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		tracer:     otel.Tracer("github.com/remote-agent-terminal/webterm/internal/webterm"),
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeData(w, r)
}

// ServeData spawns a process for the request, upgrades it and serves the
// connection until either side ends it.
func (h *Handler) ServeData(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "webterm.data",
		trace.WithAttributes(attribute.String("net.peer.addr", r.RemoteAddr)))
	defer span.End()

	proc, err := h.spawner.Spawn(ctx, SpawnRequest{
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "spawn failed")
		slog.Error("webterm failed to spawn process", "remote", r.RemoteAddr, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, model.ErrConcurrencyLimit) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		span.RecordError(err)
		span.SetStatus(codes.Error, "upgrade failed")
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		proc.Close()
		return
	}

	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	slog.Info("webterm data connection opened", "remote", r.RemoteAddr)
	if err := h.serve(conn, proc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("webterm data connection failed", "remote", r.RemoteAddr, "error", err)
	}
	slog.Info("webterm data connection closed", "remote", r.RemoteAddr)
}

// serve runs the pumps until one ends, then tears everything down.
func (h *Handler) serve(conn *websocket.Conn, proc Process) error {
	p := newPumps(conn, proc, h.pingPeriod, h.pongWait)

	var g errgroup.Group
	g.Go(p.input)
	g.Go(p.output)
	g.Go(p.keepalive)
	return g.Wait()
}
