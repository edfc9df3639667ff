package webterm

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remote-agent-terminal/webterm/internal/metrics"
	"github.com/remote-agent-terminal/webterm/internal/protocol"
)

// pumps moves data for one connection. The first pump to finish stops the
// others by closing both the websocket and the process.
type pumps struct {
	conn *websocket.Conn
	proc Process

	pingPeriod time.Duration
	pongWait   time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

func newPumps(conn *websocket.Conn, proc Process, ping, pong time.Duration) *pumps {
	return &pumps{
		conn:       conn,
		proc:       proc,
		pingPeriod: ping,
		pongWait:   pong,
		done:       make(chan struct{}),
	}
}

// stop sends a close frame, then closes the websocket and the process.
func (p *pumps) stop(code int) {
	p.stopOnce.Do(func() {
		close(p.done)
		msg := websocket.FormatCloseMessage(code, "")
		p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		p.conn.Close()
		if err := p.proc.Close(); err != nil {
			slog.Debug("process close failed", "error", err)
		}
	})
}

// input decodes client frames and applies them to the process.
func (p *pumps) input() error {
	code := websocket.CloseNormalClosure
	defer func() { p.stop(code) }()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(p.pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(p.pongWait))
		return nil
	})

	for {
		_, msg, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("webterm read failed", "error", err)
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				code = websocket.CloseMessageTooBig
			}
			return nil
		}

		f, err := protocol.Decode(msg)
		if err != nil {
			continue
		}
		metrics.FramesReceived.WithLabelValues(f.Kind.String()).Inc()

		switch f.Kind {
		case protocol.KindGeometry:
			g, err := protocol.DecodeGeometry(f.Payload)
			if err != nil {
				slog.Warn("webterm ignoring geometry frame", "payload", string(f.Payload), "error", err)
				continue
			}
			if err := p.proc.SetWinSize(g.Cols, g.Rows); err != nil {
				slog.Warn("webterm failed to resize process", "geometry", g, "error", err)
			}
		case protocol.KindInput:
			if _, err := p.proc.Write(f.Payload); err != nil {
				code = websocket.CloseInternalServerErr
				return fmt.Errorf("failed to write to process: %w", err)
			}
		case protocol.KindExt:
			ext, ok := p.proc.(ExtHandler)
			if !ok {
				continue
			}
			if err := ext.HandleExt(f.Payload); err != nil {
				slog.Warn("webterm extension frame failed", "error", err)
			}
		default:
			slog.Debug("webterm ignoring frame", "kind", f.Kind)
		}
	}
}

// output copies process output to the websocket unframed.
func (p *pumps) output() error {
	defer p.stop(websocket.CloseNormalClosure)

	buf := make([]byte, outputChunkSize)
	for {
		n, err := p.proc.Read(buf)
		if n > 0 {
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if werr := p.conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return nil
			}
			metrics.BytesSent.Add(float64(n))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				slog.Debug("webterm process output ended", "error", err)
			}
			return nil
		}
	}
}

// keepalive pings the client so dead peers are noticed by the read deadline.
func (p *pumps) keepalive() error {
	ticker := time.NewTicker(p.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.stop(websocket.CloseGoingAway)
				return nil
			}
		case <-p.done:
			return nil
		}
	}
}
