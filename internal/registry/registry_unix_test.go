//go:build unix

package registry

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remote-agent-terminal/webterm/internal/model"
	"github.com/remote-agent-terminal/webterm/internal/protocol"
	"github.com/remote-agent-terminal/webterm/internal/webterm"
)

func waitStatus(t *testing.T, reg *Registry, id string, want model.SessionStatus) *model.Session {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		s, err := reg.Get(context.Background(), id)
		if err == nil && s.Status == want && reg.Active() == 0 {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("Session %s did not reach status %s (last: %+v, err: %v)", id, want, s, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRegistry_Open(t *testing.T) {
	reg, repo := setupTestRegistry(t, Config{Command: "cat"})
	ctx := context.Background()

	conn, err := reg.Open(ctx, webterm.SpawnRequest{
		RemoteAddr: "127.0.0.1:4000",
		Size:       protocol.Geometry{Cols: 100, Rows: 30},
	})
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	defer conn.Close()

	s := conn.Session()
	if s.Status != model.SessionStatusRunning {
		t.Errorf("Expected status 'running', got '%s'", s.Status)
	}
	if s.PID == nil {
		t.Error("PID should not be nil")
	}
	if s.LogFilePath == "" {
		t.Error("LogFilePath should not be empty")
	}
	if reg.Active() != 1 {
		t.Errorf("Expected 1 active session, got %d", reg.Active())
	}

	stored, err := repo.GetByID(ctx, s.ID)
	if err != nil {
		t.Fatalf("Failed to read stored session: %v", err)
	}
	if stored.Cols != 100 || stored.Rows != 30 {
		t.Errorf("Expected stored geometry 100x30, got %dx%d", stored.Cols, stored.Rows)
	}
	if stored.RemoteAddr != "127.0.0.1:4000" {
		t.Errorf("Expected remote addr '127.0.0.1:4000', got '%s'", stored.RemoteAddr)
	}
	if stored.PID == nil || *stored.PID != *s.PID {
		t.Errorf("Expected stored PID %d, got %v", *s.PID, stored.PID)
	}
}

func TestRegistry_ConcurrencyLimit(t *testing.T) {
	reg, _ := setupTestRegistry(t, Config{Command: "cat", MaxConnections: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := reg.Open(ctx, webterm.SpawnRequest{}); err != nil {
			t.Fatalf("Failed to open session %d: %v", i, err)
		}
	}

	_, err := reg.Open(ctx, webterm.SpawnRequest{})
	if !errors.Is(err, model.ErrConcurrencyLimit) {
		t.Fatalf("Expected ErrConcurrencyLimit, got %v", err)
	}

	sessions, err := reg.List(ctx, model.SessionStatusRunning)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("Expected 2 running sessions, got %d", len(sessions))
	}
}

func TestRegistry_ProcessExit(t *testing.T) {
	reg, _ := setupTestRegistry(t, Config{Command: `sh -c "echo all done; exit 4"`})

	conn, err := reg.Open(context.Background(), webterm.SpawnRequest{})
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}

	s := waitStatus(t, reg, conn.ID(), model.SessionStatusExited)
	if s.ExitCode == nil || *s.ExitCode != 4 {
		t.Errorf("Expected exit code 4, got %v", s.ExitCode)
	}
	if s.PreviewLine != "all done" {
		t.Errorf("Expected preview line 'all done', got '%s'", s.PreviewLine)
	}

	// The data connection closing afterwards keeps the exit status.
	conn.Close()
	s, err = reg.Get(context.Background(), conn.ID())
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if s.Status != model.SessionStatusExited {
		t.Errorf("Expected status 'exited', got '%s'", s.Status)
	}

	if _, err := os.Stat(s.LogFilePath); err != nil {
		t.Errorf("Expected recording at %s: %v", s.LogFilePath, err)
	}
}

func TestRegistry_CloseRecordsClosed(t *testing.T) {
	reg, _ := setupTestRegistry(t, Config{Command: "cat"})
	ctx := context.Background()

	conn, err := reg.Open(ctx, webterm.SpawnRequest{})
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Failed to close session: %v", err)
	}

	s := waitStatus(t, reg, conn.ID(), model.SessionStatusClosed)
	if s.Status.Active() {
		t.Error("Closed session should not be active")
	}

	if err := reg.Kill(ctx, conn.ID()); !errors.Is(err, model.ErrSessionNotRunning) {
		t.Errorf("Expected ErrSessionNotRunning, got %v", err)
	}
}

func TestRegistry_ReadWriteResize(t *testing.T) {
	reg, repo := setupTestRegistry(t, Config{Command: "cat"})
	ctx := context.Background()

	conn, err := reg.Open(ctx, webterm.SpawnRequest{})
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("ping\n")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	var out strings.Builder
	buf := make([]byte, 256)
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "ping") && time.Now().Before(deadline) {
		n, err := conn.Read(buf)
		out.Write(buf[:n])
		if err != nil {
			break
		}
	}
	if !strings.Contains(out.String(), "ping") {
		t.Errorf("Expected echoed input, got %q", out.String())
	}

	if err := reg.Resize(conn.ID(), protocol.Geometry{Cols: 132, Rows: 43}); err != nil {
		t.Fatalf("Failed to resize: %v", err)
	}
	stored, err := repo.GetByID(ctx, conn.ID())
	if err != nil {
		t.Fatalf("Failed to read stored session: %v", err)
	}
	if stored.Cols != 132 || stored.Rows != 43 {
		t.Errorf("Expected stored geometry 132x43, got %dx%d", stored.Cols, stored.Rows)
	}

	if err := conn.SetWinSize(0, 10); err == nil {
		t.Error("Expected error for invalid geometry")
	}
}

func TestRegistry_Delete(t *testing.T) {
	reg, _ := setupTestRegistry(t, Config{Command: "cat"})
	ctx := context.Background()

	conn, err := reg.Open(ctx, webterm.SpawnRequest{})
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	path := conn.Session().LogFilePath

	if err := reg.Delete(ctx, conn.ID()); err != nil {
		t.Fatalf("Failed to delete session: %v", err)
	}
	if _, err := reg.Get(ctx, conn.ID()); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected recording to be removed, got %v", err)
	}
	if reg.Active() != 0 {
		t.Errorf("Expected 0 active sessions, got %d", reg.Active())
	}
}

func TestRegistry_ServesDataConnection(t *testing.T) {
	reg, repo := setupTestRegistry(t, Config{Command: "cat"})

	srv := httptest.NewServer(webterm.NewHandler(reg))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	send := func(kind protocol.Kind, payload []byte) {
		t.Helper()
		if err := conn.WriteMessage(websocket.BinaryMessage, protocol.Encode(kind, payload)); err != nil {
			t.Fatalf("Failed to send frame: %v", err)
		}
	}
	geom, err := protocol.EncodeGeometry(protocol.Geometry{Cols: 90, Rows: 33})
	if err != nil {
		t.Fatalf("Failed to encode geometry: %v", err)
	}
	send(protocol.KindGeometry, geom)
	send(protocol.KindInput, []byte("hello\n"))

	var out strings.Builder
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for !strings.Contains(out.String(), "hello") {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read output (so far %q): %v", out.String(), err)
		}
		out.Write(data)
	}

	sessions, err := reg.List(context.Background(), model.SessionStatusRunning)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("Expected one running session, got %d (%v)", len(sessions), err)
	}
	id := sessions[0].ID

	stored, err := repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to read stored session: %v", err)
	}
	if stored.Cols != 90 || stored.Rows != 33 {
		t.Errorf("Expected stored geometry 90x33, got %dx%d", stored.Cols, stored.Rows)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	waitStatus(t, reg, id, model.SessionStatusClosed)
}
