//go:build unix

package pty

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/remote-agent-terminal/webterm/internal/protocol"
)

func readUntil(t *testing.T, r io.Reader, want string) string {
	t.Helper()
	var out bytes.Buffer
	found := make(chan struct{})
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := r.Read(buf)
			out.Write(buf[:n])
			if strings.Contains(out.String(), want) {
				close(found)
				return
			}
			if err != nil {
				return
			}
		}
	}()
	select {
	case <-found:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
	return out.String()
}

func waitDone(t *testing.T, term *Terminal) {
	t.Helper()
	select {
	case <-term.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit")
	}
}

func TestSpawnRunsCommand(t *testing.T) {
	manager := NewManager(0)
	defer manager.Close()

	record := filepath.Join(t.TempDir(), "rec.cast")
	exited := make(chan int, 1)
	term, err := manager.Spawn(context.Background(), SpawnOptions{
		ID:         "t1",
		Command:    `sh -c "echo hello; exit 3"`,
		RecordPath: record,
		OnExit: func(term *Terminal) {
			code, _ := term.ExitCode()
			exited <- code
		},
	})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if term.PID() == 0 {
		t.Error("Expected a PID")
	}
	if term.Size() != DefaultGeometry {
		t.Errorf("Expected default geometry, got %v", term.Size())
	}

	readUntil(t, term, "hello")
	io.Copy(io.Discard, term)
	waitDone(t, term)

	if code := <-exited; code != 3 {
		t.Errorf("Expected exit code 3, got %d", code)
	}
	if got := term.LastLine(); got != "hello" {
		t.Errorf("Expected last line 'hello', got %q", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for manager.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if manager.Len() != 0 {
		t.Error("Expected terminal to be removed after exit")
	}

	raw, err := os.ReadFile(record)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(raw), `"version":2`) || !strings.Contains(string(raw), `"o","hello`) {
		t.Errorf("Unexpected recording: %s", raw)
	}
}

func TestSpawnInitialSizeAndResize(t *testing.T) {
	manager := NewManager(0)
	defer manager.Close()

	term, err := manager.Spawn(context.Background(), SpawnOptions{
		ID:      "t2",
		Command: "cat",
		Size:    protocol.Geometry{Cols: 100, Rows: 30},
	})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	if err := manager.Write("t2", []byte("ping\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	readUntil(t, term, "ping")

	if err := manager.Resize("t2", protocol.Geometry{Cols: 132, Rows: 43}); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if term.Size() != (protocol.Geometry{Cols: 132, Rows: 43}) {
		t.Errorf("Expected resized geometry, got %v", term.Size())
	}
	if err := term.SetWinSize(0, 10); err == nil {
		t.Error("Expected error for invalid geometry")
	}

	if err := manager.Kill("t2"); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	waitDone(t, term)

	if _, err := term.Write([]byte("x")); err == nil {
		t.Error("Expected write after close to fail")
	}
	if err := term.SetWinSize(80, 24); err == nil {
		t.Error("Expected resize after close to fail")
	}
}

func TestSpawnReportsWindowSize(t *testing.T) {
	manager := NewManager(0)
	defer manager.Close()

	term, err := manager.Spawn(context.Background(), SpawnOptions{
		ID:      "t3",
		Command: `sh -c "stty size"`,
		Size:    protocol.Geometry{Cols: 101, Rows: 31},
	})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	readUntil(t, term, "31 101")
}
