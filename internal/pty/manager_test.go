package pty

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/remote-agent-terminal/webterm/internal/model"
	"github.com/remote-agent-terminal/webterm/internal/protocol"
)

// TestNewManager tests manager creation
func TestNewManager(t *testing.T) {
	manager := NewManager(1024)
	if manager.BufferSize != 1024 {
		t.Errorf("Expected BufferSize 1024, got %d", manager.BufferSize)
	}

	manager = NewManager(0)
	if manager.BufferSize != DefaultBufferSize {
		t.Errorf("Expected BufferSize %d, got %d", DefaultBufferSize, manager.BufferSize)
	}
	if manager.Len() != 0 || len(manager.List()) != 0 {
		t.Error("Expected empty manager")
	}
}

// TestManagerNotFound tests lookups of a non-existent ID
func TestManagerNotFound(t *testing.T) {
	manager := NewManager(0)

	if _, ok := manager.Get("non-existent"); ok {
		t.Error("Expected Get to return false for non-existent ID")
	}

	checks := map[string]error{
		"Kill":   manager.Kill("non-existent"),
		"Resize": manager.Resize("non-existent", protocol.Geometry{Cols: 80, Rows: 24}),
		"Write":  manager.Write("non-existent", []byte("test")),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: expected ErrNotFound, got %v", name, err)
		}
	}
}

// TestSpawnValidation tests option checks that fail before any process starts
func TestSpawnValidation(t *testing.T) {
	manager := NewManager(0)

	if _, err := manager.Spawn(context.Background(), SpawnOptions{Command: "sh"}); err == nil {
		t.Error("Expected error for missing ID")
	}
	if _, err := manager.Spawn(context.Background(), SpawnOptions{ID: "a", Command: "  "}); !errors.Is(err, model.ErrCommandRequired) {
		t.Errorf("Expected ErrCommandRequired, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := manager.Spawn(ctx, SpawnOptions{ID: "a", Command: "sh"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// TestManagerClose tests Close with empty manager
func TestManagerClose(t *testing.T) {
	if err := NewManager(0).Close(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"bash", []string{"bash"}},
		{"bash -l", []string{"bash", "-l"}},
		{"  sh\t-c   true ", []string{"sh", "-c", "true"}},
		{`sh -c "echo hi there"`, []string{"sh", "-c", "echo hi there"}},
		{`sh -c 'say "hi"'`, []string{"sh", "-c", `say "hi"`}},
		{`echo ""`, []string{"echo", ""}},
		{`a"b c"d`, []string{"ab cd"}},
	}
	for _, tt := range tests {
		if got := splitCommand(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitCommand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
