package console

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/remote-agent-terminal/webterm/internal/protocol"
	"github.com/remote-agent-terminal/webterm/internal/session"
)

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestOpenAndCloseApplyBackground(t *testing.T) {
	in, inW := io.Pipe()
	defer inW.Close()
	out := &syncBuffer{}

	c := New(in, out)
	c.Configure(session.SurfaceOptions{Background: "#1e1e1e"})
	if err := c.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got := out.String(); got != "\x1b]11;#1e1e1e\x07" {
		t.Errorf("expected background sequence, got %q", got)
	}
	if err := c.Open(); err == nil {
		t.Error("expected second Open to fail")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if got := out.String(); got != "\x1b]11;#1e1e1e\x07\x1b]111\x07" {
		t.Errorf("expected background reset once, got %q", got)
	}
}

func TestNoBackgroundWritesNothing(t *testing.T) {
	in, inW := io.Pipe()
	defer inW.Close()
	out := &syncBuffer{}

	c := New(in, out)
	if err := c.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	c.Close()
	if got := out.String(); got != "" {
		t.Errorf("expected no output, got %q", got)
	}
}

func TestWriteAndWriteln(t *testing.T) {
	out := &syncBuffer{}
	c := New(bytes.NewReader(nil), out)

	c.Write([]byte("\x1b[1mbold\x1b[0m"))
	if err := c.Writeln("done"); err != nil {
		t.Fatalf("Writeln failed: %v", err)
	}
	if got := out.String(); got != "\x1b[1mbold\x1b[0mdone\r\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestFitFallsBackWhenNotATerminal(t *testing.T) {
	c := New(bytes.NewReader(nil), &syncBuffer{})

	var resizes []protocol.Geometry
	c.OnResize(func(g protocol.Geometry) { resizes = append(resizes, g) })

	c.Fit()
	c.Fit()

	if c.Size() != FallbackGeometry {
		t.Errorf("expected fallback geometry, got %v", c.Size())
	}
	if len(resizes) != 1 {
		t.Errorf("expected one resize notification, got %d", len(resizes))
	}
}

func TestFitNotifiesOnChange(t *testing.T) {
	cols, rows := 120, 40
	c := New(bytes.NewReader(nil), &syncBuffer{}, WithSizeFunc(func() (int, int, error) {
		return cols, rows, nil
	}))

	var resizes []protocol.Geometry
	c.OnResize(func(g protocol.Geometry) { resizes = append(resizes, g) })

	c.Fit()
	c.Fit()
	cols = 100
	c.Fit()

	want := []protocol.Geometry{{Cols: 120, Rows: 40}, {Cols: 100, Rows: 40}}
	if len(resizes) != len(want) {
		t.Fatalf("expected %d notifications, got %v", len(want), resizes)
	}
	for i := range want {
		if resizes[i] != want[i] {
			t.Errorf("notification %d: expected %v, got %v", i, want[i], resizes[i])
		}
	}
}

func TestFitIgnoresUnusableMeasurements(t *testing.T) {
	tests := map[string]SizeFunc{
		"error": func() (int, int, error) { return 0, 0, errors.New("no size") },
		"zero":  func() (int, int, error) { return 0, 0, nil },
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			c := New(bytes.NewReader(nil), &syncBuffer{}, WithSizeFunc(fn))
			c.Fit()
			if c.Size() != FallbackGeometry {
				t.Errorf("expected fallback geometry, got %v", c.Size())
			}
		})
	}
}

func TestInputIsDelivered(t *testing.T) {
	in, inW := io.Pipe()
	c := New(in, &syncBuffer{})

	got := make(chan []byte, 4)
	c.OnData(func(p []byte) { got <- p })
	if err := c.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Close()

	go inW.Write([]byte("ls\r"))

	select {
	case p := <-got:
		if string(p) != "ls\r" {
			t.Errorf("expected %q, got %q", "ls\r", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for input")
	}
	inW.Close()
}
