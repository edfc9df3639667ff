// Package logger records terminal sessions as asciicast v2 files.
package logger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/remote-agent-terminal/webterm/internal/protocol"
)

// Event types of an asciicast v2 stream.
const (
	EventOutput = "o"
	EventInput  = "i"
	EventResize = "r"
)

// ErrRecorderClosed is returned by writes after Close.
var ErrRecorderClosed = errors.New("recorder closed")

// Header is the first line of an asciicast v2 recording.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Command   string            `json:"command,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is one recorded line: [offset, type, data].
type Event struct {
	Offset float64
	Type   string
	Data   string
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Offset, e.Type, e.Data})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("invalid event: expected 3 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &e.Offset); err != nil {
		return fmt.Errorf("invalid event offset: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.Type); err != nil {
		return fmt.Errorf("invalid event type: %w", err)
	}
	if err := json.Unmarshal(raw[2], &e.Data); err != nil {
		return fmt.Errorf("invalid event data: %w", err)
	}
	return nil
}

// Recorder appends asciicast events to a writer. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	w      io.Writer
	file   *os.File
	start  time.Time
	now    func() time.Time
	closed bool
}

// Create opens a recording file at path.
func Create(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}
	r := NewRecorder(f)
	r.file = f
	return r, nil
}

// NewRecorder records to w. The caller owns w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w, start: time.Now(), now: time.Now}
}

// Start returns the recording's time origin.
func (r *Recorder) Start() time.Time {
	return r.start
}

// WriteHeader writes the header line for a terminal of geometry g.
func (r *Recorder) WriteHeader(g protocol.Geometry, command string, env map[string]string) error {
	return r.writeLine(Header{
		Version:   2,
		Width:     g.Cols,
		Height:    g.Rows,
		Timestamp: r.start.Unix(),
		Command:   command,
		Env:       env,
	})
}

// Output records process output.
func (r *Recorder) Output(data []byte) error {
	return r.event(EventOutput, string(data))
}

// Input records user input.
func (r *Recorder) Input(data []byte) error {
	return r.event(EventInput, string(data))
}

// Resize records a geometry change as "COLSxROWS".
func (r *Recorder) Resize(g protocol.Geometry) error {
	return r.event(EventResize, g.String())
}

// Close closes the recording file if the recorder opened it.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

func (r *Recorder) event(typ, data string) error {
	return r.writeLine(Event{
		Offset: r.now().Sub(r.start).Seconds(),
		Type:   typ,
		Data:   data,
	})
}

func (r *Recorder) writeLine(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal recording line: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRecorderClosed
	}
	if _, err := r.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	return nil
}
