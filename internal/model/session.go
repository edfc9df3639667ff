package model

import (
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle status of a terminal session.
type SessionStatus string

const (
	// SessionStatusRunning: the process is attached to a live connection.
	SessionStatusRunning SessionStatus = "running"

	// SessionStatusExited: the process exited on its own.
	SessionStatusExited SessionStatus = "exited"

	// SessionStatusFailed: the process could not be started or waited on.
	SessionStatusFailed SessionStatus = "failed"

	// SessionStatusClosed: the connection went away and the process was killed.
	SessionStatusClosed SessionStatus = "closed"
)

// Active reports whether the status counts against the connection limit.
func (s SessionStatus) Active() bool {
	return s == SessionStatusRunning
}

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusRunning, SessionStatusExited, SessionStatusFailed, SessionStatusClosed:
		return true
	}
	return false
}

// Session is the server-side record of one terminal data connection and the
// process serving it.
type Session struct {
	ID          string            `json:"id"`
	Command     string            `json:"command"`
	Env         map[string]string `json:"env,omitempty"`
	Status      SessionStatus     `json:"status"`
	ExitCode    *int              `json:"exitCode,omitempty"`
	PID         *int              `json:"pid,omitempty"`
	Cols        int               `json:"cols"`
	Rows        int               `json:"rows"`
	RemoteAddr  string            `json:"remoteAddr,omitempty"`
	LogFilePath string            `json:"logFilePath,omitempty"`
	PreviewLine string            `json:"previewLine,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// EnvToJSON converts the Env map to a JSON string for storage.
func (s *Session) EnvToJSON() (string, error) {
	if s.Env == nil {
		return "", nil
	}
	data, err := json.Marshal(s.Env)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EnvFromJSON parses a JSON string into the Env map.
func (s *Session) EnvFromJSON(data string) error {
	if data == "" {
		s.Env = nil
		return nil
	}
	return json.Unmarshal([]byte(data), &s.Env)
}

// Duration returns how long the session has been open, or was open if it
// has finished.
func (s *Session) Duration() time.Duration {
	if !s.Status.Active() {
		return s.UpdatedAt.Sub(s.CreatedAt)
	}
	return time.Since(s.CreatedAt)
}
