package model

import "errors"

var (
	// ErrCommandRequired is returned when no command is configured to run.
	ErrCommandRequired = errors.New("command is required")

	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotRunning is returned when acting on a finished session.
	ErrSessionNotRunning = errors.New("session is not running")

	// ErrConcurrencyLimit is returned when the maximum number of concurrent
	// terminal connections is reached.
	ErrConcurrencyLimit = errors.New("concurrent connection limit exceeded")
)
