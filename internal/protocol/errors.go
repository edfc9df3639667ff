package protocol

import "errors"

var (
	// ErrEmptyFrame is returned when a message carries no kind byte.
	ErrEmptyFrame = errors.New("empty frame")

	// ErrInvalidGeometry is returned when a geometry payload is missing a
	// dimension or a dimension is not a number.
	ErrInvalidGeometry = errors.New("invalid geometry")
)
