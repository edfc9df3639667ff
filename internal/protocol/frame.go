// Package protocol defines the binary framing spoken on the terminal data
// channel.
//
// Every client-to-server socket message is exactly one frame:
//
//	[kind: 1 byte][payload: kind-specific bytes]
//
// There is no length prefix and no terminator; the socket message boundary is
// the frame boundary. Server-to-client traffic is unframed raw terminal output.
package protocol

import "fmt"

// Kind is the one-byte frame discriminant.
type Kind byte

const (
	// KindGeometry carries a JSON encoded Geometry.
	KindGeometry Kind = 0

	// KindInput carries one batch of raw user input.
	KindInput Kind = 1

	// KindExt is reserved for extension messages handled by the process
	// backend, if it supports them.
	KindExt Kind = 2
)

// String returns a short name suitable for logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindGeometry:
		return "geometry"
	case KindInput:
		return "input"
	case KindExt:
		return "ext"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

// Frame is a decoded client message.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// Encode builds the wire form of a frame: len(payload)+1 bytes, kind first.
// An empty payload yields a single byte message.
func Encode(kind Kind, payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = byte(kind)
	copy(buf[1:], payload)
	return buf
}

// Decode splits a socket message into its kind and payload. The payload
// aliases msg.
func Decode(msg []byte) (Frame, error) {
	if len(msg) == 0 {
		return Frame{}, ErrEmptyFrame
	}
	return Frame{Kind: Kind(msg[0]), Payload: msg[1:]}, nil
}
