package transport

import (
	"errors"
	"testing"
)

func TestEndpoint(t *testing.T) {
	tests := []struct {
		page string
		want string
	}{
		{"http://localhost:8080/", "ws://localhost:8080/data"},
		{"https://example.com/term/", "wss://example.com/term/data"},
		{"https://example.com/term", "wss://example.com/termdata"},
		{"http://example.com", "ws://example.com/data"},
		{"http://example.com/a/?x=1#frag", "ws://example.com/a/data"},
		{"ftp://example.com/", "ws://example.com/data"},
		{"http://[::1]:9000/shell/", "ws://[::1]:9000/shell/data"},
	}

	for _, tt := range tests {
		t.Run(tt.page, func(t *testing.T) {
			got, err := Endpoint(tt.page)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Endpoint(%q) = %q, want %q", tt.page, got, tt.want)
			}
		})
	}
}

func TestEndpointNoHost(t *testing.T) {
	_, err := Endpoint("/relative/path/")
	if !errors.Is(err, ErrNoHost) {
		t.Errorf("expected ErrNoHost, got %v", err)
	}
}
