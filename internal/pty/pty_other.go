//go:build !unix

package pty

// Start reports ErrUnsupported.
func Start(opts StartOptions) (*Process, error) {
	return nil, ErrUnsupported
}
