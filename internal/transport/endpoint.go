package transport

import (
	"errors"
	"fmt"
	"net/url"
)

// DataSuffix is appended to the page path to form the data endpoint.
const DataSuffix = "data"

// ErrNoHost is returned when a page location has no host to connect to.
var ErrNoHost = errors.New("page location has no host")

// Endpoint derives the data endpoint from a page location:
// https pages map to wss, everything else to ws, the host and path are kept
// and DataSuffix is appended to the path verbatim. Query and fragment are
// dropped.
//
//	https://example.com/term/ -> wss://example.com/term/data
//	http://localhost:8080/    -> ws://localhost:8080/data
func Endpoint(page string) (string, error) {
	u, err := url.Parse(page)
	if err != nil {
		return "", fmt.Errorf("failed to parse page location: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrNoHost, page)
	}

	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}

	endpoint := url.URL{
		Scheme: scheme,
		Host:   u.Host,
		Path:   u.Path + DataSuffix,
	}
	return endpoint.String(), nil
}
