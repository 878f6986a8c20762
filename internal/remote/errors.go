package remote

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind buckets a sync failure for the retry policy.
type Kind int

const (
	// KindConnectivity: no network path to the service. Retryable on the
	// reachability fast-path.
	KindConnectivity Kind = iota
	// KindServer: 5xx or malformed response. Retryable with backoff.
	KindServer
	// KindClient: 4xx, rejected fields, authorization. Terminal until the
	// user acts.
	KindClient
)

func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	}
	return "unknown"
}

// Error is a classified remote API failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	cause      error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Retryable reports whether the failure may succeed on a later attempt
// without user action.
func (e *Error) Retryable() bool {
	return e.Kind != KindClient
}

// KindOf extracts the failure kind, with ok=false for non-remote errors.
func KindOf(err error) (Kind, bool) {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind, true
	}
	return 0, false
}
