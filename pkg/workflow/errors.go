package workflow

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for transport-level failures.
var (
	// ErrUnreachable wraps network-level failures (refused, DNS, reset).
	ErrUnreachable = errors.New("server unreachable")
	// ErrTransportTimeout wraps requests that exceeded the hard 30s transport
	// deadline. Distinct from the poller's 60s job ceiling.
	ErrTransportTimeout = errors.New("request timeout")
)

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status %d", e.Status)
}

// GateError reports a file rejected by the upload gate before any network
// call was made.
type GateError struct {
	Reason string
}

func (e *GateError) Error() string {
	return "file rejected: " + e.Reason
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTransportTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTransportTimeout, err)
		}
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// retryable reports whether a transport error or HTTP status warrants another
// attempt. Only 5xx and network-level failures qualify; 4xx responses are
// deterministic and retrying them is wasted work.
func retryable(status int, err error) bool {
	if err != nil {
		return true
	}
	return status >= 500
}
