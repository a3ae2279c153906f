package adapters

import "fmt"

// AuthenticationError means the remote rejected our credentials. The
// executor refreshes credentials and retries exactly once before
// escalating to the operator.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// TransientRemoteError covers timeouts, 5xx and 429 responses. Retried
// with backoff up to the attempt budget.
type TransientRemoteError struct {
	StatusCode int
	Cause      error
}

func (e *TransientRemoteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient remote error (status %d): %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("transient remote error (status %d)", e.StatusCode)
}

func (e *TransientRemoteError) Unwrap() error { return e.Cause }
