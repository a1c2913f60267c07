package livesync

import "errors"

var (
	// ErrNotFound means the referenced auction or user does not exist.
	// Non-retryable.
	ErrNotFound = errors.New("not found")

	// ErrTransient means the backend or network is temporarily unavailable.
	// Callers may retry with backoff.
	ErrTransient = errors.New("temporarily unavailable")

	// ErrRejected means the authoritative backend refused a syntactically
	// valid bid, typically because another bid landed first. Expected
	// outcome, not a fault; the session re-fetches its snapshot in response.
	ErrRejected = errors.New("bid rejected by server")

	// ErrAnomaly marks a malformed or order-violating event. Such events are
	// logged and dropped at the transport boundary.
	ErrAnomaly = errors.New("anomalous event")

	// ErrSessionClosed is returned when an operation races with teardown.
	ErrSessionClosed = errors.New("session closed")
)

// InvalidBidError is a local precondition failure detected before any network
// call is made. Reason is safe to show to the user.
type InvalidBidError struct {
	Reason string
}

func (e *InvalidBidError) Error() string {
	return "invalid bid: " + e.Reason
}
