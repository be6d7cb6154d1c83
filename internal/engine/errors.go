package engine

import (
	"errors"
	"fmt"
)

// TransportErrorKind classifies a failure of the remote transport.
type TransportErrorKind string

const (
	// TransportBadResponse is an upstream server failure (HTTP 5xx).
	TransportBadResponse TransportErrorKind = "bad-response"
	// TransportBadRequest is a client-side rejection other than a final
	// authentication failure (HTTP 4xx).
	TransportBadRequest TransportErrorKind = "bad-request"
	// TransportDNS is a transient DNS resolution failure.
	TransportDNS TransportErrorKind = "dns-again"
	// TransportAuthFailed is a final authentication failure. Not recoverable.
	TransportAuthFailed TransportErrorKind = "auth-failed"
)

// TransportError is a classified failure of the remote transport. The sync
// engine retries recoverable kinds after refreshing the session.
type TransportError struct {
	Kind TransportErrorKind
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Recoverable reports whether the engine may retry after this failure.
func (e *TransportError) Recoverable() bool {
	return e.Kind != TransportAuthFailed
}

// IsRecoverable reports whether err warrants refreshing the session and
// retrying the whole attempt. Only classified transport errors of a
// recoverable kind qualify; everything else is fatal.
func IsRecoverable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Recoverable()
	}
	return false
}

// InvariantError reports a violated hierarchy invariant, such as a cycle
// among album additions or an addition whose parent UUID refers to no album.
type InvariantError struct {
	UUID   string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation for %q: %s", e.UUID, e.Reason)
}

// RetryBudgetError is returned when the retry budget is exhausted. It wraps
// the last underlying cause.
type RetryBudgetError struct {
	Attempts int
	Last     error
}

func (e *RetryBudgetError) Error() string {
	return fmt.Sprintf("giving up after %d failed attempts: %v", e.Attempts, e.Last)
}

func (e *RetryBudgetError) Unwrap() error { return e.Last }
