package icloud

import (
	"errors"
	"net"
	"net/http"

	"github.com/jasonwaters/icloud-photos-sync/internal/engine"
)

// classifyStatus maps a non-2xx HTTP status to a transport error. Server
// failures are recoverable bad responses, 401/403 is a final authentication
// failure, and every other client rejection is a recoverable bad request.
func classifyStatus(op string, status int) error {
	switch {
	case status >= 500:
		return &engine.TransportError{Kind: engine.TransportBadResponse, Op: op,
			Err: errors.New(http.StatusText(status))}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &engine.TransportError{Kind: engine.TransportAuthFailed, Op: op,
			Err: errors.New(http.StatusText(status))}
	case status >= 400:
		return &engine.TransportError{Kind: engine.TransportBadRequest, Op: op,
			Err: errors.New(http.StatusText(status))}
	default:
		return nil
	}
}

// classifyErr wraps a request error. Transient DNS failures become
// recoverable transport errors; anything else stays as-is and the engine
// treats it as fatal.
func classifyErr(op string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout) {
		return &engine.TransportError{Kind: engine.TransportDNS, Op: op, Err: err}
	}
	return err
}
