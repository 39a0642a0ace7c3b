// Package retry implements the driver's failure classification and backoff
// policy: deciding whether a failure is retryable, and how long the
// execution loop should sleep before the next attempt.
package retry

import (
	"errors"
	"net"
	"strings"

	"github.com/Amr-9/kelp/pkg/kelperr"
)

// Classify reports whether err is retryable: retryable service errors,
// HTTP 5xx, and transient network conditions are retryable; everything
// else (fatal service errors, local errors) is not.
func Classify(err error) bool {
	if err == nil {
		return false
	}

	var svcErr *kelperr.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Retryable
	}

	var localErr *kelperr.LocalError
	if errors.As(err, &localErr) {
		return false
	}

	var circuitErr *kelperr.CircuitOpenError
	if errors.As(err, &circuitErr) {
		return false
	}

	var badProto *kelperr.BadProtocolError
	if errors.As(err, &badProto) {
		return false
	}

	return isTransientNetworkError(err)
}

// isTransientNetworkError checks net.Error's behavioral interfaces first,
// since those are authoritative when present; the substring match is the
// fallback for errors that reach us already flattened to a string in a way
// that loses the underlying net.Error.
func isTransientNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() || dnsErr.Timeout()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"connection reset",
	"connection refused",
	"no such host",
	"eof",
	"i/o timeout",
	"tls handshake timeout",
	"tls handshake reset",
	"broken pipe",
}

// IsHTTPStatusRetryable: only 500, 502, 503 and 504 are retryable HTTP
// statuses; every other non-200 status is fatal.
func IsHTTPStatusRetryable(status int) bool {
	switch status {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
