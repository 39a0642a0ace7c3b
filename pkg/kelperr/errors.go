// Package kelperr defines the driver's error taxonomy: retryable and fatal
// service errors, transient network conditions, and local (client-side)
// errors. It is a leaf package with no dependency on the rest of the
// driver so every other package can import it without creating an import
// cycle.
package kelperr

import (
	"fmt"
	"time"
)

// ServiceErrorCode enumerates the failures the remote service can report.
type ServiceErrorCode uint8

const (
	ThrottlingRead ServiceErrorCode = iota
	ThrottlingWrite
	TableBusy
	SecurityInfoNotReady
	Retryable // generic retryable service error
	TableNotFound
	IndexExists
	RowSizeLimit
	BadProtocol
	AuthenticationFailed
	OtherClientError   // any other 4xx
	UnsupportedProtocol // server rejected the wire version this attempt used
)

var retryableCodes = map[ServiceErrorCode]bool{
	ThrottlingRead:       true,
	ThrottlingWrite:      true,
	TableBusy:            true,
	SecurityInfoNotReady: true,
	Retryable:            true,
}

// ServiceError represents a failure reported by the remote service,
// including the retryable/fatal distinction the execution loop consults.
type ServiceError struct {
	Code       ServiceErrorCode
	HTTPStatus int
	Message    string
	Retryable  bool
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error (status %d): %s", e.HTTPStatus, e.Message)
}

// NewServiceError builds a ServiceError, deriving Retryable from the code
// unless httpStatus itself marks it retryable (500, 502, 503, 504).
func NewServiceError(code ServiceErrorCode, httpStatus int, message string) *ServiceError {
	retryable := retryableCodes[code]
	switch httpStatus {
	case 500, 502, 503, 504:
		retryable = true
	}
	return &ServiceError{Code: code, HTTPStatus: httpStatus, Message: message, Retryable: retryable}
}

// LocalErrorCode enumerates the client-side failure classes.
type LocalErrorCode uint8

const (
	ArgumentError LocalErrorCode = iota
	TimeoutError
	UnsupportedProtocolError
	MemoryExceededError
	ComparisonNotSupportedError
	CircuitOpenErrorCode
)

// LocalError is a client-side error: never retried by the execution loop.
type LocalError struct {
	Code    LocalErrorCode
	Message string
	Cause   error
}

func (e *LocalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *LocalError) Unwrap() error { return e.Cause }

// NewArgumentError reports a validation failure (bad request shape, bound
// variable mismatch, negative OFFSET/LIMIT, etc).
func NewArgumentError(message string) *LocalError {
	return &LocalError{Code: ArgumentError, Message: message}
}

// TimeoutException always carries the total elapsed time and retry count
// accumulated when the deadline was crossed, for observability.
type TimeoutException struct {
	Elapsed    time.Duration
	RetryCount int
	Cause      error
}

func (e *TimeoutException) Error() string {
	return fmt.Sprintf("request timed out after %s (%d retries): %v", e.Elapsed, e.RetryCount, e.Cause)
}

func (e *TimeoutException) Unwrap() error { return e.Cause }

// NewTimeoutException wraps the last observed cause with the elapsed time
// and retry count the loop had accumulated when the deadline was crossed.
func NewTimeoutException(elapsed time.Duration, retryCount int, cause error) *TimeoutException {
	return &TimeoutException{Elapsed: elapsed, RetryCount: retryCount, Cause: cause}
}

// NewMemoryExceededError reports a query whose memory accounting observed
// a value above the configured maximum.
func NewMemoryExceededError(totalMemory, maxMemory int64) *LocalError {
	return &LocalError{
		Code:    MemoryExceededError,
		Message: fmt.Sprintf("query memory usage %d exceeds configured maximum %d", totalMemory, maxMemory),
	}
}

// NewComparisonNotSupportedError reports an incomparable value pair
// encountered during query evaluation.
func NewComparisonNotSupportedError(detail string) *LocalError {
	return &LocalError{Code: ComparisonNotSupportedError, Message: "comparison not supported: " + detail}
}

// NewUnsupportedProtocolError is raised when the protocol negotiator
// cannot fall back far enough to satisfy a request's declared floor.
func NewUnsupportedProtocolError(requested, floor int) *LocalError {
	return &LocalError{
		Code: UnsupportedProtocolError,
		Message: fmt.Sprintf("no supported protocol version: negotiated %d is below required minimum %d",
			requested, floor),
	}
}

// CircuitOpenError is raised when a table's circuit breaker is open. It is
// always fatal/non-retryable: retrying against an already-open breaker
// would defeat its purpose.
type CircuitOpenError struct {
	Table string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for table %q: failing fast", e.Table)
}

// BadProtocolError always aborts the execution loop; it signals a
// server/driver wire incompatibility rather than a transient condition.
type BadProtocolError struct {
	Message string
}

func (e *BadProtocolError) Error() string { return "bad protocol: " + e.Message }
