// Package models holds the data model shared across the driver's internal
// components: the tagged-variant Request descriptor, capability interfaces
// the execution loop branches on, consumed-capacity accounting, and the
// handful of opaque server artifacts (prepared statements, continuation
// keys, table state) that flow between components without any one of them
// owning the type.
package models

import (
	"time"
)

// Kind tags which concrete operation a Request carries.
type Kind uint8

const (
	KindGet Kind = iota
	KindPut
	KindDelete
	KindWriteMultiple
	KindMultiDeleteRange
	KindQuery
	KindPrepare
	KindGetTable
	KindTableDDL
	KindTableUsage
	KindListTables
)

func (k Kind) String() string {
	switch k {
	case KindGet:
		return "Get"
	case KindPut:
		return "Put"
	case KindDelete:
		return "Delete"
	case KindWriteMultiple:
		return "WriteMultiple"
	case KindMultiDeleteRange:
		return "MultiDeleteRange"
	case KindQuery:
		return "Query"
	case KindPrepare:
		return "Prepare"
	case KindGetTable:
		return "GetTable"
	case KindTableDDL:
		return "TableDDL"
	case KindTableUsage:
		return "TableUsage"
	case KindListTables:
		return "ListTables"
	default:
		return "Unknown"
	}
}

// Request is the tagged-variant operation descriptor the execution loop
// drives: one struct carries every kind's shared bookkeeping, and Payload
// carries the kind-specific fields. The execution loop never switches on
// Payload's concrete type; it only needs the capability interfaces below,
// which Payload implements selectively.
//
// A Request is single-owner: the caller that creates it must not hand it to
// a second concurrent call. The execution loop is the only thing that
// mutates Timeout, RetryCount and Exceptions after construction.
type Request struct {
	Kind    Kind
	Table   string // empty for table-less operations (Prepare, ListTables)
	Timeout time.Duration

	// DoesReads and DoesWrites tell the rate-limiting coordinator which
	// side(s) of a table's limiter pair this request should consult.
	// Queries may set both.
	DoesReads  bool
	DoesWrites bool

	// MinProtocolVersion floors the protocol fallback of component D; zero
	// means no floor.
	MinProtocolVersion int

	// RetryCount and Exceptions accumulate across the execution loop's
	// attempts; fallback attempts (4.D) do not increment RetryCount.
	RetryCount int
	Exceptions []error

	// BreakerDone, when non-nil, is the two-step circuit breaker callback
	// the rate-limiting coordinator's Admit handed back: Charge must invoke
	// it exactly once with the attempt's real outcome so each request
	// records a single entry against the breaker, then clear it.
	BreakerDone func(success bool)

	Payload any
}

// AddException records a failed attempt.
func (r *Request) AddException(err error) {
	r.Exceptions = append(r.Exceptions, err)
}

// LastException returns the most recently recorded failure, or nil.
func (r *Request) LastException() error {
	if len(r.Exceptions) == 0 {
		return nil
	}
	return r.Exceptions[len(r.Exceptions)-1]
}

// Validator is implemented by payloads that need one-time validation before
// the execution loop's first attempt.
type Validator interface {
	Validate() error
}

// ResultApplier is implemented by payloads capable of consuming the raw
// decoded result object produced by the HTTP submit path.
type ResultApplier interface {
	ApplyResult(result any) error
}

// PayloadCarrier is implemented by a submit path's result type that exposes
// the raw kind-specific payload bytes for a ResultApplier to decode; the
// transport's decoded result satisfies it.
type PayloadCarrier interface {
	PayloadBytes() []byte
}

// ConsumedCapacity is the server-reported unit charge for one data-plane
// exchange, plus any time this call itself spent waiting on the local rate
// limiter.
type ConsumedCapacity struct {
	ReadUnits  int
	WriteUnits int

	ReadRateLimitDelay  time.Duration
	WriteRateLimitDelay time.Duration
}

// Add accumulates another ConsumedCapacity into a running total (used by
// query execution to tally capacity across multiple server round-trips).
func (c *ConsumedCapacity) Add(other ConsumedCapacity) {
	c.ReadUnits += other.ReadUnits
	c.WriteUnits += other.WriteUnits
	c.ReadRateLimitDelay += other.ReadRateLimitDelay
	c.WriteRateLimitDelay += other.WriteRateLimitDelay
}
