// Package poller blocks until an asynchronously completing DDL
// (CreateTable, DropTable, schema evolution) reaches a target state,
// sharing its timeout budget with the originating operation the way the
// execution loop shares its own.
package poller

import (
	"fmt"
	"time"

	"github.com/Amr-9/kelp/pkg/kelperr"
	"github.com/Amr-9/kelp/pkg/models"
)

// GetTableFunc fetches the current state of the table result.Target is
// polling, using perPollTimeout as its effective request timeout. It is
// the same seam internal/coordinator.GetTableFunc uses, kept as a separate
// type here so this package never imports internal/coordinator.
type GetTableFunc func(perPollTimeout time.Duration) (*models.TableResult, error)

// NotFoundFunc reports whether err is the service's TableNotFound error, so
// this package does not need to import internal/retry or know the concrete
// service-error representation the transport layer produced.
type NotFoundFunc func(err error) bool

// Predicate reports whether result has reached the caller's target state.
// It is evaluated after every successful poll, including the very first
// one (a table that is already Active when CreateTable's poll starts must
// not sleep before returning).
type Predicate func(result *models.TableResult) bool

// Poller drives the table-state poll loop. SleepFn and NowFn are filled in
// by New when the caller leaves them nil, the same zero-means-default
// convention internal/exec.Config uses.
type Poller struct {
	GetTable  GetTableFunc
	IsNotFound NotFoundFunc

	SleepFn func(time.Duration)
	NowFn   func() time.Time
}

// New builds a Poller, filling in default Sleep/Now functions (overridable
// for deterministic tests, matching internal/exec.New and
// internal/ratelimiter.New).
func New(getTable GetTableFunc, isNotFound NotFoundFunc) *Poller {
	return &Poller{
		GetTable:   getTable,
		IsNotFound: isNotFound,
		SleepFn:    time.Sleep,
		NowFn:      time.Now,
	}
}

// WaitFor polls GetTable until predicate holds or the deadline (accounting
// for the upcoming sleep) would be crossed. result is updated in place on
// every poll so a caller holding a reference observes progress without
// re-fetching. Each individual poll's request timeout is
// min(tablePollTimeout, clientDefaultTimeout), shrinking further as the
// overall deadline approaches.
//
// waitingOnUnknownTable tells the poller whether the caller already
// expects the target table might not exist (e.g. polling for a DropTable to
// finish, where the table's disappearance is the success condition, not a
// failure): when true, a TableNotFound response only updates result's state
// to Dropped and is evaluated by predicate like any other poll; when false
// (e.g. polling for a just-issued CreateTable to go Active), TableNotFound
// is unexpected and is propagated as an exception instead of looping.
func (p *Poller) WaitFor(
	result *models.TableResult,
	predicate Predicate,
	description string,
	timeout time.Duration,
	pollDelay time.Duration,
	tablePollTimeout time.Duration,
	clientDefaultTimeout time.Duration,
	waitingOnUnknownTable bool,
) error {
	startTime := p.NowFn()
	endTime := startTime.Add(timeout)

	perPollTimeout := tablePollTimeout
	if clientDefaultTimeout > 0 && clientDefaultTimeout < perPollTimeout {
		perPollTimeout = clientDefaultTimeout
	}

	for {
		now := p.NowFn()
		remaining := endTime.Sub(now)
		if remaining < perPollTimeout {
			perPollTimeout = remaining
		}
		if perPollTimeout < 0 {
			perPollTimeout = 0
		}

		fresh, err := p.GetTable(perPollTimeout)
		if err != nil {
			if p.IsNotFound != nil && p.IsNotFound(err) {
				result.State = models.TableDropped
				if !waitingOnUnknownTable {
					// Unexpected: the caller was waiting for a known
					// table to reach some other state, not for it to
					// disappear. Surface the original classification
					// (TableNotFound is a fatal service error) rather
					// than inventing a new local error code for it.
					return err
				}
			} else {
				return err
			}
		} else {
			copyInto(result, fresh)
		}

		if predicate(result) {
			return nil
		}

		now = p.NowFn()
		if !now.Add(pollDelay).Before(endTime) {
			return kelperr.NewTimeoutException(now.Sub(startTime), 0, fmt.Errorf("%s: deadline reached waiting for target state", description))
		}
		p.SleepFn(pollDelay)

		remaining = endTime.Sub(p.NowFn())
		if remaining < tablePollTimeout {
			perPollTimeout = remaining
		} else {
			perPollTimeout = tablePollTimeout
		}
		if clientDefaultTimeout > 0 && clientDefaultTimeout < perPollTimeout {
			perPollTimeout = clientDefaultTimeout
		}
	}
}

// copyInto mutates dst's fields from src so a caller's existing
// *models.TableResult pointer reflects progress in place.
func copyInto(dst, src *models.TableResult) {
	dst.TableName = src.TableName
	dst.State = src.State
	dst.Limits = src.Limits
	dst.Schema = src.Schema
	dst.OperationID = src.OperationID
}
