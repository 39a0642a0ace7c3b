// Package coordinator paces data-plane traffic per table: a pair of
// read/write RateLimiters, lazily created, refreshed in the background from
// table limits, and consulted before and after every exchange. It also
// hosts the per-table circuit breaker, gated alongside the limiter lookup
// since both sit in front of the execution loop's HTTP call.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/Amr-9/kelp/internal/metrics"
	"github.com/Amr-9/kelp/internal/ratelimiter"
	"github.com/Amr-9/kelp/internal/retry"
	"github.com/Amr-9/kelp/pkg/kelperr"
	"github.com/Amr-9/kelp/pkg/models"
)

// RefreshInterval is the background limit-refresh period per table.
const RefreshInterval = 10 * time.Minute

// DefaultBurst is the burst window new limiters are constructed with.
const DefaultBurst = time.Second

// GetTableFunc fetches fresh table limits/state for a background refresh or
// an initial lazy lookup; the coordinator never talks to the execution loop
// or the transport directly, only through this seam.
type GetTableFunc func(ctx context.Context, table string) (*models.TableResult, error)

// entry is one table's limiter pair plus its breaker and the cancel handle
// of any pending background refresh.
type entry struct {
	read  ratelimiter.RateLimiter
	write ratelimiter.RateLimiter
	breaker *gobreaker.TwoStepCircuitBreaker
	cancelRefresh context.CancelFunc
}

// Coordinator owns the per-table entry map, keyed by the case-insensitive
// table name.
type Coordinator struct {
	mu      sync.Mutex
	entries map[string]*entry
	// pending marks tables with an in-flight initial lookup, so a burst of
	// requests against an unknown table (including the lookup's own
	// GetTable exchange passing back through Admit) starts one background
	// fetch, not one per request.
	pending map[string]bool

	enabled           bool
	ratePercent       float64 // New stores 100 when no ratio is configured
	breakerEnabled    bool
	getTable          GetTableFunc
	log               *zap.Logger
	metrics           *metrics.Recorder
}

// Config bundles the coordinator's construction-time options.
type Config struct {
	// Enabled false disables rate limiting entirely (always the case for
	// on-premise KVStore deployments).
	Enabled bool
	// RateLimiterPercent is the share (0, 100] of a table's provisioned
	// throughput this client paces itself to, default 100; values below
	// 100 also start a periodic background refresh for every table whose
	// entry is installed, since peers may change limits. A failed initial
	// GetTable installs no entry and starts no refresh; the next request
	// for that table starts a new lookup.
	RateLimiterPercent float64
	BreakerEnabled     bool
	GetTable           GetTableFunc
	Logger             *zap.Logger
	// Metrics records rate-limit delays and consumed capacity; a nil
	// Metrics records nothing (metrics.Recorder's methods are nil-safe).
	Metrics *metrics.Recorder
}

// New builds a Coordinator. A nil Logger installs zap.NewNop(). Every log
// line this Coordinator emits carries a random instance ID (distinct from
// any table or request identifier) so an operator running more than one
// Coordinator in the same process can tell their log lines apart.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "coordinator"), zap.String("instance_id", uuid.NewString()))
	ratio := cfg.RateLimiterPercent
	if ratio <= 0 {
		ratio = 100
	}
	return &Coordinator{
		entries:        make(map[string]*entry),
		pending:        make(map[string]bool),
		enabled:        cfg.Enabled,
		ratePercent:    ratio,
		breakerEnabled: cfg.BreakerEnabled,
		getTable:       cfg.GetTable,
		log:            logger,
		metrics:        cfg.Metrics,
	}
}

// Admit performs the per-request pre-check: consult the breaker, then
// pre-consume 0 units on each side the request touches.
// When no table name was supplied or the table is not yet known, Admit
// returns nil without pacing; the request proceeds unpaced this time.
func (c *Coordinator) Admit(ctx context.Context, req *models.Request) error {
	if req.Table == "" {
		return nil
	}
	e := c.lookup(req.Table)
	if e == nil {
		return nil
	}

	if e.breaker != nil {
		done, err := e.breaker.Allow()
		if err != nil {
			c.log.Warn("circuit open, fast-failing request", zap.String("table", req.Table))
			return &kelperr.CircuitOpenError{Table: req.Table}
		}
		req.BreakerDone = done
	}

	remaining := remainingTimeout(ctx, req.Timeout)
	if req.DoesReads {
		if _, err := e.read.ConsumeUnits(0, remaining, false); err != nil {
			return kelperr.NewTimeoutException(remaining, req.RetryCount, err)
		}
	}
	if req.DoesWrites {
		if _, err := e.write.ConsumeUnits(0, remaining, false); err != nil {
			return kelperr.NewTimeoutException(remaining, req.RetryCount, err)
		}
	}
	return nil
}

// Charge is the post-exchange half: charge the units actually consumed,
// writing the accumulated delay back into the ConsumedCapacity the caller
// holds, and record the outcome with the breaker.
func (c *Coordinator) Charge(ctx context.Context, req *models.Request, consumed *models.ConsumedCapacity, callErr error) {
	if req.Table == "" {
		return
	}
	e := c.lookup(req.Table)
	if e == nil {
		return
	}

	if req.BreakerDone != nil {
		req.BreakerDone(breakerSuccess(callErr))
		req.BreakerDone = nil
	}

	remaining := remainingTimeout(ctx, req.Timeout)
	if req.DoesReads {
		delay, _ := e.read.ConsumeUnits(consumed.ReadUnits, remaining, true)
		consumed.ReadRateLimitDelay = delay
		c.metrics.RecordRateLimitDelay(req.Table, "read", delay)
	}
	if req.DoesWrites {
		delay, _ := e.write.ConsumeUnits(consumed.WriteUnits, remaining, true)
		consumed.WriteRateLimitDelay = delay
		c.metrics.RecordRateLimitDelay(req.Table, "write", delay)
	}
	c.metrics.RecordConsumedCapacity(consumed.ReadUnits, consumed.WriteUnits)
}

// HandleThrottling feeds a throttling failure observed by the execution
// loop back into the appropriate limiter.
func (c *Coordinator) HandleThrottling(table string, isWrite bool) {
	e := c.lookup(table)
	if e == nil {
		return
	}
	if isWrite {
		e.write.HandleThrottling()
	} else {
		e.read.HandleThrottling()
	}
}

// breakerSuccess: a request counts as a breaker failure iff its terminal
// error is a retryable service error or transient network error; fatal
// validation errors never count against the breaker.
func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	return !retry.Classify(err)
}

func remainingTimeout(ctx context.Context, fallback time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if remain := time.Until(dl); remain > 0 {
			return remain
		}
		return 0
	}
	return fallback
}

// lookup resolves a table's entry; if the table is unknown, kick off a
// background GetTable and return nil so this request proceeds unpaced.
func (c *Coordinator) lookup(table string) *entry {
	if !c.enabled {
		return nil
	}
	key := models.NormalizeTableName(table)

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		c.mu.Unlock()
		return e
	}
	if c.pending[key] {
		c.mu.Unlock()
		return nil
	}
	c.pending[key] = true
	c.mu.Unlock()

	go c.refreshOnce(key, table)
	return nil
}

// ApplyTableResult installs, refreshes or removes an entry based on a
// GetTable/DDL response.
func (c *Coordinator) ApplyTableResult(table string, tr *models.TableResult, initialLookupFailed bool) {
	key := models.NormalizeTableName(table)

	c.mu.Lock()
	defer c.mu.Unlock()

	if tr == nil {
		// A transient fetch failure, not an explicit Dropped response:
		// leave any existing entry and its background refresh loop running
		// rather than tearing down rate limiting over a single blip.
		return
	}
	if tr.State == models.TableDropped {
		if e, ok := c.entries[key]; ok {
			if e.cancelRefresh != nil {
				e.cancelRefresh()
			}
			delete(c.entries, key)
		}
		return
	}
	if tr.State != models.TableActive {
		return
	}

	e, existed := c.entries[key]
	if !existed {
		e = &entry{}
		if c.breakerEnabled {
			e.breaker = newBreaker(table)
		}
		c.entries[key] = e
	}

	e.read = buildSide(e.read, tr.Limits.ReadUnits, c.ratePercent)
	e.write = buildSide(e.write, tr.Limits.WriteUnits, c.ratePercent)

	needsRefresh := initialLookupFailed || c.ratePercent < 100
	if needsRefresh && e.cancelRefresh == nil && c.getTable != nil {
		ctx, cancel := context.WithCancel(context.Background())
		e.cancelRefresh = cancel
		go c.runRefreshLoop(ctx, table)
	}
}

func buildSide(existing ratelimiter.RateLimiter, units int, ratePercent float64) ratelimiter.RateLimiter {
	if units <= 0 {
		return ratelimiter.NullLimiter{}
	}
	effective := float64(units) * (ratePercent / 100)
	if l, ok := existing.(*ratelimiter.Limiter); ok {
		l.SetLimit(effective, DefaultBurst)
		return l
	}
	return ratelimiter.New(effective, DefaultBurst)
}

func (c *Coordinator) refreshOnce(key, table string) {
	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()
	if c.getTable == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	tr, err := c.getTable(ctx, table)
	if err != nil {
		c.log.Debug("initial rate limiter lookup failed, proceeding unpaced", zap.String("table", table), zap.Error(err))
	}
	c.ApplyTableResult(table, tr, err != nil)
}

func (c *Coordinator) runRefreshLoop(ctx context.Context, table string) {
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fetchCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			tr, err := c.getTable(fetchCtx, table)
			cancel()
			if err != nil {
				c.log.Debug("background rate limiter refresh failed, keeping prior limits", zap.String("table", table), zap.Error(err))
			}
			c.ApplyTableResult(table, tr, err != nil)
		}
	}
}

// Close cancels every pending background refresh; called on client
// disposal.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.cancelRefresh != nil {
			e.cancelRefresh()
		}
	}
}

// newBreaker builds a two-step breaker: Admit calls Allow to gate the
// request without recording it, and Charge calls the returned done callback
// exactly once with the real outcome, so each request contributes a single
// entry to gobreaker.Counts (see Admit/Charge).
func newBreaker(table string) *gobreaker.TwoStepCircuitBreaker {
	settings := gobreaker.Settings{
		Name:        table,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.5
		},
	}
	return gobreaker.NewTwoStepCircuitBreaker(settings)
}
