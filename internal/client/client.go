// Package client assembles the driver's components into a usable whole:
// one execution loop built over a real rate-limiting coordinator, protocol
// negotiator and HTTP submitter, a query.Fetcher implementation that
// drives query fetches through that same loop, and the table-state poller
// wired to GetTable exchanges. Everything above this package (typed
// results, enumerable paging helpers) is the caller's ergonomic layer;
// everything below it is unit-tested in isolation and composed here.
package client

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Amr-9/kelp/internal/coordinator"
	"github.com/Amr-9/kelp/internal/exec"
	"github.com/Amr-9/kelp/internal/metrics"
	"github.com/Amr-9/kelp/internal/poller"
	"github.com/Amr-9/kelp/internal/protocol"
	"github.com/Amr-9/kelp/internal/query"
	"github.com/Amr-9/kelp/internal/retry"
	"github.com/Amr-9/kelp/internal/transport"
	"github.com/Amr-9/kelp/pkg/config"
	"github.com/Amr-9/kelp/pkg/fieldvalue"
	"github.com/Amr-9/kelp/pkg/kelperr"
	"github.com/Amr-9/kelp/pkg/models"
)

// Options carries the injectable collaborators construction can't derive
// from Configuration alone.
type Options struct {
	// Handler supplies the wire protocol; nil installs the reference JSON
	// handler at the negotiator's current version.
	Handler transport.ProtocolHandler
	// Credentials stamps authorization headers; nil sends none.
	Credentials transport.CredentialProvider
}

// Client is one driver instance: a shared submitter, coordinator and
// negotiator, and the execution loop that stitches them. Safe for
// unlimited concurrent calls; individual Request objects remain
// single-owner.
type Client struct {
	cfg        *config.Configuration
	loop       *exec.Loop
	coord      *coordinator.Coordinator
	negotiator *protocol.Negotiator
	submitter  *transport.Submitter
	metrics    *metrics.Recorder
	log        *zap.Logger
}

// New validates cfg and builds the composed pipeline.
func New(cfg *config.Configuration, opts Options) (*Client, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logger := cfg.Logging()
	var rec *metrics.Recorder
	if cfg.MetricsRegisterer != nil {
		rec = metrics.New(cfg.MetricsRegisterer)
	}

	negotiator := protocol.NewNegotiator()
	handler := opts.Handler
	if handler == nil {
		handler = transport.NewJSONHandler(negotiator.CurrentVersion())
	}

	submitter, err := transport.NewSubmitter(transport.Options{
		Endpoint:        cfg.Endpoint,
		Namespace:       cfg.Namespace,
		Handler:         handler,
		Credentials:     opts.Credentials,
		MaxRequestSize:  cfg.MaxRequestSize,
		MaxResponseSize: cfg.MaxResponseSize,
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		negotiator: negotiator,
		submitter:  submitter,
		metrics:    rec,
		log:        logger,
	}

	c.coord = coordinator.New(coordinator.Config{
		Enabled:            cfg.RateLimitingEnabled && cfg.ServiceType != config.KVStore,
		RateLimiterPercent: cfg.RateLimiterPercent,
		BreakerEnabled:     cfg.BreakerEnabled,
		GetTable: func(ctx context.Context, table string) (*models.TableResult, error) {
			return c.GetTable(ctx, table, cfg.DefaultTimeout)
		},
		Logger:  logger,
		Metrics: rec,
	})

	c.loop = exec.New(exec.Config{
		Submitter:                   submitter,
		Coordinator:                 c.coord,
		Negotiator:                  negotiator,
		RetryHandler:                retry.NewHandler(cfg.MaxRetryAttempts),
		SecurityInfoNotReadyTimeout: cfg.SecurityInfoNotReadyTimeout,
		DisableProtocolFallback:     cfg.DisableProtocolFallback,
		Metrics:                     rec,
	})

	return c, nil
}

// Close releases the coordinator's background refresh tasks.
func (c *Client) Close() {
	c.coord.Close()
}

// Execute drives an already-built request through the full pipeline. The
// result is the protocol handler's decoded object.
func (c *Client) Execute(ctx context.Context, req *models.Request) (any, error) {
	return c.loop.Execute(ctx, req)
}

// Get reads one row by primary key.
func (c *Client) Get(ctx context.Context, table string, key fieldvalue.Value) (any, error) {
	return c.loop.Execute(ctx, models.NewGetRequest(table, key, c.cfg.DefaultTimeout))
}

// Put writes one row.
func (c *Client) Put(ctx context.Context, table string, row fieldvalue.Value) (any, error) {
	return c.loop.Execute(ctx, models.NewPutRequest(table, row, c.cfg.DefaultTimeout))
}

// Delete removes one row by primary key.
func (c *Client) Delete(ctx context.Context, table string, key fieldvalue.Value) (any, error) {
	return c.loop.Execute(ctx, models.NewDeleteRequest(table, key, c.cfg.DefaultTimeout))
}

// GetTable fetches a table's current state through the execution loop; the
// decoded TableResult lands via the payload's ApplyResult hook.
func (c *Client) GetTable(ctx context.Context, table string, timeout time.Duration) (*models.TableResult, error) {
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}
	req := models.NewGetTableRequest(table, timeout)
	payload := req.Payload.(*models.GetTablePayload)
	if _, err := c.loop.Execute(ctx, req); err != nil {
		return nil, err
	}
	return payload.Result, nil
}

// WaitForTable polls GetTable until predicate holds, updating result in
// place on every poll. The per-poll timeout is bounded by the configured
// table-poll timeout and the client default timeout, shrinking as the
// overall deadline approaches.
func (c *Client) WaitForTable(ctx context.Context, result *models.TableResult, predicate poller.Predicate, description string, timeout time.Duration, waitingOnUnknownTable bool) error {
	p := poller.New(func(perPollTimeout time.Duration) (*models.TableResult, error) {
		return c.GetTable(ctx, result.TableName, perPollTimeout)
	}, isTableNotFound)
	return p.WaitFor(result, predicate, description, timeout,
		c.cfg.TablePollDelay, c.cfg.TablePollTimeout, c.cfg.DefaultTimeout, waitingOnUnknownTable)
}

// QueryRuntime builds a query runtime wired to this client, so the plan's
// leaf iterators fetch each batch through the execution loop.
func (c *Client) QueryRuntime(stmt *models.PreparedStatement, externalVariables map[string]fieldvalue.Value) (*query.Runtime, error) {
	return query.NewRuntime(c, stmt, externalVariables, c.cfg.MaxMemory)
}

// fetchResult is the slice of the handler's decoded result Fetch needs;
// transport.RawResult satisfies it.
type fetchResult interface {
	PayloadBytes() []byte
	Capacity() models.ConsumedCapacity
}

// Fetch implements query.Fetcher: one server round-trip of a query plan,
// driven through the execution loop so it gets the full
// retry/rate-limiting/protocol-fallback treatment.
func (c *Client) Fetch(ctx context.Context, freq *query.FetchRequest) (*query.FetchResponse, error) {
	payload := &models.QueryPayload{
		Prepared:              freq.Statement,
		ContinuationKey:       freq.ContinuationKey,
		Limit:                 freq.Limit,
		ShardID:               freq.ShardID,
		HasShardID:            freq.HasShardID,
		Phase:                 freq.Phase,
		Phase1ContinuationKey: freq.Phase1ContinuationKey,
	}
	req := models.NewQueryRequest(freq.Statement.Table, payload, c.cfg.DefaultTimeout)

	res, err := c.loop.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	fr, ok := res.(fetchResult)
	if !ok {
		return nil, &kelperr.BadProtocolError{Message: "query response has an unexpected result shape"}
	}
	return decodeFetchResponse(fr)
}

// decodeFetchResponse turns the raw payload of one query exchange into the
// runtime's normalized shape.
func decodeFetchResponse(fr fetchResult) (*query.FetchResponse, error) {
	resp := &query.FetchResponse{Consumed: fr.Capacity()}
	body := fr.PayloadBytes()
	if len(body) == 0 {
		return resp, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, &kelperr.BadProtocolError{Message: "query payload is not valid JSON"}
	}

	var rowErr error
	gjson.GetBytes(body, "rows").ForEach(func(_, item gjson.Result) bool {
		v, err := fieldvalue.FromJSON([]byte(item.Raw))
		if err != nil {
			rowErr = err
			return false
		}
		resp.Rows = append(resp.Rows, v)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}

	resp.HasMore = gjson.GetBytes(body, "hasMore").Bool()
	resp.Phase1Done = gjson.GetBytes(body, "phase1Done").Bool()

	ck, err := decodeKey(gjson.GetBytes(body, "continuationKey"))
	if err != nil {
		return nil, err
	}
	resp.ContinuationKey = ck

	gjson.GetBytes(body, "partitionIds").ForEach(func(_, item gjson.Result) bool {
		resp.PartitionIDs = append(resp.PartitionIDs, int(item.Int()))
		return true
	})
	gjson.GetBytes(body, "resultCounts").ForEach(func(_, item gjson.Result) bool {
		resp.ResultCounts = append(resp.ResultCounts, int(item.Int()))
		return true
	})
	var keyErr error
	gjson.GetBytes(body, "continuationKeys").ForEach(func(_, item gjson.Result) bool {
		k, err := decodeKey(item)
		if err != nil {
			keyErr = err
			return false
		}
		resp.ContinuationKeys = append(resp.ContinuationKeys, k)
		return true
	})
	if keyErr != nil {
		return nil, keyErr
	}
	return resp, nil
}

// decodeKey base64-decodes one continuation key, matching how the JSON
// codec encodes the []byte it serialized on the way out.
func decodeKey(r gjson.Result) (models.ContinuationKey, error) {
	if r.Type != gjson.String || r.Str == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(r.Str)
	if err != nil {
		return nil, &kelperr.BadProtocolError{Message: "continuation key is not valid base64"}
	}
	return models.ContinuationKey(raw), nil
}

func isTableNotFound(err error) bool {
	var se *kelperr.ServiceError
	return errors.As(err, &se) && se.Code == kelperr.TableNotFound
}
