package models

import (
	"time"

	"github.com/Amr-9/kelp/pkg/fieldvalue"
	"github.com/Amr-9/kelp/pkg/kelperr"
)

// Consistency selects the read consistency of a Get or Query.
type Consistency uint8

const (
	Eventual Consistency = iota
	Absolute
)

// PutOption selects the conditional behavior of a Put.
type PutOption uint8

const (
	PutAlways PutOption = iota
	PutIfAbsent
	PutIfPresent
	PutIfVersion
)

// GetPayload is the kind-specific half of a KindGet request.
type GetPayload struct {
	Key         fieldvalue.Value
	Consistency Consistency
}

func (p *GetPayload) Validate() error {
	if p.Key.Kind() != fieldvalue.KindMap {
		return kelperr.NewArgumentError("get: key must be a record of primary key columns")
	}
	if len(p.Key.AsMapEntries()) == 0 {
		return kelperr.NewArgumentError("get: key must not be empty")
	}
	return nil
}

// PutPayload is the kind-specific half of a KindPut request.
type PutPayload struct {
	Row          fieldvalue.Value
	Option       PutOption
	MatchVersion []byte
	TTLDays      int
	ReturnRow    bool
}

func (p *PutPayload) Validate() error {
	if p.Row.Kind() != fieldvalue.KindMap {
		return kelperr.NewArgumentError("put: row must be a record")
	}
	if len(p.Row.AsMapEntries()) == 0 {
		return kelperr.NewArgumentError("put: row must not be empty")
	}
	if p.Option == PutIfVersion && len(p.MatchVersion) == 0 {
		return kelperr.NewArgumentError("put: ifVersion requires a match version")
	}
	if p.Option != PutIfVersion && len(p.MatchVersion) > 0 {
		return kelperr.NewArgumentError("put: match version is only valid with ifVersion")
	}
	if p.TTLDays < 0 {
		return kelperr.NewArgumentError("put: TTL must not be negative")
	}
	return nil
}

// DeletePayload is the kind-specific half of a KindDelete request.
type DeletePayload struct {
	Key          fieldvalue.Value
	MatchVersion []byte
	ReturnRow    bool
}

func (p *DeletePayload) Validate() error {
	if p.Key.Kind() != fieldvalue.KindMap || len(p.Key.AsMapEntries()) == 0 {
		return kelperr.NewArgumentError("delete: key must be a non-empty record of primary key columns")
	}
	return nil
}

// WriteOperation is one element of a WriteMultiple batch: exactly one of
// Put or Delete is set.
type WriteOperation struct {
	Put         *PutPayload
	Delete      *DeletePayload
	AbortOnFail bool
}

// WriteMultiplePayload is the kind-specific half of a KindWriteMultiple
// request: a batch of puts and deletes against a single table, executed
// atomically by the server.
type WriteMultiplePayload struct {
	Operations []WriteOperation
}

func (p *WriteMultiplePayload) Validate() error {
	if len(p.Operations) == 0 {
		return kelperr.NewArgumentError("writeMultiple: batch must contain at least one operation")
	}
	for _, op := range p.Operations {
		switch {
		case op.Put != nil && op.Delete != nil:
			return kelperr.NewArgumentError("writeMultiple: operation carries both a put and a delete")
		case op.Put != nil:
			if err := op.Put.Validate(); err != nil {
				return err
			}
		case op.Delete != nil:
			if err := op.Delete.Validate(); err != nil {
				return err
			}
		default:
			return kelperr.NewArgumentError("writeMultiple: operation carries neither a put nor a delete")
		}
	}
	return nil
}

// FieldRange bounds a MultiDeleteRange over the values of one field beyond
// the partial primary key.
type FieldRange struct {
	FieldPath      string
	Start          fieldvalue.Value
	End            fieldvalue.Value
	StartInclusive bool
	EndInclusive   bool
}

// MultiDeleteRangePayload is the kind-specific half of a KindMultiDeleteRange
// request: delete every row matching a partial primary key, optionally
// bounded by a field range, resumable via the continuation key the previous
// call returned.
type MultiDeleteRangePayload struct {
	Key             fieldvalue.Value
	Range           *FieldRange
	MaxWriteKB      int
	ContinuationKey ContinuationKey
}

func (p *MultiDeleteRangePayload) Validate() error {
	if p.Key.Kind() != fieldvalue.KindMap || len(p.Key.AsMapEntries()) == 0 {
		return kelperr.NewArgumentError("deleteRange: key must be a non-empty partial primary key")
	}
	if p.MaxWriteKB < 0 {
		return kelperr.NewArgumentError("deleteRange: maxWriteKB must not be negative")
	}
	if p.Range != nil {
		if p.Range.FieldPath == "" {
			return kelperr.NewArgumentError("deleteRange: field range requires a field path")
		}
		if p.Range.Start.Kind() == fieldvalue.KindEmpty && p.Range.End.Kind() == fieldvalue.KindEmpty {
			return kelperr.NewArgumentError("deleteRange: field range requires at least one bound")
		}
	}
	return nil
}

// QueryPayload is the kind-specific half of a KindQuery request. Either
// Statement (text to be implicitly prepared) or Prepared is set.
type QueryPayload struct {
	Statement         string
	Prepared          *PreparedStatement
	ExternalVariables map[string]fieldvalue.Value
	Consistency       Consistency
	Limit             int
	MaxReadKB         int
	ContinuationKey   ContinuationKey

	// Fetch scoping used by the query runtime's distributed strategies:
	// a shard-targeted refill, or one phase of the two-phase all-partition
	// protocol. Zero values mean an ordinary whole-query fetch.
	ShardID               int
	HasShardID            bool
	Phase                 int
	Phase1ContinuationKey ContinuationKey
}

func (p *QueryPayload) Validate() error {
	if p.Statement == "" && p.Prepared == nil {
		return kelperr.NewArgumentError("query: either a statement or a prepared statement is required")
	}
	if p.Statement != "" && p.Prepared != nil {
		return kelperr.NewArgumentError("query: statement and prepared statement are mutually exclusive")
	}
	if p.Limit < 0 {
		return kelperr.NewArgumentError("query: limit must not be negative")
	}
	if p.MaxReadKB < 0 {
		return kelperr.NewArgumentError("query: maxReadKB must not be negative")
	}
	if len(p.ExternalVariables) > 0 && p.Prepared == nil {
		return kelperr.NewArgumentError("query: external variables require a prepared statement")
	}
	return nil
}

// PreparePayload is the kind-specific half of a KindPrepare request.
type PreparePayload struct {
	Statement    string
	GetQueryPlan bool
}

func (p *PreparePayload) Validate() error {
	if p.Statement == "" {
		return kelperr.NewArgumentError("prepare: statement must not be empty")
	}
	return nil
}

// GetTablePayload is the kind-specific half of a KindGetTable request.
// OperationID, when set, scopes the result to a specific in-flight DDL.
type GetTablePayload struct {
	OperationID string

	// Result is populated by ApplyResult once the exchange completes, so a
	// caller holding the payload reads the decoded table state directly.
	Result *TableResult `json:"-"`
}

func (p *GetTablePayload) Validate() error { return nil }

// ApplyResult decodes the exchange's payload bytes into Result.
func (p *GetTablePayload) ApplyResult(result any) error {
	carrier, ok := result.(PayloadCarrier)
	if !ok {
		return &kelperr.BadProtocolError{Message: "getTable response carries no payload"}
	}
	tr, err := ParseTableResult(carrier.PayloadBytes())
	if err != nil {
		return err
	}
	p.Result = tr
	return nil
}

// TableDDLPayload is the kind-specific half of a KindTableDDL request: a
// DDL statement (CREATE TABLE, DROP TABLE, ALTER TABLE) plus, for
// provisioning changes, the target limits.
type TableDDLPayload struct {
	Statement string
	Limits    *TableLimits
}

func (p *TableDDLPayload) Validate() error {
	if p.Statement == "" && p.Limits == nil {
		return kelperr.NewArgumentError("tableDDL: a statement or table limits are required")
	}
	if p.Limits != nil {
		if p.Limits.ReadUnits < 0 || p.Limits.WriteUnits < 0 || p.Limits.StorageGB < 0 {
			return kelperr.NewArgumentError("tableDDL: table limits must not be negative")
		}
	}
	return nil
}

// ListTablesPayload is the kind-specific half of a KindListTables request,
// paged by StartIndex/Limit.
type ListTablesPayload struct {
	StartIndex int
	Limit      int
	Namespace  string
}

func (p *ListTablesPayload) Validate() error {
	if p.StartIndex < 0 {
		return kelperr.NewArgumentError("listTables: startIndex must not be negative")
	}
	if p.Limit < 0 {
		return kelperr.NewArgumentError("listTables: limit must not be negative")
	}
	return nil
}

// TableUsagePayload is the kind-specific half of a KindTableUsage request:
// fetch per-table throughput usage records over a time range.
type TableUsagePayload struct {
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
	StartIndex int
}

func (p *TableUsagePayload) Validate() error {
	if !p.StartTime.IsZero() && !p.EndTime.IsZero() && p.EndTime.Before(p.StartTime) {
		return kelperr.NewArgumentError("tableUsage: end time precedes start time")
	}
	if p.Limit < 0 || p.StartIndex < 0 {
		return kelperr.NewArgumentError("tableUsage: limit and startIndex must not be negative")
	}
	return nil
}

// NewGetRequest builds a KindGet request against table.
func NewGetRequest(table string, key fieldvalue.Value, timeout time.Duration) *Request {
	return &Request{Kind: KindGet, Table: table, Timeout: timeout, DoesReads: true,
		Payload: &GetPayload{Key: key}}
}

// NewPutRequest builds a KindPut request against table.
func NewPutRequest(table string, row fieldvalue.Value, timeout time.Duration) *Request {
	return &Request{Kind: KindPut, Table: table, Timeout: timeout, DoesWrites: true,
		Payload: &PutPayload{Row: row}}
}

// NewDeleteRequest builds a KindDelete request against table.
func NewDeleteRequest(table string, key fieldvalue.Value, timeout time.Duration) *Request {
	return &Request{Kind: KindDelete, Table: table, Timeout: timeout, DoesWrites: true,
		Payload: &DeletePayload{Key: key}}
}

// NewWriteMultipleRequest builds a KindWriteMultiple request against table.
func NewWriteMultipleRequest(table string, ops []WriteOperation, timeout time.Duration) *Request {
	return &Request{Kind: KindWriteMultiple, Table: table, Timeout: timeout, DoesWrites: true,
		Payload: &WriteMultiplePayload{Operations: ops}}
}

// NewMultiDeleteRangeRequest builds a KindMultiDeleteRange request against
// table, resuming from payload.ContinuationKey when non-nil.
func NewMultiDeleteRangeRequest(table string, payload *MultiDeleteRangePayload, timeout time.Duration) *Request {
	return &Request{Kind: KindMultiDeleteRange, Table: table, Timeout: timeout, DoesWrites: true,
		Payload: payload}
}

// NewQueryRequest builds a KindQuery request. Queries may both read and
// write (e.g. UPDATE statements), so both limiter sides are consulted.
func NewQueryRequest(table string, payload *QueryPayload, timeout time.Duration) *Request {
	return &Request{Kind: KindQuery, Table: table, Timeout: timeout, DoesReads: true, DoesWrites: true,
		Payload: payload}
}

// NewPrepareRequest builds a table-less KindPrepare request.
func NewPrepareRequest(statement string, timeout time.Duration) *Request {
	return &Request{Kind: KindPrepare, Timeout: timeout,
		Payload: &PreparePayload{Statement: statement}}
}

// NewGetTableRequest builds a KindGetTable request against table.
func NewGetTableRequest(table string, timeout time.Duration) *Request {
	return &Request{Kind: KindGetTable, Table: table, Timeout: timeout,
		Payload: &GetTablePayload{}}
}

// NewTableDDLRequest builds a KindTableDDL request; table may be empty when
// the statement itself names the target.
func NewTableDDLRequest(table string, payload *TableDDLPayload, timeout time.Duration) *Request {
	return &Request{Kind: KindTableDDL, Table: table, Timeout: timeout, Payload: payload}
}

// NewListTablesRequest builds a table-less KindListTables request.
func NewListTablesRequest(payload *ListTablesPayload, timeout time.Duration) *Request {
	return &Request{Kind: KindListTables, Timeout: timeout, Payload: payload}
}

// NewTableUsageRequest builds a KindTableUsage request against table.
func NewTableUsageRequest(table string, payload *TableUsagePayload, timeout time.Duration) *Request {
	return &Request{Kind: KindTableUsage, Table: table, Timeout: timeout, Payload: payload}
}
