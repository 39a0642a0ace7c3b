package models

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Amr-9/kelp/pkg/kelperr"
)

// TableStateKind is the lifecycle state of a table as reported by GetTable.
type TableStateKind uint8

const (
	TableActive TableStateKind = iota
	TableCreating
	TableDropping
	TableDropped
	TableUpdating
)

func (s TableStateKind) String() string {
	switch s {
	case TableActive:
		return "ACTIVE"
	case TableCreating:
		return "CREATING"
	case TableDropping:
		return "DROPPING"
	case TableDropped:
		return "DROPPED"
	case TableUpdating:
		return "UPDATING"
	default:
		return "UNKNOWN"
	}
}

// TableLimits carries the provisioned throughput for a table. A zero count
// on either side means that side is unmetered (the coordinator installs a
// no-op limiter for it rather than a zero-rate one).
type TableLimits struct {
	ReadUnits  int
	WriteUnits int
	StorageGB  int
}

// TableResult is the mutable result object the table-state poller updates
// in place on every poll so a caller holding a reference observes progress
// without re-fetching.
type TableResult struct {
	TableName string
	State     TableStateKind
	Limits    TableLimits
	Schema    string
	OperationID string
}

// NormalizeTableName is the case-insensitive key the rate-limiting
// coordinator's per-table map indexes on.
func NormalizeTableName(name string) string {
	return strings.ToLower(name)
}

// ParseTableState maps a wire state string onto a TableStateKind.
func ParseTableState(s string) (TableStateKind, bool) {
	switch strings.ToUpper(s) {
	case "ACTIVE":
		return TableActive, true
	case "CREATING":
		return TableCreating, true
	case "DROPPING":
		return TableDropping, true
	case "DROPPED":
		return TableDropped, true
	case "UPDATING":
		return TableUpdating, true
	default:
		return TableActive, false
	}
}

// ParseTableResult decodes a GetTable/DDL response payload.
func ParseTableResult(body []byte) (*TableResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, &kelperr.BadProtocolError{Message: "table result is not valid JSON"}
	}
	state, ok := ParseTableState(gjson.GetBytes(body, "state").String())
	if !ok {
		return nil, &kelperr.BadProtocolError{Message: "table result carries an unknown state"}
	}
	return &TableResult{
		TableName: gjson.GetBytes(body, "tableName").String(),
		State:     state,
		Limits: TableLimits{
			ReadUnits:  int(gjson.GetBytes(body, "limits.readUnits").Int()),
			WriteUnits: int(gjson.GetBytes(body, "limits.writeUnits").Int()),
			StorageGB:  int(gjson.GetBytes(body, "limits.storageGB").Int()),
		},
		Schema:      gjson.GetBytes(body, "schema").String(),
		OperationID: gjson.GetBytes(body, "operationId").String(),
	}, nil
}

// PreparedStatement is the opaque compiled query plan returned by Prepare.
// PlanRoot is left as `any` here: the concrete plan-node tree is owned by
// internal/query, which this package cannot import without a cycle (query
// runtime depends on models, not the reverse).
type PreparedStatement struct {
	// PlanRoot holds the client-side iterator factory and never travels
	// back over the wire.
	PlanRoot      any `json:"-"`
	Table         string
	RegisterCount int
	VariableNames []string
	Topology      *TopologyInfo
	PrepareCost   ConsumedCapacity
	QueryText     string
}

// TopologyInfo lists the shard ids a sorted, AllShards-distributed query
// must seed one partial result for.
type TopologyInfo struct {
	ShardIDs []int
}

// ContinuationKey is the opaque, server- or driver-supplied byte string
// that must be round-tripped verbatim to resume a paged or ranged
// operation.
type ContinuationKey []byte
