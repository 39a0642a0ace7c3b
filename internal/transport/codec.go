package transport

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"github.com/Amr-9/kelp/pkg/models"
)

// JSONHandler is a reference ProtocolHandler/Serializer implementation for
// tests and for services configured with a human-readable protocol.
// Production deployments against the binary wire protocol supply their own
// ProtocolHandler; this one exists so the execution loop, rate limiter and
// retry classifier can be exercised end-to-end without a real server.
type JSONHandler struct {
	version int
}

// NewJSONHandler builds a reference handler pinned to the given serial
// version (see internal/protocol.Negotiator for the version actually in
// force during a live exchange).
func NewJSONHandler(version int) *JSONHandler {
	return &JSONHandler{version: version}
}

func (h *JSONHandler) ContentType() string   { return "application/json" }
func (h *JSONHandler) SerialVersion() int    { return h.version }
func (h *JSONHandler) StartWrite(w io.Writer, req *models.Request) error { return nil }
func (h *JSONHandler) StartRead(r io.Reader, req *models.Request) error  { return nil }
func (h *JSONHandler) Serializer() Serializer { return jsonSerializer{} }

type jsonSerializer struct{}

// envelope is the wire shape the reference codec wraps every request in;
// Kind lets the peer (or, in tests, a fake server) dispatch without a
// schema registry.
type envelope struct {
	Kind    string          `json:"kind"`
	Table   string          `json:"table,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func (jsonSerializer) Serialize(req *models.Request, w io.Writer) error {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("codec: marshal payload: %w", err)
	}
	env := envelope{Kind: req.Kind.String(), Table: req.Table, Payload: payload}
	return json.NewEncoder(w).Encode(env)
}

// Deserialize decodes a response envelope and extracts the fields every
// data-plane response carries (consumed capacity) via gjson
// rather than a fully typed Unmarshal: a response's payload shape depends
// on req.Kind, and only the bookkeeping fields below are needed here; the
// kind-specific payload is handed back raw for the caller to interpret.
func (jsonSerializer) Deserialize(req *models.Request, r io.Reader) (any, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("codec: read response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("codec: response is not valid JSON")
	}

	result := &models.ConsumedCapacity{
		ReadUnits:  int(gjson.GetBytes(body, "consumedCapacity.readUnits").Int()),
		WriteUnits: int(gjson.GetBytes(body, "consumedCapacity.writeUnits").Int()),
	}

	return &RawResult{
		ConsumedCapacity: *result,
		Payload:          json.RawMessage(gjson.GetBytes(body, "payload").Raw),
	}, nil
}

// RawResult is what the reference JSON codec hands back to the execution
// loop: the bookkeeping the coordinator needs, plus the untouched payload
// bytes for the caller to decode into its own typed result.
type RawResult struct {
	ConsumedCapacity models.ConsumedCapacity
	Payload          json.RawMessage
}

// Capacity implements the internal/exec.CapacityCarrier contract.
func (r *RawResult) Capacity() models.ConsumedCapacity { return r.ConsumedCapacity }

// PayloadBytes implements the models.PayloadCarrier contract.
func (r *RawResult) PayloadBytes() []byte { return r.Payload }
