// Package transport implements the HTTP submit path: the single-method
// "serialize, stamp headers, POST, classify, deserialize" exchange the
// execution loop drives on every attempt.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"golang.org/x/net/http2"

	"github.com/Amr-9/kelp/pkg/kelperr"
	"github.com/Amr-9/kelp/pkg/models"
)

// DataPath is the fixed relative path every data-plane exchange POSTs to.
const DataPath = "/V0/nosql/data"

// ProtocolHandler is the wire-protocol collaborator: content type, current
// serial version, per-version framing hooks, and the serializer that
// dispatches on concrete request type. The binary wire codec itself lives
// with the caller; Submitter only needs this contract.
type ProtocolHandler interface {
	ContentType() string
	SerialVersion() int
	StartWrite(w io.Writer, req *models.Request) error
	StartRead(r io.Reader, req *models.Request) error
	Serializer() Serializer
}

// Serializer dispatches on a Request's concrete Kind/Payload to produce and
// consume wire bytes.
type Serializer interface {
	Serialize(req *models.Request, w io.Writer) error
	Deserialize(req *models.Request, r io.Reader) (any, error)
}

// CredentialProvider is called once per attempt to stamp authorization
// headers; it is free to perform its own I/O and must respect ctx.
type CredentialProvider interface {
	ApplyAuthorization(ctx context.Context, httpReq *http.Request) error
}

// NoopCredentials never stamps anything; useful against an unsecured
// KVStore endpoint and in tests.
type NoopCredentials struct{}

func (NoopCredentials) ApplyAuthorization(ctx context.Context, httpReq *http.Request) error {
	return nil
}

// Submitter is the HTTP submit path. One Submitter is shared by every
// concurrent operation on a client; all of its state is either immutable
// or atomic.
type Submitter struct {
	client          *http.Client
	endpoint        string
	namespace       string
	handler         ProtocolHandler
	credentials     CredentialProvider
	maxRequestSize  int
	maxResponseSize int
	requestID       int64
}

// Options configures transport construction: TLS, HTTP/2 with automatic
// fallback to HTTP/1.1, and an explicitly disabled client-level timeout so
// the driver alone owns per-attempt deadlines.
type Options struct {
	Endpoint            string
	Namespace           string
	Handler             ProtocolHandler
	Credentials         CredentialProvider
	MaxIdleConnsPerHost int

	// MaxRequestSize and MaxResponseSize bound the serialized body of one
	// exchange in each direction; zero means unbounded.
	MaxRequestSize  int
	MaxResponseSize int

	// Transport lets a caller supply a pre-built *http.Transport (e.g. one
	// carrying a custom TLS trust store or PEM-loaded certs) instead of the
	// default one this constructor builds; the trust-store/PEM plumbing
	// itself lives with the caller, this is just the seam for it.
	Transport *http.Transport
}

// NewSubmitter builds a Submitter. The transport is HTTP/2-capable with
// automatic HTTP/1.1 fallback, since the data-plane endpoint may sit
// behind an HTTP/2-terminating load balancer.
func NewSubmitter(opts Options) (*Submitter, error) {
	base := opts.Transport
	if base == nil {
		base = &http.Transport{
			MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		}
	}
	if err := http2.ConfigureTransport(base); err != nil {
		return nil, fmt.Errorf("transport: configure http2: %w", err)
	}

	creds := opts.Credentials
	if creds == nil {
		creds = NoopCredentials{}
	}

	return &Submitter{
		client: &http.Client{
			Transport: base,
			// Deliberately no Timeout: the execution loop owns the
			// deadline via the context passed to ExecuteRequest.
		},
		endpoint:        opts.Endpoint,
		namespace:       opts.Namespace,
		handler:         opts.Handler,
		credentials:     creds,
		maxRequestSize:  opts.MaxRequestSize,
		maxResponseSize: opts.MaxResponseSize,
	}, nil
}

// ExecuteRequest performs one full exchange: serialize, stamp headers,
// apply credentials, POST, classify the status, deserialize the body.
func (s *Submitter) ExecuteRequest(ctx context.Context, req *models.Request) (any, error) {
	var body bytes.Buffer
	if err := s.handler.StartWrite(&body, req); err != nil {
		return nil, kelperr.NewArgumentError("failed to frame request: " + err.Error())
	}
	if err := s.handler.Serializer().Serialize(req, &body); err != nil {
		return nil, kelperr.NewArgumentError("failed to serialize request: " + err.Error())
	}
	if s.maxRequestSize > 0 && body.Len() > s.maxRequestSize {
		return nil, kelperr.NewArgumentError(fmt.Sprintf("serialized request size %d exceeds maximum %d", body.Len(), s.maxRequestSize))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+DataPath, bytes.NewReader(body.Bytes()))
	if err != nil {
		return nil, err
	}

	reqID := atomic.AddInt64(&s.requestID, 1)
	httpReq.Header.Set("Content-Type", s.handler.ContentType())
	httpReq.Header.Set("Accept", s.handler.ContentType())
	httpReq.Header.Set("Connection", "keep-alive")
	httpReq.Header.Set("x-nosql-request-id", fmt.Sprintf("%d", reqID))
	if s.namespace != "" {
		httpReq.Header.Set("x-nosql-namespace", s.namespace)
	}

	if err := s.credentials.ApplyAuthorization(ctx, httpReq); err != nil {
		return nil, err
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		// The deadline firing mid-exchange surfaces as a *url.Error wrapping
		// context.DeadlineExceeded; translate it here so the execution loop
		// sees a timeout rather than a transient network error it might burn
		// the rest of the retry budget on. Cancellation stays untranslated:
		// it is a distinct condition, not a timeout.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, kelperr.NewTimeoutException(req.Timeout, req.RetryCount, err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, kelperr.NewServiceError(statusToCode(resp.StatusCode), resp.StatusCode, string(payload))
	}

	respBody := io.Reader(resp.Body)
	if s.maxResponseSize > 0 {
		buffered, err := io.ReadAll(io.LimitReader(resp.Body, int64(s.maxResponseSize)+1))
		if err != nil {
			return nil, err
		}
		if len(buffered) > s.maxResponseSize {
			return nil, &kelperr.BadProtocolError{Message: fmt.Sprintf("response exceeds maximum size %d", s.maxResponseSize)}
		}
		respBody = bytes.NewReader(buffered)
	}

	if err := s.handler.StartRead(respBody, req); err != nil {
		return nil, fmt.Errorf("transport: frame response: %w", err)
	}
	return s.handler.Serializer().Deserialize(req, respBody)
}

// errorBodyLimit caps how much of a non-200 body is buffered into the
// raised error's message.
const errorBodyLimit = 64 * 1024

func statusToCode(status int) kelperr.ServiceErrorCode {
	switch status {
	case 401, 403:
		return kelperr.AuthenticationFailed
	case 429:
		return kelperr.ThrottlingRead
	default:
		return kelperr.OtherClientError
	}
}
