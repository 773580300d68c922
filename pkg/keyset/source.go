package keyset

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

const (
	// DefaultFetchTimeout bounds one key-set request end to end.
	DefaultFetchTimeout = 10 * time.Second

	// DefaultMaxDocumentBytes caps the key-set response body.
	DefaultMaxDocumentBytes int64 = 1 << 20
)

// Source produces a fresh key set. Implementations must honour ctx and
// must not retry internally.
type Source interface {
	Fetch(ctx context.Context) (*KeySet, error)
}

// SourceFunc adapts a function to [Source].
type SourceFunc func(ctx context.Context) (*KeySet, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context) (*KeySet, error) { return f(ctx) }

// HTTPClient is the subset of *http.Client used by [HTTPSource].
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSource fetches a key set with an unauthenticated GET.
type HTTPSource struct {
	url      string
	client   HTTPClient
	maxBytes int64
	tracer   trace.Tracer
}

// HTTPSourceOption configures an [HTTPSource].
type HTTPSourceOption func(*HTTPSource)

// WithHTTPClient replaces the default client. The caller is responsible
// for giving it finite timeouts.
func WithHTTPClient(c HTTPClient) HTTPSourceOption {
	return func(s *HTTPSource) {
		if c != nil {
			s.client = c
		}
	}
}

// WithFetchTimeout sets the timeout of the default client.
func WithFetchTimeout(d time.Duration) HTTPSourceOption {
	return func(s *HTTPSource) {
		if d > 0 {
			s.client = NewHTTPClient(d)
		}
	}
}

// WithMaxDocumentBytes overrides [DefaultMaxDocumentBytes].
func WithMaxDocumentBytes(n int64) HTTPSourceOption {
	return func(s *HTTPSource) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// NewHTTPClient returns an *http.Client whose overall timeout and
// response-header timeout are both d.
func NewHTTPClient(d time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = d
	return &http.Client{Timeout: d, Transport: transport}
}

// NewHTTPSource returns a Source reading the JWKS document at url.
func NewHTTPSource(url string, opts ...HTTPSourceOption) *HTTPSource {
	s := &HTTPSource{
		url:      url,
		client:   NewHTTPClient(DefaultFetchTimeout),
		maxBytes: DefaultMaxDocumentBytes,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// URL returns the endpoint this source reads.
func (s *HTTPSource) URL() string { return s.url }

// Fetch performs one GET. Transport failures, non-200 statuses, oversized
// bodies and unparseable documents all return [sserr.CodeUnavailableKeySet].
func (s *HTTPSource) Fetch(ctx context.Context) (_ *KeySet, err error) {
	ctx, span := startSpan(ctx, s.tracer, "keyset.Fetch")
	span.SetAttributes(attribute.String("http.url", s.url))
	defer func() { finishSpan(span, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableKeySet, "keyset: failed to build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableKeySet, "keyset: request failed").
			WithDetail("url", s.url)
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		return nil, sserr.Newf(sserr.CodeUnavailableKeySet,
			"keyset: endpoint returned status %d", resp.StatusCode).WithDetail("url", s.url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableKeySet, "keyset: failed to read response")
	}
	if int64(len(body)) > s.maxBytes {
		return nil, sserr.Newf(sserr.CodeUnavailableKeySet,
			"keyset: response exceeds %d bytes", s.maxBytes)
	}

	set, err := Parse(body)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("keyset.size", set.Len()))
	return set, nil
}
