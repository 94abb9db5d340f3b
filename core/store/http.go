package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"

	"github.com/meigma/pyramid/internal/sizing"
)

// HTTPStore reads objects with GET requests relative to a base URL.
type HTTPStore struct {
	base     *url.URL
	client   *nethttp.Client
	headers  nethttp.Header
	maxBytes uint64
}

var _ Store = (*HTTPStore)(nil)

// HTTPOption configures an HTTPStore.
type HTTPOption func(*HTTPStore)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) HTTPOption {
	return func(s *HTTPStore) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) HTTPOption {
	return func(s *HTTPStore) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) HTTPOption {
	return func(s *HTTPStore) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithMaxObjectBytes limits the size of a single response body.
func WithMaxObjectBytes(limit uint64) HTTPOption {
	return func(s *HTTPStore) {
		s.maxBytes = limit
	}
}

// NewHTTPStore returns a store that resolves keys against baseURL.
func NewHTTPStore(baseURL string, opts ...HTTPOption) (*HTTPStore, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLocation, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocation, u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	s := &HTTPStore{
		base:     u,
		client:   nethttp.DefaultClient,
		maxBytes: DefaultMaxObjectBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	return s, nil
}

// Name implements Store.
func (s *HTTPStore) Name() string {
	return s.base.String()
}

// Get implements Store.
func (s *HTTPStore) Get(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, key)
	}
	req, err := s.newRequest(ctx, cleaned)
	if err != nil {
		return nil, transient(s, key, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, transient(s, key, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain for connection reuse
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case nethttp.StatusOK:
		// ok
	case nethttp.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	default:
		return nil, transient(s, key, fmt.Errorf("request failed: %s", resp.Status))
	}

	errTooLarge := errors.New("response body too large")
	data, err := sizing.ReadAllWithLimit(resp.Body, s.maxBytes, errTooLarge)
	if err != nil {
		return nil, transient(s, key, err)
	}
	return data, nil
}

// newRequest creates a GET request for key with the configured headers.
func (s *HTTPStore) newRequest(ctx context.Context, key string) (*nethttp.Request, error) {
	ref, err := url.Parse("./" + escapeKey(key))
	if err != nil {
		return nil, err
	}
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, s.base.ResolveReference(ref).String(), nethttp.NoBody)
	if err != nil {
		return nil, err
	}
	for k, values := range s.headers {
		for _, value := range values {
			req.Header.Add(k, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	return req, nil
}

// escapeKey percent-encodes each key segment. Zarr keys such as ".zarray"
// and "0.0.0" pass through unchanged.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
