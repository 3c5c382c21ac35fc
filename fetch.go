package skycache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Fetcher retrieves a remote resource. Implementations must honor
// context cancellation: a cancelled fetch returns an error satisfying
// errors.Is(err, context.Canceled).
type Fetcher interface {
	// Fetch returns the response body and its content type.
	Fetch(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// StatusError reports a non-2xx HTTP response. It is a transient,
// per-file failure: downloads log it and continue with the next file.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("skycache: fetch %s: status %d", e.URL, e.Code)
}

// HTTPFetcher implements Fetcher over net/http.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	maxBody   int64
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithClient sets the HTTP client used for requests.
func WithClient(client *http.Client) HTTPOption {
	return func(f *HTTPFetcher) {
		f.client = client
	}
}

// WithUserAgent sets the User-Agent header for requests.
func WithUserAgent(ua string) HTTPOption {
	return func(f *HTTPFetcher) {
		f.userAgent = ua
	}
}

// WithMaxBody limits the number of response bytes read per fetch.
// Zero means no limit.
func WithMaxBody(n int64) HTTPOption {
	return func(f *HTTPFetcher) {
		f.maxBody = n
	}
}

// NewHTTPFetcher creates an HTTPFetcher with a 60-second default
// timeout per request.
func NewHTTPFetcher(opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = http.DefaultClient
	}
	return f
}

// Fetch retrieves url, returning the body and content type.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("skycache: build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("skycache: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &StatusError{URL: url, Code: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if f.maxBody > 0 {
		body = io.LimitReader(resp.Body, f.maxBody)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", fmt.Errorf("skycache: read %s: %w", url, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
