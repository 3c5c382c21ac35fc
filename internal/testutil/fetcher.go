// Package testutil provides shared test doubles for the cache packages.
package testutil

import (
	"context"
	"fmt"
	"sync"
)

// MockFetcher implements the manager's Fetcher interface from a fixed
// URL→payload map and records every requested URL.
type MockFetcher struct {
	mu        sync.Mutex
	responses map[string][]byte
	types     map[string]string
	errs      map[string]error
	calls     []string
}

// NewMockFetcher creates an empty MockFetcher.
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		responses: make(map[string][]byte),
		types:     make(map[string]string),
		errs:      make(map[string]error),
	}
}

// Respond registers a payload for url, superseding any error
// previously registered with Fail.
func (f *MockFetcher) Respond(url string, data []byte, contentType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = data
	f.types[url] = contentType
	delete(f.errs, url)
}

// Fail registers an error for url.
func (f *MockFetcher) Fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

// Fetch returns the registered payload or error for url. A URL with no
// registration returns a generic error, standing in for a 404.
func (f *MockFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)

	if err, ok := f.errs[url]; ok {
		return nil, "", err
	}
	if data, ok := f.responses[url]; ok {
		buf := make([]byte, len(data))
		copy(buf, data)
		return buf, f.types[url], nil
	}
	return nil, "", fmt.Errorf("testutil: no response registered for %s", url)
}

// Calls returns every URL requested so far, in order.
func (f *MockFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns the number of requests for a single URL.
func (f *MockFetcher) CallCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.calls {
		if call == url {
			n++
		}
	}
	return n
}

// BlockingFetcher wraps a MockFetcher and blocks each Fetch until the
// request context is cancelled or Release is called, for driving
// cancellation paths deterministically.
type BlockingFetcher struct {
	*MockFetcher
	Started chan string
	release chan struct{}
	once    sync.Once
}

// NewBlockingFetcher creates a BlockingFetcher.
func NewBlockingFetcher() *BlockingFetcher {
	return &BlockingFetcher{
		MockFetcher: NewMockFetcher(),
		Started:     make(chan string, 1024),
		release:     make(chan struct{}),
	}
}

// Release unblocks all pending and future fetches.
func (f *BlockingFetcher) Release() {
	f.once.Do(func() { close(f.release) })
}

// Fetch signals Started, then waits for cancellation or Release before
// delegating to the underlying MockFetcher.
func (f *BlockingFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	select {
	case f.Started <- url:
	default:
	}
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case <-f.release:
	}
	return f.MockFetcher.Fetch(ctx, url)
}
