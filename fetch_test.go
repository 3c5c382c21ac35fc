package skycache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/info.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"name":"stars"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher()
	data, contentType, err := f.Fetch(context.Background(), srv.URL+"/info.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"name":"stars"}`), data)
	assert.Equal(t, "application/json", contentType)
}

func TestHTTPFetcherStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := NewHTTPFetcher()
	_, _, err := f.Fetch(context.Background(), srv.URL+"/missing")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Equal(t, srv.URL+"/missing", statusErr.URL)
}

func TestHTTPFetcherUserAgent(t *testing.T) {
	t.Parallel()

	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	f := NewHTTPFetcher(WithUserAgent("skycache-test/1.0"))
	_, _, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "skycache-test/1.0", got)
}

func TestHTTPFetcherMaxBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(WithMaxBody(1024))
	data, _, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, data, 1024)
}

func TestHTTPFetcherCancelled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		f := NewHTTPFetcher()
		_, _, err := f.Fetch(ctx, srv.URL)
		done <- err
	}()

	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
}
