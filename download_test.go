package skycache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skymap-app/skycache/internal/testutil"
)

// progressRecorder collects progress events; callbacks may arrive from
// concurrent batch fetches.
type progressRecorder struct {
	mu     sync.Mutex
	events []Progress
}

func (r *progressRecorder) record(p Progress) {
	r.mu.Lock()
	r.events = append(r.events, p)
	r.mu.Unlock()
}

func (r *progressRecorder) all() []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Progress, len(r.events))
	copy(out, r.events)
	return out
}

func (r *progressRecorder) last() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func TestDownloadLayerComplete(t *testing.T) {
	t.Parallel()

	m, f := newTestManager(t)
	layer, _ := m.Registry().Layer("stars")
	respondLayer(f, layer, []byte("data"), "application/octet-stream")

	rec := &progressRecorder{}
	complete, err := m.DownloadLayer(context.Background(), "stars", rec.record)
	require.NoError(t, err)
	assert.True(t, complete)

	status, err := m.LayerStatus("stars")
	require.NoError(t, err)
	assert.True(t, status.IsComplete)
	assert.Equal(t, 3, status.CachedFileCount)

	last := rec.last()
	assert.Equal(t, TaskCompleted, last.Status)
	assert.Equal(t, 3, last.CompletedUnits)
	assert.Equal(t, int64(3000), last.CompletedBytesEstimate)
}

func TestDownloadLayerFilesFetchedInDeclaredOrder(t *testing.T) {
	t.Parallel()

	m, f := newTestManager(t)
	layer, _ := m.Registry().Layer("stars")
	respondLayer(f, layer, []byte("data"), "application/octet-stream")

	_, err := m.DownloadLayer(context.Background(), "stars", nil)
	require.NoError(t, err)

	want := make([]string, 0, len(layer.Files))
	for _, relPath := range layer.Files {
		want = append(want, layer.FileURL(relPath))
	}
	assert.Equal(t, want, f.Calls())
}

func TestDownloadLayerPartialFailureContinues(t *testing.T) {
	t.Parallel()

	m, f := newTestManager(t)
	layer, _ := m.Registry().Layer("stars")
	respondLayer(f, layer, []byte("data"), "application/octet-stream")
	f.Fail(layer.FileURL("stars_0.eph"), &StatusError{URL: layer.FileURL("stars_0.eph"), Code: 503})

	rec := &progressRecorder{}
	complete, err := m.DownloadLayer(context.Background(), "stars", rec.record)
	require.NoError(t, err, "a failed file is not a download error")
	assert.False(t, complete)

	// The failure did not abort the remaining files.
	assert.Len(t, f.Calls(), 3)

	status, err := m.LayerStatus("stars")
	require.NoError(t, err)
	assert.False(t, status.IsComplete)
	assert.Equal(t, []string{"stars_0.eph"}, status.MissingFiles)
	assert.Equal(t, TaskFailed, rec.last().Status)
}

func TestDownloadLayerUnknown(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	_, err := m.DownloadLayer(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownLayer)
}

func TestDownloadLayerProgressMonotonic(t *testing.T) {
	t.Parallel()

	m, f := newTestManager(t)
	layer, _ := m.Registry().Layer("stars")
	respondLayer(f, layer, []byte("data"), "application/octet-stream")
	f.Fail(layer.FileURL("stars_1.eph"), errors.New("network down"))

	rec := &progressRecorder{}
	_, err := m.DownloadLayer(context.Background(), "stars", rec.record)
	require.NoError(t, err)

	events := rec.all()
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].CompletedUnits, events[i-1].CompletedUnits)
		assert.GreaterOrEqual(t, events[i].CompletedBytesEstimate, events[i-1].CompletedBytesEstimate)
	}
}

// cancellingFetcher cancels a download after a fixed number of fetches.
type cancellingFetcher struct {
	inner  *testutil.MockFetcher
	after  int32
	cancel func()
	count  int32
}

func (f *cancellingFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	data, contentType, err := f.inner.Fetch(ctx, url)
	if atomic.AddInt32(&f.count, 1) == f.after {
		f.cancel()
	}
	return data, contentType, err
}

func TestDownloadLayerCancelledMidLoop(t *testing.T) {
	t.Parallel()

	inner := testutil.NewMockFetcher()
	cf := &cancellingFetcher{inner: inner, after: 1}
	m, err := New(WithFetcher(cf), WithLayers(testLayers()...))
	require.NoError(t, err)
	defer m.Close()

	layer, _ := m.Registry().Layer("stars")
	respondLayer(inner, layer, []byte("data"), "application/octet-stream")
	cf.cancel = func() { m.CancelDownload("stars") }

	rec := &progressRecorder{}
	complete, err := m.DownloadLayer(context.Background(), "stars", rec.record)
	require.NoError(t, err, "cancellation is a distinguished outcome, not an error")
	assert.False(t, complete)
	assert.Equal(t, TaskCancelled, rec.last().Status)

	// Partially-stored files remain cached; there is no rollback.
	status, err := m.LayerStatus("stars")
	require.NoError(t, err)
	assert.Equal(t, 1, status.CachedFileCount)
	assert.Equal(t, 2, len(status.MissingFiles))

	// The task left the active registry.
	assert.Empty(t, m.ActiveTasks())
}

func TestDownloadLayerDuplicateRejected(t *testing.T) {
	t.Parallel()

	bf := testutil.NewBlockingFetcher()
	m, err := New(WithFetcher(bf), WithLayers(testLayers()...))
	require.NoError(t, err)
	defer m.Close()

	layer, _ := m.Registry().Layer("stars")
	respondLayer(bf.MockFetcher, layer, []byte("data"), "application/octet-stream")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.DownloadLayer(context.Background(), "stars", nil)
	}()

	<-bf.Started
	_, err = m.DownloadLayer(context.Background(), "stars", nil)
	assert.ErrorIs(t, err, ErrAlreadyDownloading)

	// A different layer is unaffected by the in-flight one.
	tasks := m.ActiveTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "stars", tasks[0].TargetID)
	assert.Equal(t, TaskDownloading, tasks[0].Status)

	m.CancelDownload("stars")
	<-done
}

func TestDownloadLayersPriorityOrder(t *testing.T) {
	t.Parallel()

	m, f := newTestManager(t)
	stars, _ := m.Registry().Layer("stars")
	engine, _ := m.Registry().Layer("engine")
	respondLayer(f, stars, []byte("data"), "application/octet-stream")
	respondLayer(f, engine, []byte("data"), "application/octet-stream")

	// "stars" is passed first but "engine" has the lower priority value.
	complete, err := m.DownloadLayers(context.Background(), []string{"stars", "engine"}, nil)
	require.NoError(t, err)
	assert.True(t, complete)

	calls := f.Calls()
	require.Len(t, calls, 5)
	for _, url := range calls[:2] {
		assert.True(t, strings.Contains(url, "/engine/"), "engine files must land first, got %s", url)
	}
}

func TestDownloadLayersDeduplicates(t *testing.T) {
	t.Parallel()

	m, f := newTestManager(t)
	engine, _ := m.Registry().Layer("engine")
	respondLayer(f, engine, []byte("data"), "application/octet-stream")

	complete, err := m.DownloadLayers(context.Background(), []string{"engine", "engine"}, nil)
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Len(t, f.Calls(), len(engine.Files), "each file fetched once")
}

func TestDownloadLayersSkipsUnknown(t *testing.T) {
	t.Parallel()

	m, f := newTestManager(t)
	engine, _ := m.Registry().Layer("engine")
	respondLayer(f, engine, []byte("data"), "application/octet-stream")

	complete, err := m.DownloadLayers(context.Background(), []string{"bogus", "engine"}, nil)
	require.NoError(t, err)
	assert.True(t, complete)
}

func TestCancelAllDownloads(t *testing.T) {
	t.Parallel()

	bf := testutil.NewBlockingFetcher()
	m, err := New(WithFetcher(bf), WithLayers(testLayers()...))
	require.NoError(t, err)
	defer m.Close()

	for _, id := range []string{"stars", "engine"} {
		layer, _ := m.Registry().Layer(id)
		respondLayer(bf.MockFetcher, layer, []byte("data"), "application/octet-stream")
	}

	var wg sync.WaitGroup
	for _, id := range []string{"stars", "engine"} {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.DownloadLayer(context.Background(), id, nil)
		}()
	}

	<-bf.Started
	<-bf.Started
	m.CancelAllDownloads()
	wg.Wait()
	assert.Empty(t, m.ActiveTasks())
}
