package skycache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/skymap-app/skycache/codec"
	"github.com/skymap-app/skycache/meta"
	"github.com/skymap-app/skycache/store"
	"github.com/skymap-app/skycache/store/memory"
)

// cachePrefix is the stable partition-name prefix. It must not change
// across versions: the migrator finds legacy data by this prefix.
const cachePrefix = "skycache"

// defaultBatchSize bounds concurrent tile fetches within one batch.
const defaultBatchSize = 10

// Manager orchestrates layer and survey downloads, integrity repair,
// schema migration, and usage reporting over a blob store.
//
// The active-task registry is owned by the Manager instance; callers
// that need cancellation hold a reference to the Manager, not to any
// package-level state.
type Manager struct {
	store     store.Store
	fetcher   Fetcher
	codec     *codec.Codec
	meta      *meta.Store
	ownedMeta bool
	registry  *Registry
	logger    *slog.Logger
	batchSize int

	mu    sync.Mutex
	tasks map[string]*task
}

// Option configures a Manager.
type Option func(*Manager) error

// WithStore sets the blob store. Defaults to an in-memory store, the
// degraded mode used when no persistent store is available.
func WithStore(s store.Store) Option {
	return func(m *Manager) error {
		m.store = s
		return nil
	}
}

// WithFetcher sets the network fetch primitive.
func WithFetcher(f Fetcher) Option {
	return func(m *Manager) error {
		m.fetcher = f
		return nil
	}
}

// WithCodec sets the compression codec used on the write/read path.
func WithCodec(c *codec.Codec) Option {
	return func(m *Manager) error {
		m.codec = c
		return nil
	}
}

// WithMeta sets the metadata slot holding the schema version and
// hit/miss counters. The caller retains ownership and must close it.
func WithMeta(s *meta.Store) Option {
	return func(m *Manager) error {
		m.meta = s
		return nil
	}
}

// WithMetaPath opens the metadata slot at path. The Manager owns the
// resulting handle and closes it on Close.
func WithMetaPath(path string) Option {
	return func(m *Manager) error {
		s, err := meta.Open(path)
		if err != nil {
			return err
		}
		m.meta = s
		m.ownedMeta = true
		return nil
	}
}

// WithLayers replaces the built-in layer registry.
func WithLayers(layers ...LayerDescriptor) Option {
	return func(m *Manager) error {
		m.registry = NewRegistry(layers...)
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		m.logger = logger
		return nil
	}
}

// WithBatchSize sets the number of tiles fetched concurrently per
// survey-download batch. Defaults to 10.
func WithBatchSize(n int) Option {
	return func(m *Manager) error {
		if n < 1 {
			return fmt.Errorf("skycache: batch size must be >= 1, got %d", n)
		}
		m.batchSize = n
		return nil
	}
}

// New creates a Manager.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		batchSize: defaultBatchSize,
		tasks:     make(map[string]*task),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.store == nil {
		m.store = memory.New()
	}
	if m.fetcher == nil {
		m.fetcher = NewHTTPFetcher()
	}
	if m.codec == nil {
		m.codec = codec.New(codec.WithLogger(m.logger))
	}
	if m.registry == nil {
		m.registry = NewRegistry(DefaultLayers()...)
	}
	if m.meta == nil {
		s, err := meta.Open(meta.MemoryPath)
		if err != nil {
			return nil, err
		}
		m.meta = s
		m.ownedMeta = true
	}
	return m, nil
}

// Close releases resources owned by the Manager.
func (m *Manager) Close() error {
	m.CancelAllDownloads()
	if m.ownedMeta && m.meta != nil {
		return m.meta.Close()
	}
	return nil
}

// Registry returns the layer registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) log() *slog.Logger {
	if m.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return m.logger
}

// layerPartition names the partition holding a layer's files. The
// naming convention prefix-{id}-v{version} must remain stable so the
// migrator can find legacy data.
func layerPartition(layerID string) string {
	return fmt.Sprintf("%s-%s-v%d", cachePrefix, layerID, CurrentCacheVersion)
}

// surveyPartition names the partition holding a survey's tiles.
func surveyPartition(surveyID string) string {
	return fmt.Sprintf("%s-hips-%s-v%d", cachePrefix, surveyID, CurrentCacheVersion)
}

// isCachePartition reports whether name belongs to this cache system.
func isCachePartition(name string) bool {
	return strings.HasPrefix(name, cachePrefix+"-")
}

// encode conditionally compresses a payload before storage.
func (m *Manager) encode(data []byte, contentType string) []byte {
	if !m.codec.ShouldCompress(len(data), contentType) {
		return data
	}
	out, compressed := m.codec.Compress(data)
	if !compressed {
		return data
	}
	return out
}

// decode reverses encode, passing uncompressed payloads through.
func (m *Manager) decode(data []byte) []byte {
	return m.codec.Decompress(data)
}

func (m *Manager) recordHit(partition string) {
	if err := m.meta.RecordHit(partition); err != nil {
		m.log().Debug("record hit", "partition", partition, "error", err)
	}
}

func (m *Manager) recordMiss(partition string) {
	if err := m.meta.RecordMiss(partition); err != nil {
		m.log().Debug("record miss", "partition", partition, "error", err)
	}
}

// ReadCachedFile returns a layer file's original bytes from the cache.
// It is a read-only query used by the rendering side; a miss means the
// caller should fall back to the network.
func (m *Manager) ReadCachedFile(layerID, relPath string) ([]byte, bool) {
	layer, ok := m.registry.Layer(layerID)
	if !ok {
		return nil, false
	}
	name := layerPartition(layerID)
	part, err := m.store.Open(name)
	if err != nil {
		return nil, false
	}
	data, found, err := part.Match(layer.FileURL(relPath))
	if err != nil || !found {
		m.recordMiss(name)
		return nil, false
	}
	m.recordHit(name)
	return m.decode(data), true
}

// ReadCachedTile returns a survey tile's original bytes from the cache.
func (m *Manager) ReadCachedTile(survey Survey, addr TileAddress) ([]byte, bool) {
	name := surveyPartition(survey.ID)
	part, err := m.store.Open(name)
	if err != nil {
		return nil, false
	}
	data, found, err := part.Match(survey.TileURL(addr))
	if err != nil || !found {
		m.recordMiss(name)
		return nil, false
	}
	m.recordHit(name)
	return m.decode(data), true
}

// task is one in-flight download. The snapshot under mu is what
// progress callbacks and ActiveTasks observe.
type task struct {
	mu     sync.Mutex
	snap   DownloadTask
	cancel context.CancelFunc
}

// DownloadTask is a snapshot of an in-flight layer or survey download.
type DownloadTask struct {
	ID                     string
	TargetID               string
	Status                 TaskStatus
	TotalUnits             int
	CompletedUnits         int
	TotalBytesEstimate     int64
	CompletedBytesEstimate int64
	FailedUnits            int
	Reason                 string
}

const (
	layerTaskPrefix  = "layer/"
	surveyTaskPrefix = "survey/"
)

// begin registers a task for key, rejecting a duplicate in-flight
// download of the same target.
func (m *Manager) begin(ctx context.Context, key, targetID string, units int, bytes int64) (context.Context, *task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[key]; ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrAlreadyDownloading, targetID)
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &task{
		snap: DownloadTask{
			ID:                 uuid.NewString(),
			TargetID:           targetID,
			Status:             TaskPending,
			TotalUnits:         units,
			TotalBytesEstimate: bytes,
		},
		cancel: cancel,
	}
	m.tasks[key] = t
	return ctx, t, nil
}

// finish removes a task from the registry once it reaches a terminal
// status and releases its cancellation context.
func (m *Manager) finish(key string, t *task) {
	t.cancel()
	m.mu.Lock()
	delete(m.tasks, key)
	m.mu.Unlock()
}

// cancelTask cancels the task registered under key, if any.
func (m *Manager) cancelTask(key string) bool {
	m.mu.Lock()
	t, ok := m.tasks[key]
	m.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel()
	return true
}

// CancelDownload cancels the in-flight download for a layer.
// It reports whether a download was active.
func (m *Manager) CancelDownload(layerID string) bool {
	return m.cancelTask(layerTaskPrefix + layerID)
}

// CancelSurveyDownload cancels the in-flight download for a survey.
func (m *Manager) CancelSurveyDownload(surveyID string) bool {
	return m.cancelTask(surveyTaskPrefix + surveyID)
}

// CancelAllDownloads cancels every in-flight download.
func (m *Manager) CancelAllDownloads() {
	m.mu.Lock()
	tasks := make([]*task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()
	for _, t := range tasks {
		t.cancel()
	}
}

// ActiveTasks returns snapshots of every in-flight download.
func (m *Manager) ActiveTasks() []DownloadTask {
	m.mu.Lock()
	tasks := make([]*task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	out := make([]DownloadTask, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.snapshot())
	}
	return out
}

func (t *task) snapshot() DownloadTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

func (t *task) setStatus(s TaskStatus) {
	t.mu.Lock()
	t.snap.Status = s
	t.mu.Unlock()
}

func (t *task) fail(reason string) {
	t.mu.Lock()
	t.snap.Status = TaskFailed
	t.snap.Reason = reason
	t.mu.Unlock()
}

// advance records one fetch attempt and returns the updated snapshot.
// The byte estimate is prorated from the unit ratio.
func (t *task) advance(failed bool) DownloadTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.CompletedUnits++
	if failed {
		t.snap.FailedUnits++
	}
	if t.snap.TotalUnits > 0 {
		ratio := float64(t.snap.CompletedUnits) / float64(t.snap.TotalUnits)
		t.snap.CompletedBytesEstimate = int64(ratio*float64(t.snap.TotalBytesEstimate) + 0.5)
	}
	return t.snap
}

// progress converts a task snapshot into a Progress event.
func (s DownloadTask) progress() Progress {
	return Progress{
		TargetID:               s.TargetID,
		Status:                 s.Status,
		CompletedUnits:         s.CompletedUnits,
		TotalUnits:             s.TotalUnits,
		CompletedBytesEstimate: s.CompletedBytesEstimate,
		TotalBytesEstimate:     s.TotalBytesEstimate,
		FailedUnits:            s.FailedUnits,
	}
}
