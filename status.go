package skycache

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/skymap-app/skycache/store"
)

// repairConcurrency bounds in-flight fetches during a repair pass.
const repairConcurrency = 4

// LayerStatus derives the cache state of a layer from the store's
// actual contents: stored keys are diffed against the layer's declared
// files. The query is idempotent and side-effect free; nothing is
// persisted, so the status can never drift from the store.
func (m *Manager) LayerStatus(layerID string) (CacheEntryStatus, error) {
	layer, ok := m.registry.Layer(layerID)
	if !ok {
		return CacheEntryStatus{}, fmt.Errorf("%w: %s", ErrUnknownLayer, layerID)
	}

	status := CacheEntryStatus{
		LayerID:        layerID,
		TotalFileCount: len(layer.Files),
	}

	part, err := m.store.Open(layerPartition(layerID))
	if err != nil {
		// Storage unavailable degrades to empty status, never a crash.
		status.MissingFiles = append(status.MissingFiles, layer.Files...)
		return status, nil
	}
	keys, err := part.Keys()
	if err != nil {
		status.MissingFiles = append(status.MissingFiles, layer.Files...)
		return status, nil
	}

	present := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		present[key] = struct{}{}
	}
	for _, relPath := range layer.Files {
		if _, ok := present[layer.FileURL(relPath)]; ok {
			status.CachedFileCount++
		} else {
			status.MissingFiles = append(status.MissingFiles, relPath)
		}
	}

	status.IsComplete = len(status.MissingFiles) == 0
	if status.TotalFileCount > 0 {
		ratio := float64(status.CachedFileCount) / float64(status.TotalFileCount)
		status.CachedBytesEstimate = int64(math.Round(ratio * float64(layer.EstimatedSizeBytes)))
	}
	return status, nil
}

// AllLayerStatus returns the derived status of every registered layer.
func (m *Manager) AllLayerStatus() ([]CacheEntryStatus, error) {
	layers := m.registry.Layers()
	out := make([]CacheEntryStatus, 0, len(layers))
	for _, layer := range layers {
		status, err := m.LayerStatus(layer.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}

// VerifyAndRepairLayer re-fetches only the files missing from a layer's
// partition, never already-cached files. File-level diffing rather than
// a single "downloaded" flag is what lets the cache recover from
// partial downloads, storage eviction, or an earlier version's bug
// without a full re-download.
//
// If the layer is already complete the result carries zero repaired and
// failed counts and no network requests are issued.
func (m *Manager) VerifyAndRepairLayer(ctx context.Context, layerID string, onProgress ProgressFunc) (RepairResult, error) {
	layer, ok := m.registry.Layer(layerID)
	if !ok {
		return RepairResult{}, fmt.Errorf("%w: %s", ErrUnknownLayer, layerID)
	}

	status, err := m.LayerStatus(layerID)
	if err != nil {
		return RepairResult{}, err
	}
	result := RepairResult{Verified: status.CachedFileCount}
	if status.IsComplete {
		return result, nil
	}

	missing := status.MissingFiles
	var bytesEstimate int64
	if status.TotalFileCount > 0 {
		bytesEstimate = int64(float64(layer.EstimatedSizeBytes) * float64(len(missing)) / float64(status.TotalFileCount))
	}

	// The repair progress stream is scoped to just the repair set.
	ctx, t, err := m.begin(ctx, layerTaskPrefix+layerID, layerID, len(missing), bytesEstimate)
	if err != nil {
		return RepairResult{}, err
	}
	defer m.finish(layerTaskPrefix+layerID, t)

	part, err := m.store.Open(layerPartition(layerID))
	if err != nil {
		t.fail(err.Error())
		return RepairResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	m.log().Info("repairing layer", "layer", layerID, "missing", len(missing))
	t.setStatus(TaskDownloading)

	sem := semaphore.NewWeighted(repairConcurrency)
	g, gctx := errgroup.WithContext(ctx)
	for _, relPath := range missing {
		relPath := relPath
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			url := layer.FileURL(relPath)
			data, contentType, err := m.fetcher.Fetch(gctx, url)
			switch {
			case errors.Is(err, context.Canceled):
				return err
			case err != nil:
				m.log().Warn("repair fetch failed", "layer", layerID, "file", relPath, "error", err)
				emit(onProgress, t.advance(true))
				return nil
			}
			if err := part.Put(url, m.encode(data, contentType)); err != nil {
				m.log().Warn("repair store failed", "layer", layerID, "file", relPath, "error", err)
				emit(onProgress, t.advance(true))
				return nil
			}
			emit(onProgress, t.advance(false))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		snap := t.snapshot()
		result.Repaired = snap.CompletedUnits - snap.FailedUnits
		result.Failed = snap.FailedUnits
		m.cancelled(t, onProgress, "layer", layerID)
		return result, nil
	}

	snap := t.snapshot()
	result.Repaired = snap.CompletedUnits - snap.FailedUnits
	result.Failed = snap.FailedUnits
	if result.Failed > 0 {
		t.fail(fmt.Sprintf("%d of %d repairs failed", result.Failed, len(missing)))
	} else {
		t.setStatus(TaskCompleted)
	}
	emit(onProgress, t.snapshot())
	return result, nil
}

// ClearLayer deletes a layer's partition. A layer that was never
// downloaded has nothing to clear and still counts as success.
func (m *Manager) ClearLayer(layerID string) bool {
	name := layerPartition(layerID)
	if err := m.store.DeletePartition(name); err != nil && !errors.Is(err, store.ErrPartitionNotFound) {
		m.log().Warn("clear layer failed", "layer", layerID, "error", err)
		return false
	}
	if err := m.meta.DeleteCounters(name); err != nil {
		m.log().Debug("clear layer counters", "layer", layerID, "error", err)
	}
	return true
}

// ClearAllCache deletes every cache partition, layer and survey alike.
// The schema version is preserved; use ResetAllCaches to remove it.
func (m *Manager) ClearAllCache() bool {
	names, err := m.store.ListPartitions()
	if err != nil {
		m.log().Warn("clear all: list partitions failed", "error", err)
		return false
	}
	ok := true
	for _, name := range names {
		if !isCachePartition(name) {
			continue
		}
		if err := m.store.DeletePartition(name); err != nil && !errors.Is(err, store.ErrPartitionNotFound) {
			m.log().Warn("clear all: delete partition failed", "partition", name, "error", err)
			ok = false
		}
	}
	if err := m.meta.ResetCounters(); err != nil {
		m.log().Debug("clear all: reset counters", "error", err)
	}
	return ok
}
