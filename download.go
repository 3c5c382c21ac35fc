package skycache

import (
	"context"
	"errors"
	"fmt"
)

// DownloadLayer fetches every file of a layer into its partition,
// in declared order.
//
// A single failed file does not abort the layer: the failure is logged
// and counted, the loop continues, and the layer is simply left
// incomplete. Cancellation stops the loop immediately, marks the task
// Cancelled, and returns false with a nil error. The returned bool is
// true only when every file was stored.
//
// Requesting a layer that already has a download in flight returns
// ErrAlreadyDownloading without starting a second download.
func (m *Manager) DownloadLayer(ctx context.Context, layerID string, onProgress ProgressFunc) (bool, error) {
	layer, ok := m.registry.Layer(layerID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownLayer, layerID)
	}

	ctx, t, err := m.begin(ctx, layerTaskPrefix+layerID, layerID, len(layer.Files), layer.EstimatedSizeBytes)
	if err != nil {
		return false, err
	}
	defer m.finish(layerTaskPrefix+layerID, t)

	part, err := m.store.Open(layerPartition(layerID))
	if err != nil {
		t.fail(err.Error())
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	m.log().Info("downloading layer", "layer", layerID, "files", len(layer.Files))
	t.setStatus(TaskDownloading)

	for _, relPath := range layer.Files {
		if ctx.Err() != nil {
			return m.cancelled(t, onProgress, "layer", layerID), nil
		}

		url := layer.FileURL(relPath)
		data, contentType, err := m.fetcher.Fetch(ctx, url)
		switch {
		case errors.Is(err, context.Canceled):
			return m.cancelled(t, onProgress, "layer", layerID), nil
		case err != nil:
			m.log().Warn("layer file fetch failed", "layer", layerID, "file", relPath, "error", err)
			emit(onProgress, t.advance(true))
			continue
		}

		if err := part.Put(url, m.encode(data, contentType)); err != nil {
			m.log().Warn("layer file store failed", "layer", layerID, "file", relPath, "error", err)
			emit(onProgress, t.advance(true))
			continue
		}
		emit(onProgress, t.advance(false))
	}

	snap := t.snapshot()
	if snap.FailedUnits > 0 {
		t.fail(fmt.Sprintf("%d of %d files failed", snap.FailedUnits, snap.TotalUnits))
		emit(onProgress, t.snapshot())
		m.log().Warn("layer download incomplete", "layer", layerID, "failed", snap.FailedUnits)
		return false, nil
	}
	t.setStatus(TaskCompleted)
	emit(onProgress, t.snapshot())
	m.log().Info("layer download complete", "layer", layerID)
	return true, nil
}

// DownloadLayers downloads the given layers sequentially, sorted by
// ascending priority so more essential layers land first if the batch
// is interrupted. Unknown ids are logged and skipped. The returned
// bool is true only when every layer downloaded completely.
func (m *Manager) DownloadLayers(ctx context.Context, layerIDs []string, onProgress ProgressFunc) (bool, error) {
	requested := make(map[string]struct{}, len(layerIDs))
	for _, id := range layerIDs {
		if _, ok := m.registry.Layer(id); !ok {
			m.log().Warn("skipping unknown layer", "layer", id)
			continue
		}
		requested[id] = struct{}{}
	}
	layers := make([]LayerDescriptor, 0, len(requested))
	for _, layer := range m.registry.ByPriority() {
		if _, ok := requested[layer.ID]; ok {
			layers = append(layers, layer)
		}
	}

	all := true
	for _, layer := range layers {
		if ctx.Err() != nil {
			return false, nil
		}
		complete, err := m.DownloadLayer(ctx, layer.ID, onProgress)
		if err != nil {
			if errors.Is(err, ErrAlreadyDownloading) {
				m.log().Info("layer already downloading", "layer", layer.ID)
				continue
			}
			return false, err
		}
		if !complete {
			all = false
		}
	}
	return all, nil
}

// cancelled marks a task Cancelled, emits a final progress event, and
// returns false. Cancellation is a distinguished outcome, not an error.
func (m *Manager) cancelled(t *task, onProgress ProgressFunc, kind, id string) bool {
	t.setStatus(TaskCancelled)
	emit(onProgress, t.snapshot())
	m.log().Info("download cancelled", kind, id)
	return false
}

func emit(onProgress ProgressFunc, snap DownloadTask) {
	if onProgress != nil {
		onProgress(snap.progress())
	}
}
