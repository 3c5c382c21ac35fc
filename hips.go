package skycache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/skymap-app/skycache/store"
)

// MaxHiPSOrder is the highest tile order the downloader accepts.
// Order 13 already addresses over 800 million tiles.
const MaxHiPSOrder = 13

// avgTileSizeBytes is the assumed size of one survey tile, used for
// byte estimates; true tile sizes vary with sky content.
const avgTileSizeBytes = 32 << 10

// Survey identifies a remote HiPS sky survey.
type Survey struct {
	// ID is the stable survey identifier, e.g. "dss2-color".
	ID string

	// BaseURL is the survey root, e.g. "https://alasky.cds.unistra.fr/DSS/DSSColor".
	BaseURL string

	// TileFormat is the tile file extension. Defaults to "jpg".
	TileFormat string
}

func (s Survey) format() string {
	if s.TileFormat == "" {
		return "jpg"
	}
	return s.TileFormat
}

// TileAddress locates one tile in the HEALPix quad-tree: order is the
// zoom level, pixel the index within 0..12·4^order−1.
type TileAddress struct {
	Order int
	Pixel int64
}

// Dir returns the directory bucket the tile lives in: pixel index
// rounded down to a multiple of 10000, per the HiPS layout.
func (a TileAddress) Dir() int64 {
	return a.Pixel / 10000 * 10000
}

// TileURL resolves a tile address against the survey base URL. The
// address is a pure function of (base URL, order, pixel, format); no
// address is ever reused across surveys.
func (s Survey) TileURL(a TileAddress) string {
	return fmt.Sprintf("%s/Norder%d/Dir%d/Npix%d.%s",
		strings.TrimSuffix(s.BaseURL, "/"), a.Order, a.Dir(), a.Pixel, s.format())
}

// TilesAtOrder returns the tile count at one order: 12·4^order.
func TilesAtOrder(order int) int64 {
	return 12 << (2 * order)
}

// TotalTilesThrough returns the tile count summed over orders 0..order.
func TotalTilesThrough(order int) int64 {
	var total int64
	for o := 0; o <= order; o++ {
		total += TilesAtOrder(o)
	}
	return total
}

// SurveyCacheStatus is the derived cache state of one survey,
// reconstructed by parsing the order encoded in each stored key. There
// is no separate tile index to drift from the stored blobs.
type SurveyCacheStatus struct {
	SurveyID        string
	CachedTileCount int
	CachedOrders    []int
	MaxCachedOrder  int
	CachedBytes     int64
}

var norderRe = regexp.MustCompile(`/Norder(\d+)/`)

// orderFromKey extracts the tile order embedded in a cache key.
func orderFromKey(key string) (int, bool) {
	matches := norderRe.FindStringSubmatch(key)
	if matches == nil {
		return 0, false
	}
	order, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, false
	}
	return order, true
}

// DownloadSurvey fetches a survey's tiles order by order through
// maxOrder. Within each order, tiles are fetched in concurrent batches;
// batches are strictly sequential, so batch N+1 never starts before
// batch N fully settles.
//
// Already-cached tiles are skipped, making re-runs idempotent and
// resumable. A failed tile is counted but does not stop its siblings;
// cancellation aborts the whole survey after the in-flight batch
// settles. The returned bool is true only when no tile failed.
func (m *Manager) DownloadSurvey(ctx context.Context, survey Survey, maxOrder int, onProgress ProgressFunc) (bool, error) {
	if maxOrder < 0 || maxOrder > MaxHiPSOrder {
		return false, fmt.Errorf("%w: %d", ErrInvalidOrder, maxOrder)
	}

	totalTiles := TotalTilesThrough(maxOrder)
	key := surveyTaskPrefix + survey.ID
	ctx, t, err := m.begin(ctx, key, survey.ID, int(totalTiles), totalTiles*avgTileSizeBytes)
	if err != nil {
		return false, err
	}
	defer m.finish(key, t)

	name := surveyPartition(survey.ID)
	part, err := m.store.Open(name)
	if err != nil {
		t.fail(err.Error())
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	m.log().Info("downloading survey", "survey", survey.ID, "maxOrder", maxOrder, "tiles", totalTiles)
	t.setStatus(TaskDownloading)

	for order := 0; order <= maxOrder; order++ {
		npix := TilesAtOrder(order)
		for batchStart := int64(0); batchStart < npix; batchStart += int64(m.batchSize) {
			batchEnd := batchStart + int64(m.batchSize)
			if batchEnd > npix {
				batchEnd = npix
			}

			g, gctx := errgroup.WithContext(ctx)
			for pixel := batchStart; pixel < batchEnd; pixel++ {
				addr := TileAddress{Order: order, Pixel: pixel}
				g.Go(func() error {
					return m.fetchTile(gctx, survey, part, name, addr, t, onProgress)
				})
			}
			if err := g.Wait(); err != nil {
				return m.cancelled(t, onProgress, "survey", survey.ID), nil
			}
		}
	}

	snap := t.snapshot()
	if snap.FailedUnits > 0 {
		t.fail(fmt.Sprintf("%d of %d tiles failed", snap.FailedUnits, snap.TotalUnits))
		emit(onProgress, t.snapshot())
		m.log().Warn("survey download incomplete", "survey", survey.ID, "failed", snap.FailedUnits)
		return false, nil
	}
	t.setStatus(TaskCompleted)
	emit(onProgress, t.snapshot())
	m.log().Info("survey download complete", "survey", survey.ID)
	return true, nil
}

// fetchTile downloads one tile unless it is already cached. Only
// cancellation propagates as an error; fetch failures are counted and
// leave sibling fetches in the batch running.
func (m *Manager) fetchTile(ctx context.Context, survey Survey, part store.Partition, name string, addr TileAddress, t *task, onProgress ProgressFunc) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	url := survey.TileURL(addr)
	if _, found, err := part.Match(url); err == nil && found {
		m.recordHit(name)
		emit(onProgress, t.advance(false))
		return nil
	}
	m.recordMiss(name)

	data, contentType, err := m.fetcher.Fetch(ctx, url)
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case err != nil:
		m.log().Debug("tile fetch failed", "survey", survey.ID, "order", addr.Order, "pixel", addr.Pixel, "error", err)
		emit(onProgress, t.advance(true))
		return nil
	}

	if err := part.Put(url, m.encode(data, contentType)); err != nil {
		m.log().Warn("tile store failed", "survey", survey.ID, "order", addr.Order, "pixel", addr.Pixel, "error", err)
		emit(onProgress, t.advance(true))
		return nil
	}
	emit(onProgress, t.advance(false))
	return nil
}

// SurveyStatus derives a survey's cache state by scanning its partition
// keys and extracting the encoded order from each.
func (m *Manager) SurveyStatus(survey Survey) (SurveyCacheStatus, error) {
	status := SurveyCacheStatus{SurveyID: survey.ID, MaxCachedOrder: -1}

	part, err := m.store.Open(surveyPartition(survey.ID))
	if err != nil {
		return status, nil
	}
	keys, err := part.Keys()
	if err != nil {
		return status, nil
	}

	orders := make(map[int]struct{})
	for _, key := range keys {
		order, ok := orderFromKey(key)
		if !ok {
			continue
		}
		status.CachedTileCount++
		orders[order] = struct{}{}
	}
	for order := range orders {
		status.CachedOrders = append(status.CachedOrders, order)
	}
	sort.Ints(status.CachedOrders)
	if n := len(status.CachedOrders); n > 0 {
		status.MaxCachedOrder = status.CachedOrders[n-1]
	}

	if _, size, err := part.Stats(); err == nil {
		status.CachedBytes = size
	}
	return status, nil
}

// ClearSurveyCache deletes a survey's tile partition. A survey with no
// cached tiles has nothing to clear and still counts as success.
func (m *Manager) ClearSurveyCache(surveyID string) bool {
	name := surveyPartition(surveyID)
	if err := m.store.DeletePartition(name); err != nil && !errors.Is(err, store.ErrPartitionNotFound) {
		m.log().Warn("clear survey failed", "survey", surveyID, "error", err)
		return false
	}
	if err := m.meta.DeleteCounters(name); err != nil {
		m.log().Debug("clear survey counters", "survey", surveyID, "error", err)
	}
	return true
}
