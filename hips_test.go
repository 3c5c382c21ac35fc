package skycache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skymap-app/skycache/internal/testutil"
)

func testSurvey() Survey {
	return Survey{ID: "dss2-color", BaseURL: "https://example.com/surveys/dss"}
}

// respondSurvey registers a payload for every tile of a survey through
// maxOrder.
func respondSurvey(f *testutil.MockFetcher, survey Survey, maxOrder int, payload []byte) {
	for order := 0; order <= maxOrder; order++ {
		for pixel := int64(0); pixel < TilesAtOrder(order); pixel++ {
			f.Respond(survey.TileURL(TileAddress{Order: order, Pixel: pixel}), payload, "image/jpeg")
		}
	}
}

func TestTilesAtOrder(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(12), TilesAtOrder(0))
	assert.Equal(t, int64(48), TilesAtOrder(1))
	assert.Equal(t, int64(192), TilesAtOrder(2))
	assert.Equal(t, int64(768), TilesAtOrder(3))
}

func TestTotalTilesThrough(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(12), TotalTilesThrough(0))
	assert.Equal(t, int64(60), TotalTilesThrough(1))
	assert.Equal(t, int64(252), TotalTilesThrough(2))
}

func TestTileDirBucket(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(0), TileAddress{Order: 3, Pixel: 42}.Dir())
	assert.Equal(t, int64(10000), TileAddress{Order: 9, Pixel: 10234}.Dir())
	assert.Equal(t, int64(20000), TileAddress{Order: 9, Pixel: 29999}.Dir())
}

func TestTileURL(t *testing.T) {
	t.Parallel()

	s := Survey{ID: "dss", BaseURL: "https://example.com/dss/"}
	assert.Equal(t,
		"https://example.com/dss/Norder6/Dir10000/Npix12345.jpg",
		s.TileURL(TileAddress{Order: 6, Pixel: 12345}))

	s.TileFormat = "webp"
	assert.Equal(t,
		"https://example.com/dss/Norder0/Dir0/Npix7.webp",
		s.TileURL(TileAddress{Order: 0, Pixel: 7}))
}

func TestOrderFromKey(t *testing.T) {
	t.Parallel()

	order, ok := orderFromKey("https://example.com/dss/Norder6/Dir10000/Npix12345.jpg")
	require.True(t, ok)
	assert.Equal(t, 6, order)

	_, ok = orderFromKey("https://example.com/stars/info.json")
	assert.False(t, ok)
}

func TestDownloadSurveyComplete(t *testing.T) {
	t.Parallel()

	m, f := newTestManager(t)
	survey := testSurvey()
	respondSurvey(f, survey, 1, []byte("tile"))

	rec := &progressRecorder{}
	complete, err := m.DownloadSurvey(context.Background(), survey, 1, rec.record)
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Len(t, f.Calls(), 60)

	last := rec.last()
	assert.Equal(t, TaskCompleted, last.Status)
	assert.Equal(t, 60, last.CompletedUnits)
	assert.Equal(t, int64(60*32<<10), last.TotalBytesEstimate)

	status, err := m.SurveyStatus(survey)
	require.NoError(t, err)
	assert.Equal(t, 60, status.CachedTileCount)
	assert.Equal(t, []int{0, 1}, status.CachedOrders)
	assert.Equal(t, 1, status.MaxCachedOrder)
}

func TestDownloadSurveyIdempotentRerun(t *testing.T) {
	t.Parallel()

	m, f := newTestManager(t)
	survey := testSurvey()
	respondSurvey(f, survey, 0, []byte("tile"))

	_, err := m.DownloadSurvey(context.Background(), survey, 0, nil)
	require.NoError(t, err)
	complete, err := m.DownloadSurvey(context.Background(), survey, 0, nil)
	require.NoError(t, err)
	assert.True(t, complete)

	// The second run found every tile cached and fetched nothing.
	for pixel := int64(0); pixel < 12; pixel++ {
		url := survey.TileURL(TileAddress{Order: 0, Pixel: pixel})
		assert.Equal(t, 1, f.CallCount(url), "tile %d refetched", pixel)
	}
}

func TestDownloadSurveyResumesAfterFailure(t *testing.T) {
	t.Parallel()

	m, f := newTestManager(t)
	survey := testSurvey()
	respondSurvey(f, survey, 0, []byte("tile"))
	failing := survey.TileURL(TileAddress{Order: 0, Pixel: 5})
	f.Fail(failing, errors.New("network down"))

	complete, err := m.DownloadSurvey(context.Background(), survey, 0, nil)
	require.NoError(t, err, "a failed tile is not a download error")
	assert.False(t, complete)

	// The failure did not stop its siblings.
	status, err := m.SurveyStatus(survey)
	require.NoError(t, err)
	assert.Equal(t, 11, status.CachedTileCount)

	// The outage clears; the re-run fetches only the hole.
	f.Respond(failing, []byte("tile"), "image/jpeg")
	complete, err = m.DownloadSurvey(context.Background(), survey, 0, nil)
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Equal(t, 2, f.CallCount(failing))

	status, err = m.SurveyStatus(survey)
	require.NoError(t, err)
	assert.Equal(t, 12, status.CachedTileCount)
}

func TestDownloadSurveyInvalidOrder(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	_, err := m.DownloadSurvey(context.Background(), testSurvey(), -1, nil)
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = m.DownloadSurvey(context.Background(), testSurvey(), MaxHiPSOrder+1, nil)
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestDownloadSurveyCancelled(t *testing.T) {
	t.Parallel()

	bf := testutil.NewBlockingFetcher()
	m, err := New(WithFetcher(bf), WithLayers(testLayers()...))
	require.NoError(t, err)
	defer m.Close()

	survey := testSurvey()
	respondSurvey(bf.MockFetcher, survey, 0, []byte("tile"))

	rec := &progressRecorder{}
	done := make(chan struct{})
	var complete bool
	go func() {
		defer close(done)
		complete, err = m.DownloadSurvey(context.Background(), survey, 0, rec.record)
	}()

	<-bf.Started
	require.True(t, m.CancelSurveyDownload(survey.ID))
	<-done

	require.NoError(t, err, "cancellation is a distinguished outcome, not an error")
	assert.False(t, complete)
	assert.Equal(t, TaskCancelled, rec.last().Status)
	assert.Empty(t, m.ActiveTasks())
}

func TestDownloadSurveyDuplicateRejected(t *testing.T) {
	t.Parallel()

	bf := testutil.NewBlockingFetcher()
	m, err := New(WithFetcher(bf), WithLayers(testLayers()...))
	require.NoError(t, err)
	defer m.Close()

	survey := testSurvey()
	respondSurvey(bf.MockFetcher, survey, 0, []byte("tile"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.DownloadSurvey(context.Background(), survey, 0, nil)
	}()

	<-bf.Started
	_, err = m.DownloadSurvey(context.Background(), survey, 0, nil)
	assert.ErrorIs(t, err, ErrAlreadyDownloading)

	m.CancelSurveyDownload(survey.ID)
	<-done
}

func TestSurveyStatusEmpty(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	status, err := m.SurveyStatus(testSurvey())
	require.NoError(t, err)
	assert.Equal(t, 0, status.CachedTileCount)
	assert.Equal(t, -1, status.MaxCachedOrder)
	assert.Empty(t, status.CachedOrders)
}

func TestClearSurveyCache(t *testing.T) {
	t.Parallel()

	m, f := newTestManager(t)
	survey := testSurvey()
	respondSurvey(f, survey, 0, []byte("tile"))
	_, err := m.DownloadSurvey(context.Background(), survey, 0, nil)
	require.NoError(t, err)

	assert.True(t, m.ClearSurveyCache(survey.ID))

	status, err := m.SurveyStatus(survey)
	require.NoError(t, err)
	assert.Equal(t, 0, status.CachedTileCount)
}

func TestClearSurveyCacheNeverDownloaded(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	assert.True(t, m.ClearSurveyCache("dss2-color"), "nothing to clear still succeeds")
}

func TestReadCachedTile(t *testing.T) {
	t.Parallel()

	m, f := newTestManager(t)
	survey := testSurvey()
	respondSurvey(f, survey, 0, []byte("tile"))
	_, err := m.DownloadSurvey(context.Background(), survey, 0, nil)
	require.NoError(t, err)

	data, ok := m.ReadCachedTile(survey, TileAddress{Order: 0, Pixel: 3})
	require.True(t, ok)
	assert.Equal(t, []byte("tile"), data)

	_, ok = m.ReadCachedTile(survey, TileAddress{Order: 1, Pixel: 0})
	assert.False(t, ok)
}
