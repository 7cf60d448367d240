package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horizon-index/src/models"
	"horizon-index/src/storage"
)

// -----------------------------------------------------------------------------
// Test doubles
// -----------------------------------------------------------------------------

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// windowSource records requested windows and serves canned bars.
// ignoreWindow mimics a provider that returns bars outside the
// requested window; failing fails individual tickers.
type windowSource struct {
	bars         map[string][]models.MPriceBar
	requests     [][2]string
	err          error
	failing      map[string]error
	ignoreWindow bool
}

func (s *windowSource) Name() string { return "window" }

func (s *windowSource) GetDailyBars(ticker, startDate, endDate string) ([]models.MPriceBar, error) {
	s.requests = append(s.requests, [2]string{startDate, endDate})
	if s.err != nil {
		return nil, s.err
	}
	if err := s.failing[ticker]; err != nil {
		return nil, err
	}
	var out []models.MPriceBar
	for _, b := range s.bars[ticker] {
		if s.ignoreWindow || ((startDate == "" || b.Date >= startDate) && b.Date <= endDate) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *windowSource) GetLatestQuotes(tickers []string) (map[string]models.MQuote, error) {
	return nil, nil
}

func (s *windowSource) GetFundamentals(ticker string) (*models.MStockFundamentals, error) {
	return nil, fmt.Errorf("not implemented")
}

// -----------------------------------------------------------------------------

func syncConfig() *models.MConfig {
	return &models.MConfig{
		Name:     "test",
		LogLevel: "ERROR",
		Network:  models.MNetworkConfig{ConcurrentRequests: 2},
	}
}

func barsFor(ticker string, dates ...string) []models.MPriceBar {
	out := make([]models.MPriceBar, 0, len(dates))
	for i, d := range dates {
		out = append(out, models.MPriceBar{Ticker: ticker, Date: d, Close: 100 + float64(i)})
	}
	return out
}

// -----------------------------------------------------------------------------

func TestSync_ColdStartFetchesFromStartDate(t *testing.T) {
	db := storage.NewMemoryDB()
	src := &windowSource{bars: map[string][]models.MPriceBar{
		"AAA": barsFor("AAA", "2025-01-02", "2025-01-03", "2025-01-06"),
	}}
	clock := &fakeClock{now: time.Date(2025, 1, 7, 10, 0, 0, 0, time.UTC)}

	s := NewSynchronizer(syncConfig(), db, src, clock)
	stored, err := s.Sync("AAA", "2025-01-02")
	require.NoError(t, err)
	assert.Equal(t, 3, stored)
	assert.Equal(t, 3, db.BarCount("AAA"))

	require.Len(t, src.requests, 1)
	assert.Equal(t, [2]string{"2025-01-02", "2025-01-07"}, src.requests[0])
}

// -----------------------------------------------------------------------------

func TestSync_IncrementalFetchesOnlyTheGap(t *testing.T) {
	db := storage.NewMemoryDB()
	src := &windowSource{bars: map[string][]models.MPriceBar{
		"AAA": barsFor("AAA", "2025-01-02", "2025-01-03", "2025-01-06", "2025-01-07"),
	}}
	clock := &fakeClock{now: time.Date(2025, 1, 7, 10, 0, 0, 0, time.UTC)}

	s := NewSynchronizer(syncConfig(), db, src, clock)

	// First run stores everything, second run only the new window
	_, err := s.Sync("AAA", "2025-01-02")
	require.NoError(t, err)

	src.bars["AAA"] = append(src.bars["AAA"], barsFor("AAA", "2025-01-08")...)
	clock.now = time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)

	stored, err := s.Sync("AAA", "2025-01-02")
	require.NoError(t, err)
	assert.Equal(t, 1, stored)
	assert.Equal(t, 5, db.BarCount("AAA"))

	// The second request starts the day after the last stored bar
	require.Len(t, src.requests, 2)
	assert.Equal(t, [2]string{"2025-01-08", "2025-01-08"}, src.requests[1])
}

// -----------------------------------------------------------------------------

func TestSync_IdempotentOnRepeatedRuns(t *testing.T) {
	db := storage.NewMemoryDB()
	src := &windowSource{bars: map[string][]models.MPriceBar{
		"AAA": barsFor("AAA", "2025-01-02", "2025-01-03"),
	}}
	clock := &fakeClock{now: time.Date(2025, 1, 3, 20, 0, 0, 0, time.UTC)}

	s := NewSynchronizer(syncConfig(), db, src, clock)

	stored, err := s.Sync("AAA", "2025-01-02")
	require.NoError(t, err)
	assert.Equal(t, 2, stored)

	// Already current: no refetch, no growth
	stored, err = s.Sync("AAA", "2025-01-02")
	require.NoError(t, err)
	assert.Equal(t, 0, stored)
	assert.Equal(t, 2, db.BarCount("AAA"))
	assert.Len(t, src.requests, 1)
}

// -----------------------------------------------------------------------------

func TestSyncAll_CoversEveryTicker(t *testing.T) {
	db := storage.NewMemoryDB()
	src := &windowSource{bars: map[string][]models.MPriceBar{
		"AAA": barsFor("AAA", "2025-01-02", "2025-01-03"),
		"BBB": barsFor("BBB", "2025-01-02"),
	}}
	clock := &fakeClock{now: time.Date(2025, 1, 3, 20, 0, 0, 0, time.UTC)}

	s := NewSynchronizer(syncConfig(), db, src, clock)
	total := s.SyncAll([]string{"AAA", "BBB"}, "2025-01-02")
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, db.BarCount("AAA"))
	assert.Equal(t, 1, db.BarCount("BBB"))
}

// -----------------------------------------------------------------------------

func TestSyncAll_ContinuesPastFailingTicker(t *testing.T) {
	db := storage.NewMemoryDB()
	src := &windowSource{
		bars: map[string][]models.MPriceBar{
			"AAA": barsFor("AAA", "2025-01-02", "2025-01-03"),
			"CCC": barsFor("CCC", "2025-01-02"),
		},
		failing: map[string]error{"BBB": fmt.Errorf("provider down")},
	}
	clock := &fakeClock{now: time.Date(2025, 1, 3, 20, 0, 0, 0, time.UTC)}

	s := NewSynchronizer(syncConfig(), db, src, clock)
	total := s.SyncAll([]string{"AAA", "BBB", "CCC"}, "2025-01-02")

	// BBB is skipped with a warning, the others still land
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, db.BarCount("AAA"))
	assert.Equal(t, 0, db.BarCount("BBB"))
	assert.Equal(t, 1, db.BarCount("CCC"))
}

// -----------------------------------------------------------------------------

func TestMergedSeries_PrefersFreshBarsOnConflict(t *testing.T) {
	db := storage.NewMemoryDB()
	_, err := db.AppendBars("AAA", []models.MPriceBar{
		{Ticker: "AAA", Date: "2025-01-02", Close: 100},
		{Ticker: "AAA", Date: "2025-01-03", Close: 101},
	})
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)}
	s := NewSynchronizer(syncConfig(), db, &windowSource{}, clock)

	fresh := []models.MPriceBar{
		{Ticker: "AAA", Date: "2025-01-03", Close: 999}, // conflict
		{Ticker: "AAA", Date: "2025-01-06", Close: 102},
	}
	merged, err := s.MergedSeries("AAA", "2025-01-02", fresh)
	require.NoError(t, err)

	require.Len(t, merged, 3)
	assert.Equal(t, "2025-01-02", merged[0].Date)
	assert.InDelta(t, 999.0, merged[1].Close, 1e-9)
	assert.Equal(t, "2025-01-06", merged[2].Date)
}

// -----------------------------------------------------------------------------

func TestSeries_FetchedBarWinsStoredConflict(t *testing.T) {
	db := storage.NewMemoryDB()
	_, err := db.AppendBars("AAA", []models.MPriceBar{
		{Ticker: "AAA", Date: "2025-01-02", Close: 100},
		{Ticker: "AAA", Date: "2025-01-03", Close: 101},
	})
	require.NoError(t, err)

	// The provider re-serves 01-03 with a revised close alongside the
	// new bar, outside the requested window
	src := &windowSource{
		ignoreWindow: true,
		bars: map[string][]models.MPriceBar{
			"AAA": {
				{Ticker: "AAA", Date: "2025-01-03", Close: 999},
				{Ticker: "AAA", Date: "2025-01-06", Close: 102},
			},
		},
	}
	clock := &fakeClock{now: time.Date(2025, 1, 6, 20, 0, 0, 0, time.UTC)}

	s := NewSynchronizer(syncConfig(), db, src, clock)
	stored, err := s.Sync("AAA", "2025-01-02")
	require.NoError(t, err)
	assert.Equal(t, 1, stored) // 01-03 already present, first write kept

	// The store keeps its original close, the served series the revision
	bars, err := db.ReadBars("AAA", "2025-01-03")
	require.NoError(t, err)
	assert.InDelta(t, 101.0, bars[0].Close, 1e-9)

	series, err := s.Series("AAA", "")
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.InDelta(t, 999.0, series[1].Close, 1e-9)
	assert.InDelta(t, 102.0, series[2].Close, 1e-9)
}
