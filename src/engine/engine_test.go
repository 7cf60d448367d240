package engine

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horizon-index/src/history"
	"horizon-index/src/logger"
	"horizon-index/src/models"
	"horizon-index/src/registry"
	"horizon-index/src/storage"
)

// -----------------------------------------------------------------------------
// Test doubles
// -----------------------------------------------------------------------------

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type stubSource struct {
	quotes       map[string]models.MQuote
	fundamentals map[string]*models.MStockFundamentals
	quotesErr    error
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) GetDailyBars(ticker, startDate, endDate string) ([]models.MPriceBar, error) {
	return nil, nil
}

func (s *stubSource) GetLatestQuotes(tickers []string) (map[string]models.MQuote, error) {
	if s.quotesErr != nil {
		return nil, s.quotesErr
	}
	out := make(map[string]models.MQuote)
	for _, t := range tickers {
		if q, ok := s.quotes[t]; ok {
			out[t] = q
		}
	}
	return out, nil
}

func (s *stubSource) GetFundamentals(ticker string) (*models.MStockFundamentals, error) {
	f, ok := s.fundamentals[ticker]
	if !ok {
		return nil, fmt.Errorf("no fundamentals for %s", ticker)
	}
	return f, nil
}

// -----------------------------------------------------------------------------
// Fixture: two constituents, base date 2025-01-02 at base value 1000.
//
//	AAA: 1000 shares, factor 0.5, base close 100 -> ffMCap  50,000
//	BBB:  500 shares, factor 1.0, base close 200 -> ffMCap 100,000
//
// Base sum 150,000 fixes the divisor at 150.
// -----------------------------------------------------------------------------

func testConfig() *models.MConfig {
	return &models.MConfig{
		Name:     "test",
		Host:     "127.0.0.1",
		Port:     8080,
		LogLevel: "ERROR",
		Index: models.MIndexConfig{
			IndexName:       "HGX",
			IndexFullName:   "Horizon Global Index",
			BaseDate:        "2025-01-02",
			BaseValue:       1000,
			CalculationHour: 17,
			CalendarMIC:     "xnys",
		},
		Constituents: []models.MConstituentConfig{
			{Ticker: "AAA", Name: "Alpha Corp", Sector: "Tech", FreeFloatFactor: 0.5},
			{Ticker: "BBB", Name: "Beta Inc", Sector: "Finance", FreeFloatFactor: 1.0},
		},
	}
}

func newTestEngine(t *testing.T, cfg *models.MConfig, db *storage.MemoryDB, src *stubSource, clock *fakeClock) *Engine {
	t.Helper()
	basket := registry.NewRegistry(cfg, "", logger.NewLogger(cfg.LogLevel, "test"))
	bars := history.NewSynchronizer(cfg, db, src, clock)
	return NewEngine(cfg, basket, db, src, bars, clock)
}

func seedBaseBars(t *testing.T, db *storage.MemoryDB) {
	t.Helper()
	_, err := db.AppendBars("AAA", []models.MPriceBar{
		{Ticker: "AAA", Date: "2025-01-02", Close: 100},
	})
	require.NoError(t, err)
	_, err = db.AppendBars("BBB", []models.MPriceBar{
		{Ticker: "BBB", Date: "2025-01-02", Close: 200},
	})
	require.NoError(t, err)
}

func defaultSource() *stubSource {
	return &stubSource{
		quotes: map[string]models.MQuote{},
		fundamentals: map[string]*models.MStockFundamentals{
			"AAA": {Ticker: "AAA", SharesOutstanding: 1000, Name: "Alpha Corp", Sector: "Tech"},
			"BBB": {Ticker: "BBB", SharesOutstanding: 500, Name: "Beta Inc", Sector: "Finance"},
		},
	}
}

// -----------------------------------------------------------------------------

func TestInitialize_CalibratesBaseDivisor(t *testing.T) {
	db := storage.NewMemoryDB()
	seedBaseBars(t, db)
	clock := &fakeClock{now: time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC)}

	eng := newTestEngine(t, testConfig(), db, defaultSource(), clock)
	require.NoError(t, eng.Initialize())

	assert.InDelta(t, 150.0, eng.Meta().Divisor, 1e-9)

	// Calibration survives a restart through the persisted state
	state, err := db.LoadEngineState()
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.InDelta(t, 150.0, state.Divisor, 1e-9)
	assert.Equal(t, "2025-01-02", state.BaseDate)
}

// -----------------------------------------------------------------------------

func TestCalculateEOD_WorkedExample(t *testing.T) {
	db := storage.NewMemoryDB()
	seedBaseBars(t, db)
	clock := &fakeClock{now: time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC)}

	src := defaultSource()
	src.quotes = map[string]models.MQuote{
		"AAA": {Ticker: "AAA", Price: 110},
		"BBB": {Ticker: "BBB", Price: 190},
	}

	eng := newTestEngine(t, testConfig(), db, src, clock)
	require.NoError(t, eng.Initialize())

	snapshot, err := eng.CalculateEOD()
	require.NoError(t, err)
	require.NotNil(t, snapshot)

	// ffMCap: 110*1000*0.5 + 190*500*1.0 = 55,000 + 95,000 = 150,000
	// index:  150,000 / 150 = 1000.00, first entry so change vs base value
	assert.Equal(t, "2025-01-10", snapshot.Date)
	assert.InDelta(t, 1000.0, snapshot.Index.Value, 1e-9)
	assert.InDelta(t, 0.0, snapshot.Index.Change, 1e-9)
	assert.InDelta(t, 1000.0, snapshot.Index.PreviousClose, 1e-9)

	require.Len(t, snapshot.Constituents, 2)
	assert.Equal(t, "AAA", snapshot.Constituents[0].Ticker)
	assert.InDelta(t, 36.6667, snapshot.Constituents[0].Weight, 1e-9)
	assert.InDelta(t, 63.3333, snapshot.Constituents[1].Weight, 1e-9)

	weightSum := snapshot.Constituents[0].Weight + snapshot.Constituents[1].Weight
	assert.InDelta(t, 100.0, weightSum, 0.01)

	// Ledger entry is EOD-shaped: one value for the whole day
	history := eng.FullHistory()
	require.Len(t, history, 1)
	assert.Equal(t, history[0].Open, history[0].Close)
	assert.Equal(t, history[0].High, history[0].Low)
	assert.InDelta(t, 150.0, history[0].Divisor, 1e-9)
}

// -----------------------------------------------------------------------------

func TestCalculateEOD_SameDayRecalculationOverwrites(t *testing.T) {
	db := storage.NewMemoryDB()
	seedBaseBars(t, db)
	clock := &fakeClock{now: time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC)}

	src := defaultSource()
	src.quotes = map[string]models.MQuote{
		"AAA": {Ticker: "AAA", Price: 110},
		"BBB": {Ticker: "BBB", Price: 190},
	}

	eng := newTestEngine(t, testConfig(), db, src, clock)
	require.NoError(t, eng.Initialize())

	_, err := eng.CalculateEOD()
	require.NoError(t, err)

	src.quotes["AAA"] = models.MQuote{Ticker: "AAA", Price: 120}
	_, err = eng.CalculateEOD()
	require.NoError(t, err)

	history := eng.FullHistory()
	require.Len(t, history, 1)
	// 120*1000*0.5 + 190*500 = 155,000 -> 155,000/150 = 1033.33
	assert.InDelta(t, 1033.33, history[0].Value, 1e-9)

	// Change stays measured against the prior day's close, not the
	// earlier same-day value
	assert.InDelta(t, 1000.0, history[0].PreviousClose, 1e-9)
	assert.InDelta(t, 33.33, history[0].Change, 1e-9)

	stored, err := db.ReadLedger()
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.InDelta(t, 1033.33, stored[0].Value, 1e-9)
}

// -----------------------------------------------------------------------------

func TestCalculateEOD_AbortsWithoutAnyPrice(t *testing.T) {
	db := storage.NewMemoryDB()
	clock := &fakeClock{now: time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC)}

	src := defaultSource()
	eng := newTestEngine(t, testConfig(), db, src, clock)
	require.NoError(t, eng.Initialize())

	snapshot, err := eng.CalculateEOD()
	assert.Error(t, err)
	assert.Nil(t, snapshot)
	assert.Nil(t, eng.LastSnapshot())
	assert.Empty(t, eng.FullHistory())
}

// -----------------------------------------------------------------------------

func TestCalculateEOD_ExcludesQuotelessTickers(t *testing.T) {
	db := storage.NewMemoryDB()
	seedBaseBars(t, db)
	clock := &fakeClock{now: time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC)}

	src := defaultSource()
	// Only AAA has a live quote; BBB sits in the store with close 200 but
	// must not be priced at it
	src.quotes = map[string]models.MQuote{
		"AAA": {Ticker: "AAA", Price: 110},
	}

	eng := newTestEngine(t, testConfig(), db, src, clock)
	require.NoError(t, eng.Initialize())

	snapshot, err := eng.CalculateEOD()
	require.NoError(t, err)
	require.Len(t, snapshot.Constituents, 1)
	assert.Equal(t, "AAA", snapshot.Constituents[0].Ticker)

	// 110*1000*0.5 = 55,000 -> 55,000/150 = 366.67
	assert.InDelta(t, 366.67, snapshot.Index.Value, 1e-9)
	assert.InDelta(t, 100.0, snapshot.Constituents[0].Weight, 1e-9)
}

// -----------------------------------------------------------------------------

func TestCalculateEOD_AbortRetainsPreviousSnapshot(t *testing.T) {
	db := storage.NewMemoryDB()
	seedBaseBars(t, db)
	clock := &fakeClock{now: time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC)}

	src := defaultSource()
	src.quotes = map[string]models.MQuote{
		"AAA": {Ticker: "AAA", Price: 110},
		"BBB": {Ticker: "BBB", Price: 190},
	}

	eng := newTestEngine(t, testConfig(), db, src, clock)
	require.NoError(t, eng.Initialize())
	first, err := eng.CalculateEOD()
	require.NoError(t, err)

	// Every quote gone: stored history must not keep the cycle alive
	src.quotes = map[string]models.MQuote{}
	snapshot, err := eng.CalculateEOD()
	assert.Error(t, err)
	assert.Nil(t, snapshot)
	assert.Same(t, first, eng.LastSnapshot())
}

// -----------------------------------------------------------------------------

func TestSharesFallbackWhenFundamentalsMissing(t *testing.T) {
	db := storage.NewMemoryDB()
	clock := &fakeClock{now: time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC)}

	cfg := testConfig()
	cfg.Constituents = []models.MConstituentConfig{
		{Ticker: "CCC", FreeFloatFactor: 1.0},
	}
	_, err := db.AppendBars("CCC", []models.MPriceBar{
		{Ticker: "CCC", Date: "2025-01-02", Close: 1},
	})
	require.NoError(t, err)

	src := &stubSource{
		quotes: map[string]models.MQuote{"CCC": {Ticker: "CCC", Price: 2}},
	}
	eng := newTestEngine(t, cfg, db, src, clock)
	require.NoError(t, eng.Initialize())

	// Base ffMCap = 1 * 1e9 * 1.0 -> divisor 1e6; price doubling doubles
	// the index
	snapshot, err := eng.CalculateEOD()
	require.NoError(t, err)
	assert.InDelta(t, 2000.0, snapshot.Index.Value, 1e-9)
	assert.InDelta(t, float64(fallbackShares), snapshot.Constituents[0].SharesOutstanding, 1e-9)
}

// -----------------------------------------------------------------------------

func TestBuildHistory_CarryForwardAndWeekendSkip(t *testing.T) {
	db := storage.NewMemoryDB()
	clock := &fakeClock{now: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)} // Monday

	_, err := db.AppendBars("AAA", []models.MPriceBar{
		{Ticker: "AAA", Date: "2025-01-02", Close: 100},
		{Ticker: "AAA", Date: "2025-01-03", Close: 110},
	})
	require.NoError(t, err)
	_, err = db.AppendBars("BBB", []models.MPriceBar{
		{Ticker: "BBB", Date: "2025-01-02", Close: 200},
	})
	require.NoError(t, err)

	eng := newTestEngine(t, testConfig(), db, defaultSource(), clock)
	require.NoError(t, eng.Initialize())

	written, err := eng.BuildHistory()
	require.NoError(t, err)
	// Thu 01-02, Fri 01-03; Sat/Sun skipped, today excluded
	assert.Equal(t, 2, written)

	history := eng.FullHistory()
	require.Len(t, history, 2)

	assert.Equal(t, "2025-01-02", history[0].Date)
	assert.InDelta(t, 1000.0, history[0].Value, 1e-9)

	// 01-03: AAA 110, BBB carries 200 forward -> 155,000/150
	assert.Equal(t, "2025-01-03", history[1].Date)
	assert.InDelta(t, 1033.33, history[1].Value, 1e-9)
	assert.InDelta(t, 1000.0, history[1].PreviousClose, 1e-9)
	assert.InDelta(t, 33.33, history[1].Change, 1e-9)

	// Second run over the same window is a no-op
	written, err = eng.BuildHistory()
	require.NoError(t, err)
	assert.Equal(t, 0, written)
}

// -----------------------------------------------------------------------------

func TestBuildHistory_ExtendsPastLastLedgerEntry(t *testing.T) {
	db := storage.NewMemoryDB()
	clock := &fakeClock{now: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)}

	_, err := db.AppendBars("AAA", []models.MPriceBar{
		{Ticker: "AAA", Date: "2025-01-02", Close: 100},
		{Ticker: "AAA", Date: "2025-01-03", Close: 110},
		{Ticker: "AAA", Date: "2025-01-06", Close: 120},
	})
	require.NoError(t, err)
	_, err = db.AppendBars("BBB", []models.MPriceBar{
		{Ticker: "BBB", Date: "2025-01-02", Close: 200},
	})
	require.NoError(t, err)

	eng := newTestEngine(t, testConfig(), db, defaultSource(), clock)
	require.NoError(t, eng.Initialize())

	written, err := eng.BuildHistory()
	require.NoError(t, err)
	require.Equal(t, 2, written)

	// New bar lands, clock moves to Tuesday: only Monday gets computed
	clock.now = time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC)
	written, err = eng.BuildHistory()
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	history := eng.FullHistory()
	require.Len(t, history, 3)
	assert.Equal(t, "2025-01-06", history[2].Date)
	// 120*1000*0.5 + 200*500 = 160,000 -> 1066.67
	assert.InDelta(t, 1066.67, history[2].Value, 1e-9)
	assert.InDelta(t, 1033.33, history[2].PreviousClose, 1e-9)
}

// -----------------------------------------------------------------------------

func TestAdjustDivisor_KeepsLevelContinuous(t *testing.T) {
	db := storage.NewMemoryDB()
	seedBaseBars(t, db)
	clock := &fakeClock{now: time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC)}

	eng := newTestEngine(t, testConfig(), db, defaultSource(), clock)
	require.NoError(t, eng.Initialize())

	// Basket cap moves 150,000 -> 180,000 on a composition change; the
	// divisor scales by the same ratio so value = cap/divisor is unchanged
	before, after := 150000.0, 180000.0
	valueBefore := before / eng.Meta().Divisor

	eng.adjustDivisor(before, after)
	valueAfter := after / eng.Meta().Divisor

	assert.InDelta(t, valueBefore, valueAfter, 1e-9)
	assert.InDelta(t, 180.0, eng.Meta().Divisor, 1e-9)
}

func TestAdjustDivisor_NoOpEdgeCases(t *testing.T) {
	db := storage.NewMemoryDB()
	seedBaseBars(t, db)
	clock := &fakeClock{now: time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC)}

	eng := newTestEngine(t, testConfig(), db, defaultSource(), clock)
	require.NoError(t, eng.Initialize())

	divisor := eng.Meta().Divisor
	eng.adjustDivisor(0, 180000)
	assert.InDelta(t, divisor, eng.Meta().Divisor, 1e-9)

	eng.state.Divisor = 0
	eng.adjustDivisor(150000, 180000)
	assert.InDelta(t, 0.0, eng.state.Divisor, 1e-9)
}

// -----------------------------------------------------------------------------

func TestHistory_ReturnsMostRecentEntries(t *testing.T) {
	db := storage.NewMemoryDB()
	clock := &fakeClock{now: time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)}

	_, err := db.AppendBars("AAA", []models.MPriceBar{
		{Ticker: "AAA", Date: "2025-01-02", Close: 100},
		{Ticker: "AAA", Date: "2025-01-03", Close: 101},
		{Ticker: "AAA", Date: "2025-01-06", Close: 102},
		{Ticker: "AAA", Date: "2025-01-07", Close: 103},
	})
	require.NoError(t, err)
	_, err = db.AppendBars("BBB", []models.MPriceBar{
		{Ticker: "BBB", Date: "2025-01-02", Close: 200},
	})
	require.NoError(t, err)

	eng := newTestEngine(t, testConfig(), db, defaultSource(), clock)
	require.NoError(t, eng.Initialize())
	_, err = eng.BuildHistory()
	require.NoError(t, err)

	// Weekdays Jan 2, 3, 6, 7, 8, 9 (today excluded)
	full := eng.FullHistory()
	require.Len(t, full, 6)

	last2 := eng.History(2)
	require.Len(t, last2, 2)
	assert.Equal(t, full[len(full)-2].Date, last2[0].Date)
	assert.Equal(t, full[len(full)-1].Date, last2[1].Date)

	// Asking for more than exists returns everything
	assert.Len(t, eng.History(100), len(full))
}

// -----------------------------------------------------------------------------

func TestMeta_NextCalculationSkipsWeekend(t *testing.T) {
	db := storage.NewMemoryDB()
	seedBaseBars(t, db)
	// Friday after the calculation time
	clock := &fakeClock{now: time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC)}

	eng := newTestEngine(t, testConfig(), db, defaultSource(), clock)
	require.NoError(t, eng.Initialize())

	meta := eng.Meta()
	assert.Equal(t, "HGX", meta.Name)
	assert.True(t, strings.HasPrefix(meta.NextCalculation, "2025-01-13T17:00"),
		"expected next run Monday 17:00, got %s", meta.NextCalculation)
}

// -----------------------------------------------------------------------------

func TestInitialize_RestoresStateWithoutRecalibration(t *testing.T) {
	db := storage.NewMemoryDB()
	seedBaseBars(t, db)
	clock := &fakeClock{now: time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC)}

	require.NoError(t, db.SaveEngineState(models.MEngineState{
		Divisor:   175,
		BaseValue: 1000,
		BaseDate:  "2025-01-02",
	}))

	eng := newTestEngine(t, testConfig(), db, defaultSource(), clock)
	require.NoError(t, eng.Initialize())

	// Persisted divisor wins over what base bars would imply
	assert.InDelta(t, 175.0, eng.Meta().Divisor, 1e-9)
}
