package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horizon-index/src/models"
)

// -----------------------------------------------------------------------------

func TestMemoryDB_AppendBarsNeverOverwrites(t *testing.T) {
	db := NewMemoryDB()

	inserted, err := db.AppendBars("AAA", []models.MPriceBar{
		{Ticker: "AAA", Date: "2025-01-02", Close: 100},
		{Ticker: "AAA", Date: "2025-01-03", Close: 101},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Same date again with a different close: first write wins
	inserted, err = db.AppendBars("AAA", []models.MPriceBar{
		{Ticker: "AAA", Date: "2025-01-03", Close: 999},
		{Ticker: "AAA", Date: "2025-01-06", Close: 102},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	bars, err := db.ReadBars("AAA", "")
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.InDelta(t, 101.0, bars[1].Close, 1e-9)
}

// -----------------------------------------------------------------------------

func TestMemoryDB_ReadBarsFromDateSorted(t *testing.T) {
	db := NewMemoryDB()
	_, err := db.AppendBars("AAA", []models.MPriceBar{
		{Ticker: "AAA", Date: "2025-01-06", Close: 102},
		{Ticker: "AAA", Date: "2025-01-02", Close: 100},
		{Ticker: "AAA", Date: "2025-01-03", Close: 101},
	})
	require.NoError(t, err)

	bars, err := db.ReadBars("AAA", "2025-01-03")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "2025-01-03", bars[0].Date)
	assert.Equal(t, "2025-01-06", bars[1].Date)

	last, err := db.LastStoredDate("AAA")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-06", last)

	last, err = db.LastStoredDate("ZZZ")
	require.NoError(t, err)
	assert.Equal(t, "", last)
}

// -----------------------------------------------------------------------------

func TestMemoryDB_LedgerUpsertIsDateKeyed(t *testing.T) {
	db := NewMemoryDB()

	require.NoError(t, db.UpsertLedgerEntry(models.MIndexLedgerEntry{Date: "2025-01-02", Value: 1000}))
	require.NoError(t, db.UpsertLedgerEntry(models.MIndexLedgerEntry{Date: "2025-01-03", Value: 1010}))
	require.NoError(t, db.UpsertLedgerEntry(models.MIndexLedgerEntry{Date: "2025-01-02", Value: 1005}))

	ledger, err := db.ReadLedger()
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	assert.InDelta(t, 1005.0, ledger[0].Value, 1e-9)
	assert.Equal(t, "2025-01-03", ledger[1].Date)
}

// -----------------------------------------------------------------------------

func TestMemoryDB_EngineStateRoundTrip(t *testing.T) {
	db := NewMemoryDB()

	state, err := db.LoadEngineState()
	require.NoError(t, err)
	assert.Nil(t, state)

	require.NoError(t, db.SaveEngineState(models.MEngineState{Divisor: 150, BaseDate: "2025-01-02"}))

	state, err = db.LoadEngineState()
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.InDelta(t, 150.0, state.Divisor, 1e-9)
}

// -----------------------------------------------------------------------------

func TestMemoryDB_Fundamentals(t *testing.T) {
	db := NewMemoryDB()

	f, err := db.LoadFundamentals("AAA")
	require.NoError(t, err)
	assert.Nil(t, f)

	require.NoError(t, db.SaveFundamentals(models.MStockFundamentals{
		Ticker: "AAA", SharesOutstanding: 1000, FetchedAt: 1700000000,
	}))

	f, err = db.LoadFundamentals("AAA")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.InDelta(t, 1000.0, f.SharesOutstanding, 1e-9)
}
