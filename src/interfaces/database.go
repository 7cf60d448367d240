package interfaces

import "horizon-index/src/models"

// -----------------------------------------------------------------------------
// IDatabase defines the contract for storage operations.
// -----------------------------------------------------------------------------

type IDatabase interface {

	// -----------------------------------------------------------------------------

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// LastStoredDate returns the most recent stored bar date for a ticker,
	// or "" if no bars are stored.
	LastStoredDate(ticker string) (string, error)

	// -----------------------------------------------------------------------------

	// AppendBars inserts bars for a ticker. Idempotent on duplicate
	// (ticker, date): duplicates are silently skipped, never overwritten.
	// Returns the number of bars actually inserted.
	AppendBars(ticker string, bars []models.MPriceBar) (int, error)

	// -----------------------------------------------------------------------------

	// ReadBars returns stored bars for a ticker from fromDate (inclusive,
	// "" for all), ordered ascending by date.
	ReadBars(ticker string, fromDate string) ([]models.MPriceBar, error)

	// -----------------------------------------------------------------------------

	// ReadLedger returns all index ledger entries ordered ascending by date.
	ReadLedger() ([]models.MIndexLedgerEntry, error)

	// -----------------------------------------------------------------------------

	// UpsertLedgerEntry writes a ledger entry keyed by date.
	UpsertLedgerEntry(entry models.MIndexLedgerEntry) error

	// -----------------------------------------------------------------------------

	// LoadEngineState returns the singleton engine state, or nil if none
	// has been saved yet.
	LoadEngineState() (*models.MEngineState, error)

	// -----------------------------------------------------------------------------

	// SaveEngineState overwrites the singleton engine state.
	SaveEngineState(state models.MEngineState) error

	// -----------------------------------------------------------------------------

	// LoadFundamentals returns cached fundamentals for a ticker, or nil if
	// none are stored. Freshness is the caller's concern.
	LoadFundamentals(ticker string) (*models.MStockFundamentals, error)

	// -----------------------------------------------------------------------------

	// SaveFundamentals upserts cached fundamentals keyed by ticker.
	SaveFundamentals(f models.MStockFundamentals) error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
