package interfaces

import "horizon-index/src/models"

// -----------------------------------------------------------------------------
// IIndexEngine is the calculation owner consumed by the request layer and
// the daily trigger. All mutating operations are serialized internally.
// -----------------------------------------------------------------------------

type IIndexEngine interface {

	// LastSnapshot returns the most recent computed snapshot, or nil if no
	// calculation has completed yet ("not ready").
	LastSnapshot() *models.MIndexSnapshot

	// -----------------------------------------------------------------------------

	// History returns ledger entries covering the last N days.
	History(days int) []models.MIndexLedgerEntry

	// -----------------------------------------------------------------------------

	// FullHistory returns the entire ledger from the base date.
	FullHistory() []models.MIndexLedgerEntry

	// -----------------------------------------------------------------------------

	// LastLedgerDate returns the date of the latest ledger entry, or "".
	LastLedgerDate() string

	// -----------------------------------------------------------------------------

	// Meta returns index metadata (base date/value, divisor, next run).
	Meta() models.MIndexMeta

	// -----------------------------------------------------------------------------

	// CalculateEOD runs the end-of-day calculation. Returns nil and an
	// error when the cycle aborts (e.g. zero usable prices); the previous
	// snapshot is retained for serving in that case.
	CalculateEOD() (*models.MIndexSnapshot, error)

	// -----------------------------------------------------------------------------

	// ReloadConstituents re-reads the basket config, and on membership
	// change adjusts the divisor to keep the index level continuous.
	ReloadConstituents() error
}
