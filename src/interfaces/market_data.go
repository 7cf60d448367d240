package interfaces

import "horizon-index/src/models"

// -----------------------------------------------------------------------------
// IMarketData is the market-data collaborator: daily bars, latest quotes
// and per-instrument fundamentals. Implementations must tolerate partial
// failure per ticker.
// -----------------------------------------------------------------------------

type IMarketData interface {

	// Name returns the unique identifier of the source
	Name() string

	// -----------------------------------------------------------------------------

	// GetDailyBars returns daily bars for [startDate, endDate], ordered
	// ascending by date. startDate == "" requests the full available
	// history for the ticker.
	GetDailyBars(ticker, startDate, endDate string) ([]models.MPriceBar, error)

	// -----------------------------------------------------------------------------

	// GetLatestQuotes returns the latest EOD quote per ticker. Tickers
	// that fail are simply absent from the result.
	GetLatestQuotes(tickers []string) (map[string]models.MQuote, error)

	// -----------------------------------------------------------------------------

	// GetFundamentals returns shares outstanding and static metadata for
	// a ticker.
	GetFundamentals(ticker string) (*models.MStockFundamentals, error)
}

// -----------------------------------------------------------------------------
// IBarSeries serves the effective daily series per ticker: the stored
// history overlaid with anything fetched this run, the fetched bar
// winning same-date conflicts. The calculator reads bars through this,
// never from the store directly.
// -----------------------------------------------------------------------------

type IBarSeries interface {

	// Series returns the ordered daily bars for ticker from fromDate
	// onward. fromDate == "" means the full series.
	Series(ticker, fromDate string) ([]models.MPriceBar, error)
}
