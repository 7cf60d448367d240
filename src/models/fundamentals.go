package models

// MStockFundamentals holds per-instrument static metadata with a
// freshness timestamp. Staleness is evaluated by the caller against an
// injected clock (24h threshold).
type MStockFundamentals struct {
	Ticker            string  `json:"ticker"`
	SharesOutstanding float64 `json:"shares_outstanding"`
	FloatShares       float64 `json:"float_shares"`
	Name              string  `json:"name"`
	Sector            string  `json:"sector"`
	Currency          string  `json:"currency"`
	FetchedAt         int64   `json:"fetched_at"` // unix seconds
}
