package models

// MIndexLedgerEntry is one durable, date-keyed record of the computed
// index. At most one entry exists per calendar date; a same-day
// recalculation overwrites the existing entry.
//
// This is an end-of-day index: open == high == low == close == value.
type MIndexLedgerEntry struct {
	Date            string  `json:"date"` // YYYY-MM-DD, unique
	Timestamp       int64   `json:"timestamp"`
	Value           float64 `json:"value"`
	Open            float64 `json:"open"`
	High            float64 `json:"high"`
	Low             float64 `json:"low"`
	Close           float64 `json:"close"`
	PreviousClose   float64 `json:"previous_close"`
	Change          float64 `json:"change"`
	ChangePercent   float64 `json:"change_percent"`
	FFMCapSum       float64 `json:"ff_mcap_sum"`
	TotalMCap       float64 `json:"total_mcap"`
	Divisor         float64 `json:"divisor"`
	NumConstituents int     `json:"num_constituents"`
}
