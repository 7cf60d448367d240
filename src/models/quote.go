package models

// MQuote is the latest end-of-day quote for a ticker as returned by the
// market-data collaborator.
type MQuote struct {
	Ticker        string  `json:"ticker"`
	Price         float64 `json:"price"`
	PreviousClose float64 `json:"previous_close"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Volume        float64 `json:"volume"`
}
