package models

// MPriceBar represents one stored daily OHLCV bar for a ticker.
// Bars are append-only: once a (ticker, date) pair is written the
// synchronizer never overwrites it.
type MPriceBar struct {
	Ticker    string  `json:"ticker"`
	Date      string  `json:"date"` // YYYY-MM-DD
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	FetchedAt int64   `json:"fetched_at"`
}
