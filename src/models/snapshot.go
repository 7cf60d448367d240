package models

// -----------------------------------------------------------------------------
// Derived snapshot types. Rebuilt on every calculation, never persisted;
// the latest one is kept as "last known good" for serving during
// data-provider outages.
// -----------------------------------------------------------------------------

// MConstituentInfo is the per-constituent breakdown inside a snapshot.
type MConstituentInfo struct {
	Ticker             string  `json:"ticker"`
	Name               string  `json:"name"`
	Sector             string  `json:"sector"`
	Price              float64 `json:"price"`
	ChangePercent      float64 `json:"change_percent"`
	Weight             float64 `json:"weight"` // percent, rounded to 4 decimals
	MarketCap          float64 `json:"market_cap"`
	FreeFloatMarketCap float64 `json:"free_float_market_cap"`
	FreeFloatFactor    float64 `json:"free_float_factor"`
	SharesOutstanding  float64 `json:"shares_outstanding"`
	Volume             float64 `json:"volume"`
}

// MIndexValue is the headline number block of a snapshot.
type MIndexValue struct {
	Timestamp               int64   `json:"timestamp"`
	Value                   float64 `json:"value"`
	Change                  float64 `json:"change"`
	ChangePercent           float64 `json:"change_percent"`
	Open                    float64 `json:"open"`
	High                    float64 `json:"high"`
	Low                     float64 `json:"low"`
	PreviousClose           float64 `json:"previous_close"`
	TotalMarketCap          float64 `json:"total_market_cap"`
	TotalFreeFloatMarketCap float64 `json:"total_free_float_market_cap"`
}

// MIndexSnapshot bundles the latest index value with the full
// per-constituent breakdown.
type MIndexSnapshot struct {
	Date         string             `json:"date"`
	Index        MIndexValue        `json:"index"`
	Constituents []MConstituentInfo `json:"constituents"`
}

// MIndexMeta is the metadata block served on /api/meta.
type MIndexMeta struct {
	Name            string  `json:"name"`
	FullName        string  `json:"full_name"`
	BaseValue       float64 `json:"base_value"`
	BaseDate        string  `json:"base_date"`
	Currency        string  `json:"currency"`
	Description     string  `json:"description"`
	Methodology     string  `json:"methodology"`
	NumConstituents int     `json:"num_constituents"`
	LastCalculated  string  `json:"last_calculated"`
	NextCalculation string  `json:"next_calculation"`
	Divisor         float64 `json:"divisor"`
}
