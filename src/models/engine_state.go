package models

// MEngineState is the singleton engine state blob. It exists so the base
// divisor does not have to be recalibrated on every restart: loaded once
// at startup, overwritten after every successful calculation.
//
// Divisor == 0 means "not yet calibrated".
type MEngineState struct {
	Divisor         float64 `json:"divisor"`
	BaseValue       float64 `json:"base_value"`
	BaseDate        string  `json:"base_date"`
	LastFFMCapSum   float64 `json:"last_ff_mcap_sum"`
	NumConstituents int     `json:"num_constituents"`
	LastLedgerDate  string  `json:"last_ledger_date"`
	UpdatedAt       int64   `json:"updated_at"`
}
