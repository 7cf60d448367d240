package models

// -----------------------------------------------------------------------------
// WebSocket payload structures (Matches the frontend protocol exactly)
// -----------------------------------------------------------------------------

// MBroadcastPayload is pushed to every subscriber. Type is "initial" on
// connect and "eod_update" after a scheduled calculation.
type MBroadcastPayload struct {
	Type         string              `json:"type"`
	Date         string              `json:"date"`
	Timestamp    string              `json:"timestamp"`
	Index        MIndexValue         `json:"index"`
	Constituents []MConstituentInfo  `json:"constituents"`
	History      []MIndexLedgerEntry `json:"history,omitempty"`
}
