package storage

import (
	"sort"
	"sync"
	"time"

	"horizon-index/src/models"
)

// -----------------------------------------------------------------------------
// MemoryDB is an in-memory IDatabase used by tests and ephemeral runs
// (db_type: memory). Same semantics as the SQL stores: append-only bars,
// date-keyed ledger upserts, singleton engine state.
// -----------------------------------------------------------------------------

type MemoryDB struct {
	mu           sync.RWMutex
	bars         map[string]map[string]models.MPriceBar // ticker -> date -> bar
	ledger       map[string]models.MIndexLedgerEntry    // date -> entry
	state        *models.MEngineState
	fundamentals map[string]models.MStockFundamentals
}

// -----------------------------------------------------------------------------

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		bars:         make(map[string]map[string]models.MPriceBar),
		ledger:       make(map[string]models.MIndexLedgerEntry),
		fundamentals: make(map[string]models.MStockFundamentals),
	}
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) Initialize() error { return nil }

// -----------------------------------------------------------------------------

func (d *MemoryDB) LastStoredDate(ticker string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	last := ""
	for date := range d.bars[ticker] {
		if date > last {
			last = date
		}
	}
	return last, nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) AppendBars(ticker string, bars []models.MPriceBar) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bars[ticker] == nil {
		d.bars[ticker] = make(map[string]models.MPriceBar)
	}
	inserted := 0
	for _, b := range bars {
		if _, exists := d.bars[ticker][b.Date]; exists {
			continue
		}
		d.bars[ticker][b.Date] = b
		inserted++
	}
	return inserted, nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) ReadBars(ticker string, fromDate string) ([]models.MPriceBar, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []models.MPriceBar
	for date, b := range d.bars[ticker] {
		if fromDate == "" || date >= fromDate {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) ReadLedger() ([]models.MIndexLedgerEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []models.MIndexLedgerEntry
	for _, e := range d.ledger {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) UpsertLedgerEntry(e models.MIndexLedgerEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ledger[e.Date] = e
	return nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) LoadEngineState() (*models.MEngineState, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.state == nil {
		return nil, nil
	}
	s := *d.state
	return &s, nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) SaveEngineState(s models.MEngineState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.UpdatedAt == 0 {
		s.UpdatedAt = time.Now().Unix()
	}
	d.state = &s
	return nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) LoadFundamentals(ticker string) (*models.MStockFundamentals, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.fundamentals[ticker]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) SaveFundamentals(f models.MStockFundamentals) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fundamentals[f.Ticker] = f
	return nil
}

// -----------------------------------------------------------------------------

// BarCount reports stored bars for a ticker (test helper).
func (d *MemoryDB) BarCount(ticker string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.bars[ticker])
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) Close() error { return nil }
