package engine

import (
	"fmt"

	"horizon-index/src/models"
	"horizon-index/src/utils"
)

// -----------------------------------------------------------------------------
// Historical backfill. Replays the index from the base date over stored
// bars, carrying each constituent's last known close forward across
// gaps. Already-covered dates are never recomputed: on a warm start the
// replay only extends past the last ledger entry.
// -----------------------------------------------------------------------------

// tickerSeries is the per-ticker replay cursor.
type tickerSeries struct {
	bars      []models.MPriceBar
	pos       int
	lastClose float64
}

// advance moves the cursor through all bars up to and including date and
// returns the effective close, 0 while the ticker has no bar yet.
func (s *tickerSeries) advance(date string) float64 {
	for s.pos < len(s.bars) && s.bars[s.pos].Date <= date {
		s.lastClose = s.bars[s.pos].Close
		s.pos++
	}
	return s.lastClose
}

// -----------------------------------------------------------------------------

// BuildHistory computes ledger entries for every eligible day from the
// base date through yesterday that the ledger does not cover yet.
// Returns the number of entries written. Days on which no constituent
// has traded yet are skipped entirely.
func (e *Engine) BuildHistory() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Divisor == 0 {
		if err := e.calibrateBase(); err != nil {
			return 0, err
		}
		if e.state.Divisor == 0 {
			return 0, fmt.Errorf("divisor not calibrated, cannot build history")
		}
	}

	idx := e.Registry.Index()
	fromDate := idx.BaseDate
	if n := len(e.ledger); n > 0 {
		fromDate = utils.NextDay(e.ledger[n-1].Date)
	}
	today := utils.DateString(e.clock.Now())
	if fromDate >= today {
		e.Logger.Debug("History already covers through %s", e.LedgerCoverage())
		return 0, nil
	}

	tickers := e.Registry.Tickers()
	series := make(map[string]*tickerSeries, len(tickers))
	for _, ticker := range tickers {
		bars, err := e.Bars.Series(ticker, "")
		if err != nil {
			return 0, fmt.Errorf("read bars for %s: %w", ticker, err)
		}
		series[ticker] = &tickerSeries{bars: bars}
	}

	// Prime cursors with everything before the replay window so a warm
	// start carries closes forward correctly
	if fromDate > idx.BaseDate {
		prime := utils.DateString(utils.ParseDate(fromDate).AddDate(0, 0, -1))
		for _, s := range series {
			s.advance(prime)
		}
	}

	written := 0
	prevClose := e.previousClose(fromDate)

	for date := fromDate; date < today; date = utils.NextDay(date) {
		if !e.eligibleDay(utils.ParseDate(date)) {
			continue
		}

		ffSum := 0.0
		totalMCap := 0.0
		priced := 0
		for _, ticker := range tickers {
			close := series[ticker].advance(date)
			if close <= 0 {
				continue
			}
			shares := e.sharesFor(ticker)
			mcap := close * shares
			ffSum += mcap * e.Registry.FreeFloatFactor(ticker)
			totalMCap += mcap
			priced++
		}
		if priced == 0 {
			continue
		}

		value := utils.Round2(ffSum / e.state.Divisor)
		change := utils.Round2(value - prevClose)
		changePct := 0.0
		if prevClose != 0 {
			changePct = utils.Round4(change / prevClose * 100)
		}

		entry := models.MIndexLedgerEntry{
			Date:            date,
			Timestamp:       utils.ParseDate(date).Unix(),
			Value:           value,
			Open:            value,
			High:            value,
			Low:             value,
			Close:           value,
			PreviousClose:   prevClose,
			Change:          change,
			ChangePercent:   changePct,
			FFMCapSum:       ffSum,
			TotalMCap:       totalMCap,
			Divisor:         e.state.Divisor,
			NumConstituents: priced,
		}

		if err := e.DB.UpsertLedgerEntry(entry); err != nil {
			return written, fmt.Errorf("write ledger entry for %s: %w", date, err)
		}
		e.upsertMemLedger(entry)
		prevClose = value
		written++
	}

	if written > 0 {
		last := e.ledger[len(e.ledger)-1]
		e.state.LastLedgerDate = last.Date
		e.state.LastFFMCapSum = last.FFMCapSum
		e.state.UpdatedAt = e.clock.Now().Unix()
		if err := e.DB.SaveEngineState(e.state); err != nil {
			e.Logger.Error("Engine state write failed after history build: %v", err)
		}
		e.Logger.Info("History build complete: %d entries, ledger now %s", written, e.LedgerCoverage())
	}
	return written, nil
}

// -----------------------------------------------------------------------------

// LedgerCoverage describes the ledger date span for logs. Caller holds
// the lock.
func (e *Engine) LedgerCoverage() string {
	if len(e.ledger) == 0 {
		return "empty"
	}
	return fmt.Sprintf("[%s, %s]", e.ledger[0].Date, e.ledger[len(e.ledger)-1].Date)
}
