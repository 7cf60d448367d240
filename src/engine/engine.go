package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"horizon-index/src/interfaces"
	"horizon-index/src/logger"
	"horizon-index/src/models"
	"horizon-index/src/registry"
	"horizon-index/src/utils"
)

// fallbackShares is assumed when fundamentals are unavailable for a
// constituent. Logged every time it is used.
const fallbackShares = 1_000_000_000

// fundamentalsTTL is how long cached fundamentals stay fresh before a
// refetch is attempted.
const fundamentalsTTL = 24 * time.Hour

// -----------------------------------------------------------------------------
// Engine owns the divisor and the ledger. It is the only writer of both;
// every mutating operation runs under the engine mutex.
//
// Index methodology (free-float market-cap weighted, divisor method):
//
//	ffMCap(c)  = price(c) * shares(c) * freeFloatFactor(c)
//	divisor    = sum(ffMCap at base date) / baseValue
//	indexValue = sum(ffMCap) / divisor
//
// A membership change rescales the divisor by after/before so the index
// level never jumps on composition events.
// -----------------------------------------------------------------------------

type Engine struct {
	Config   *models.MConfig
	Registry *registry.Registry
	DB       interfaces.IDatabase
	Source   interfaces.IMarketData
	Bars     interfaces.IBarSeries
	Logger   *logger.Logger

	clock utils.Clock
	cal   *utils.TradingCalendar

	mu           sync.Mutex
	state        models.MEngineState
	ledger       []models.MIndexLedgerEntry
	lastSnapshot *models.MIndexSnapshot
	fundamentals map[string]*models.MStockFundamentals
}

// -----------------------------------------------------------------------------

func NewEngine(cfg *models.MConfig, reg *registry.Registry, db interfaces.IDatabase, source interfaces.IMarketData, bars interfaces.IBarSeries, clock utils.Clock) *Engine {
	return &Engine{
		Config:       cfg,
		Registry:     reg,
		DB:           db,
		Source:       source,
		Bars:         bars,
		Logger:       logger.NewLogger(cfg.LogLevel, "IndexEngine"),
		clock:        clock,
		cal:          utils.GetCalendar(cfg.Index.CalendarMIC),
		fundamentals: make(map[string]*models.MStockFundamentals),
	}
}

// -----------------------------------------------------------------------------

// Initialize loads persisted state, refreshes fundamentals and calibrates
// the base divisor if it has never been calibrated.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.Registry.Index()

	state, err := e.DB.LoadEngineState()
	if err != nil {
		return fmt.Errorf("load engine state: %w", err)
	}
	if state != nil {
		e.state = *state
		e.Logger.Info("Restored engine state: divisor=%.6f, last ledger date=%s",
			e.state.Divisor, e.state.LastLedgerDate)
	} else {
		e.state = models.MEngineState{
			BaseValue: idx.BaseValue,
			BaseDate:  idx.BaseDate,
		}
	}

	ledger, err := e.DB.ReadLedger()
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	e.ledger = ledger
	if n := len(ledger); n > 0 {
		e.Logger.Info("Loaded %d ledger entries (%s to %s)", n, ledger[0].Date, ledger[n-1].Date)
	}

	e.refreshFundamentals(e.Registry.Tickers())

	if e.state.Divisor == 0 {
		if err := e.calibrateBase(); err != nil {
			return err
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// refreshFundamentals fills the in-memory fundamentals cache for the
// given tickers, hitting the data source only when the stored copy is
// missing or stale. Failures are non-fatal; the share fallback covers
// missing entries at calculation time.
func (e *Engine) refreshFundamentals(tickers []string) {
	now := e.clock.Now().Unix()
	ttl := int64(fundamentalsTTL.Seconds())

	for _, ticker := range tickers {
		cached, err := e.DB.LoadFundamentals(ticker)
		if err != nil {
			e.Logger.Warning("Error loading fundamentals for %s: %v", ticker, err)
		}
		if cached != nil && now-cached.FetchedAt < ttl {
			e.fundamentals[ticker] = cached
			continue
		}

		fresh, err := e.Source.GetFundamentals(ticker)
		if err != nil {
			e.Logger.Warning("Error fetching fundamentals for %s: %v", ticker, err)
			if cached != nil {
				e.fundamentals[ticker] = cached
			}
			continue
		}

		e.fundamentals[ticker] = fresh
		if err := e.DB.SaveFundamentals(*fresh); err != nil {
			e.Logger.Warning("Error caching fundamentals for %s: %v", ticker, err)
		}
	}
}

// -----------------------------------------------------------------------------

// sharesFor returns shares outstanding for a ticker, falling back to a
// fixed default when fundamentals are unavailable.
func (e *Engine) sharesFor(ticker string) float64 {
	if f, ok := e.fundamentals[ticker]; ok && f.SharesOutstanding > 0 {
		return f.SharesOutstanding
	}
	e.Logger.Warning("No shares outstanding for %s, using fallback %d", ticker, fallbackShares)
	return fallbackShares
}

func (e *Engine) constituentMeta(ticker string) (name, sector string) {
	if f, ok := e.fundamentals[ticker]; ok {
		name, sector = f.Name, f.Sector
	}
	if c, ok := e.Registry.Get(ticker); ok {
		if c.Name != "" {
			name = c.Name
		}
		if c.Sector != "" {
			sector = c.Sector
		}
	}
	if name == "" {
		name = ticker
	}
	if sector == "" {
		sector = "Unknown"
	}
	return name, sector
}

// -----------------------------------------------------------------------------

// calibrateBase fixes the divisor from stored prices at the base date.
// For each constituent it takes the bar on the base date, else the last
// bar before it, else the earliest bar available. Caller holds the lock.
func (e *Engine) calibrateBase() error {
	idx := e.Registry.Index()
	baseDate := idx.BaseDate

	sum := 0.0
	priced := 0
	for _, ticker := range e.Registry.Tickers() {
		bars, err := e.Bars.Series(ticker, "")
		if err != nil {
			return fmt.Errorf("read bars for %s: %w", ticker, err)
		}
		if len(bars) == 0 {
			e.Logger.Warning("No stored bars for %s, excluded from base calibration", ticker)
			continue
		}

		bar := bars[0]
		for _, b := range bars {
			if b.Date > baseDate {
				break
			}
			bar = b
		}
		if bar.Date != baseDate {
			e.Logger.Debug("Base calibration for %s uses %s instead of %s", ticker, bar.Date, baseDate)
		}

		sum += bar.Close * e.sharesFor(ticker) * e.Registry.FreeFloatFactor(ticker)
		priced++
	}

	if sum == 0 {
		e.Logger.Warning("Base free-float market cap is zero, divisor defaults to 1.0")
		e.state.Divisor = 1.0
	} else {
		e.state.Divisor = sum / idx.BaseValue
	}
	e.state.BaseValue = idx.BaseValue
	e.state.BaseDate = baseDate
	e.state.NumConstituents = priced
	e.state.UpdatedAt = e.clock.Now().Unix()

	e.Logger.Info("Base calibrated at %s: ffMCap=%.2f, divisor=%.6f (%d constituents)",
		baseDate, sum, e.state.Divisor, priced)
	return e.DB.SaveEngineState(e.state)
}

// -----------------------------------------------------------------------------

// CalculateEOD runs one end-of-day calculation cycle at current prices.
// Constituents without a quote this cycle are excluded from the sum and
// logged, never priced at a stored close; with zero quoted constituents
// the cycle aborts and the previous snapshot stays in place. Persistence
// failures do not fail the cycle: the result is still served, the write
// loss is logged.
func (e *Engine) CalculateEOD() (*models.MIndexSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	today := utils.DateString(now)
	tickers := e.Registry.Tickers()

	quotes, err := e.Source.GetLatestQuotes(tickers)
	if err != nil {
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}

	constituents := make([]models.MConstituentInfo, 0, len(tickers))
	ffSum := 0.0
	totalMCap := 0.0

	for _, ticker := range tickers {
		price, changePct, volume := e.quotePrice(ticker, quotes)
		if price <= 0 {
			e.Logger.Warning("No quote for %s, excluded from %s", ticker, today)
			continue
		}

		shares := e.sharesFor(ticker)
		fif := e.Registry.FreeFloatFactor(ticker)
		mcap := price * shares
		ffMCap := mcap * fif
		name, sector := e.constituentMeta(ticker)

		constituents = append(constituents, models.MConstituentInfo{
			Ticker:             ticker,
			Name:               name,
			Sector:             sector,
			Price:              price,
			ChangePercent:      utils.Round4(changePct),
			MarketCap:          mcap,
			FreeFloatMarketCap: ffMCap,
			FreeFloatFactor:    fif,
			SharesOutstanding:  shares,
			Volume:             volume,
		})
		ffSum += ffMCap
		totalMCap += mcap
	}

	if len(constituents) == 0 {
		return nil, fmt.Errorf("no quotes for any of %d constituents, calculation aborted", len(tickers))
	}

	if e.state.Divisor == 0 {
		// First ever calculation without a calibrated base: today becomes
		// the de-facto base
		e.Logger.Warning("Divisor not calibrated, pinning today's value to base %v", e.Registry.Index().BaseValue)
		e.state.Divisor = ffSum / e.Registry.Index().BaseValue
	}

	value := utils.Round2(ffSum / e.state.Divisor)

	prevClose := e.previousClose(today)
	change := utils.Round2(value - prevClose)
	changePct := 0.0
	if prevClose != 0 {
		changePct = utils.Round4(change / prevClose * 100)
	}

	for i := range constituents {
		constituents[i].Weight = utils.Round4(constituents[i].FreeFloatMarketCap / ffSum * 100)
	}

	snapshot := &models.MIndexSnapshot{
		Date: today,
		Index: models.MIndexValue{
			Timestamp:               now.Unix(),
			Value:                   value,
			Change:                  change,
			ChangePercent:           changePct,
			Open:                    value,
			High:                    value,
			Low:                     value,
			PreviousClose:           prevClose,
			TotalMarketCap:          totalMCap,
			TotalFreeFloatMarketCap: ffSum,
		},
		Constituents: constituents,
	}

	entry := models.MIndexLedgerEntry{
		Date:            today,
		Timestamp:       now.Unix(),
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
		NumConstituents: len(constituents),
	}

	e.upsertMemLedger(entry)
	e.state.LastFFMCapSum = ffSum
	e.state.NumConstituents = len(constituents)
	e.state.LastLedgerDate = today
	e.state.UpdatedAt = now.Unix()
	e.lastSnapshot = snapshot

	if err := e.DB.UpsertLedgerEntry(entry); err != nil {
		e.Logger.Error("Ledger write failed for %s, value %.2f served from memory only: %v", today, value, err)
	}
	if err := e.DB.SaveEngineState(e.state); err != nil {
		e.Logger.Error("Engine state write failed: %v", err)
	}

	e.Logger.Info("EOD %s: %s = %.2f (%+.2f / %+.4f%%), %d/%d constituents",
		today, e.Registry.Index().IndexName, value, change, changePct, len(constituents), len(tickers))
	return snapshot, nil
}

// -----------------------------------------------------------------------------

// quotePrice resolves the fresh quote for a ticker. A missing or
// non-positive quote yields 0 and the caller excludes the ticker for
// the cycle; stored closes carry forward only in the backfill.
func (e *Engine) quotePrice(ticker string, quotes map[string]models.MQuote) (price, changePct, volume float64) {
	q, ok := quotes[ticker]
	if !ok || q.Price <= 0 {
		return 0, 0, 0
	}
	return q.Price, q.ChangePercent, q.Volume
}

// -----------------------------------------------------------------------------

// previousClose returns the close of the latest ledger entry strictly
// before the given date, or the base value when none exists. Caller
// holds the lock.
func (e *Engine) previousClose(date string) float64 {
	for i := len(e.ledger) - 1; i >= 0; i-- {
		if e.ledger[i].Date < date {
			return e.ledger[i].Close
		}
	}
	return e.Registry.Index().BaseValue
}

// -----------------------------------------------------------------------------

// upsertMemLedger mirrors the storage upsert in the in-memory copy,
// keeping it sorted with at most one entry per date. Caller holds the
// lock.
func (e *Engine) upsertMemLedger(entry models.MIndexLedgerEntry) {
	i := sort.Search(len(e.ledger), func(i int) bool { return e.ledger[i].Date >= entry.Date })
	if i < len(e.ledger) && e.ledger[i].Date == entry.Date {
		e.ledger[i] = entry
		return
	}
	e.ledger = append(e.ledger, models.MIndexLedgerEntry{})
	copy(e.ledger[i+1:], e.ledger[i:])
	e.ledger[i] = entry
}

// -----------------------------------------------------------------------------

// adjustDivisor rescales the divisor across a composition change so the
// index level is identical immediately before and after. No-op while
// uncalibrated or when the pre-change cap is zero. Caller holds the lock.
func (e *Engine) adjustDivisor(before, after float64) {
	if e.state.Divisor == 0 || before == 0 {
		return
	}
	old := e.state.Divisor
	e.state.Divisor = old * (after / before)
	e.state.UpdatedAt = e.clock.Now().Unix()
	e.Logger.Info("Divisor adjusted %.6f -> %.6f (ffMCap %.2f -> %.2f)", old, e.state.Divisor, before, after)

	if err := e.DB.SaveEngineState(e.state); err != nil {
		e.Logger.Error("Engine state write failed after divisor adjustment: %v", err)
	}
}

// -----------------------------------------------------------------------------

// ReloadConstituents re-reads the basket from the config file. On a
// membership change it prices the old and new baskets at the same
// current prices and rescales the divisor by the ratio, so the served
// index level does not jump.
func (e *Engine) ReloadConstituents() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldTickers := e.Registry.Tickers()

	added, removed, err := e.Registry.Reload()
	if err != nil {
		return err
	}
	if len(added) == 0 && len(removed) == 0 {
		e.Logger.Info("Constituent reload: no membership change")
		return nil
	}

	e.refreshFundamentals(added)

	newTickers := e.Registry.Tickers()
	union := make([]string, 0, len(oldTickers)+len(added))
	union = append(union, oldTickers...)
	union = append(union, added...)

	quotes, err := e.Source.GetLatestQuotes(union)
	if err != nil {
		return fmt.Errorf("fetch quotes for divisor adjustment: %w", err)
	}

	before := e.basketFFMCap(oldTickers, quotes)
	after := e.basketFFMCap(newTickers, quotes)
	e.adjustDivisor(before, after)

	e.state.NumConstituents = len(newTickers)
	return nil
}

// basketFFMCap prices a basket at the given quotes. Tickers without a
// quote contribute nothing, on either side of an adjustment.
func (e *Engine) basketFFMCap(tickers []string, quotes map[string]models.MQuote) float64 {
	sum := 0.0
	for _, ticker := range tickers {
		price, _, _ := e.quotePrice(ticker, quotes)
		if price <= 0 {
			continue
		}
		sum += price * e.sharesFor(ticker) * e.Registry.FreeFloatFactor(ticker)
	}
	return sum
}

// -----------------------------------------------------------------------------
// Read side
// -----------------------------------------------------------------------------

func (e *Engine) LastSnapshot() *models.MIndexSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSnapshot
}

// -----------------------------------------------------------------------------

// History returns the most recent entries, capped at days.
func (e *Engine) History(days int) []models.MIndexLedgerEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := len(e.ledger) - days
	if days <= 0 || start < 0 {
		start = 0
	}
	out := make([]models.MIndexLedgerEntry, len(e.ledger)-start)
	copy(out, e.ledger[start:])
	return out
}

// -----------------------------------------------------------------------------

func (e *Engine) FullHistory() []models.MIndexLedgerEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.MIndexLedgerEntry, len(e.ledger))
	copy(out, e.ledger)
	return out
}

// -----------------------------------------------------------------------------

func (e *Engine) LastLedgerDate() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.ledger) == 0 {
		return ""
	}
	return e.ledger[len(e.ledger)-1].Date
}

// -----------------------------------------------------------------------------

func (e *Engine) Meta() models.MIndexMeta {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.Registry.Index()
	lastCalculated := ""
	if n := len(e.ledger); n > 0 {
		lastCalculated = e.ledger[n-1].Date
	}

	return models.MIndexMeta{
		Name:            idx.IndexName,
		FullName:        idx.IndexFullName,
		BaseValue:       idx.BaseValue,
		BaseDate:        idx.BaseDate,
		Currency:        idx.Currency,
		Description:     idx.Description,
		Methodology:     "Free-float market capitalization weighted, divisor method",
		NumConstituents: e.Registry.Count(),
		LastCalculated:  lastCalculated,
		NextCalculation: e.nextCalculation(),
		Divisor:         e.state.Divisor,
	}
}

// -----------------------------------------------------------------------------

// nextCalculation returns the next scheduled run as an RFC 3339 local
// timestamp: the next eligible day at the configured hour and minute.
func (e *Engine) nextCalculation() string {
	idx := e.Registry.Index()
	now := e.clock.Now()

	next := time.Date(now.Year(), now.Month(), now.Day(),
		idx.CalculationHour, idx.CalculationMinute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	for !e.eligibleDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Format(time.RFC3339)
}

// eligibleDay reports whether a calculation may run on that day.
func (e *Engine) eligibleDay(t time.Time) bool {
	if e.Registry.Index().RespectHolidays {
		return e.cal.IsTradingDay(t)
	}
	return utils.IsWeekday(t)
}
