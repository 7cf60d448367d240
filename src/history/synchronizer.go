package history

import (
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"horizon-index/src/interfaces"
	"horizon-index/src/logger"
	"horizon-index/src/models"
	"horizon-index/src/utils"
)

// Synchronizer keeps the stored per-ticker price history current. Each
// sync fetches only the window the store does not yet cover, so repeated
// runs are cheap and idempotent. Bars fetched during the current run are
// kept aside: the store never overwrites, so Series overlays them on the
// stored history with the provider's version winning.
type Synchronizer struct {
	Config *models.MConfig
	DB     interfaces.IDatabase
	Source interfaces.IMarketData
	Logger *logger.Logger
	clock  utils.Clock

	mu    sync.Mutex
	fresh map[string][]models.MPriceBar
}

// -----------------------------------------------------------------------------

func NewSynchronizer(cfg *models.MConfig, db interfaces.IDatabase, source interfaces.IMarketData, clock utils.Clock) *Synchronizer {
	return &Synchronizer{
		Config: cfg,
		DB:     db,
		Source: source,
		Logger: logger.NewLogger(cfg.LogLevel, "Synchronizer"),
		clock:  clock,
		fresh:  make(map[string][]models.MPriceBar),
	}
}

// -----------------------------------------------------------------------------

// Sync brings the stored history for ticker up to date. With no stored
// bars it fetches everything from startDate onward; otherwise it fetches
// the gap between the last stored date and today. Returns the number of
// newly stored bars.
func (s *Synchronizer) Sync(ticker, startDate string) (int, error) {
	today := utils.DateString(s.clock.Now())

	lastDate, err := s.DB.LastStoredDate(ticker)
	if err != nil {
		return 0, err
	}

	fetchFrom := startDate
	if lastDate != "" {
		if lastDate >= today {
			s.Logger.Debug("%s already current (last stored %s)", ticker, lastDate)
			return 0, nil
		}
		fetchFrom = utils.NextDay(lastDate)
	}

	bars, err := s.Source.GetDailyBars(ticker, fetchFrom, today)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		s.Logger.Debug("%s: no new bars in [%s, %s]", ticker, fetchFrom, today)
		return 0, nil
	}

	// Cached before the append: Series must serve the fetched bars even
	// when the store keeps an older version or the write fails
	s.mu.Lock()
	s.fresh[ticker] = bars
	s.mu.Unlock()

	stored, err := s.DB.AppendBars(ticker, bars)
	if err != nil {
		return 0, err
	}

	s.Logger.Info("Synced %s: %d fetched, %d stored (window [%s, %s])",
		ticker, len(bars), stored, fetchFrom, today)
	return stored, nil
}

// -----------------------------------------------------------------------------

// SyncAll syncs every ticker concurrently, bounded by the configured
// request concurrency. A ticker that fails is logged as a warning and
// left at its stored state; the rest keep syncing and the partial total
// is returned.
func (s *Synchronizer) SyncAll(tickers []string, startDate string) int {
	var g errgroup.Group
	g.SetLimit(s.Config.Network.ConcurrentRequests)

	counts := make([]int, len(tickers))
	failed := make([]bool, len(tickers))
	for i, ticker := range tickers {
		i, ticker := i, ticker
		g.Go(func() error {
			n, err := s.Sync(ticker, startDate)
			if err != nil {
				s.Logger.Warning("Sync failed for %s, continuing with its stored history: %v", ticker, err)
				failed[i] = true
				return nil
			}
			counts[i] = n
			return nil
		})
	}

	// Per-ticker errors are swallowed above, Wait only joins
	_ = g.Wait()

	total, nFailed := 0, 0
	for i, n := range counts {
		total += n
		if failed[i] {
			nFailed++
		}
	}
	if nFailed > 0 {
		s.Logger.Warning("History sync finished: %d new bars, %d/%d tickers failed", total, nFailed, len(tickers))
	} else {
		s.Logger.Info("History sync complete: %d tickers, %d new bars", len(tickers), total)
	}
	return total
}

// -----------------------------------------------------------------------------

// Series returns the effective daily series for ticker: the stored
// history overlaid with the bars fetched this run. The store keeps the
// first write on a duplicate date, so this is where a provider revision
// of an already-stored bar becomes visible to the calculator.
func (s *Synchronizer) Series(ticker, fromDate string) ([]models.MPriceBar, error) {
	s.mu.Lock()
	fresh := s.fresh[ticker]
	s.mu.Unlock()
	return s.MergedSeries(ticker, fromDate, fresh)
}

// -----------------------------------------------------------------------------

// MergedSeries returns the stored series for ticker from fromDate,
// overlaying fresh bars on top. On a same-date conflict the fresh bar
// wins, matching append semantics where the store keeps the first write.
func (s *Synchronizer) MergedSeries(ticker, fromDate string, fresh []models.MPriceBar) ([]models.MPriceBar, error) {
	stored, err := s.DB.ReadBars(ticker, fromDate)
	if err != nil {
		return nil, err
	}

	byDate := make(map[string]models.MPriceBar, len(stored)+len(fresh))
	order := make([]string, 0, len(stored)+len(fresh))
	for _, b := range stored {
		if _, ok := byDate[b.Date]; !ok {
			order = append(order, b.Date)
		}
		byDate[b.Date] = b
	}
	for _, b := range fresh {
		if b.Date < fromDate {
			continue
		}
		if _, ok := byDate[b.Date]; !ok {
			order = append(order, b.Date)
		}
		byDate[b.Date] = b
	}

	sort.Strings(order)
	merged := make([]models.MPriceBar, 0, len(order))
	for _, d := range order {
		merged = append(merged, byDate[d])
	}
	return merged, nil
}
