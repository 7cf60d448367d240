package yahoo

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"horizon-index/src/helpers"
	"horizon-index/src/interfaces"
	"horizon-index/src/logger"
	"horizon-index/src/models"
	"horizon-index/src/utils"
)

// YahooFinanceSource implements interfaces.IMarketData against the Yahoo
// Finance chart and quoteSummary endpoints.
type YahooFinanceSource struct {
	Config  *models.MConfig
	Network interfaces.INetworkManager
	Logger  *logger.Logger
	clock   utils.Clock
}

// -----------------------------------------------------------------------------

func NewYahooFinanceSource(cfg *models.MConfig, netMgr interfaces.INetworkManager, clock utils.Clock) *YahooFinanceSource {
	return &YahooFinanceSource{
		Config:  cfg,
		Network: netMgr,
		Logger:  logger.NewLogger(cfg.LogLevel, "YahooFinanceSource"),
		clock:   clock,
	}
}

// -----------------------------------------------------------------------------

func (s *YahooFinanceSource) Name() string {
	return "yahoo"
}

// -----------------------------------------------------------------------------
// Chart API response (nulls appear inside the quote arrays, hence pointers)
// -----------------------------------------------------------------------------

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				Timezone           string  `json:"timezone"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Open   []*float64 `json:"open"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// -----------------------------------------------------------------------------

// GetDailyBars fetches daily bars for [startDate, endDate]. An empty
// startDate requests the full available history.
func (s *YahooFinanceSource) GetDailyBars(ticker, startDate, endDate string) ([]models.MPriceBar, error) {
	params := map[string]string{
		"interval":       "1d",
		"includePrePost": "false",
	}

	if startDate == "" {
		params["range"] = "max"
	} else {
		start := utils.ParseDate(startDate)
		// endDate is inclusive; the chart API treats period2 as exclusive
		end := utils.ParseDate(endDate).AddDate(0, 0, 1)
		params["period1"] = fmt.Sprintf("%d", start.Unix())
		params["period2"] = fmt.Sprintf("%d", end.Unix())
	}

	url := fmt.Sprintf("https://query1.finance.yahoo.com/v8/finance/chart/%s", ticker)
	respBytes, err := s.Network.Get(url, params)
	if err != nil {
		return nil, fmt.Errorf("network error for %s: %w", ticker, err)
	}

	bars, err := s.parseChartResponse(ticker, respBytes)
	if err != nil {
		return nil, err
	}

	// Clip to the requested window; the provider can return an inclusive
	// boundary bar
	if startDate != "" {
		clipped := bars[:0]
		for _, b := range bars {
			if b.Date >= startDate && (endDate == "" || b.Date <= endDate) {
				clipped = append(clipped, b)
			}
		}
		bars = clipped
	}

	return bars, nil
}

// -----------------------------------------------------------------------------

func (s *YahooFinanceSource) parseChartResponse(ticker string, data []byte) ([]models.MPriceBar, error) {
	var parsed yahooChartResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, helpers.NewDataSourceError(fmt.Sprintf("parse chart response for %s", ticker), err)
	}

	if parsed.Chart.Error != nil {
		return nil, helpers.NewDataSourceError(
			fmt.Sprintf("chart error for %s: %s", ticker, parsed.Chart.Error.Description), nil)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, helpers.NewDataSourceError(fmt.Sprintf("empty chart result for %s", ticker), nil)
	}

	result := parsed.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, helpers.NewDataSourceError(fmt.Sprintf("no quote data for %s", ticker), nil)
	}
	quote := result.Indicators.Quote[0]

	fetchedAt := s.clock.Now().Unix()
	byDate := make(map[string]models.MPriceBar)
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == nil {
			continue
		}

		bar := models.MPriceBar{
			Ticker:    ticker,
			Date:      utils.DateString(time.Unix(ts, 0).UTC()),
			Close:     *quote.Close[i],
			FetchedAt: fetchedAt,
		}
		if i < len(quote.Open) && quote.Open[i] != nil {
			bar.Open = *quote.Open[i]
		} else {
			bar.Open = bar.Close
		}
		if i < len(quote.High) && quote.High[i] != nil {
			bar.High = *quote.High[i]
		} else {
			bar.High = bar.Close
		}
		if i < len(quote.Low) && quote.Low[i] != nil {
			bar.Low = *quote.Low[i]
		} else {
			bar.Low = bar.Close
		}
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			bar.Volume = *quote.Volume[i]
		}

		// Intraday duplicates collapse to the last point of the day
		byDate[bar.Date] = bar
	}

	bars := make([]models.MPriceBar, 0, len(byDate))
	for _, b := range byDate {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })

	s.Logger.Debug("Fetched %s: %d daily bars", ticker, len(bars))
	return bars, nil
}

// -----------------------------------------------------------------------------

// GetLatestQuotes returns the latest EOD quote for each ticker. Fetches
// run concurrently, bounded by the configured concurrency; tickers that
// fail are absent from the result.
func (s *YahooFinanceSource) GetLatestQuotes(tickers []string) (map[string]models.MQuote, error) {
	if len(tickers) == 0 {
		return map[string]models.MQuote{}, nil
	}

	results := make(map[string]models.MQuote)
	var mu sync.Mutex
	var wg sync.WaitGroup

	sem := make(chan struct{}, s.Config.Network.ConcurrentRequests)

	for _, ticker := range tickers {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			// Small delay to avoid rate limiting
			time.Sleep(10 * time.Millisecond)

			quote, err := s.fetchQuote(sym)
			if err != nil {
				s.Logger.Warning("Error fetching quote for %s: %v", sym, err)
				return
			}

			mu.Lock()
			results[sym] = quote
			mu.Unlock()
		}(ticker)
	}

	wg.Wait()

	s.Logger.Info("YahooFinance: Fetched %d/%d quotes successfully", len(results), len(tickers))
	return results, nil
}

// -----------------------------------------------------------------------------

// fetchQuote derives price / previous close / volume from the last two
// daily bars.
func (s *YahooFinanceSource) fetchQuote(ticker string) (models.MQuote, error) {
	params := map[string]string{
		"interval":       "1d",
		"range":          "5d",
		"includePrePost": "false",
	}

	url := fmt.Sprintf("https://query1.finance.yahoo.com/v8/finance/chart/%s", ticker)
	respBytes, err := s.Network.Get(url, params)
	if err != nil {
		return models.MQuote{}, err
	}

	bars, err := s.parseChartResponse(ticker, respBytes)
	if err != nil {
		return models.MQuote{}, err
	}
	if len(bars) == 0 {
		return models.MQuote{}, helpers.NewDataSourceError(fmt.Sprintf("no bars for %s", ticker), nil)
	}

	current := bars[len(bars)-1]
	prevClose := current.Open
	if len(bars) >= 2 {
		prevClose = bars[len(bars)-2].Close
	}

	change := current.Close - prevClose
	changePct := 0.0
	if prevClose != 0 {
		changePct = change / prevClose * 100
	}

	return models.MQuote{
		Ticker:        ticker,
		Price:         current.Close,
		PreviousClose: prevClose,
		Change:        utils.Round2(change),
		ChangePercent: utils.Round4(changePct),
		Volume:        current.Volume,
	}, nil
}

// -----------------------------------------------------------------------------
// quoteSummary API response (fundamentals)
// -----------------------------------------------------------------------------

type yahooQuoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			DefaultKeyStatistics struct {
				SharesOutstanding struct {
					Raw float64 `json:"raw"`
				} `json:"sharesOutstanding"`
				FloatShares struct {
					Raw float64 `json:"raw"`
				} `json:"floatShares"`
			} `json:"defaultKeyStatistics"`
			Price struct {
				ShortName string `json:"shortName"`
				Currency  string `json:"currency"`
			} `json:"price"`
			AssetProfile struct {
				Sector string `json:"sector"`
			} `json:"assetProfile"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

// -----------------------------------------------------------------------------

// GetFundamentals fetches shares outstanding and static metadata.
func (s *YahooFinanceSource) GetFundamentals(ticker string) (*models.MStockFundamentals, error) {
	params := map[string]string{
		"modules": "defaultKeyStatistics,assetProfile,price",
	}

	url := fmt.Sprintf("https://query1.finance.yahoo.com/v10/finance/quoteSummary/%s", ticker)
	respBytes, err := s.Network.Get(url, params)
	if err != nil {
		return nil, fmt.Errorf("network error for %s: %w", ticker, err)
	}

	var parsed yahooQuoteSummaryResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, helpers.NewDataSourceError(fmt.Sprintf("parse quoteSummary for %s", ticker), err)
	}

	if parsed.QuoteSummary.Error != nil {
		return nil, helpers.NewDataSourceError(
			fmt.Sprintf("quoteSummary error for %s: %s", ticker, parsed.QuoteSummary.Error.Description), nil)
	}
	if len(parsed.QuoteSummary.Result) == 0 {
		return nil, helpers.NewDataSourceError(fmt.Sprintf("empty quoteSummary result for %s", ticker), nil)
	}

	r := parsed.QuoteSummary.Result[0]
	name := r.Price.ShortName
	if name == "" {
		name = ticker
	}
	sector := r.AssetProfile.Sector
	if sector == "" {
		sector = "Unknown"
	}

	return &models.MStockFundamentals{
		Ticker:            ticker,
		SharesOutstanding: r.DefaultKeyStatistics.SharesOutstanding.Raw,
		FloatShares:       r.DefaultKeyStatistics.FloatShares.Raw,
		Name:              name,
		Sector:            sector,
		Currency:          r.Price.Currency,
		FetchedAt:         s.clock.Now().Unix(),
	}, nil
}
