// Package screener answers "what moved today" style queries over the stored
// price series: daily and period movers, volume spikes, new highs.
package screener

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"kstock_insight/models"
	"kstock_insight/store"

	"gorm.io/gorm"
)

// Business-rule constants carried from the product spec; kept named rather
// than configurable pending product input.
const (
	DefaultMinSpikeRatio = 2.0
	DefaultSpikeLimit    = 30
	DefaultMoverLimit    = 20
	DefaultNewHighWeeks  = 52
	DefaultNewHighLimit  = 30

	// A stock counts as a new high when its latest high reaches 97% of
	// the trailing period maximum.
	newHighProximity = 0.97

	// Trailing calendar window feeding the 20-session average volume.
	avgVolumeWindowDays = 30
)

// Periods accepted by the mover queries.
const (
	Period1D = "1d"
	Period1W = "1w"
	Period1M = "1m"
)

// Item is one screener result row. MarketCap comes from the most recent
// fundamentals snapshot and is display-only; a missing snapshot yields nil,
// never an error.
type Item struct {
	Ticker        string   `json:"ticker"`
	Name          string   `json:"name"`
	Market        string   `json:"market"`
	Close         *int64   `json:"close"`
	ChangePct     float64  `json:"change_pct"`
	Volume        *int64   `json:"volume"`
	VolumeRatio   *float64 `json:"volume_ratio"`
	MomentumScore *float64 `json:"momentum_score"`
	MarketCap     *int64   `json:"market_cap"`
}

// Screener computes screening results over the stored time series.
type Screener struct {
	db *gorm.DB
}

// New creates a screener.
func New(db *gorm.DB) *Screener {
	return &Screener{db: db}
}

// TopGainers returns the stocks with the highest price change for the
// period ("1d", "1w" or "1m").
func (s *Screener) TopGainers(market, period string, limit int) ([]Item, error) {
	if period == "" || period == Period1D {
		return s.dailyMovers(market, limit, false)
	}
	return s.periodMovers(market, period, limit, false)
}

// TopLosers returns the stocks with the lowest price change for the period.
func (s *Screener) TopLosers(market, period string, limit int) ([]Item, error) {
	if period == "" || period == Period1D {
		return s.dailyMovers(market, limit, true)
	}
	return s.periodMovers(market, period, limit, true)
}

type moverRow struct {
	Ticker    string
	Name      string
	Market    string
	Close     *int64
	ChangePct *float64
	Volume    *int64
}

func (s *Screener) dailyMovers(market string, limit int, ascending bool) ([]Item, error) {
	latest, ok, err := s.LatestTradeDate()
	if err != nil || !ok {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMoverLimit
	}

	order := "daily_prices.change_pct DESC"
	if ascending {
		order = "daily_prices.change_pct ASC"
	}

	query := s.db.Model(&models.DailyPrice{}).
		Select("daily_prices.ticker, stocks.name, stocks.market, daily_prices.close, daily_prices.change_pct, daily_prices.volume").
		Joins("JOIN stocks ON stocks.ticker = daily_prices.ticker").
		Where("daily_prices.date = ?", latest).
		Where("daily_prices.change_pct IS NOT NULL").
		Where("daily_prices.close > 0").
		Where("stocks.is_active = ?", true)
	if market != "" {
		query = query.Where("stocks.market = ?", market)
	}

	var rows []moverRow
	if err := query.Order(order).Limit(limit).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query daily movers: %w", err)
	}

	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, s.buildItem(row, nil, nil))
	}
	return items, nil
}

// periodMovers computes the change between the earliest bar inside the
// trailing window and the latest bar, per ticker. Both endpoints must have a
// positive close; a non-positive earliest bar excludes the ticker rather
// than advancing to the next bar. Results are stabilized by ticker on ties.
func (s *Screener) periodMovers(market, period string, limit int, ascending bool) ([]Item, error) {
	latest, ok, err := s.LatestTradeDate()
	if err != nil || !ok {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMoverLimit
	}

	daysBack := 30
	if period == Period1W {
		daysBack = 7
	}
	windowStart := latest.AddDate(0, 0, -daysBack)

	query := s.db.Model(&models.DailyPrice{}).
		Select("daily_prices.ticker, stocks.name, stocks.market, daily_prices.close, daily_prices.change_pct, daily_prices.volume").
		Joins("JOIN stocks ON stocks.ticker = daily_prices.ticker").
		Where("daily_prices.date = ?", latest).
		Where("daily_prices.close > 0").
		Where("stocks.is_active = ?", true)
	if market != "" {
		query = query.Where("stocks.market = ?", market)
	}

	var latestRows []moverRow
	if err := query.Scan(&latestRows).Error; err != nil {
		return nil, fmt.Errorf("failed to query latest bars: %w", err)
	}

	type scored struct {
		row    moverRow
		change float64
	}
	var results []scored

	for _, row := range latestRows {
		var first models.DailyPrice
		err := s.db.Where("ticker = ? AND date >= ?", row.Ticker, windowStart).
			Order("date ASC").
			First(&first).Error
		if err != nil {
			continue
		}
		if first.Close == nil || *first.Close <= 0 || row.Close == nil || *row.Close <= 0 {
			continue
		}

		change := (float64(*row.Close) - float64(*first.Close)) / float64(*first.Close) * 100
		results = append(results, scored{row: row, change: round2(change)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].change == results[j].change {
			return results[i].row.Ticker < results[j].row.Ticker
		}
		if ascending {
			return results[i].change < results[j].change
		}
		return results[i].change > results[j].change
	})

	if len(results) > limit {
		results = results[:limit]
	}

	items := make([]Item, 0, len(results))
	for _, r := range results {
		item := s.buildItem(r.row, nil, nil)
		item.ChangePct = r.change
		items = append(items, item)
	}
	return items, nil
}

// VolumeSpikes detects stocks whose latest volume is at least minRatio times
// their trailing average. Qualifying rows are written back to the
// volume_spikes cache for (ticker, latest date) -- this is a read path with
// a side-effecting cache write.
func (s *Screener) VolumeSpikes(market string, minRatio float64, limit int) ([]Item, error) {
	latest, ok, err := s.LatestTradeDate()
	if err != nil || !ok {
		return nil, err
	}
	if minRatio <= 0 {
		minRatio = DefaultMinSpikeRatio
	}
	if limit <= 0 {
		limit = DefaultSpikeLimit
	}

	query := s.db.Model(&models.DailyPrice{}).
		Select("daily_prices.ticker, stocks.name, stocks.market, daily_prices.close, daily_prices.change_pct, daily_prices.volume").
		Joins("JOIN stocks ON stocks.ticker = daily_prices.ticker").
		Where("daily_prices.date = ?", latest).
		Where("daily_prices.volume > 0").
		Where("stocks.is_active = ?", true)
	if market != "" {
		query = query.Where("stocks.market = ?", market)
	}

	var candidates []moverRow
	if err := query.Scan(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to query volume candidates: %w", err)
	}

	type spike struct {
		row    moverRow
		ratio  float64
		avgVol float64
	}
	var spikes []spike

	windowStart := latest.AddDate(0, 0, -avgVolumeWindowDays)
	for _, row := range candidates {
		avg, err := s.averageVolume(row.Ticker, windowStart, latest)
		if err != nil {
			return nil, err
		}
		// Average of zero means no usable history; excluded, not divided.
		if avg <= 0 {
			continue
		}

		ratio := float64(*row.Volume) / avg
		if ratio >= minRatio {
			spikes = append(spikes, spike{row: row, ratio: ratio, avgVol: avg})
		}
	}

	sort.Slice(spikes, func(i, j int) bool { return spikes[i].ratio > spikes[j].ratio })
	if len(spikes) > limit {
		spikes = spikes[:limit]
	}

	items := make([]Item, 0, len(spikes))
	for _, sp := range spikes {
		if err := store.UpsertVolumeSpike(s.db, sp.row.Ticker, latest, store.VolumeSpikePatch{
			Volume:         *sp.row.Volume,
			AvgVolume20d:   int64(sp.avgVol),
			SpikeRatio:     round2(sp.ratio),
			PriceChangePct: sp.row.ChangePct,
		}); err != nil {
			log.Printf("Failed to cache volume spike for %s: %v", sp.row.Ticker, err)
		}

		ratio := round2(sp.ratio)
		items = append(items, s.buildItem(sp.row, &ratio, nil))
	}
	return items, nil
}

// NewHighs finds stocks whose latest high is within 3% of their trailing
// period maximum, ordered by same-day change percent descending.
func (s *Screener) NewHighs(market string, periodWeeks, limit int) ([]Item, error) {
	latest, ok, err := s.LatestTradeDate()
	if err != nil || !ok {
		return nil, err
	}
	if periodWeeks <= 0 {
		periodWeeks = DefaultNewHighWeeks
	}
	if limit <= 0 {
		limit = DefaultNewHighLimit
	}
	windowStart := latest.AddDate(0, 0, -periodWeeks*7)

	query := s.db.Model(&models.DailyPrice{}).
		Select("daily_prices.ticker, stocks.name, stocks.market, daily_prices.close, daily_prices.change_pct, daily_prices.volume, daily_prices.high").
		Joins("JOIN stocks ON stocks.ticker = daily_prices.ticker").
		Where("daily_prices.date = ?", latest).
		Where("daily_prices.close > 0").
		Where("daily_prices.high IS NOT NULL").
		Where("stocks.is_active = ?", true)
	if market != "" {
		query = query.Where("stocks.market = ?", market)
	}

	type highRow struct {
		Ticker    string
		Name      string
		Market    string
		Close     *int64
		ChangePct *float64
		Volume    *int64
		High      *int64
	}
	var candidates []highRow
	if err := query.Scan(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to query new-high candidates: %w", err)
	}

	var qualified []highRow
	for _, row := range candidates {
		var top models.DailyPrice
		err := s.db.Where("ticker = ? AND date >= ? AND high IS NOT NULL", row.Ticker, windowStart).
			Order("high DESC").
			First(&top).Error
		if err != nil || top.High == nil || *top.High <= 0 {
			continue
		}
		if float64(*row.High) >= float64(*top.High)*newHighProximity {
			qualified = append(qualified, row)
		}
	}

	sort.Slice(qualified, func(i, j int) bool {
		return changeOrZero(qualified[i].ChangePct) > changeOrZero(qualified[j].ChangePct)
	})
	if len(qualified) > limit {
		qualified = qualified[:limit]
	}

	items := make([]Item, 0, len(qualified))
	for _, row := range qualified {
		items = append(items, s.buildItem(moverRow{
			Ticker:    row.Ticker,
			Name:      row.Name,
			Market:    row.Market,
			Close:     row.Close,
			ChangePct: row.ChangePct,
			Volume:    row.Volume,
		}, nil, nil))
	}
	return items, nil
}

// TopGainerTickers lists the day's top gainer tickers, feeding the news
// collector's after-close fetch.
func (s *Screener) TopGainerTickers(limit int) ([]string, error) {
	items, err := s.dailyMovers("", limit, false)
	if err != nil {
		return nil, err
	}
	tickers := make([]string, 0, len(items))
	for _, item := range items {
		tickers = append(tickers, item.Ticker)
	}
	return tickers, nil
}

// LatestTradeDate returns the most recent date with any bar. ok is false
// when the store is empty. Reads the newest row instead of MAX(date): the
// aggregate loses the column's date type on sqlite and fails to scan.
func (s *Screener) LatestTradeDate() (time.Time, bool, error) {
	var latest models.DailyPrice
	err := s.db.Order("date DESC").First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest trade date: %w", err)
	}
	return store.Midnight(latest.Date), true, nil
}

// averageVolume computes the mean positive volume strictly before end and
// no earlier than start.
func (s *Screener) averageVolume(ticker string, start, end time.Time) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.Model(&models.DailyPrice{}).
		Where("ticker = ? AND date < ? AND date >= ? AND volume > 0", ticker, end, start).
		Select("AVG(volume)").
		Row().Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("failed to query average volume for %s: %w", ticker, err)
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

func (s *Screener) buildItem(row moverRow, volumeRatio, momentumScore *float64) Item {
	return Item{
		Ticker:        row.Ticker,
		Name:          row.Name,
		Market:        row.Market,
		Close:         row.Close,
		ChangePct:     round2(changeOrZero(row.ChangePct)),
		Volume:        row.Volume,
		VolumeRatio:   volumeRatio,
		MomentumScore: momentumScore,
		MarketCap:     s.latestMarketCap(row.Ticker),
	}
}

// latestMarketCap reads the most recent fundamentals snapshot for display.
// Missing data yields nil, never an error.
func (s *Screener) latestMarketCap(ticker string) *int64 {
	var fund models.MarketFundamentals
	err := s.db.Where("ticker = ?", ticker).Order("date DESC").First(&fund).Error
	if err != nil {
		return nil
	}
	return fund.MarketCap
}

func changeOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
