// Package momentum computes a composite 0-100 momentum score per stock from
// trailing price and volume history. Scores are derived on demand and never
// persisted.
package momentum

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"kstock_insight/models"
	"kstock_insight/services/screener"

	"gorm.io/gorm"
)

// Feature weights of the composite score. They sum to 1.0 and are fixed
// business rules, kept as named constants pending product input.
const (
	weightReturn5d       = 0.15
	weightReturn20d      = 0.20
	weightVolumeRatio    = 0.20
	weightAboveMA20      = 0.15
	weightAboveMA60      = 0.10
	weightHighProximity  = 0.10
	weightConsecutiveUps = 0.10
)

// Clamp ranges used to normalize each raw feature into [0,1]. Values outside
// a range clamp to its edge.
const (
	return5dLow, return5dHigh           = -10.0, 15.0
	return20dLow, return20dHigh         = -20.0, 30.0
	volumeRatioLow, volumeRatioHigh     = 0.5, 3.0
	aboveMA20Low, aboveMA20High         = -10.0, 15.0
	aboveMA60Low, aboveMA60High         = -15.0, 25.0
	highProximityLow, highProximityHigh = 60.0, 100.0
	consecutiveLow, consecutiveHigh     = 0.0, 7.0
)

// Candidate universe prefilter for rankings. Cost control, not correctness.
const (
	rankingMinVolume = 10000
	rankingMinClose  = 1000

	// Calendar lookback feeding the per-ticker bar history.
	historyLookbackDays = 90
)

// Scorer computes momentum scores over the stored price series.
type Scorer struct {
	db *gorm.DB
}

// New creates a scorer.
func New(db *gorm.DB) *Scorer {
	return &Scorer{db: db}
}

// Score computes the composite momentum score for one ticker. Returns nil
// when the ticker lacks the minimum usable history (10 positive closes and
// 10 positive volumes).
func (s *Scorer) Score(ticker string) (*float64, error) {
	// Newest row rather than MAX(date); the aggregate loses the column's
	// date type on sqlite and fails to scan.
	var latestBar models.DailyPrice
	err := s.db.Where("ticker = ?", ticker).Order("date DESC").First(&latestBar).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest date for %s: %w", ticker, err)
	}
	latestDate := latestBar.Date

	var prices []models.DailyPrice
	if err := s.db.Where("ticker = ? AND date >= ?", ticker, latestDate.AddDate(0, 0, -historyLookbackDays)).
		Order("date ASC").
		Find(&prices).Error; err != nil {
		return nil, fmt.Errorf("failed to query prices for %s: %w", ticker, err)
	}

	var closes []float64
	var volumes []float64
	for _, p := range prices {
		if p.Close != nil && *p.Close > 0 {
			closes = append(closes, float64(*p.Close))
		}
		if p.Volume != nil && *p.Volume > 0 {
			volumes = append(volumes, float64(*p.Volume))
		}
	}
	if len(closes) < 10 || len(volumes) < 10 {
		return nil, nil
	}

	current := closes[len(closes)-1]
	score := 0.0

	if len(closes) >= 6 {
		ref := closes[len(closes)-6]
		ret5d := (current - ref) / ref * 100
		score += normalize(ret5d, return5dLow, return5dHigh) * weightReturn5d
	}

	if len(closes) >= 21 {
		ref := closes[len(closes)-21]
		ret20d := (current - ref) / ref * 100
		score += normalize(ret20d, return20dLow, return20dHigh) * weightReturn20d
	}

	if len(volumes) >= 20 {
		vol5d := mean(volumes[len(volumes)-5:])
		vol20d := mean(volumes[len(volumes)-20:])
		ratio := 1.0
		if vol20d > 0 {
			ratio = vol5d / vol20d
		}
		score += normalize(ratio, volumeRatioLow, volumeRatioHigh) * weightVolumeRatio
	}

	if len(closes) >= 20 {
		ma20 := mean(closes[len(closes)-20:])
		score += normalize((current-ma20)/ma20*100, aboveMA20Low, aboveMA20High) * weightAboveMA20
	}

	if len(closes) >= 60 {
		ma60 := mean(closes[len(closes)-60:])
		score += normalize((current-ma60)/ma60*100, aboveMA60Low, aboveMA60High) * weightAboveMA60
	}

	yearHigh, err := s.trailingHigh(ticker, latestDate)
	if err != nil {
		return nil, err
	}
	if yearHigh > 0 {
		score += normalize(current/yearHigh*100, highProximityLow, highProximityHigh) * weightHighProximity
	}

	consecutive := consecutiveUpDays(closes)
	score += normalize(float64(consecutive), consecutiveLow, consecutiveHigh) * weightConsecutiveUps

	final := math.Round(clamp(score*100, 0, 100)*10) / 10
	return &final, nil
}

// Rankings scores the candidate universe and returns the top stocks by
// score. The volume/close prefilter keeps the per-ticker scoring affordable
// on the full market.
func (s *Scorer) Rankings(market string, minScore float64, limit int) ([]screener.Item, error) {
	scr := screener.New(s.db)
	latest, ok, err := scr.LatestTradeDate()
	if err != nil || !ok {
		return nil, err
	}
	if limit <= 0 {
		limit = 30
	}

	type candidateRow struct {
		Ticker    string
		Name      string
		Market    string
		Close     *int64
		ChangePct *float64
		Volume    *int64
	}

	query := s.db.Model(&models.DailyPrice{}).
		Select("daily_prices.ticker, stocks.name, stocks.market, daily_prices.close, daily_prices.change_pct, daily_prices.volume").
		Joins("JOIN stocks ON stocks.ticker = daily_prices.ticker").
		Where("daily_prices.date = ?", latest).
		Where("daily_prices.volume > ?", rankingMinVolume).
		Where("daily_prices.close > ?", rankingMinClose).
		Where("stocks.is_active = ?", true)
	if market != "" {
		query = query.Where("stocks.market = ?", market)
	}

	var candidates []candidateRow
	if err := query.Scan(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to query momentum candidates: %w", err)
	}

	var items []screener.Item
	for _, c := range candidates {
		score, err := s.Score(c.Ticker)
		if err != nil {
			return nil, err
		}
		if score == nil || *score < minScore {
			continue
		}

		change := 0.0
		if c.ChangePct != nil {
			change = math.Round(*c.ChangePct*100) / 100
		}
		items = append(items, screener.Item{
			Ticker:        c.Ticker,
			Name:          c.Name,
			Market:        c.Market,
			Close:         c.Close,
			ChangePct:     change,
			Volume:        c.Volume,
			MomentumScore: score,
			MarketCap:     s.latestMarketCap(c.Ticker),
		})
	}

	sort.Slice(items, func(i, j int) bool {
		return *items[i].MomentumScore > *items[j].MomentumScore
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Scorer) trailingHigh(ticker string, latestDate time.Time) (float64, error) {
	var top models.DailyPrice
	err := s.db.Where("ticker = ? AND date >= ? AND high IS NOT NULL", ticker, latestDate.AddDate(0, 0, -52*7)).
		Order("high DESC").
		First(&top).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query trailing high for %s: %w", ticker, err)
	}
	if top.High == nil {
		return 0, nil
	}
	return float64(*top.High), nil
}

func (s *Scorer) latestMarketCap(ticker string) *int64 {
	var fund models.MarketFundamentals
	if err := s.db.Where("ticker = ?", ticker).Order("date DESC").First(&fund).Error; err != nil {
		return nil
	}
	return fund.MarketCap
}

// consecutiveUpDays counts strictly increasing closes from the most recent
// bar backward, stopping at the first non-increase.
func consecutiveUpDays(closes []float64) int {
	count := 0
	for i := len(closes) - 1; i > 0; i-- {
		if closes[i] > closes[i-1] {
			count++
		} else {
			break
		}
	}
	return count
}

// normalize maps value linearly into [0,1] against the (low, high) clamp
// range; out-of-range values clamp to the edges.
func normalize(value, low, high float64) float64 {
	if high == low {
		return 0.5
	}
	return clamp((value-low)/(high-low), 0, 1)
}

func clamp(v, low, high float64) float64 {
	return math.Min(math.Max(v, low), high)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
