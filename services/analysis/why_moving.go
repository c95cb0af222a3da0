// Package analysis correlates price action with disclosures, news, and
// sector peers to explain why a stock is moving.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"kstock_insight/models"
	"kstock_insight/services/dart"
	"kstock_insight/services/news"
	"kstock_insight/store"

	"gorm.io/gorm"
)

// ErrStockNotFound reports an unknown ticker, distinguishable from a known
// ticker with no data yet.
var ErrStockNotFound = errors.New("stock not found")

// Correlation thresholds carried from the product rules.
const (
	// Disclosures within this many days on either side of the target date
	// are considered related to the move.
	disclosureWindowDays = 3

	// Volume ratio above which the summary calls out a spike.
	summaryVolumeRatio = 1.5

	// A move counts as sector-wide when more than 60% of peers are up
	// over 1% and the sector average change exceeds 1%.
	sectorWidePositiveRatio = 0.6
	sectorWideAvgChange     = 1.0

	// Peer sample cap per sector.
	sectorPeerLimit = 50

	// Bars feeding the trailing average volume, latest bar excluded.
	priceAnalysisBars = 20
)

// DisclosureFetcher triggers an on-demand disclosure fetch. The analyzer
// calls it synchronously on a cache miss; failures are swallowed so the read
// path degrades to partial data instead of erroring.
type DisclosureFetcher interface {
	FetchForTicker(ctx context.Context, ticker string, start, end *time.Time) ([]models.Disclosure, error)
}

// NewsFetcher triggers an on-demand news fetch, same contract as
// DisclosureFetcher.
type NewsFetcher interface {
	FetchForTicker(ctx context.Context, ticker string, pages int) ([]models.NewsArticle, error)
}

// PriceInfo is the ticker-scoped price and volume reading for the report.
type PriceInfo struct {
	Close       *int64     `json:"close"`
	ChangePct   *float64   `json:"change_pct"`
	Volume      *int64     `json:"volume"`
	VolumeRatio *float64   `json:"volume_ratio"`
	Date        *time.Time `json:"date"`
}

// SectorComparison summarizes how the stock's sector moved on the day.
type SectorComparison struct {
	Sector        *string  `json:"sector"`
	AvgChange     *float64 `json:"sector_avg_change"`
	StockCount    int      `json:"sector_stock_count"`
	PositiveRatio *float64 `json:"sector_positive_ratio"`
	IsSectorWide  *bool    `json:"is_sector_wide"`
}

// Report is the full "why is this stock moving" answer.
type Report struct {
	Ticker           string               `json:"ticker"`
	Name             string               `json:"name"`
	Date             time.Time            `json:"date"`
	PriceChangePct   *float64             `json:"price_change_pct"`
	VolumeSpikeRatio *float64             `json:"volume_spike_ratio"`
	Disclosures      []models.Disclosure  `json:"disclosures"`
	News             []models.NewsArticle `json:"news"`
	SectorComparison SectorComparison     `json:"sector_comparison"`
	Summary          string               `json:"summary"`
}

// Analyzer builds correlation reports. The fetchers are interfaces so tests
// can substitute no-ops and assert graceful degradation.
type Analyzer struct {
	db          *gorm.DB
	disclosures DisclosureFetcher
	news        NewsFetcher
}

// New creates an analyzer.
func New(db *gorm.DB, disclosures DisclosureFetcher, newsFetcher NewsFetcher) *Analyzer {
	return &Analyzer{db: db, disclosures: disclosures, news: newsFetcher}
}

// WhyMoving explains a ticker's move on the target date (today when zero).
// Cache misses on disclosures and news trigger synchronous collector fetches
// before re-reading; that self-healing is deliberate and its failures never
// surface to the caller.
func (a *Analyzer) WhyMoving(ctx context.Context, ticker string, target time.Time) (*Report, error) {
	if target.IsZero() {
		target = time.Now()
	}
	targetDate := store.Midnight(target)

	var stock models.Stock
	err := a.db.Where("ticker = ?", ticker).First(&stock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStockNotFound
	}
	if err != nil {
		return nil, err
	}

	priceInfo := a.priceAnalysis(ticker)

	windowStart := targetDate.AddDate(0, 0, -disclosureWindowDays)
	windowEnd := targetDate.AddDate(0, 0, disclosureWindowDays)
	disclosures, err := dart.Get(a.db, dart.Filter{
		Ticker:    ticker,
		StartDate: &windowStart,
		EndDate:   &windowEnd,
		Limit:     20,
	})
	if err != nil {
		return nil, err
	}
	if len(disclosures) == 0 {
		if _, fetchErr := a.disclosures.FetchForTicker(ctx, ticker, &windowStart, &windowEnd); fetchErr != nil {
			log.Printf("On-demand disclosure fetch failed for %s: %v", ticker, fetchErr)
		}
		disclosures, err = dart.Get(a.db, dart.Filter{
			Ticker:    ticker,
			StartDate: &windowStart,
			EndDate:   &windowEnd,
			Limit:     20,
		})
		if err != nil {
			return nil, err
		}
	}

	articles, err := news.Get(a.db, ticker, 20)
	if err != nil {
		return nil, err
	}
	if len(articles) == 0 {
		if _, fetchErr := a.news.FetchForTicker(ctx, ticker, 2); fetchErr != nil {
			log.Printf("On-demand news fetch failed for %s: %v", ticker, fetchErr)
		}
		articles, err = news.Get(a.db, ticker, 20)
		if err != nil {
			return nil, err
		}
	}

	sectorInfo := a.sectorComparison(stock.Sector)

	report := &Report{
		Ticker:           ticker,
		Name:             stock.Name,
		Date:             targetDate,
		PriceChangePct:   priceInfo.ChangePct,
		VolumeSpikeRatio: priceInfo.VolumeRatio,
		Disclosures:      capDisclosures(disclosures, 10),
		News:             capNews(articles, 10),
		SectorComparison: sectorInfo,
		Summary:          buildSummary(stock.Name, priceInfo, disclosures, articles, sectorInfo),
	}
	return report, nil
}

// priceAnalysis reads the latest bar and derives the spike ratio against the
// preceding 20-bar average volume.
func (a *Analyzer) priceAnalysis(ticker string) PriceInfo {
	var bars []models.DailyPrice
	if err := a.db.Where("ticker = ?", ticker).
		Order("date DESC").
		Limit(priceAnalysisBars).
		Find(&bars).Error; err != nil || len(bars) == 0 {
		return PriceInfo{}
	}

	latest := bars[0]
	info := PriceInfo{
		Close:     latest.Close,
		ChangePct: latest.ChangePct,
		Volume:    latest.Volume,
		Date:      &latest.Date,
	}

	if len(bars) >= 2 && latest.Volume != nil {
		sum := 0.0
		count := 0
		for _, bar := range bars[1:] {
			if bar.Volume != nil {
				sum += float64(*bar.Volume)
				count++
			}
		}
		if count > 0 {
			avg := sum / float64(count)
			if avg > 0 {
				ratio := math.Round(float64(*latest.Volume)/avg*100) / 100
				info.VolumeRatio = &ratio
			}
		}
	}

	return info
}

// sectorComparison samples up to 50 active same-sector peers and measures
// how broadly the sector moved.
func (a *Analyzer) sectorComparison(sector *string) SectorComparison {
	if sector == nil || *sector == "" {
		return SectorComparison{}
	}
	info := SectorComparison{Sector: sector}

	var peers []models.Stock
	if err := a.db.Where("sector = ? AND is_active = ?", *sector, true).
		Order("ticker").
		Limit(sectorPeerLimit).
		Find(&peers).Error; err != nil {
		return info
	}
	if len(peers) == 0 {
		return info
	}

	var changes []float64
	for _, peer := range peers {
		var bar models.DailyPrice
		err := a.db.Where("ticker = ?", peer.Ticker).Order("date DESC").First(&bar).Error
		if err != nil || bar.ChangePct == nil {
			continue
		}
		changes = append(changes, *bar.ChangePct)
	}
	if len(changes) == 0 {
		return info
	}

	sum := 0.0
	positive := 0
	for _, c := range changes {
		sum += c
		if c > 1 {
			positive++
		}
	}
	avg := math.Round(sum/float64(len(changes))*100) / 100
	ratio := float64(positive) / float64(len(changes))
	ratioPct := math.Round(ratio*1000) / 10
	sectorWide := ratio > sectorWidePositiveRatio && avg > sectorWideAvgChange

	info.AvgChange = &avg
	info.StockCount = len(changes)
	info.PositiveRatio = &ratioPct
	info.IsSectorWide = &sectorWide
	return info
}

// buildSummary concatenates the deterministic explanation clauses. When
// nothing applies it falls back to a fixed "cannot determine" sentence.
func buildSummary(name string, price PriceInfo, disclosures []models.Disclosure, articles []models.NewsArticle, sector SectorComparison) string {
	var parts []string

	if price.ChangePct != nil {
		direction := "상승"
		if *price.ChangePct <= 0 {
			direction = "하락"
		}
		parts = append(parts, fmt.Sprintf("%s이(가) %.2f%% %s했습니다.", name, math.Abs(*price.ChangePct), direction))
	}

	if price.VolumeRatio != nil && *price.VolumeRatio > summaryVolumeRatio {
		parts = append(parts, fmt.Sprintf("거래량이 평소 대비 %.1f배로 급증했습니다.", *price.VolumeRatio))
	}

	var titles []string
	for _, d := range disclosures {
		if d.ReportNm != nil && *d.ReportNm != "" {
			titles = append(titles, *d.ReportNm)
		}
		if len(titles) == 3 {
			break
		}
	}
	if len(titles) > 0 {
		parts = append(parts, "최근 공시: "+strings.Join(titles, ", "))
	}

	for _, article := range articles {
		if article.Title != nil && *article.Title != "" {
			parts = append(parts, "관련 뉴스: "+*article.Title)
			break
		}
	}

	if sector.IsSectorWide != nil && *sector.IsSectorWide {
		parts = append(parts, fmt.Sprintf("동일 섹터(%s) 전체가 평균 %.1f%% 상승 중입니다.", *sector.Sector, *sector.AvgChange))
	} else if sector.Sector != nil && sector.AvgChange != nil {
		parts = append(parts, fmt.Sprintf("동일 섹터(%s) 평균 %.1f%% 대비 개별 종목 움직임입니다.", *sector.Sector, *sector.AvgChange))
	}

	if len(parts) == 0 {
		return fmt.Sprintf("%s의 변동 원인을 파악할 수 없습니다.", name)
	}
	return strings.Join(parts, " ")
}

func capDisclosures(items []models.Disclosure, n int) []models.Disclosure {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].RceptDt == nil {
			return false
		}
		if items[j].RceptDt == nil {
			return true
		}
		return items[i].RceptDt.After(*items[j].RceptDt)
	})
	if len(items) > n {
		return items[:n]
	}
	return items
}

func capNews(items []models.NewsArticle, n int) []models.NewsArticle {
	if len(items) > n {
		return items[:n]
	}
	return items
}
