package dart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"kstock_insight/models"
	"kstock_insight/store"

	"gorm.io/gorm"
)

// DefaultLookbackDays is the ticker-scoped fetch window when the caller
// gives no start date.
const DefaultLookbackDays = 90

// ErrDisclosureNotFound reports an unknown receipt number, distinguishable
// from "no data yet".
var ErrDisclosureNotFound = errors.New("disclosure not found")

// ErrAlreadyAnalyzed reports a second analysis submission for a filing whose
// AI fields were already written; they are mutated exactly once.
var ErrAlreadyAnalyzed = errors.New("disclosure already analyzed")

// Collector reconciles DART filings into the store.
type Collector struct {
	db     *gorm.DB
	client Client
}

// NewCollector creates a disclosure collector.
func NewCollector(db *gorm.DB, client Client) *Collector {
	return &Collector{db: db, client: client}
}

// FetchForTicker pulls filings for one security over a date range
// (default lookback 90 days) and stores the ones not seen before.
func (c *Collector) FetchForTicker(ctx context.Context, ticker string, start, end *time.Time) ([]models.Disclosure, error) {
	endDate := store.Midnight(time.Now())
	if end != nil {
		endDate = store.Midnight(*end)
	}
	startDate := endDate.AddDate(0, 0, -DefaultLookbackDays)
	if start != nil {
		startDate = store.Midnight(*start)
	}

	rows, err := c.client.ListByStock(ctx, ticker, startDate, endDate)
	if err != nil {
		log.Printf("Failed to fetch DART disclosures for %s: %v", ticker, err)
		return nil, nil
	}

	var saved []models.Disclosure
	for _, row := range rows {
		rceptNo := strings.TrimSpace(row.RceptNo)
		if rceptNo == "" {
			continue
		}

		d := buildDisclosure(row, ticker)
		inserted, err := store.InsertDisclosure(c.db, d)
		if err != nil {
			return saved, err
		}
		if inserted {
			saved = append(saved, *d)
		}
	}

	if len(saved) > 0 {
		log.Printf("Saved %d new disclosures for %s", len(saved), ticker)
	}
	return saved, nil
}

// FetchByDate pulls the whole-market feed for one day. A row is accepted
// only when it carries both a receipt number and a linked security code;
// unlinked filings (funds, unlisted filers) are discarded.
func (c *Collector) FetchByDate(ctx context.Context, day time.Time) (int, error) {
	target := store.Midnight(day)

	rows, err := c.client.ListByDate(ctx, target)
	if err != nil {
		log.Printf("Failed to fetch DART disclosures for date %s: %v", target.Format("2006-01-02"), err)
		return 0, nil
	}

	count := 0
	for _, row := range rows {
		rceptNo := strings.TrimSpace(row.RceptNo)
		stockCode := strings.TrimSpace(row.StockCode)
		if rceptNo == "" || stockCode == "" {
			continue
		}

		d := buildDisclosure(row, stockCode)
		inserted, err := store.InsertDisclosure(c.db, d)
		if err != nil {
			return count, err
		}
		if inserted {
			count++
		}
	}

	if count > 0 {
		log.Printf("Saved %d new disclosures for date %s", count, target.Format("2006-01-02"))
	}
	return count, nil
}

// Filter narrows a disclosure read query.
type Filter struct {
	Ticker    string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
}

// Get reads disclosures from the store, newest filing date first.
func Get(db *gorm.DB, f Filter) ([]models.Disclosure, error) {
	query := db.Model(&models.Disclosure{}).Order("rcept_dt DESC")

	if f.Ticker != "" {
		query = query.Where("ticker = ?", f.Ticker)
	}
	if f.StartDate != nil {
		query = query.Where("rcept_dt >= ?", store.Midnight(*f.StartDate))
	}
	if f.EndDate != nil {
		query = query.Where("rcept_dt <= ?", store.Midnight(*f.EndDate))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	var items []models.Disclosure
	if err := query.Limit(limit).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to query disclosures: %w", err)
	}
	return items, nil
}

// SubmitAnalysis writes the out-of-band AI summary and impact label onto a
// filing. The fields are written exactly once.
func SubmitAnalysis(db *gorm.DB, rceptNo, summary, impact string) error {
	switch impact {
	case models.ImpactPositive, models.ImpactNegative, models.ImpactNeutral:
	default:
		return fmt.Errorf("invalid impact %q: must be positive, negative or neutral", impact)
	}

	var d models.Disclosure
	err := db.Where("rcept_no = ?", rceptNo).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrDisclosureNotFound
	}
	if err != nil {
		return err
	}
	if d.AIAnalyzedAt != nil {
		return ErrAlreadyAnalyzed
	}

	now := time.Now()
	d.AISummary = &summary
	d.AIImpact = &impact
	d.AIAnalyzedAt = &now
	return db.Save(&d).Error
}

func buildDisclosure(row DisclosureRow, ticker string) *models.Disclosure {
	d := &models.Disclosure{RceptNo: strings.TrimSpace(row.RceptNo)}

	if v := strings.TrimSpace(row.CorpCode); v != "" {
		d.CorpCode = &v
	}
	if v := strings.TrimSpace(row.CorpName); v != "" {
		d.CorpName = &v
	}
	if ticker != "" {
		d.Ticker = &ticker
	}
	if v := strings.TrimSpace(row.ReportNm); v != "" {
		d.ReportNm = &v
	}
	if v := strings.TrimSpace(row.FlrNm); v != "" {
		d.FlrNm = &v
	}
	if v := strings.TrimSpace(row.CorpCls); v != "" {
		d.ReportType = &v
	}
	if t, err := time.Parse("20060102", strings.TrimSpace(row.RceptDt)); err == nil {
		d.RceptDt = &t
	}
	url := disclosureViewURL + d.RceptNo
	d.DisclosureURL = &url

	return d
}
