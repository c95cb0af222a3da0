package analysis

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"kstock_insight/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, models.MigrateStockModels(db))
	require.NoError(t, models.MigrateDisclosureModels(db))
	require.NoError(t, models.MigrateNewsModels(db))
	return db
}

type stubDisclosureFetcher struct {
	calls int
	err   error
}

func (s *stubDisclosureFetcher) FetchForTicker(_ context.Context, _ string, _, _ *time.Time) ([]models.Disclosure, error) {
	s.calls++
	return nil, s.err
}

type stubNewsFetcher struct {
	calls int
	err   error
}

func (s *stubNewsFetcher) FetchForTicker(_ context.Context, _ string, _ int) ([]models.NewsArticle, error) {
	s.calls++
	return nil, s.err
}

func seedStock(t *testing.T, db *gorm.DB, ticker, name string, sector *string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Stock{
		Ticker:   ticker,
		Name:     name,
		Market:   "KOSPI",
		Sector:   sector,
		IsActive: true,
	}).Error)
}

func seedBar(t *testing.T, db *gorm.DB, ticker string, date time.Time, close, volume int64, changePct float64) {
	t.Helper()
	require.NoError(t, db.Create(&models.DailyPrice{
		Ticker:    ticker,
		Date:      date,
		Close:     &close,
		Volume:    &volume,
		ChangePct: &changePct,
	}).Error)
}

func TestWhyMovingUnknownTicker(t *testing.T) {
	db := testDB(t)
	a := New(db, &stubDisclosureFetcher{}, &stubNewsFetcher{})

	_, err := a.WhyMoving(context.Background(), "999999", time.Now())
	assert.ErrorIs(t, err, ErrStockNotFound)
}

func TestWhyMovingFallbackSummary(t *testing.T) {
	db := testDB(t)
	seedStock(t, db, "005930", "삼성전자", nil)
	a := New(db, &stubDisclosureFetcher{}, &stubNewsFetcher{})

	report, err := a.WhyMoving(context.Background(), "005930", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "삼성전자의 변동 원인을 파악할 수 없습니다.", report.Summary)
	assert.Nil(t, report.PriceChangePct)
	assert.Empty(t, report.Disclosures)
	assert.Empty(t, report.News)
}

func TestWhyMovingSelfHealsOnCacheMiss(t *testing.T) {
	db := testDB(t)
	seedStock(t, db, "005930", "삼성전자", nil)

	disclosures := &stubDisclosureFetcher{err: fmt.Errorf("dart unavailable")}
	newsFetcher := &stubNewsFetcher{err: fmt.Errorf("scrape failed")}
	a := New(db, disclosures, newsFetcher)

	report, err := a.WhyMoving(context.Background(), "005930", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, disclosures.calls)
	assert.Equal(t, 1, newsFetcher.calls)
	assert.Empty(t, report.Disclosures)
	assert.Empty(t, report.News)
}

func TestWhyMovingSkipsFetchWhenCached(t *testing.T) {
	db := testDB(t)
	ticker := "005930"
	seedStock(t, db, ticker, "삼성전자", nil)

	target := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	reportNm := "주요사항보고서"
	rceptDt := target.AddDate(0, 0, -1)
	require.NoError(t, db.Create(&models.Disclosure{
		RceptNo:  "20250609000001",
		Ticker:   &ticker,
		ReportNm: &reportNm,
		RceptDt:  &rceptDt,
	}).Error)

	title := "삼성전자 신제품 발표"
	require.NoError(t, db.Create(&models.NewsArticle{
		Ticker: &ticker,
		Title:  &title,
		URL:    "https://finance.naver.com/news/1",
	}).Error)

	disclosures := &stubDisclosureFetcher{}
	newsFetcher := &stubNewsFetcher{}
	a := New(db, disclosures, newsFetcher)

	report, err := a.WhyMoving(context.Background(), ticker, target)
	require.NoError(t, err)
	assert.Zero(t, disclosures.calls)
	assert.Zero(t, newsFetcher.calls)
	require.Len(t, report.Disclosures, 1)
	require.Len(t, report.News, 1)
	assert.Contains(t, report.Summary, "주요사항보고서")
	assert.Contains(t, report.Summary, "삼성전자 신제품 발표")
}

func TestWhyMovingDisclosureWindow(t *testing.T) {
	db := testDB(t)
	ticker := "005930"
	seedStock(t, db, ticker, "삼성전자", nil)

	target := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	inside := target.AddDate(0, 0, -3)
	outside := target.AddDate(0, 0, -4)
	for i, dt := range []time.Time{inside, outside} {
		d := dt
		require.NoError(t, db.Create(&models.Disclosure{
			RceptNo: fmt.Sprintf("2025060900000%d", i),
			Ticker:  &ticker,
			RceptDt: &d,
		}).Error)
	}

	a := New(db, &stubDisclosureFetcher{}, &stubNewsFetcher{})
	report, err := a.WhyMoving(context.Background(), ticker, target)
	require.NoError(t, err)
	require.Len(t, report.Disclosures, 1)
	assert.Equal(t, "20250609000000", report.Disclosures[0].RceptNo)
}

func TestWhyMovingPriceAndVolume(t *testing.T) {
	db := testDB(t)
	ticker := "005930"
	seedStock(t, db, ticker, "삼성전자", nil)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		seedBar(t, db, ticker, base.AddDate(0, 0, i), 70000, 1000, 0.1)
	}
	// Latest bar doubles in volume against the trailing average.
	seedBar(t, db, ticker, base.AddDate(0, 0, 10), 72000, 2000, 5.5)

	a := New(db, &stubDisclosureFetcher{}, &stubNewsFetcher{})
	report, err := a.WhyMoving(context.Background(), ticker, base.AddDate(0, 0, 10))
	require.NoError(t, err)

	require.NotNil(t, report.PriceChangePct)
	assert.InDelta(t, 5.5, *report.PriceChangePct, 0.001)
	require.NotNil(t, report.VolumeSpikeRatio)
	assert.InDelta(t, 2.0, *report.VolumeSpikeRatio, 0.001)
	assert.Contains(t, report.Summary, "상승")
	assert.Contains(t, report.Summary, "거래량")
}

func TestWhyMovingSectorWide(t *testing.T) {
	db := testDB(t)
	sector := "반도체"
	date := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ticker := fmt.Sprintf("00000%d", i)
		seedStock(t, db, ticker, fmt.Sprintf("종목%d", i), &sector)
		seedBar(t, db, ticker, date, 10000, 50000, 3.0)
	}

	a := New(db, &stubDisclosureFetcher{}, &stubNewsFetcher{})
	report, err := a.WhyMoving(context.Background(), "000000", date)
	require.NoError(t, err)

	sc := report.SectorComparison
	require.NotNil(t, sc.IsSectorWide)
	assert.True(t, *sc.IsSectorWide)
	assert.Equal(t, 5, sc.StockCount)
	require.NotNil(t, sc.AvgChange)
	assert.InDelta(t, 3.0, *sc.AvgChange, 0.001)
	require.NotNil(t, sc.PositiveRatio)
	assert.InDelta(t, 100.0, *sc.PositiveRatio, 0.001)
	assert.Contains(t, report.Summary, "섹터")
}

func TestWhyMovingSectorNotWideWhenMixed(t *testing.T) {
	db := testDB(t)
	sector := "은행"
	date := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	changes := []float64{3.0, 0.5, -1.0, 0.2}
	for i, change := range changes {
		ticker := fmt.Sprintf("10000%d", i)
		seedStock(t, db, ticker, fmt.Sprintf("은행주%d", i), &sector)
		seedBar(t, db, ticker, date, 10000, 50000, change)
	}

	a := New(db, &stubDisclosureFetcher{}, &stubNewsFetcher{})
	report, err := a.WhyMoving(context.Background(), "100000", date)
	require.NoError(t, err)

	sc := report.SectorComparison
	require.NotNil(t, sc.IsSectorWide)
	assert.False(t, *sc.IsSectorWide)
	assert.False(t, strings.Contains(report.Summary, "전체가"))
}
