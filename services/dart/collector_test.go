package dart

import (
	"context"
	"fmt"
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
	require.NoError(t, models.MigrateDisclosureModels(db))
	return db
}

type fakeDartFeed struct {
	rows []DisclosureRow
	err  error
}

func (f *fakeDartFeed) ListByStock(context.Context, string, time.Time, time.Time) ([]DisclosureRow, error) {
	return f.rows, f.err
}

func (f *fakeDartFeed) ListByDate(context.Context, time.Time) ([]DisclosureRow, error) {
	return f.rows, f.err
}

func TestFetchForTickerDedup(t *testing.T) {
	db := testDB(t)
	feed := &fakeDartFeed{rows: []DisclosureRow{
		{RceptNo: "20250610000001", CorpName: "삼성전자", ReportNm: "주요사항보고서", RceptDt: "20250610"},
		{RceptNo: "20250610000002", CorpName: "삼성전자", ReportNm: "임원변동", RceptDt: "20250610"},
		{RceptNo: ""},
	}}
	c := NewCollector(db, feed)

	saved, err := c.FetchForTicker(context.Background(), "005930", nil, nil)
	require.NoError(t, err)
	assert.Len(t, saved, 2, "rows without a receipt number are dropped")

	// Receipt numbers already seen save nothing.
	saved, err = c.FetchForTicker(context.Background(), "005930", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, saved)

	var count int64
	db.Model(&models.Disclosure{}).Count(&count)
	assert.EqualValues(t, 2, count)
}

func TestFetchForTickerFeedErrorYieldsZeroRows(t *testing.T) {
	db := testDB(t)
	c := NewCollector(db, &fakeDartFeed{err: fmt.Errorf("dart down")})

	saved, err := c.FetchForTicker(context.Background(), "005930", nil, nil)
	require.NoError(t, err, "a feed outage degrades to an empty fetch")
	assert.Empty(t, saved)
}

func TestFetchByDateRequiresStockCode(t *testing.T) {
	db := testDB(t)
	feed := &fakeDartFeed{rows: []DisclosureRow{
		{RceptNo: "20250610000001", StockCode: "005930", RceptDt: "20250610"},
		// Unlisted filer, no linked security.
		{RceptNo: "20250610000002", StockCode: "", RceptDt: "20250610"},
	}}
	c := NewCollector(db, feed)

	count, err := c.FetchByDate(context.Background(), time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSubmitAnalysisOnce(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Create(&models.Disclosure{RceptNo: "20250610000001"}).Error)

	require.NoError(t, SubmitAnalysis(db, "20250610000001", "유상증자 결정", models.ImpactNegative))

	var d models.Disclosure
	require.NoError(t, db.Where("rcept_no = ?", "20250610000001").First(&d).Error)
	require.NotNil(t, d.AIAnalyzedAt)
	assert.Equal(t, models.ImpactNegative, *d.AIImpact)

	err := SubmitAnalysis(db, "20250610000001", "다른 요약", models.ImpactPositive)
	assert.ErrorIs(t, err, ErrAlreadyAnalyzed)
}

func TestSubmitAnalysisValidation(t *testing.T) {
	db := testDB(t)

	err := SubmitAnalysis(db, "20250610000001", "요약", "bullish")
	require.Error(t, err, "impact labels are a closed set")

	err = SubmitAnalysis(db, "00000000000000", "요약", models.ImpactNeutral)
	assert.ErrorIs(t, err, ErrDisclosureNotFound)
}
