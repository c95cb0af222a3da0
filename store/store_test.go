package store

import (
	"fmt"
	"testing"
	"time"

	"kstock_insight/models"

	"github.com/shopspring/decimal"
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
	require.NoError(t, models.MigrateAnalysisModels(db))
	return db
}

func strPtr(s string) *string { return &s }
func i64Ptr(v int64) *int64 { return &v }
func f64Ptr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool { return &v }
func dec(v float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(v))
}

func TestUpsertStockInsertAndMerge(t *testing.T) {
	db := testDB(t)

	require.NoError(t, UpsertStock(db, "005930", StockPatch{
		Name:   strPtr("삼성전자"),
		Market: strPtr("KOSPI"),
	}))

	var stock models.Stock
	require.NoError(t, db.Where("ticker = ?", "005930").First(&stock).Error)
	assert.Equal(t, "삼성전자", stock.Name)
	assert.True(t, stock.IsActive)
	assert.Nil(t, stock.Sector)

	// A later snapshot adds the sector without clobbering the name.
	require.NoError(t, UpsertStock(db, "005930", StockPatch{Sector: strPtr("반도체")}))

	require.NoError(t, db.Where("ticker = ?", "005930").First(&stock).Error)
	assert.Equal(t, "삼성전자", stock.Name)
	require.NotNil(t, stock.Sector)
	assert.Equal(t, "반도체", *stock.Sector)

	var count int64
	db.Model(&models.Stock{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestUpsertStockDeactivation(t *testing.T) {
	db := testDB(t)

	require.NoError(t, UpsertStock(db, "000001", StockPatch{Name: strPtr("테스트"), Market: strPtr("KOSDAQ")}))
	require.NoError(t, UpsertStock(db, "000001", StockPatch{Active: boolPtr(false)}))

	var stock models.Stock
	require.NoError(t, db.Where("ticker = ?", "000001").First(&stock).Error)
	assert.False(t, stock.IsActive)
	assert.Equal(t, "테스트", stock.Name)
}

func TestUpsertDailyPriceMergesPartialBars(t *testing.T) {
	db := testDB(t)
	date := time.Date(2025, 6, 10, 14, 30, 0, 0, time.UTC)

	require.NoError(t, UpsertDailyPrice(db, "005930", date, DailyPricePatch{
		Close:  i64Ptr(70000),
		Volume: i64Ptr(1000000),
	}))

	// Second feed supplies the range but not volume.
	require.NoError(t, UpsertDailyPrice(db, "005930", date, DailyPricePatch{
		Open: i64Ptr(69000),
		High: i64Ptr(71000),
		Low:  i64Ptr(68500),
	}))

	var price models.DailyPrice
	require.NoError(t, db.Where("ticker = ?", "005930").First(&price).Error)
	assert.Equal(t, Midnight(date), price.Date)
	assert.EqualValues(t, 70000, *price.Close)
	assert.EqualValues(t, 1000000, *price.Volume)
	assert.EqualValues(t, 69000, *price.Open)
	assert.Nil(t, price.TradingValue)

	var count int64
	db.Model(&models.DailyPrice{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestUpsertDailyPriceIdempotent(t *testing.T) {
	db := testDB(t)
	date := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	patch := DailyPricePatch{Close: i64Ptr(70000), ChangePct: f64Ptr(1.25)}

	require.NoError(t, UpsertDailyPrice(db, "005930", date, patch))
	require.NoError(t, UpsertDailyPrice(db, "005930", date, patch))

	var count int64
	db.Model(&models.DailyPrice{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestUpsertFundamentalsMergeKeepsExisting(t *testing.T) {
	db := testDB(t)
	date := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, UpsertFundamentals(db, "005930", date, FundamentalsPatch{PER: dec(10)}))
	require.NoError(t, UpsertFundamentals(db, "005930", date, FundamentalsPatch{PBR: dec(1.5)}))

	var fund models.MarketFundamentals
	require.NoError(t, db.Where("ticker = ?", "005930").First(&fund).Error)
	require.True(t, fund.PER.Valid)
	assert.True(t, fund.PER.Decimal.Equal(decimal.NewFromInt(10)))
	require.True(t, fund.PBR.Valid)
	assert.True(t, fund.PBR.Decimal.Equal(decimal.NewFromFloat(1.5)))
	assert.Nil(t, fund.MarketCap)
}

func TestUpsertLatestFundamentals(t *testing.T) {
	db := testDB(t)
	old := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	// No same-day row: the patch lands on the most recent existing row.
	require.NoError(t, UpsertFundamentals(db, "005930", old, FundamentalsPatch{MarketCap: i64Ptr(400_000_000)}))
	require.NoError(t, UpsertLatestFundamentals(db, "005930", newer, FundamentalsPatch{EPS: i64Ptr(5000)}))

	var count int64
	db.Model(&models.MarketFundamentals{}).Count(&count)
	assert.EqualValues(t, 1, count)

	var fund models.MarketFundamentals
	require.NoError(t, db.Where("ticker = ?", "005930").First(&fund).Error)
	assert.Equal(t, old, fund.Date)
	assert.EqualValues(t, 400_000_000, *fund.MarketCap)
	assert.EqualValues(t, 5000, *fund.EPS)

	// No row at all: a fresh one is inserted. A fresh dest too, so the
	// primary key populated by the read above does not leak into the WHERE.
	require.NoError(t, UpsertLatestFundamentals(db, "000660", newer, FundamentalsPatch{EPS: i64Ptr(100)}))
	var inserted models.MarketFundamentals
	require.NoError(t, db.Where("ticker = ?", "000660").First(&inserted).Error)
	assert.Equal(t, newer, inserted.Date)
}

func TestInsertDisclosureDedup(t *testing.T) {
	db := testDB(t)

	first := &models.Disclosure{RceptNo: "20250610000001", Ticker: strPtr("005930")}
	inserted, err := InsertDisclosure(db, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := &models.Disclosure{RceptNo: "20250610000001", Ticker: strPtr("005930")}
	inserted, err = InsertDisclosure(db, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	var count int64
	db.Model(&models.Disclosure{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestInsertNewsArticleDedup(t *testing.T) {
	db := testDB(t)

	first := &models.NewsArticle{URL: "https://finance.naver.com/news/1", Ticker: strPtr("005930")}
	inserted, err := InsertNewsArticle(db, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := &models.NewsArticle{URL: "https://finance.naver.com/news/1", Ticker: strPtr("000660")}
	inserted, err = InsertNewsArticle(db, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	var count int64
	db.Model(&models.NewsArticle{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestUpsertVolumeSpikeOverwrites(t *testing.T) {
	db := testDB(t)
	date := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, UpsertVolumeSpike(db, "005930", date, VolumeSpikePatch{
		Volume:         2000000,
		AvgVolume20d:   800000,
		SpikeRatio:     2.5,
		PriceChangePct: f64Ptr(4.2),
	}))

	// A rerun with corrected figures replaces every field.
	require.NoError(t, UpsertVolumeSpike(db, "005930", date, VolumeSpikePatch{
		Volume:       2100000,
		AvgVolume20d: 700000,
		SpikeRatio:   3.0,
	}))

	var spike models.VolumeSpike
	require.NoError(t, db.Where("ticker = ?", "005930").First(&spike).Error)
	assert.EqualValues(t, 2100000, spike.Volume)
	assert.EqualValues(t, 700000, spike.AvgVolume20d)
	assert.InDelta(t, 3.0, spike.SpikeRatio, 0.001)
	assert.Nil(t, spike.PriceChangePct)

	var count int64
	db.Model(&models.VolumeSpike{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestMidnight(t *testing.T) {
	ts := time.Date(2025, 6, 10, 23, 59, 59, 123, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), Midnight(ts))
}
