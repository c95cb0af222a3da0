package marketdata

import (
	"context"
	"fmt"
	"testing"
	"time"

	"kstock_insight/models"
	"kstock_insight/services/ratelimit"
	"kstock_insight/store"

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
	return db
}

func testLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	limiter, err := ratelimit.New(10000)
	require.NoError(t, err)
	return limiter
}

func i64(v int64) *int64 { return &v }
func f64(v float64) *float64 { return &v }
func str(s string) *string { return &s }

type fakeClient struct {
	listing    map[string][]ListingRow
	history    map[string][]PriceRow
	historyErr map[string]error
	finance    map[string]*FinanceRow
}

func (f *fakeClient) Listing(_ context.Context, market string) ([]ListingRow, error) {
	return f.listing[market], nil
}

func (f *fakeClient) History(_ context.Context, ticker string, _, _ time.Time) ([]PriceRow, error) {
	if err := f.historyErr[ticker]; err != nil {
		return nil, err
	}
	return f.history[ticker], nil
}

func (f *fakeClient) AnnualFinance(_ context.Context, ticker string) (*FinanceRow, error) {
	return f.finance[ticker], nil
}

func TestSyncStockListUpserts(t *testing.T) {
	db := testDB(t)
	client := &fakeClient{listing: map[string][]ListingRow{
		MarketKospi: {
			{Ticker: "005930", Name: "삼성전자", Sector: str("반도체"), Close: i64(70000), Volume: i64(1000000), ChangePct: f64(1.2), MarketCap: i64(400_000_000)},
		},
		MarketKosdaq: {
			{Ticker: "035720", Name: "카카오", Close: i64(45000)},
		},
	}}
	c := NewCollector(db, client, testLimiter(t))

	count, err := c.SyncStockList(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var stock models.Stock
	require.NoError(t, db.Where("ticker = ?", "005930").First(&stock).Error)
	assert.Equal(t, MarketKospi, stock.Market)
	require.NotNil(t, stock.Sector)
	assert.Equal(t, "반도체", *stock.Sector)

	// The listing snapshot doubles as today's bar.
	var price models.DailyPrice
	require.NoError(t, db.Where("ticker = ?", "005930").First(&price).Error)
	assert.EqualValues(t, 70000, *price.Close)

	// Market cap lands in fundamentals; the KOSDAQ row had none.
	var fund models.MarketFundamentals
	require.NoError(t, db.Where("ticker = ?", "005930").First(&fund).Error)
	assert.EqualValues(t, 400_000_000, *fund.MarketCap)
	err = db.Where("ticker = ?", "035720").First(&fund).Error
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSyncStockListSkipsBlankRows(t *testing.T) {
	db := testDB(t)
	client := &fakeClient{listing: map[string][]ListingRow{
		MarketKospi: {
			{Ticker: "", Name: "이름만"},
			{Ticker: "000001", Name: ""},
			{Ticker: "000002", Name: "정상", Close: i64(1000)},
		},
	}}
	c := NewCollector(db, client, testLimiter(t))

	count, err := c.SyncStockList(context.Background(), MarketKospi)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBackfillPricesAccumulatesErrors(t *testing.T) {
	db := testDB(t)

	for _, ticker := range []string{"000001", "000002", "000003"} {
		require.NoError(t, db.Create(&models.Stock{Ticker: ticker, Name: "T" + ticker, Market: MarketKospi, IsActive: true}).Error)
	}

	day := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)
	client := &fakeClient{
		history: map[string][]PriceRow{
			"000001": {{Date: day, Close: i64(1000), Volume: i64(500)}},
			"000003": {{Date: day, Close: i64(3000)}, {Date: day.AddDate(0, 0, 1), Close: i64(3100)}},
		},
		historyErr: map[string]error{
			"000002": fmt.Errorf("vendor timeout"),
		},
	}
	c := NewCollector(db, client, testLimiter(t))

	result, err := c.BackfillPrices(context.Background(), day, day.AddDate(0, 0, 1), "")
	require.NoError(t, err)
	assert.Equal(t, 2, result.StocksProcessed)
	assert.Equal(t, 3, result.RecordsInserted)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "000002")

	var count int64
	db.Model(&models.DailyPrice{}).Count(&count)
	assert.EqualValues(t, 3, count)
}

func TestBackfillPricesEmptyUniverse(t *testing.T) {
	db := testDB(t)
	c := NewCollector(db, &fakeClient{}, testLimiter(t))

	_, err := c.BackfillPrices(context.Background(), time.Now().AddDate(0, 0, -7), time.Now(), "")
	require.Error(t, err)
}

func TestFetchPricesBulk(t *testing.T) {
	db := testDB(t)
	day := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)
	client := &fakeClient{history: map[string][]PriceRow{
		"005930": {
			{Date: day, Close: i64(70000), Volume: i64(100)},
			{Date: day.AddDate(0, 0, 1), Close: i64(70500), Volume: i64(120)},
		},
	}}
	c := NewCollector(db, client, testLimiter(t))

	count, err := c.FetchPricesBulk(context.Background(), "005930", day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Re-running the same range merges instead of duplicating.
	count, err = c.FetchPricesBulk(context.Background(), "005930", day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var rows int64
	db.Model(&models.DailyPrice{}).Count(&rows)
	assert.EqualValues(t, 2, rows)
}

func TestFetchFundamentalsDerivesYield(t *testing.T) {
	db := testDB(t)
	require.NoError(t, store.UpsertDailyPrice(db, "005930", time.Now(), store.DailyPricePatch{Close: i64(100000)}))

	client := &fakeClient{finance: map[string]*FinanceRow{
		"005930": {EPS: i64(5000), DPS: i64(1500)},
	}}
	c := NewCollector(db, client, testLimiter(t))

	row, err := c.FetchFundamentals(context.Background(), "005930")
	require.NoError(t, err)
	require.NotNil(t, row)

	var fund models.MarketFundamentals
	require.NoError(t, db.Where("ticker = ?", "005930").First(&fund).Error)
	assert.EqualValues(t, 5000, *fund.EPS)
	require.True(t, fund.DivYield.Valid)
	// 1500 / 100000 * 100 = 1.5%
	assert.Equal(t, "1.5", fund.DivYield.Decimal.String())
}

func TestFetchFundamentalsNothingUsable(t *testing.T) {
	db := testDB(t)
	c := NewCollector(db, &fakeClient{}, testLimiter(t))

	row, err := c.FetchFundamentals(context.Background(), "005930")
	require.NoError(t, err)
	assert.Nil(t, row)
}
