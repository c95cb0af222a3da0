package news

import (
	"context"
	"fmt"
	"testing"

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
	require.NoError(t, models.MigrateNewsModels(db))
	return db
}

type fakeClient struct {
	pages map[int][]Article
	errAt int
	calls int
}

func (f *fakeClient) Fetch(_ context.Context, _ string, page int) ([]Article, error) {
	f.calls++
	if f.errAt > 0 && page >= f.errAt {
		return nil, fmt.Errorf("page %d unavailable", page)
	}
	return f.pages[page], nil
}

func TestFetchForTickerDedup(t *testing.T) {
	db := testDB(t)

	client := &fakeClient{pages: map[int][]Article{
		1: {
			{Title: "첫 기사", URL: "https://finance.naver.com/news/1"},
			{Title: "둘째 기사", URL: "https://finance.naver.com/news/2"},
		},
		2: {
			// Overlapping pagination repeats an article.
			{Title: "둘째 기사", URL: "https://finance.naver.com/news/2"},
			{Title: "셋째 기사", URL: "https://finance.naver.com/news/3"},
		},
	}}
	c := NewCollector(db, client)

	saved, err := c.FetchForTicker(context.Background(), "005930", 2)
	require.NoError(t, err)
	assert.Len(t, saved, 3)

	var count int64
	db.Model(&models.NewsArticle{}).Count(&count)
	assert.EqualValues(t, 3, count)

	// A second run saves nothing new.
	saved, err = c.FetchForTicker(context.Background(), "005930", 2)
	require.NoError(t, err)
	assert.Empty(t, saved)
	db.Model(&models.NewsArticle{}).Count(&count)
	assert.EqualValues(t, 3, count)
}

func TestFetchForTickerStopsOnPageError(t *testing.T) {
	db := testDB(t)

	client := &fakeClient{
		pages: map[int][]Article{
			1: {{Title: "기사", URL: "https://finance.naver.com/news/1"}},
		},
		errAt: 2,
	}
	c := NewCollector(db, client)

	saved, err := c.FetchForTicker(context.Background(), "005930", 5)
	require.NoError(t, err, "a page error keeps the partial batch")
	assert.Len(t, saved, 1)
	assert.Equal(t, 2, client.calls, "pagination stops at the failing page")
}

func TestFetchForTopMovers(t *testing.T) {
	db := testDB(t)

	client := &fakeClient{pages: map[int][]Article{
		1: {{Title: "급등 기사", URL: "https://finance.naver.com/news/100"}},
	}}
	c := NewCollector(db, client)

	total, err := c.FetchForTopMovers(context.Background(), fixedMovers{"005930"}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

type fixedMovers []string

func (m fixedMovers) TopGainerTickers(int) ([]string, error) { return m, nil }

func TestGetOrdersByPublishDate(t *testing.T) {
	db := testDB(t)
	ticker := "005930"

	for i, url := range []string{"https://n/1", "https://n/2"} {
		u := url
		require.NoError(t, db.Create(&models.NewsArticle{Ticker: &ticker, URL: u, Title: strPtr(fmt.Sprintf("기사%d", i))}).Error)
	}

	items, err := Get(db, ticker, 10)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func strPtr(s string) *string { return &s }
