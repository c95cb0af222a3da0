package news

import (
	"context"
	"fmt"
	"log"

	"kstock_insight/models"
	"kstock_insight/store"

	"gorm.io/gorm"
)

// Collector scrapes and stores per-ticker news.
type Collector struct {
	db     *gorm.DB
	client Client
}

// NewCollector creates a news collector.
func NewCollector(db *gorm.DB, client Client) *Collector {
	return &Collector{db: db, client: client}
}

// FetchForTicker scrapes up to pages pages of news for a ticker. A page
// fetch error stops pagination but keeps what was already collected.
// Articles are deduplicated both inside the batch (concurrent fetches can
// see the same URL on overlapping pages) and against stored rows, by URL.
func (c *Collector) FetchForTicker(ctx context.Context, ticker string, pages int) ([]models.NewsArticle, error) {
	if pages < 1 {
		pages = 1
	}

	var saved []models.NewsArticle
	seen := make(map[string]bool)

	for page := 1; page <= pages; page++ {
		articles, err := c.client.Fetch(ctx, ticker, page)
		if err != nil {
			log.Printf("Failed to fetch news page %d for %s: %v", page, ticker, err)
			break
		}

		for _, article := range articles {
			if seen[article.URL] {
				continue
			}
			seen[article.URL] = true

			row := &models.NewsArticle{
				Ticker: &ticker,
				URL:    article.URL,
			}
			if article.Title != "" {
				title := article.Title
				row.Title = &title
			}
			if article.Source != "" {
				source := article.Source
				row.Source = &source
			}
			row.PublishedAt = article.PublishedAt

			inserted, err := store.InsertNewsArticle(c.db, row)
			if err != nil {
				return saved, err
			}
			if inserted {
				saved = append(saved, *row)
			}
		}
	}

	if len(saved) > 0 {
		log.Printf("Saved %d new news articles for %s", len(saved), ticker)
	}
	return saved, nil
}

// TopMoverLister supplies the tickers worth fetching news for after close.
type TopMoverLister interface {
	TopGainerTickers(limit int) ([]string, error)
}

// FetchForTopMovers scrapes two pages of news for each of the day's top
// gainers. Per-ticker failures are logged and skipped.
func (c *Collector) FetchForTopMovers(ctx context.Context, movers TopMoverLister, limit int) (int, error) {
	if limit <= 0 {
		limit = 10
	}

	tickers, err := movers.TopGainerTickers(limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list top movers: %w", err)
	}

	total := 0
	for _, ticker := range tickers {
		articles, err := c.FetchForTicker(ctx, ticker, 2)
		if err != nil {
			log.Printf("Failed to fetch news for mover %s: %v", ticker, err)
			continue
		}
		total += len(articles)
	}

	log.Printf("Fetched %d news articles for %d top movers", total, len(tickers))
	return total, nil
}

// Get reads stored articles, newest publish date first with undated rows
// last.
func Get(db *gorm.DB, ticker string, limit int) ([]models.NewsArticle, error) {
	if limit <= 0 {
		limit = 30
	}

	query := db.Model(&models.NewsArticle{}).
		Order("published_at DESC NULLS LAST")
	if ticker != "" {
		query = query.Where("ticker = ?", ticker)
	}

	var items []models.NewsArticle
	if err := query.Limit(limit).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to query news: %w", err)
	}
	return items, nil
}
