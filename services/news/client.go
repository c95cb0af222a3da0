package news

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const (
	naverNewsListURL = "https://finance.naver.com/item/news_news.naver"
	naverFinanceBase = "https://finance.naver.com"
)

// Article is one scraped news row before storage. URL is canonical and is
// the de-duplication key.
type Article struct {
	Title       string
	Source      string
	URL         string
	PublishedAt *time.Time
}

// Client is the opaque news source the collector consumes, one page of
// articles per call.
type Client interface {
	Fetch(ctx context.Context, ticker string, page int) ([]Article, error)
}

// NaverClient scrapes the Naver Finance per-ticker news table.
type NaverClient struct {
	http *resty.Client
}

// NewNaverClient creates a scraper client with a per-call timeout.
func NewNaverClient() *NaverClient {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	return &NaverClient{http: client}
}

// Fetch scrapes one page of the news table for a ticker.
func (c *NaverClient) Fetch(ctx context.Context, ticker string, page int) ([]Article, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"code":      ticker,
			"page":      strconv.Itoa(page),
			"sm":        "title_entity_id.basic",
			"clusterId": "",
		}).
		SetHeader("Referer", "https://finance.naver.com/item/news.naver?code="+ticker).
		Get(naverNewsListURL)
	if err != nil {
		return nil, fmt.Errorf("news page %d for %s: %w", page, ticker, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("news page %d for %s: status %s", page, ticker, resp.Status())
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
	if err != nil {
		return nil, fmt.Errorf("news page %d for %s: parse: %w", page, ticker, err)
	}

	var articles []Article
	doc.Find("table.type5 tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}

		link := cells.Eq(0).Find("a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		if title == "" || href == "" {
			return
		}

		url := href
		if strings.HasPrefix(href, "/") {
			url = naverFinanceBase + href
		}

		article := Article{
			Title:  title,
			Source: strings.TrimSpace(cells.Eq(1).Text()),
			URL:    url,
		}

		// Missing or unparseable dates stay nil; those articles sort last.
		dateText := strings.TrimSpace(cells.Eq(2).Text())
		for _, layout := range []string{"2006.01.02 15:04", "2006.01.02"} {
			if t, err := time.Parse(layout, dateText); err == nil {
				article.PublishedAt = &t
				break
			}
		}

		articles = append(articles, article)
	})

	return articles, nil
}
