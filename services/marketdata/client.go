package marketdata

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Markets the collectors know about.
const (
	MarketKospi  = "KOSPI"
	MarketKosdaq = "KOSDAQ"
	MarketAll    = "ALL"
)

// ListingRow is one security from a full market snapshot, including the
// current day's bar and market cap as the vendor reports them.
type ListingRow struct {
	Ticker       string
	Name         string
	Sector       *string
	Open         *int64
	High         *int64
	Low          *int64
	Close        *int64
	Volume       *int64
	TradingValue *int64
	ChangePct    *float64
	MarketCap    *int64
}

// PriceRow is one historical OHLCV bar for one ticker.
type PriceRow struct {
	Date      time.Time
	Open      *int64
	High      *int64
	Low       *int64
	Close     *int64
	Volume    *int64
	ChangePct *float64
}

// FinanceRow carries the annual valuation figures scraped per ticker.
type FinanceRow struct {
	PER *float64
	PBR *float64
	EPS *int64
	BPS *int64
	DPS *int64
}

// Client is the opaque market-data source the collectors consume. The
// collectors care only about row shapes and uniqueness keys, not transport.
type Client interface {
	// Listing returns the full current-day snapshot for one market.
	// Efficient for "today", wrong for historical dates.
	Listing(ctx context.Context, market string) ([]ListingRow, error)

	// History returns bars for one ticker over a date range. The only
	// correct strategy for past dates, and the expensive one.
	History(ctx context.Context, ticker string, start, end time.Time) ([]PriceRow, error)

	// AnnualFinance returns the latest annual PER/PBR/EPS/BPS/DPS figures.
	AnnualFinance(ctx context.Context, ticker string) (*FinanceRow, error)
}

const (
	naverAPIBase    = "https://m.stock.naver.com/api"
	listingPageSize = 100
)

// NaverClient fetches Korean market data from the Naver mobile finance API.
type NaverClient struct {
	http *resty.Client
}

// NewNaverClient creates a client with a per-call timeout. A stuck external
// call degrades one ticker's fetch, not the batch.
func NewNaverClient() *NaverClient {
	client := resty.New().
		SetBaseURL(naverAPIBase).
		SetTimeout(10 * time.Second).
		SetHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36").
		SetHeader("Referer", "https://m.stock.naver.com/")
	return &NaverClient{http: client}
}

type naverListingResponse struct {
	Stocks []struct {
		ItemCode           string `json:"itemCode"`
		StockName          string `json:"stockName"`
		SectorName         string `json:"sectorName"`
		OpenPrice          string `json:"openPrice"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
		ClosePrice         string `json:"closePrice"`
		AccumulatedVolume  string `json:"accumulatedTradingVolume"`
		AccumulatedValue   string `json:"accumulatedTradingValue"`
		FluctuationsRatio  string `json:"fluctuationsRatio"`
		MarketValue        string `json:"marketValue"`
	} `json:"stocks"`
	TotalCount int `json:"totalCount"`
}

// Listing pages through the market-value ranking until the vendor reports
// no more rows.
func (c *NaverClient) Listing(ctx context.Context, market string) ([]ListingRow, error) {
	var rows []ListingRow

	for page := 1; ; page++ {
		var body naverListingResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"page":     strconv.Itoa(page),
				"pageSize": strconv.Itoa(listingPageSize),
			}).
			SetResult(&body).
			Get("/stocks/marketValue/" + market)
		if err != nil {
			return nil, fmt.Errorf("listing request for %s page %d: %w", market, page, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("listing request for %s page %d: status %s", market, page, resp.Status())
		}
		if len(body.Stocks) == 0 {
			break
		}

		for _, s := range body.Stocks {
			ticker := strings.TrimSpace(s.ItemCode)
			name := strings.TrimSpace(s.StockName)
			if ticker == "" || name == "" {
				continue
			}
			row := ListingRow{
				Ticker:       ticker,
				Name:         name,
				Open:         parseCommaInt(s.OpenPrice),
				High:         parseCommaInt(s.HighPrice),
				Low:          parseCommaInt(s.LowPrice),
				Close:        parseCommaInt(s.ClosePrice),
				Volume:       parseCommaInt(s.AccumulatedVolume),
				TradingValue: parseCommaInt(s.AccumulatedValue),
				ChangePct:    parseCommaFloat(s.FluctuationsRatio),
				MarketCap:    parseCommaInt(s.MarketValue),
			}
			if sector := strings.TrimSpace(s.SectorName); sector != "" {
				row.Sector = &sector
			}
			rows = append(rows, row)
		}

		if len(rows) >= body.TotalCount && body.TotalCount > 0 {
			break
		}
	}

	return rows, nil
}

type naverChartResponse []struct {
	LocalDate         string `json:"localDate"` // yyyyMMdd
	OpenPrice         int64  `json:"openPrice"`
	HighPrice         int64  `json:"highPrice"`
	LowPrice          int64  `json:"lowPrice"`
	ClosePrice        int64  `json:"closePrice"`
	AccumulatedVolume int64  `json:"accumulatedTradingVolume"`
}

// History fetches daily candles for one ticker. Change percent is derived
// from consecutive closes because the candle feed does not carry it.
func (c *NaverClient) History(ctx context.Context, ticker string, start, end time.Time) ([]PriceRow, error) {
	var body naverChartResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"startDateTime": start.Format("20060102") + "0000",
			"endDateTime":   end.Format("20060102") + "0000",
		}).
		SetResult(&body).
		Get("/chart/domestic/item/" + ticker + "/day")
	if err != nil {
		return nil, fmt.Errorf("history request for %s: %w", ticker, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("history request for %s: status %s", ticker, resp.Status())
	}

	rows := make([]PriceRow, 0, len(body))
	var prevClose int64
	for _, candle := range body {
		day, err := time.Parse("20060102", candle.LocalDate)
		if err != nil {
			continue
		}
		row := PriceRow{
			Date:   day,
			Open:   int64Ptr(candle.OpenPrice),
			High:   int64Ptr(candle.HighPrice),
			Low:    int64Ptr(candle.LowPrice),
			Close:  int64Ptr(candle.ClosePrice),
			Volume: int64Ptr(candle.AccumulatedVolume),
		}
		if prevClose > 0 && candle.ClosePrice > 0 {
			pct := (float64(candle.ClosePrice) - float64(prevClose)) / float64(prevClose) * 100
			row.ChangePct = &pct
		}
		prevClose = candle.ClosePrice
		rows = append(rows, row)
	}

	return rows, nil
}

type naverFinanceResponse struct {
	FinanceInfo struct {
		TrTitleList []struct {
			Key         string `json:"key"`
			IsConsensus string `json:"isConsensus"`
		} `json:"trTitleList"`
		RowList []struct {
			Title   string `json:"title"`
			Columns map[string]struct {
				Value string `json:"value"`
			} `json:"columns"`
		} `json:"rowList"`
	} `json:"financeInfo"`
}

// AnnualFinance scrapes the latest non-consensus annual column of the
// finance table. Returns nil (not an error) when the payload is unusable.
func (c *NaverClient) AnnualFinance(ctx context.Context, ticker string) (*FinanceRow, error) {
	var body naverFinanceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/stock/" + ticker + "/finance/annual")
	if err != nil {
		return nil, fmt.Errorf("finance request for %s: %w", ticker, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("finance request for %s: status %s", ticker, resp.Status())
	}

	info := body.FinanceInfo
	if len(info.RowList) == 0 {
		return nil, nil
	}

	// The rightmost non-consensus column is the latest reported year.
	var latestKey string
	for i := len(info.TrTitleList) - 1; i >= 0; i-- {
		if info.TrTitleList[i].IsConsensus == "N" {
			latestKey = info.TrTitleList[i].Key
			break
		}
	}
	if latestKey == "" {
		return nil, nil
	}

	values := make(map[string]float64)
	for _, row := range info.RowList {
		col, ok := row.Columns[latestKey]
		if !ok {
			continue
		}
		if v := parseKoreanNumber(col.Value); v != nil {
			values[row.Title] = *v
		}
	}

	row := &FinanceRow{}
	if v, ok := values["PER"]; ok {
		row.PER = &v
	}
	if v, ok := values["PBR"]; ok {
		row.PBR = &v
	}
	if v, ok := values["EPS"]; ok {
		row.EPS = int64Ptr(int64(v))
	}
	if v, ok := values["BPS"]; ok {
		row.BPS = int64Ptr(int64(v))
	}
	if v, ok := values["주당배당금"]; ok {
		row.DPS = int64Ptr(int64(v))
	}

	if row.PER == nil && row.PBR == nil && row.EPS == nil {
		return nil, nil
	}
	return row, nil
}

var nonNumberPattern = regexp.MustCompile(`[^\d.\-]`)

// parseKoreanNumber parses strings like "33.21", "6,564" or "-". A dash or
// empty cell means the vendor has no value.
func parseKoreanNumber(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return nil
	}
	cleaned := nonNumberPattern.ReplaceAllString(s, "")
	if cleaned == "" {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseCommaInt(s string) *int64 {
	v := parseKoreanNumber(s)
	if v == nil {
		return nil
	}
	return int64Ptr(int64(*v))
}

func parseCommaFloat(s string) *float64 {
	return parseKoreanNumber(s)
}

func int64Ptr(v int64) *int64 {
	return &v
}
