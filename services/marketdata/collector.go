package marketdata

import (
	"context"
	"fmt"
	"log"
	"time"

	"kstock_insight/models"
	"kstock_insight/services/ratelimit"
	"kstock_insight/store"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Commit checkpoints bound transaction size and let a crashed bulk run lose
// at most one chunk of progress.
const (
	historicalCommitChunk = 100
	backfillCommitChunk   = 50
)

// Collector reconciles market snapshots from the external source into the
// time-series store.
type Collector struct {
	db      *gorm.DB
	client  Client
	limiter *ratelimit.Limiter
}

// NewCollector creates a market-data collector.
func NewCollector(db *gorm.DB, client Client, limiter *ratelimit.Limiter) *Collector {
	return &Collector{db: db, client: client, limiter: limiter}
}

// BackfillResult summarizes a multi-ticker bulk run. Per-ticker failures are
// accumulated, never fatal to the remaining tickers.
type BackfillResult struct {
	StocksProcessed int      `json:"stocks_processed"`
	RecordsInserted int      `json:"records_inserted"`
	Errors          []string `json:"errors"`
}

// SyncStockList pulls the full listing snapshot for each requested market and
// upserts securities, the current day's bars, and market caps. A failed
// market fetch is logged and skipped; the other market still syncs.
func (c *Collector) SyncStockList(ctx context.Context, market string) (int, error) {
	count := 0
	today := store.Midnight(time.Now())

	for _, mkt := range resolveMarkets(market) {
		if err := c.limiter.Acquire(ctx); err != nil {
			return count, err
		}

		rows, err := c.client.Listing(ctx, mkt)
		if err != nil {
			log.Printf("Failed to get stock listing for %s: %v", mkt, err)
			continue
		}
		if len(rows) == 0 {
			log.Printf("No stocks found for %s", mkt)
			continue
		}

		for _, row := range rows {
			if row.Ticker == "" || row.Name == "" {
				continue
			}

			name := row.Name
			marketName := mkt
			active := true
			if err := store.UpsertStock(c.db, row.Ticker, store.StockPatch{
				Name:   &name,
				Market: &marketName,
				Sector: row.Sector,
				Active: &active,
			}); err != nil {
				log.Printf("Failed to upsert stock %s: %v", row.Ticker, err)
				continue
			}

			// The listing snapshot doubles as today's bar when it carries
			// a usable close.
			if row.Close != nil && *row.Close > 0 {
				if err := store.UpsertDailyPrice(c.db, row.Ticker, today, store.DailyPricePatch{
					Open:         row.Open,
					High:         row.High,
					Low:          row.Low,
					Close:        row.Close,
					Volume:       row.Volume,
					TradingValue: row.TradingValue,
					ChangePct:    row.ChangePct,
				}); err != nil {
					log.Printf("Failed to upsert price for %s: %v", row.Ticker, err)
				}
			}

			// PER/PBR/EPS come separately from the finance feed; the
			// listing only contributes market cap.
			if row.MarketCap != nil && *row.MarketCap > 0 {
				if err := store.UpsertFundamentals(c.db, row.Ticker, today, store.FundamentalsPatch{
					MarketCap: row.MarketCap,
				}); err != nil {
					log.Printf("Failed to upsert fundamentals for %s: %v", row.Ticker, err)
				}
			}

			count++
		}

		log.Printf("Synced %d stocks for %s", len(rows), mkt)
	}

	log.Printf("Total stocks synced: %d", count)
	return count, nil
}

// FetchDailyPrices upserts OHLCV bars for every stock in a market on the
// target date. Today uses the one-call listing snapshot; any past date takes
// the expensive per-ticker path.
func (c *Collector) FetchDailyPrices(ctx context.Context, target time.Time, market string) (int, error) {
	if !store.Midnight(target).Before(store.Midnight(time.Now())) {
		return c.fetchPricesFromListing(ctx, market)
	}
	return c.fetchHistoricalPrices(ctx, target, market)
}

func (c *Collector) fetchPricesFromListing(ctx context.Context, market string) (int, error) {
	count := 0
	today := store.Midnight(time.Now())

	for _, mkt := range resolveMarkets(market) {
		if err := c.limiter.Acquire(ctx); err != nil {
			return count, err
		}

		rows, err := c.client.Listing(ctx, mkt)
		if err != nil {
			log.Printf("Failed to get listing for %s: %v", mkt, err)
			continue
		}

		for _, row := range rows {
			if row.Ticker == "" || row.Close == nil || *row.Close <= 0 {
				continue
			}
			if err := store.UpsertDailyPrice(c.db, row.Ticker, today, store.DailyPricePatch{
				Open:         row.Open,
				High:         row.High,
				Low:          row.Low,
				Close:        row.Close,
				Volume:       row.Volume,
				TradingValue: row.TradingValue,
				ChangePct:    row.ChangePct,
			}); err != nil {
				log.Printf("Failed to upsert price for %s: %v", row.Ticker, err)
				continue
			}
			count++
		}

		log.Printf("Fetched %d prices for %s", count, mkt)
	}

	return count, nil
}

func (c *Collector) fetchHistoricalPrices(ctx context.Context, target time.Time, market string) (int, error) {
	stocks, err := c.activeStocks(market)
	if err != nil {
		return 0, err
	}
	if len(stocks) == 0 {
		log.Println("No stocks found in database. Run sync-stocks first.")
		return 0, nil
	}

	day := store.Midnight(target)
	count := 0

	for chunkStart := 0; chunkStart < len(stocks); chunkStart += historicalCommitChunk {
		chunkEnd := chunkStart + historicalCommitChunk
		if chunkEnd > len(stocks) {
			chunkEnd = len(stocks)
		}
		chunk := stocks[chunkStart:chunkEnd]

		err := c.db.Transaction(func(tx *gorm.DB) error {
			for _, stock := range chunk {
				if err := c.limiter.Acquire(ctx); err != nil {
					return err
				}
				rows, err := c.client.History(ctx, stock.Ticker, day, day)
				if err != nil {
					// One stuck or failed call degrades one ticker, not the batch.
					log.Printf("Failed to get price for %s: %v", stock.Ticker, err)
					continue
				}
				for _, row := range rows {
					if err := store.UpsertDailyPrice(tx, stock.Ticker, row.Date, pricePatch(row)); err != nil {
						return err
					}
					count++
				}
			}
			return nil
		})
		if err != nil {
			return count, err
		}

		log.Printf("Progress: %d/%d stocks processed for %s", chunkEnd, len(stocks), day.Format("2006-01-02"))
	}

	log.Printf("Fetched %d historical prices for %s", count, day.Format("2006-01-02"))
	return count, nil
}

// FetchPricesBulk fetches the full history range for a single ticker in one
// external call.
func (c *Collector) FetchPricesBulk(ctx context.Context, ticker string, start, end time.Time) (int, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return 0, err
	}

	rows, err := c.client.History(ctx, ticker, start, end)
	if err != nil {
		log.Printf("Failed to get bulk prices for %s: %v", ticker, err)
		return 0, nil
	}

	count := 0
	for _, row := range rows {
		if err := store.UpsertDailyPrice(c.db, ticker, row.Date, pricePatch(row)); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// BackfillPrices runs a per-ticker ranged fetch across the whole universe,
// checkpoint-committing every 50 tickers so a crash loses at most one chunk.
func (c *Collector) BackfillPrices(ctx context.Context, start, end time.Time, market string) (*BackfillResult, error) {
	stocks, err := c.activeStocks(market)
	if err != nil {
		return nil, err
	}
	if len(stocks) == 0 {
		return nil, fmt.Errorf("no stocks in database, run sync-stocks first")
	}

	result := &BackfillResult{Errors: []string{}}

	for chunkStart := 0; chunkStart < len(stocks); chunkStart += backfillCommitChunk {
		chunkEnd := chunkStart + backfillCommitChunk
		if chunkEnd > len(stocks) {
			chunkEnd = len(stocks)
		}
		chunk := stocks[chunkStart:chunkEnd]

		err := c.db.Transaction(func(tx *gorm.DB) error {
			for _, stock := range chunk {
				if err := c.limiter.Acquire(ctx); err != nil {
					return err
				}
				rows, err := c.client.History(ctx, stock.Ticker, start, end)
				if err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", stock.Ticker, err))
					continue
				}
				if len(rows) == 0 {
					continue
				}
				for _, row := range rows {
					if err := store.UpsertDailyPrice(tx, stock.Ticker, row.Date, pricePatch(row)); err != nil {
						return err
					}
					result.RecordsInserted++
				}
				result.StocksProcessed++
			}
			return nil
		})
		if err != nil {
			return result, err
		}

		log.Printf("Backfill progress: %d/%d stocks, %d records", chunkEnd, len(stocks), result.RecordsInserted)
	}

	log.Printf("Backfill complete: %d stocks, %d records", result.StocksProcessed, result.RecordsInserted)
	return result, nil
}

// FetchFundamentals pulls the annual finance figures for one ticker and
// applies them with latest-known-value semantics. A dividend yield is derived
// from DPS against the latest close. Returns nil without error when the
// vendor has nothing usable.
func (c *Collector) FetchFundamentals(ctx context.Context, ticker string) (*FinanceRow, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	row, err := c.client.AnnualFinance(ctx, ticker)
	if err != nil {
		log.Printf("Failed to fetch fundamentals for %s: %v", ticker, err)
		return nil, nil
	}
	if row == nil {
		return nil, nil
	}

	patch := store.FundamentalsPatch{
		EPS: row.EPS,
		BPS: row.BPS,
		DPS: row.DPS,
	}
	if row.PER != nil {
		patch.PER = decimal.NewNullDecimal(decimal.NewFromFloat(*row.PER))
	}
	if row.PBR != nil {
		patch.PBR = decimal.NewNullDecimal(decimal.NewFromFloat(*row.PBR))
	}

	if row.DPS != nil && *row.DPS > 0 {
		var latest models.DailyPrice
		err := c.db.Where("ticker = ?", ticker).Order("date DESC").First(&latest).Error
		if err == nil && latest.Close != nil && *latest.Close > 0 {
			yield := decimal.NewFromInt(*row.DPS).
				Div(decimal.NewFromInt(*latest.Close)).
				Mul(decimal.NewFromInt(100)).
				Round(2)
			patch.DivYield = decimal.NewNullDecimal(yield)
		}
	}

	if err := store.UpsertLatestFundamentals(c.db, ticker, time.Now(), patch); err != nil {
		return nil, err
	}

	log.Printf("Fetched fundamentals for %s", ticker)
	return row, nil
}

func (c *Collector) activeStocks(market string) ([]models.Stock, error) {
	query := c.db.Where("is_active = ?", true)
	if market != MarketAll && market != "" {
		query = query.Where("market = ?", market)
	}
	var stocks []models.Stock
	if err := query.Order("ticker").Find(&stocks).Error; err != nil {
		return nil, fmt.Errorf("failed to load stocks: %w", err)
	}
	return stocks, nil
}

func pricePatch(row PriceRow) store.DailyPricePatch {
	return store.DailyPricePatch{
		Open:      row.Open,
		High:      row.High,
		Low:       row.Low,
		Close:     row.Close,
		Volume:    row.Volume,
		ChangePct: row.ChangePct,
	}
}

func resolveMarkets(market string) []string {
	switch market {
	case MarketKospi:
		return []string{MarketKospi}
	case MarketKosdaq:
		return []string{MarketKosdaq}
	default:
		return []string{MarketKospi, MarketKosdaq}
	}
}
