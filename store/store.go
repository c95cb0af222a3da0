// Package store implements reconcile-by-natural-key writes for the time-series
// tables. Upstream snapshots are frequently partial (a listing feed supplies
// price but not EPS, a fundamentals feed supplies EPS but not price), so every
// upsert merges non-null incoming fields into the existing row and leaves the
// rest untouched.
package store

import (
	"errors"
	"time"

	"kstock_insight/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockPatch carries the fields a listing snapshot can refresh on a security.
type StockPatch struct {
	Name   *string
	Market *string
	Sector *string
	Active *bool
}

// UpsertStock inserts a new security or merges the non-nil patch fields into
// the existing row. Deactivation goes through the Active flag only.
func UpsertStock(db *gorm.DB, ticker string, p StockPatch) error {
	var stock models.Stock
	err := db.Where("ticker = ?", ticker).First(&stock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		stock = models.Stock{Ticker: ticker, IsActive: true}
		applyStock(&stock, p)
		if createErr := db.Create(&stock).Error; createErr != nil {
			// Concurrent writer may have won the insert; fall back to merge.
			return mergeStock(db, ticker, p)
		}
		return nil
	}
	if err != nil {
		return err
	}
	applyStock(&stock, p)
	return db.Save(&stock).Error
}

func mergeStock(db *gorm.DB, ticker string, p StockPatch) error {
	var stock models.Stock
	if err := db.Where("ticker = ?", ticker).First(&stock).Error; err != nil {
		return err
	}
	applyStock(&stock, p)
	return db.Save(&stock).Error
}

func applyStock(stock *models.Stock, p StockPatch) {
	if p.Name != nil {
		stock.Name = *p.Name
	}
	if p.Market != nil {
		stock.Market = *p.Market
	}
	if p.Sector != nil {
		stock.Sector = p.Sector
	}
	if p.Active != nil {
		stock.IsActive = *p.Active
	}
}

// DailyPricePatch carries the nullable OHLCV fields of one bar.
type DailyPricePatch struct {
	Open         *int64
	High         *int64
	Low          *int64
	Close        *int64
	Volume       *int64
	TradingValue *int64
	ChangePct    *float64
}

// UpsertDailyPrice reconciles one bar by its (ticker, date) natural key.
func UpsertDailyPrice(db *gorm.DB, ticker string, date time.Time, p DailyPricePatch) error {
	day := Midnight(date)

	var price models.DailyPrice
	err := db.Where("ticker = ? AND date = ?", ticker, day).First(&price).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		price = models.DailyPrice{Ticker: ticker, Date: day}
		applyDailyPrice(&price, p)
		if createErr := db.Create(&price).Error; createErr != nil {
			return mergeDailyPrice(db, ticker, day, p)
		}
		return nil
	}
	if err != nil {
		return err
	}
	applyDailyPrice(&price, p)
	return db.Save(&price).Error
}

func mergeDailyPrice(db *gorm.DB, ticker string, day time.Time, p DailyPricePatch) error {
	var price models.DailyPrice
	if err := db.Where("ticker = ? AND date = ?", ticker, day).First(&price).Error; err != nil {
		return err
	}
	applyDailyPrice(&price, p)
	return db.Save(&price).Error
}

func applyDailyPrice(price *models.DailyPrice, p DailyPricePatch) {
	if p.Open != nil {
		price.Open = p.Open
	}
	if p.High != nil {
		price.High = p.High
	}
	if p.Low != nil {
		price.Low = p.Low
	}
	if p.Close != nil {
		price.Close = p.Close
	}
	if p.Volume != nil {
		price.Volume = p.Volume
	}
	if p.TradingValue != nil {
		price.TradingValue = p.TradingValue
	}
	if p.ChangePct != nil {
		price.ChangePct = p.ChangePct
	}
}

// FundamentalsPatch carries the nullable valuation fields of one snapshot.
type FundamentalsPatch struct {
	MarketCap *int64
	PER       decimal.NullDecimal
	PBR       decimal.NullDecimal
	DivYield  decimal.NullDecimal
	EPS       *int64
	BPS       *int64
	DPS       *int64
}

// UpsertFundamentals reconciles a snapshot by its (ticker, date) natural key.
func UpsertFundamentals(db *gorm.DB, ticker string, date time.Time, p FundamentalsPatch) error {
	day := Midnight(date)

	var fund models.MarketFundamentals
	err := db.Where("ticker = ? AND date = ?", ticker, day).First(&fund).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fund = models.MarketFundamentals{Ticker: ticker, Date: day}
		applyFundamentals(&fund, p)
		if createErr := db.Create(&fund).Error; createErr != nil {
			return mergeFundamentals(db, ticker, day, p)
		}
		return nil
	}
	if err != nil {
		return err
	}
	applyFundamentals(&fund, p)
	return db.Save(&fund).Error
}

// UpsertLatestFundamentals applies "latest known value" semantics: merge into
// the same-day row when one exists, otherwise into the most recent row of any
// date, and only insert a fresh row when the ticker has none at all.
func UpsertLatestFundamentals(db *gorm.DB, ticker string, date time.Time, p FundamentalsPatch) error {
	day := Midnight(date)

	var fund models.MarketFundamentals
	err := db.Where("ticker = ? AND date = ?", ticker, day).First(&fund).Error
	if err == nil {
		applyFundamentals(&fund, p)
		return db.Save(&fund).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	err = db.Where("ticker = ?", ticker).Order("date DESC").First(&fund).Error
	if err == nil {
		applyFundamentals(&fund, p)
		return db.Save(&fund).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	fund = models.MarketFundamentals{Ticker: ticker, Date: day}
	applyFundamentals(&fund, p)
	return db.Create(&fund).Error
}

func mergeFundamentals(db *gorm.DB, ticker string, day time.Time, p FundamentalsPatch) error {
	var fund models.MarketFundamentals
	if err := db.Where("ticker = ? AND date = ?", ticker, day).First(&fund).Error; err != nil {
		return err
	}
	applyFundamentals(&fund, p)
	return db.Save(&fund).Error
}

func applyFundamentals(fund *models.MarketFundamentals, p FundamentalsPatch) {
	if p.MarketCap != nil {
		fund.MarketCap = p.MarketCap
	}
	if p.PER.Valid {
		fund.PER = p.PER
	}
	if p.PBR.Valid {
		fund.PBR = p.PBR
	}
	if p.DivYield.Valid {
		fund.DivYield = p.DivYield
	}
	if p.EPS != nil {
		fund.EPS = p.EPS
	}
	if p.BPS != nil {
		fund.BPS = p.BPS
	}
	if p.DPS != nil {
		fund.DPS = p.DPS
	}
}

// InsertDisclosure stores a filing unless its receipt number is already known.
// Returns true when a new row was written.
func InsertDisclosure(db *gorm.DB, d *models.Disclosure) (bool, error) {
	var existing models.Disclosure
	err := db.Where("rcept_no = ?", d.RceptNo).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	if createErr := db.Create(d).Error; createErr != nil {
		// A concurrent fetcher may have inserted the same receipt number;
		// the uniqueness constraint makes dropping the loser safe.
		var raced models.Disclosure
		if db.Where("rcept_no = ?", d.RceptNo).First(&raced).Error == nil {
			return false, nil
		}
		return false, createErr
	}
	return true, nil
}

// InsertNewsArticle stores an article unless its URL is already known.
// Returns true when a new row was written.
func InsertNewsArticle(db *gorm.DB, a *models.NewsArticle) (bool, error) {
	var existing models.NewsArticle
	err := db.Where("url = ?", a.URL).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	if createErr := db.Create(a).Error; createErr != nil {
		var raced models.NewsArticle
		if db.Where("url = ?", a.URL).First(&raced).Error == nil {
			return false, nil
		}
		return false, createErr
	}
	return true, nil
}

// VolumeSpikePatch is a full detector result for one (ticker, date).
type VolumeSpikePatch struct {
	Volume         int64
	AvgVolume20d   int64
	SpikeRatio     float64
	PriceChangePct *float64
}

// UpsertVolumeSpike overwrites the cached spike row for (ticker, date).
// Unlike the merge upserts above, every field is replaced on each run.
func UpsertVolumeSpike(db *gorm.DB, ticker string, date time.Time, p VolumeSpikePatch) error {
	day := Midnight(date)

	var spike models.VolumeSpike
	err := db.Where("ticker = ? AND date = ?", ticker, day).First(&spike).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		spike = models.VolumeSpike{Ticker: ticker, Date: day}
		applyVolumeSpike(&spike, p)
		if createErr := db.Create(&spike).Error; createErr != nil {
			var raced models.VolumeSpike
			if db.Where("ticker = ? AND date = ?", ticker, day).First(&raced).Error == nil {
				applyVolumeSpike(&raced, p)
				return db.Save(&raced).Error
			}
			return createErr
		}
		return nil
	}
	if err != nil {
		return err
	}
	applyVolumeSpike(&spike, p)
	return db.Save(&spike).Error
}

func applyVolumeSpike(spike *models.VolumeSpike, p VolumeSpikePatch) {
	spike.Volume = p.Volume
	spike.AvgVolume20d = p.AvgVolume20d
	spike.SpikeRatio = p.SpikeRatio
	spike.PriceChangePct = p.PriceChangePct
}

// Midnight truncates a timestamp to its calendar date in UTC, the canonical
// form every date column is stored in.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
