package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Stock represents a listed Korean security (KOSPI or KOSDAQ).
// Deactivation is a soft flag; rows are never deleted so history survives.
type Stock struct {
	Ticker    string    `gorm:"primaryKey;size:10" json:"ticker"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Market    string    `gorm:"size:10;not null" json:"market"` // KOSPI, KOSDAQ
	Sector    *string   `gorm:"size:100" json:"sector"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DailyPrice holds one OHLCV bar per stock per trading date.
// Vendor feeds are frequently partial, so every value column is nullable.
type DailyPrice struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Ticker       string    `gorm:"size:10;not null;uniqueIndex:uq_daily_price_ticker_date" json:"ticker"`
	Date         time.Time `gorm:"type:date;not null;uniqueIndex:uq_daily_price_ticker_date;index:ix_daily_prices_date" json:"date"`
	Open         *int64    `json:"open"`
	High         *int64    `json:"high"`
	Low          *int64    `json:"low"`
	Close        *int64    `json:"close"`
	Volume       *int64    `json:"volume"`
	TradingValue *int64    `json:"trading_value"`
	ChangePct    *float64  `json:"change_pct"`
}

// MarketFundamentals stores the latest known valuation snapshot per stock per
// date. Semantics are "latest known value", not point-in-time truth: newer
// non-null fields overwrite older ones when no same-day row exists yet.
type MarketFundamentals struct {
	ID        uint                `gorm:"primaryKey" json:"id"`
	Ticker    string              `gorm:"size:10;not null;uniqueIndex:uq_fundamentals_ticker_date" json:"ticker"`
	Date      time.Time           `gorm:"type:date;not null;uniqueIndex:uq_fundamentals_ticker_date" json:"date"`
	MarketCap *int64              `json:"market_cap"`
	PER       decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"per"`
	PBR       decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"pbr"`
	DivYield  decimal.NullDecimal `gorm:"type:decimal(8,2)" json:"div_yield"`
	EPS       *int64              `json:"eps"`
	BPS       *int64              `json:"bps"`
	DPS       *int64              `json:"dps"`
}

// MigrateStockModels runs database migrations for stock-related models
func MigrateStockModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Stock{},
		&DailyPrice{},
		&MarketFundamentals{},
	)
}
