package models

import (
	"time"

	"gorm.io/gorm"
)

// VolumeSpike caches a detected volume anomaly for one stock on one date.
// The detector overwrites the row for (ticker, date) on every run; duplicate
// dates are never appended.
type VolumeSpike struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Ticker         string    `gorm:"size:10;not null;uniqueIndex:uq_volume_spike_ticker_date" json:"ticker"`
	Date           time.Time `gorm:"type:date;not null;uniqueIndex:uq_volume_spike_ticker_date" json:"date"`
	Volume         int64     `gorm:"not null" json:"volume"`
	AvgVolume20d   int64     `gorm:"not null" json:"avg_volume_20d"`
	SpikeRatio     float64   `gorm:"not null" json:"spike_ratio"`
	PriceChangePct *float64  `json:"price_change_pct"`
}

// MigrateAnalysisModels runs database migrations for analysis models
func MigrateAnalysisModels(db *gorm.DB) error {
	return db.AutoMigrate(&VolumeSpike{})
}
