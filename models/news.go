package models

import (
	"time"

	"gorm.io/gorm"
)

// NewsArticle is a scraped finance news item. The canonical article URL is
// unique and acts as the de-duplication key; articles without a resolvable
// publish date sort last in listings.
type NewsArticle struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Ticker      *string    `gorm:"size:10;index" json:"ticker"`
	Title       *string    `gorm:"size:500" json:"title"`
	Summary     *string    `gorm:"type:text" json:"summary"`
	Source      *string    `gorm:"size:100" json:"source"`
	URL         string     `gorm:"size:500;uniqueIndex;not null" json:"url"`
	PublishedAt *time.Time `json:"published_at"`
	ScrapedAt   time.Time  `gorm:"autoCreateTime" json:"scraped_at"`
}

// MigrateNewsModels runs database migrations for news models
func MigrateNewsModels(db *gorm.DB) error {
	return db.AutoMigrate(&NewsArticle{})
}
