package models

import (
	"time"

	"gorm.io/gorm"
)

// Impact labels assigned by the out-of-band AI analysis step.
const (
	ImpactPositive = "positive"
	ImpactNegative = "negative"
	ImpactNeutral  = "neutral"
)

// Disclosure is a DART regulatory filing. The vendor receipt number
// (RceptNo) is globally unique and is the sole de-duplication key.
type Disclosure struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	CorpCode      *string    `gorm:"size:20" json:"corp_code"`
	CorpName      *string    `gorm:"size:100" json:"corp_name"`
	Ticker        *string    `gorm:"size:10;index" json:"ticker"`
	ReportNm      *string    `gorm:"size:500" json:"report_nm"`
	RceptNo       string     `gorm:"size:20;uniqueIndex;not null" json:"rcept_no"`
	FlrNm         *string    `gorm:"size:100" json:"flr_nm"`
	RceptDt       *time.Time `gorm:"type:date;index" json:"rcept_dt"`
	ReportType    *string    `gorm:"size:10" json:"report_type"`
	DisclosureURL *string    `gorm:"size:500" json:"disclosure_url"`
	FetchedAt     time.Time  `gorm:"autoCreateTime" json:"fetched_at"`

	// Filled exactly once by an external analysis submission.
	AISummary    *string    `gorm:"type:text" json:"ai_summary"`
	AIImpact     *string    `gorm:"size:20" json:"ai_impact"`
	AIAnalyzedAt *time.Time `json:"ai_analyzed_at"`
}

// MigrateDisclosureModels runs database migrations for disclosure models
func MigrateDisclosureModels(db *gorm.DB) error {
	return db.AutoMigrate(&Disclosure{})
}
