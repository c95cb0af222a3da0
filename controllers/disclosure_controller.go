package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"kstock_insight/services/background"
	"kstock_insight/services/dart"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// DisclosureController handles regulatory filing requests
type DisclosureController struct {
	db        *gorm.DB
	collector *dart.Collector
	pool      *background.Pool
}

// NewDisclosureController creates a new disclosure controller
func NewDisclosureController(db *gorm.DB, collector *dart.Collector, pool *background.Pool) *DisclosureController {
	return &DisclosureController{db: db, collector: collector, pool: pool}
}

// GetDisclosures lists stored filings, newest first
// GET /api/disclosures
func (dc *DisclosureController) GetDisclosures(c *gin.Context) {
	filter := dart.Filter{Ticker: c.Query("ticker")}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))

	if v := c.Query("start_date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start_date, expected YYYY-MM-DD"})
			return
		}
		filter.StartDate = &t
	}
	if v := c.Query("end_date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end_date, expected YYYY-MM-DD"})
			return
		}
		filter.EndDate = &t
	}

	items, err := dart.Get(dc.db, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch disclosures"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "count": len(items)})
}

// FetchDisclosures triggers a background disclosure fetch, per ticker or for
// a whole day
// POST /api/disclosures/fetch
func (dc *DisclosureController) FetchDisclosures(c *gin.Context) {
	var req struct {
		Ticker string `json:"ticker"`
		Date   string `json:"date"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Ticker == "" && req.Date == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Either ticker or date is required"})
		return
	}

	var day time.Time
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date, expected YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	err := dc.pool.Submit("fetch_disclosures", func() {
		if req.Ticker != "" {
			dc.collector.FetchForTicker(context.Background(), req.Ticker, nil, nil)
			return
		}
		dc.collector.FetchByDate(context.Background(), day)
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Fetch queue is full, try again later"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Disclosure fetch started"})
}

// SubmitAnalysis stores the AI summary and impact for one filing, once
// POST /api/disclosures/:rcept_no/analysis
func (dc *DisclosureController) SubmitAnalysis(c *gin.Context) {
	rceptNo := c.Param("rcept_no")

	var req struct {
		Summary string `json:"summary" binding:"required"`
		Impact  string `json:"impact" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "summary and impact are required"})
		return
	}

	err := dart.SubmitAnalysis(dc.db, rceptNo, req.Summary, req.Impact)
	switch {
	case errors.Is(err, dart.ErrDisclosureNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Disclosure not found"})
	case errors.Is(err, dart.ErrAlreadyAnalyzed):
		c.JSON(http.StatusConflict, gin.H{"error": "Disclosure already analyzed"})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Analysis saved"})
	}
}
