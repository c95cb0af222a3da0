package controllers

import (
	"context"
	"net/http"
	"time"

	"kstock_insight/models"
	"kstock_insight/scheduler"
	"kstock_insight/services/background"
	"kstock_insight/services/marketdata"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SystemController handles admin and operational requests
type SystemController struct {
	db        *gorm.DB
	collector *marketdata.Collector
	scheduler *scheduler.Scheduler
	pool      *background.Pool
}

// NewSystemController creates a new system controller
func NewSystemController(db *gorm.DB, collector *marketdata.Collector, sched *scheduler.Scheduler, pool *background.Pool) *SystemController {
	return &SystemController{db: db, collector: collector, scheduler: sched, pool: pool}
}

// GetStatus reports row counts and scheduler state
// GET /api/system/status
func (sc *SystemController) GetStatus(c *gin.Context) {
	var stocks, prices, disclosures, articles, spikes int64
	sc.db.Model(&models.Stock{}).Count(&stocks)
	sc.db.Model(&models.DailyPrice{}).Count(&prices)
	sc.db.Model(&models.Disclosure{}).Count(&disclosures)
	sc.db.Model(&models.NewsArticle{}).Count(&articles)
	sc.db.Model(&models.VolumeSpike{}).Count(&spikes)

	c.JSON(http.StatusOK, gin.H{
		"counts": gin.H{
			"stocks":        stocks,
			"daily_prices":  prices,
			"disclosures":   disclosures,
			"news_articles": articles,
			"volume_spikes": spikes,
		},
		"scheduler": sc.scheduler.Status(),
	})
}

// SyncStocks triggers a background stock list sync
// POST /api/system/sync-stocks
func (sc *SystemController) SyncStocks(c *gin.Context) {
	market := c.Query("market")

	err := sc.pool.Submit("sync_stocks", func() {
		sc.collector.SyncStockList(context.Background(), market)
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Task queue is full, try again later"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Stock sync started"})
}

// FetchPrices triggers a background price fetch for one date
// POST /api/system/fetch-prices
func (sc *SystemController) FetchPrices(c *gin.Context) {
	target := time.Now()
	if v := c.Query("date"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date, expected YYYY-MM-DD"})
			return
		}
		target = parsed
	}
	market := c.Query("market")

	err := sc.pool.Submit("fetch_prices", func() {
		sc.collector.FetchDailyPrices(context.Background(), target, market)
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Task queue is full, try again later"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Price fetch started", "date": target.Format("2006-01-02")})
}

// BackfillPrices triggers a background history backfill across the universe
// POST /api/system/backfill-prices
func (sc *SystemController) BackfillPrices(c *gin.Context) {
	var req struct {
		StartDate string `json:"start_date" binding:"required"`
		EndDate   string `json:"end_date"`
		Market    string `json:"market"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date is required"})
		return
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start_date, expected YYYY-MM-DD"})
		return
	}
	end := time.Now()
	if req.EndDate != "" {
		end, err = time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end_date, expected YYYY-MM-DD"})
			return
		}
	}
	if end.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must not precede start_date"})
		return
	}

	err = sc.pool.Submit("backfill_prices", func() {
		sc.collector.BackfillPrices(context.Background(), start, end, req.Market)
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Task queue is full, try again later"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Backfill started"})
}

// FetchFundamentals triggers a background fundamentals fetch for one ticker
// POST /api/system/fetch-fundamentals
func (sc *SystemController) FetchFundamentals(c *gin.Context) {
	var req struct {
		Ticker string `json:"ticker" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ticker is required"})
		return
	}

	err := sc.pool.Submit("fetch_fundamentals", func() {
		sc.collector.FetchFundamentals(context.Background(), req.Ticker)
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Task queue is full, try again later"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Fundamentals fetch started", "ticker": req.Ticker})
}

// GetSchedulerStatus reports the job table
// GET /api/system/scheduler
func (sc *SystemController) GetSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, sc.scheduler.Status())
}

// RunSchedulerJob runs one scheduled job immediately, by name
// POST /api/system/scheduler/jobs/:name/run
func (sc *SystemController) RunSchedulerJob(c *gin.Context) {
	name := c.Param("name")

	known := false
	for _, job := range sc.scheduler.Status().Jobs {
		if job.Name == name {
			known = true
			break
		}
	}
	if !known {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown job: " + name})
		return
	}

	err := sc.pool.Submit("run_job_"+name, func() {
		sc.scheduler.RunJob(name)
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Task queue is full, try again later"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Job started", "job": name})
}
