package controllers

import (
	"context"
	"net/http"
	"strconv"

	"kstock_insight/services/background"
	"kstock_insight/services/news"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// NewsController handles financial news requests
type NewsController struct {
	db        *gorm.DB
	collector *news.Collector
	pool      *background.Pool
}

// NewNewsController creates a new news controller
func NewNewsController(db *gorm.DB, collector *news.Collector, pool *background.Pool) *NewsController {
	return &NewsController{db: db, collector: collector, pool: pool}
}

// GetNews lists stored articles, newest publish date first
// GET /api/news
func (nc *NewsController) GetNews(c *gin.Context) {
	ticker := c.Query("ticker")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))

	items, err := news.Get(nc.db, ticker, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch news"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "count": len(items)})
}

// FetchNews triggers a background news scrape for one ticker
// POST /api/news/fetch
func (nc *NewsController) FetchNews(c *gin.Context) {
	var req struct {
		Ticker string `json:"ticker" binding:"required"`
		Pages  int    `json:"pages"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ticker is required"})
		return
	}
	if req.Pages < 1 || req.Pages > 10 {
		req.Pages = 2
	}

	err := nc.pool.Submit("fetch_news", func() {
		nc.collector.FetchForTicker(context.Background(), req.Ticker, req.Pages)
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Fetch queue is full, try again later"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "News fetch started", "ticker": req.Ticker})
}
