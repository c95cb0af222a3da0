package controllers

import (
	"net/http"
	"strconv"

	"kstock_insight/services/momentum"
	"kstock_insight/services/screener"

	"github.com/gin-gonic/gin"
)

// ScreenerController handles market screening requests
type ScreenerController struct {
	screener *screener.Screener
	momentum *momentum.Scorer
}

// NewScreenerController creates a new screener controller
func NewScreenerController(scr *screener.Screener, scorer *momentum.Scorer) *ScreenerController {
	return &ScreenerController{screener: scr, momentum: scorer}
}

// GetTopGainers returns the top gaining stocks for a period
// GET /api/screener/top-gainers
func (sc *ScreenerController) GetTopGainers(c *gin.Context) {
	market := c.Query("market")
	period := c.DefaultQuery("period", screener.Period1D)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	items, err := sc.screener.TopGainers(market, period, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute top gainers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "period": period, "count": len(items)})
}

// GetTopLosers returns the top losing stocks for a period
// GET /api/screener/top-losers
func (sc *ScreenerController) GetTopLosers(c *gin.Context) {
	market := c.Query("market")
	period := c.DefaultQuery("period", screener.Period1D)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	items, err := sc.screener.TopLosers(market, period, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute top losers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "period": period, "count": len(items)})
}

// GetVolumeSpikes returns stocks trading far above their usual volume
// GET /api/screener/volume-spikes
func (sc *ScreenerController) GetVolumeSpikes(c *gin.Context) {
	market := c.Query("market")
	minRatio, _ := strconv.ParseFloat(c.DefaultQuery("min_ratio", "2.0"), 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))

	items, err := sc.screener.VolumeSpikes(market, minRatio, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute volume spikes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "min_ratio": minRatio, "count": len(items)})
}

// GetNewHighs returns stocks at or near their trailing period high
// GET /api/screener/new-highs
func (sc *ScreenerController) GetNewHighs(c *gin.Context) {
	market := c.Query("market")
	weeks, _ := strconv.Atoi(c.DefaultQuery("weeks", "52"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))

	items, err := sc.screener.NewHighs(market, weeks, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute new highs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "weeks": weeks, "count": len(items)})
}

// GetMomentumRankings returns the momentum score leaderboard
// GET /api/screener/momentum
func (sc *ScreenerController) GetMomentumRankings(c *gin.Context) {
	market := c.Query("market")
	minScore, _ := strconv.ParseFloat(c.DefaultQuery("min_score", "0"), 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))

	items, err := sc.momentum.Rankings(market, minScore, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute momentum rankings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "count": len(items)})
}

// GetMomentumScore returns the momentum score for one stock
// GET /api/screener/momentum/:ticker
func (sc *ScreenerController) GetMomentumScore(c *gin.Context) {
	ticker := c.Param("ticker")

	score, err := sc.momentum.Score(ticker)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute momentum score"})
		return
	}
	if score == nil {
		c.JSON(http.StatusOK, gin.H{"ticker": ticker, "score": nil, "message": "Insufficient price history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticker": ticker, "score": score})
}
