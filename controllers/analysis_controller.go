package controllers

import (
	"errors"
	"net/http"
	"time"

	"kstock_insight/services/analysis"

	"github.com/gin-gonic/gin"
)

// AnalysisController handles correlation analysis requests
type AnalysisController struct {
	analyzer *analysis.Analyzer
}

// NewAnalysisController creates a new analysis controller
func NewAnalysisController(analyzer *analysis.Analyzer) *AnalysisController {
	return &AnalysisController{analyzer: analyzer}
}

// GetWhyMoving explains a stock's move on a date (today by default)
// GET /api/analysis/why-moving/:ticker
func (ac *AnalysisController) GetWhyMoving(c *gin.Context) {
	ticker := c.Param("ticker")

	var target time.Time
	if dateStr := c.Query("date"); dateStr != "" {
		parsed, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date, expected YYYY-MM-DD"})
			return
		}
		target = parsed
	}

	report, err := ac.analyzer.WhyMoving(c.Request.Context(), ticker, target)
	if err != nil {
		if errors.Is(err, analysis.ErrStockNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Stock not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to analyze stock"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}
