package controllers

import (
	"net/http"
	"strconv"
	"time"

	"kstock_insight/models"
	"kstock_insight/services/marketdata"
	"kstock_insight/store"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// StockController handles stock-related requests
type StockController struct {
	db        *gorm.DB
	collector *marketdata.Collector
}

// NewStockController creates a new stock controller
func NewStockController(db *gorm.DB, collector *marketdata.Collector) *StockController {
	return &StockController{db: db, collector: collector}
}

// GetStocks returns the listed-stock universe
// GET /api/stocks
func (sc *StockController) GetStocks(c *gin.Context) {
	market := c.Query("market")
	search := c.Query("search")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset := (page - 1) * limit

	query := sc.db.Model(&models.Stock{}).Where("is_active = ?", true)
	if market != "" {
		query = query.Where("market = ?", market)
	}
	if search != "" {
		query = query.Where("name LIKE ? OR ticker LIKE ?", "%"+search+"%", search+"%")
	}

	var total int64
	query.Count(&total)

	var stocks []models.Stock
	if err := query.Order("ticker").Limit(limit).Offset(offset).Find(&stocks).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stocks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": stocks,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetStock returns one stock with its latest bar and fundamentals
// GET /api/stocks/:ticker
func (sc *StockController) GetStock(c *gin.Context) {
	ticker := c.Param("ticker")

	var stock models.Stock
	if err := sc.db.Where("ticker = ?", ticker).First(&stock).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Stock not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stock"})
		return
	}

	var latestPrice *models.DailyPrice
	var price models.DailyPrice
	if err := sc.db.Where("ticker = ?", ticker).Order("date DESC").First(&price).Error; err == nil {
		latestPrice = &price
	}

	var fundamentals *models.MarketFundamentals
	var fund models.MarketFundamentals
	if err := sc.db.Where("ticker = ?", ticker).Order("date DESC").First(&fund).Error; err == nil {
		fundamentals = &fund
	}

	c.JSON(http.StatusOK, gin.H{
		"data":         stock,
		"latest_price": latestPrice,
		"fundamentals": fundamentals,
	})
}

// GetStockPrices returns the trailing bar history for a stock. An empty
// series triggers a synchronous history fetch before re-reading, so the first
// request for a fresh ticker still returns data.
// GET /api/stocks/:ticker/prices
func (sc *StockController) GetStockPrices(c *gin.Context) {
	ticker := c.Param("ticker")

	var stock models.Stock
	if err := sc.db.Where("ticker = ?", ticker).First(&stock).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stock not found"})
		return
	}

	days, _ := strconv.Atoi(c.DefaultQuery("days", "90"))
	if days < 1 || days > 3650 {
		days = 90
	}
	end := store.Midnight(time.Now())
	start := end.AddDate(0, 0, -days)

	prices, err := sc.readPrices(ticker, start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch prices"})
		return
	}
	if len(prices) == 0 {
		// Self-healing fetch; its failure is already logged by the collector.
		sc.collector.FetchPricesBulk(c.Request.Context(), ticker, start, end)
		prices, err = sc.readPrices(ticker, start, end)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch prices"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   prices,
		"ticker": ticker,
		"count":  len(prices),
	})
}

func (sc *StockController) readPrices(ticker string, start, end time.Time) ([]models.DailyPrice, error) {
	var prices []models.DailyPrice
	err := sc.db.Where("ticker = ? AND date >= ? AND date <= ?", ticker, start, end).
		Order("date DESC").
		Find(&prices).Error
	return prices, err
}

// GetStockFundamentals returns valuation snapshots for a stock
// GET /api/stocks/:ticker/fundamentals
func (sc *StockController) GetStockFundamentals(c *gin.Context) {
	ticker := c.Param("ticker")

	var rows []models.MarketFundamentals
	if err := sc.db.Where("ticker = ?", ticker).Order("date DESC").Limit(30).Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch fundamentals"})
		return
	}
	if len(rows) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No fundamentals for stock"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rows})
}
