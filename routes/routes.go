package routes

import (
	"kstock_insight/controllers"
	"kstock_insight/middleware"
	"kstock_insight/scheduler"
	"kstock_insight/services/analysis"
	"kstock_insight/services/background"
	"kstock_insight/services/dart"
	"kstock_insight/services/marketdata"
	"kstock_insight/services/momentum"
	"kstock_insight/services/news"
	"kstock_insight/services/screener"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps carries the shared collaborators the HTTP layer serves. They are
// constructed once in main and shared with the scheduler.
type Deps struct {
	DB          *gorm.DB
	AdminKey    string
	Prices      *marketdata.Collector
	Screener    *screener.Screener
	Momentum    *momentum.Scorer
	Analyzer    *analysis.Analyzer
	Disclosures *dart.Collector
	News        *news.Collector
	Scheduler   *scheduler.Scheduler
	Pool        *background.Pool
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Deps) {
	// Initialize controllers
	stockController := controllers.NewStockController(deps.DB, deps.Prices)
	screenerController := controllers.NewScreenerController(deps.Screener, deps.Momentum)
	analysisController := controllers.NewAnalysisController(deps.Analyzer)
	disclosureController := controllers.NewDisclosureController(deps.DB, deps.Disclosures, deps.Pool)
	newsController := controllers.NewNewsController(deps.DB, deps.News, deps.Pool)
	systemController := controllers.NewSystemController(deps.DB, deps.Prices, deps.Scheduler, deps.Pool)

	adminAuth := middleware.AdminAuthMiddleware(deps.AdminKey)

	api := router.Group("/api")
	{
		// Stock routes
		stocks := api.Group("/stocks")
		{
			stocks.GET("", stockController.GetStocks)
			stocks.GET("/:ticker", stockController.GetStock)
			stocks.GET("/:ticker/prices", stockController.GetStockPrices)
			stocks.GET("/:ticker/fundamentals", stockController.GetStockFundamentals)
		}

		// Screener routes
		scr := api.Group("/screener")
		{
			scr.GET("/top-gainers", screenerController.GetTopGainers)
			scr.GET("/top-losers", screenerController.GetTopLosers)
			scr.GET("/volume-spikes", screenerController.GetVolumeSpikes)
			scr.GET("/new-highs", screenerController.GetNewHighs)
			scr.GET("/momentum", screenerController.GetMomentumRankings)
			scr.GET("/momentum/:ticker", screenerController.GetMomentumScore)
		}

		// Analysis routes
		api.GET("/analysis/why-moving/:ticker", analysisController.GetWhyMoving)

		// Disclosure routes
		disclosures := api.Group("/disclosures")
		{
			disclosures.GET("", disclosureController.GetDisclosures)
			disclosures.POST("/fetch", adminAuth, disclosureController.FetchDisclosures)
			disclosures.POST("/:rcept_no/analysis", adminAuth, disclosureController.SubmitAnalysis)
		}

		// News routes
		newsGroup := api.Group("/news")
		{
			newsGroup.GET("", newsController.GetNews)
			newsGroup.POST("/fetch", adminAuth, newsController.FetchNews)
		}

		// System routes, admin-guarded except read-only status
		system := api.Group("/system")
		{
			system.GET("/status", systemController.GetStatus)
			system.GET("/scheduler", systemController.GetSchedulerStatus)
			system.POST("/sync-stocks", adminAuth, systemController.SyncStocks)
			system.POST("/fetch-prices", adminAuth, systemController.FetchPrices)
			system.POST("/backfill-prices", adminAuth, systemController.BackfillPrices)
			system.POST("/fetch-fundamentals", adminAuth, systemController.FetchFundamentals)
			system.POST("/scheduler/jobs/:name/run", adminAuth, systemController.RunSchedulerJob)
		}
	}
}
