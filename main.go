package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kstock_insight/config"
	"kstock_insight/models"
	"kstock_insight/routes"
	"kstock_insight/scheduler"
	"kstock_insight/services/analysis"
	"kstock_insight/services/background"
	"kstock_insight/services/dart"
	"kstock_insight/services/marketdata"
	"kstock_insight/services/momentum"
	"kstock_insight/services/news"
	"kstock_insight/services/ratelimit"
	"kstock_insight/services/screener"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func main() {
	log.Println("==============================================")
	log.Println("  KStock Insight API - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database connection
	db, err := config.InitDB()
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}

	// Run database migrations
	log.Println("Running database migrations...")
	if err := runMigrations(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Database migrations completed successfully")

	// Build collectors and analytics around the shared rate limiter
	limiter, err := ratelimit.New(cfg.MarketCallsPerSecond)
	if err != nil {
		log.Fatalf("Rate limiter config error: %v", err)
	}

	priceCollector := marketdata.NewCollector(db, marketdata.NewNaverClient(), limiter)
	scr := screener.New(db)
	scorer := momentum.New(db)

	var dartClient dart.Client
	if cfg.DartAPIKey != "" {
		dartClient, err = dart.NewOpenDartClient(cfg.DartAPIKey)
		if err != nil {
			log.Fatalf("DART client config error: %v", err)
		}
	} else {
		log.Println("DART_API_KEY not set, disclosure fetching disabled")
		dartClient = dart.NoopClient{}
	}
	disclosureCollector := dart.NewCollector(db, dartClient)

	newsCollector := news.NewCollector(db, news.NewNaverClient())
	analyzer := analysis.New(db, disclosureCollector, newsCollector)

	pool := background.NewPool(cfg.Workers, cfg.QueueSize)

	jobScheduler, err := scheduler.New(db, priceCollector, scr, disclosureCollector, newsCollector)
	if err != nil {
		log.Fatalf("Scheduler setup failed: %v", err)
	}

	// Create Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	setupHealthEndpoints(router, db)

	routes.SetupRoutes(router, routes.Deps{
		DB:          db,
		AdminKey:    cfg.AdminKey,
		Prices:      priceCollector,
		Screener:    scr,
		Momentum:    scorer,
		Analyzer:    analyzer,
		Disclosures: disclosureCollector,
		News:        newsCollector,
		Scheduler:   jobScheduler,
		Pool:        pool,
	})

	jobScheduler.Start()

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	gracefulShutdown(server, jobScheduler, pool, db)
}

// runMigrations runs all database migrations
func runMigrations(db *gorm.DB) error {
	if err := models.MigrateStockModels(db); err != nil {
		return err
	}
	if err := models.MigrateDisclosureModels(db); err != nil {
		return err
	}
	if err := models.MigrateNewsModels(db); err != nil {
		return err
	}
	return models.MigrateAnalysisModels(db)
}

// setupHealthEndpoints sets up liveness and readiness probes
func setupHealthEndpoints(router *gin.Engine, db *gorm.DB) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "KStock Insight API",
			"version": "1.0.0",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness probe - checks the database connection
	router.GET("/ready", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.Ping() != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database not reachable",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Admin-Key, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests to keep output readable
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown stops the scheduler, drains background work, and shuts
// down the HTTP server on SIGINT/SIGTERM.
func gracefulShutdown(server *http.Server, jobScheduler *scheduler.Scheduler, pool *background.Pool, db *gorm.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	jobScheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := pool.Shutdown(ctx); err != nil {
		log.Printf("Background pool drain interrupted: %v", err)
	}

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
		log.Println("Database connection closed")
	}

	log.Println("Server shutdown completed")
}
