package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port        string
	DatabaseURL string
	DartAPIKey  string
	AdminKey    string
	Environment string

	// External call pacing, calls per second against the market data source.
	MarketCallsPerSecond float64

	// Background pool sizing.
	Workers   int
	QueueSize int
}

var AppConfig *Config
var DB *gorm.DB

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	callsPerSecond, err := getEnvFloat("MARKET_CALLS_PER_SECOND", 5)
	if err != nil {
		return nil, err
	}
	workers, err := getEnvInt("BACKGROUND_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	queueSize, err := getEnvInt("BACKGROUND_QUEUE_SIZE", 64)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Port:                 getEnv("PORT", "8080"),
		DatabaseURL:          getEnv("DATABASE_URL", "sqlite:///./data/stocks.db"),
		DartAPIKey:           getEnv("DART_API_KEY", ""),
		AdminKey:             getEnv("ADMIN_KEY", ""),
		Environment:          getEnv("ENVIRONMENT", "development"),
		MarketCallsPerSecond: callsPerSecond,
		Workers:              workers,
		QueueSize:            queueSize,
	}

	if config.MarketCallsPerSecond <= 0 {
		return nil, fmt.Errorf("MARKET_CALLS_PER_SECOND must be positive, got %v", config.MarketCallsPerSecond)
	}
	if config.Workers <= 0 || config.QueueSize <= 0 {
		return nil, fmt.Errorf("background pool sizing must be positive (workers=%d queue=%d)", config.Workers, config.QueueSize)
	}
	if config.Environment == "production" && config.AdminKey == "" {
		return nil, fmt.Errorf("ADMIN_KEY is required in production")
	}

	AppConfig = config
	return config, nil
}

// InitDB initializes the database connection. DATABASE_URL selects the
// driver: postgres:// URLs go to Postgres, sqlite:// paths (the default) to
// an embedded file database.
func InitDB() (*gorm.DB, error) {
	var logLevel logger.LogLevel
	if AppConfig.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}
	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logLevel)}

	url := AppConfig.DatabaseURL
	var db *gorm.DB
	var err error

	switch {
	case strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://"):
		log.Printf("Connecting to postgres database: %s", maskURL(url))
		db, err = gorm.Open(postgres.Open(url), gormConfig)
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		path = strings.TrimPrefix(path, "/")
		if dir := dirOf(path); dir != "" {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, mkErr)
			}
		}
		log.Printf("Connecting to sqlite database: %s", path)
		db, err = gorm.Open(sqlite.Open(path), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme: %s", maskURL(url))
	}

	if err != nil {
		log.Printf("Database connection error: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Printf("Database connection verified successfully")
	DB = db
	return db, nil
}

// maskURL hides credentials embedded in a connection URL for logging.
func maskURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at == -1 {
		return url
	}
	scheme := strings.Index(url, "://")
	if scheme == -1 {
		return "***" + url[at:]
	}
	return url[:scheme+3] + "***" + url[at:]
}

func dirOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Malformed numeric values are configuration errors, not something to paper
// over with a default.
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
	return f, nil
}
