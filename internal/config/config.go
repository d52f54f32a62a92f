// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the collector.
type Config struct {
	AppEnv string `mapstructure:"APP_ENV"`

	// Database Configuration
	DBDriver          string        `mapstructure:"DB_DRIVER"` // "postgres" or "sqlite"
	DBHost            string        `mapstructure:"DB_HOST"`
	DBPort            string        `mapstructure:"DB_PORT"`
	DBUser            string        `mapstructure:"DB_USER"`
	DBPassword        string        `mapstructure:"DB_PASSWORD"`
	DBName            string        `mapstructure:"DB_NAME"`
	DBSSLMode         string        `mapstructure:"DB_SSL_MODE"`
	DBTimezone        string        `mapstructure:"DB_TIMEZONE"`
	DBPath            string        `mapstructure:"DB_PATH"` // sqlite file path
	DBMaxIdleConns    int           `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBMaxOpenConns    int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBConnMaxLifetime time.Duration `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`

	// Logging Configuration
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// Scrape API (external collaborator that returns parsed listing records)
	ScrapeAPIURL     string        `mapstructure:"SCRAPE_API_URL"`
	ScrapeAPIKey     string        `mapstructure:"SCRAPE_API_KEY"`
	ScrapeTimeout    time.Duration `mapstructure:"SCRAPE_TIMEOUT_SECONDS"`
	ScrapeMaxRetries int           `mapstructure:"SCRAPE_MAX_RETRIES"`

	// Collection behaviour
	BootstrapPageLimit   int `mapstructure:"BOOTSTRAP_PAGE_LIMIT"`
	DailyPageLimit       int `mapstructure:"DAILY_PAGE_LIMIT"`
	TestPageLimit        int `mapstructure:"TEST_PAGE_LIMIT"`
	MissingDaysThreshold int `mapstructure:"MISSING_DAYS_THRESHOLD"`
	MaxListingAgeDays    int `mapstructure:"MAX_LISTING_AGE_DAYS"`
	ResolverWorkers      int `mapstructure:"RESOLVER_WORKERS"`

	// Cron Jobs
	CollectionJobSchedule string `mapstructure:"COLLECTION_JOB_SCHEDULE"`
}

// Load attempts to load configuration from a .env file (if present) and
// environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	v := viper.New()

	// Set default values
	v.SetDefault("APP_ENV", "development")

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "tikrakaina")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_TIMEZONE", "UTC")
	v.SetDefault("DB_PATH", "collector.db")
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)
	v.SetDefault("DB_MAX_OPEN_CONNS", 100)
	v.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 60)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("SCRAPE_API_URL", "http://localhost:9020")
	v.SetDefault("SCRAPE_API_KEY", "")
	v.SetDefault("SCRAPE_TIMEOUT_SECONDS", 30)
	v.SetDefault("SCRAPE_MAX_RETRIES", 3)

	v.SetDefault("BOOTSTRAP_PAGE_LIMIT", 100)
	v.SetDefault("DAILY_PAGE_LIMIT", 70)
	v.SetDefault("TEST_PAGE_LIMIT", 5)
	v.SetDefault("MISSING_DAYS_THRESHOLD", 3)
	v.SetDefault("MAX_LISTING_AGE_DAYS", 40)
	v.SetDefault("RESOLVER_WORKERS", 4)

	v.SetDefault("COLLECTION_JOB_SCHEDULE", "")

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling configuration: %w", err)
	}

	// Convert duration fields
	cfg.ScrapeTimeout = time.Duration(v.GetInt("SCRAPE_TIMEOUT_SECONDS")) * time.Second
	cfg.DBConnMaxLifetime = time.Duration(v.GetInt("DB_CONN_MAX_LIFETIME_MINUTES")) * time.Minute

	// Basic validation for critical configs
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if driver != "postgres" && driver != "sqlite" {
		return nil, fmt.Errorf("DB_DRIVER must be \"postgres\" or \"sqlite\", got %q", cfg.DBDriver)
	}
	cfg.DBDriver = driver

	if cfg.MissingDaysThreshold < 1 {
		return nil, fmt.Errorf("MISSING_DAYS_THRESHOLD must be >= 1, got %d", cfg.MissingDaysThreshold)
	}
	if cfg.ResolverWorkers < 1 {
		cfg.ResolverWorkers = 1
	}

	return &cfg, nil
}

// PostgresDSN builds the GORM DSN from the individual DB_* parameters.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode, c.DBTimezone)
}
