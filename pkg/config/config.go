package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Catalog sources
const (
	CatalogSourceFile     = "file"
	CatalogSourcePostgres = "postgres"
)

// ErrMissingConfig is returned when a required key is unset
var ErrMissingConfig = errors.New("missing required configuration")

// Config holds all application configuration
type Config struct {
	Tables        TablesConfig
	Database      DatabaseConfig
	Pipeline      PipelineConfig
	Observability ObservabilityConfig
}

// TablesConfig locates the rule table and the product catalog
type TablesConfig struct {
	RulesPath       string // empty uses the built-in rule table
	CatalogPath     string
	CatalogSource   string
	CatalogVendor   string // postgres only; empty loads every vendor
	RefreshSchedule string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type PipelineConfig struct {
	ReviewThreshold  float64
	MinSimilarity    float64
	ReconcileVendors []string
	Workers          int
	Currency         string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPort    int
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Tables: TablesConfig{
			RulesPath:       getEnv("RULES_PATH", ""),
			CatalogPath:     getEnv("CATALOG_PATH", ""),
			CatalogSource:   strings.ToLower(getEnv("CATALOG_SOURCE", CatalogSourceFile)),
			CatalogVendor:   getEnv("CATALOG_VENDOR", ""),
			RefreshSchedule: getEnv("TABLE_REFRESH_SCHEDULE", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "receipts"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Pipeline: PipelineConfig{
			ReviewThreshold:  getEnvAsFloat("REVIEW_THRESHOLD", 0.60),
			MinSimilarity:    getEnvAsFloat("MIN_SIMILARITY", 0.70),
			ReconcileVendors: getEnvAsList("RECONCILE_VENDORS", []string{"RD", "RESTAURANT_DEPOT"}),
			Workers:          getEnvAsInt("PIPELINE_WORKERS", 4),
			Currency:         strings.ToUpper(getEnv("CURRENCY", "USD")),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and required keys
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.ReviewThreshold < 0 || p.ReviewThreshold > 1 {
		return fmt.Errorf("REVIEW_THRESHOLD must be within [0,1], got %v", p.ReviewThreshold)
	}
	if p.MinSimilarity < 0 || p.MinSimilarity > 1 {
		return fmt.Errorf("MIN_SIMILARITY must be within [0,1], got %v", p.MinSimilarity)
	}
	if p.Workers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be at least 1, got %d", p.Workers)
	}

	switch c.Tables.CatalogSource {
	case CatalogSourceFile:
		if c.Tables.CatalogPath == "" {
			return fmt.Errorf("%w: CATALOG_PATH", ErrMissingConfig)
		}
	case CatalogSourcePostgres:
	default:
		return fmt.Errorf("CATALOG_SOURCE must be %q or %q, got %q", CatalogSourceFile, CatalogSourcePostgres, c.Tables.CatalogSource)
	}
	return nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
