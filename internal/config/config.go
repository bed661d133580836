package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the indexer.
type Config struct {
	Database DatabaseConfig

	// JetstreamURL is the Jetstream WebSocket endpoint.
	JetstreamURL string

	// WantedCollections is the server-side collection filter for the stream.
	WantedCollections []string

	// PDSURL is the XRPC host used to fetch blobs and referenced records.
	PDSURL string

	// CacheInvalidationURL receives changed record URIs. Empty disables invalidation.
	CacheInvalidationURL string

	// AdminJWTSecret signs admin bearer tokens. Empty disables admin routes.
	AdminJWTSecret string

	// Port is the HTTP server port.
	Port int

	LogLevel slog.Level

	// QueueSize bounds the number of stream events buffered ahead of processing.
	QueueSize int

	// MaxBatch is the largest micro-batch handed to the dispatcher at once.
	MaxBatch int

	// BatchSize is the number of rows persisted per transaction.
	BatchSize int

	// PageSize is the page size used by reprocessing and maintainers.
	PageSize int

	// JobPollInterval is how often the job runner looks for pending jobs.
	JobPollInterval time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Debug    bool
}

// Load reads configuration from a .env file, if present, and environment
// variables with sensible defaults.
func Load() (*Config, error) {
	// A missing .env file is fine; the environment is used as-is.
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "cabildo"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Debug:    getEnv("DB_DEBUG", "") == "true",
		},
		JetstreamURL:         getEnv("JETSTREAM_URL", "wss://jetstream2.us-east.bsky.network/subscribe"),
		WantedCollections:    splitList(getEnv("WANTED_COLLECTIONS", "ar.cabildoabierto.*,app.bsky.feed.post,app.bsky.feed.like,app.bsky.feed.repost,app.bsky.graph.follow,app.bsky.actor.profile")),
		PDSURL:               getEnv("PDS_URL", "https://bsky.social"),
		CacheInvalidationURL: os.Getenv("CACHE_INVALIDATION_URL"),
		AdminJWTSecret:       os.Getenv("ADMIN_JWT_SECRET"),
	}

	var err error
	if cfg.Port, err = getInt("PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = getInt("QUEUE_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.MaxBatch, err = getInt("MAX_BATCH", 100); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = getInt("BATCH_SIZE", 500); err != nil {
		return nil, err
	}
	if cfg.PageSize, err = getInt("PAGE_SIZE", 500); err != nil {
		return nil, err
	}

	poll := getEnv("JOB_POLL_INTERVAL", "2s")
	if cfg.JobPollInterval, err = time.ParseDuration(poll); err != nil {
		return nil, fmt.Errorf("invalid JOB_POLL_INTERVAL: %w", err)
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
