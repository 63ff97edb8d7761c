package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnv overrides cfg with PTTCRAWL_* environment variables. Values that
// fail to parse are ignored.
func applyEnv(cfg *Config) {
	cfg.Board = getEnv("PTTCRAWL_BOARD", cfg.Board)

	cfg.Fetcher.UserAgent = getEnv("PTTCRAWL_USER_AGENT", cfg.Fetcher.UserAgent)
	cfg.Fetcher.RequestTimeout = getEnvDuration("PTTCRAWL_REQUEST_TIMEOUT", cfg.Fetcher.RequestTimeout)
	cfg.Fetcher.RateInterval = getEnvDuration("PTTCRAWL_RATE_INTERVAL", cfg.Fetcher.RateInterval)
	cfg.Fetcher.Over18 = getEnvBool("PTTCRAWL_OVER18", cfg.Fetcher.Over18)

	cfg.Crawl.BaseURL = getEnv("PTTCRAWL_BASE_URL", cfg.Crawl.BaseURL)
	cfg.Crawl.MaxPages = getEnvInt("PTTCRAWL_MAX_PAGES", cfg.Crawl.MaxPages)
	cfg.Crawl.PageRetries = getEnvInt("PTTCRAWL_PAGE_RETRIES", cfg.Crawl.PageRetries)
	cfg.Crawl.Concurrency = getEnvInt("PTTCRAWL_CONCURRENCY", cfg.Crawl.Concurrency)

	cfg.Content.Retries = getEnvInt("PTTCRAWL_CONTENT_RETRIES", cfg.Content.Retries)

	cfg.Archive.DSN = getEnv("PTTCRAWL_ARCHIVE_DSN", cfg.Archive.DSN)

	cfg.Log.Level = getEnv("PTTCRAWL_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Encoding = getEnv("PTTCRAWL_LOG_FORMAT", cfg.Log.Encoding)
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration parses a duration from environment variable or returns default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvInt parses an int from environment variable or returns default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool parses a bool from environment variable or returns default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
