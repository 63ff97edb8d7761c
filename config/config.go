// Package config resolves crawler settings from defaults, an optional YAML
// file and PTTCRAWL_* environment variables, in increasing order of
// precedence.
package config

import (
	"fmt"
	"time"

	"github.com/pevans/pttcrawl/content"
	"github.com/pevans/pttcrawl/crawl"
	"github.com/pevans/pttcrawl/fetcher"
)

// DefaultBoard is crawled when no board is given.
const DefaultBoard = "Stock"

// Config holds every tunable setting.
type Config struct {
	Board   string        `yaml:"board"`
	Fetcher FetcherConfig `yaml:"fetcher"`
	Crawl   CrawlConfig   `yaml:"crawl"`
	Content ContentConfig `yaml:"content"`
	Archive ArchiveConfig `yaml:"archive"`
	Log     LogConfig     `yaml:"log"`
}

// FetcherConfig configures the HTTP transport.
type FetcherConfig struct {
	UserAgent      string        `yaml:"user_agent"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateInterval   time.Duration `yaml:"rate_interval"`
	Over18         bool          `yaml:"over18"`
}

// CrawlConfig configures the index walk.
type CrawlConfig struct {
	BaseURL     string        `yaml:"base_url"`
	MaxPages    int           `yaml:"max_pages"`
	PageRetries int           `yaml:"page_retries"` // 0 retries forever
	Concurrency int           `yaml:"concurrency"`
	Politeness  fetcher.Range `yaml:"politeness"`
	PageBackoff fetcher.Range `yaml:"page_backoff"`
}

// ContentConfig configures article fetching.
type ContentConfig struct {
	Retries    int           `yaml:"retries"`
	Politeness fetcher.Range `yaml:"politeness"`
	Backoff    fetcher.Range `yaml:"backoff"`
}

// ArchiveConfig locates the SQLite archive.
type ArchiveConfig struct {
	DSN string `yaml:"dsn"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Board: DefaultBoard,
		Fetcher: FetcherConfig{
			UserAgent:      fetcher.DefaultUserAgent,
			RequestTimeout: fetcher.DefaultRequestTimeout,
			RateInterval:   fetcher.DefaultRateInterval,
			Over18:         true,
		},
		Crawl: CrawlConfig{
			BaseURL:     crawl.DefaultBaseURL,
			MaxPages:    crawl.DefaultMaxPages,
			PageRetries: 0,
			Concurrency: 1,
			Politeness:  crawl.DefaultPoliteness,
			PageBackoff: crawl.DefaultPageBackoff,
		},
		Content: ContentConfig{
			Retries:    content.DefaultRetries,
			Politeness: content.DefaultPoliteness,
			Backoff:    content.DefaultBackoff,
		},
		Archive: ArchiveConfig{
			DSN: "pttcrawl.db",
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Load builds the effective configuration. path may be empty to use the
// default config file location.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := LoadConfigFile(path, cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the crawler cannot run with.
func (c *Config) Validate() error {
	if c.Crawl.MaxPages < 1 {
		return fmt.Errorf("invalid crawl.max_pages: must be at least 1 (got %d)", c.Crawl.MaxPages)
	}
	if c.Crawl.PageRetries < 0 {
		return fmt.Errorf("invalid crawl.page_retries: must not be negative (got %d)", c.Crawl.PageRetries)
	}
	if c.Crawl.Concurrency < 1 {
		return fmt.Errorf("invalid crawl.concurrency: must be at least 1 (got %d)", c.Crawl.Concurrency)
	}
	if c.Content.Retries < 1 {
		return fmt.Errorf("invalid content.retries: must be at least 1 (got %d)", c.Content.Retries)
	}
	for name, r := range map[string]fetcher.Range{
		"crawl.politeness":   c.Crawl.Politeness,
		"crawl.page_backoff": c.Crawl.PageBackoff,
		"content.politeness": c.Content.Politeness,
		"content.backoff":    c.Content.Backoff,
	} {
		if r.Min < 0 || r.Max < r.Min {
			return fmt.Errorf("invalid %s: need 0 <= min <= max (got %s..%s)", name, r.Min, r.Max)
		}
	}
	return nil
}
