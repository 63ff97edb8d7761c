// Package content fetches an article page and reduces it to the text the
// author wrote.
package content

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/pttcrawl/fetcher"
	"github.com/pevans/pttcrawl/scraper"
	"go.uber.org/zap"
)

// Failure sentinels returned in place of text when an article cannot be
// read.
const (
	FailedText    = "content fetch failed"
	FailedSummary = "summary fetch failed"
)

// SummaryLength is the number of characters kept from the first line.
const SummaryLength = 50

// DefaultRetries is the number of fetch attempts per article.
const DefaultRetries = 3

// Default pause ranges. Backoff after a failure is longer than the
// politeness pause taken before every attempt.
var (
	DefaultPoliteness = fetcher.Range{Min: 500 * time.Millisecond, Max: 1500 * time.Millisecond}
	DefaultBackoff    = fetcher.Range{Min: 3 * time.Second, Max: 6 * time.Second}
)

// Options tune a Fetcher. Zero values fall back to the defaults.
type Options struct {
	Retries    int
	Politeness fetcher.Range
	Backoff    fetcher.Range
	Sleeper    fetcher.Sleeper
	Logger     *zap.Logger
}

// Fetcher retrieves and cleans article bodies.
type Fetcher struct {
	getter     fetcher.Getter
	config     scraper.ArticleConfig
	retries    int
	politeness fetcher.Range
	backoff    fetcher.Range
	sleeper    fetcher.Sleeper
	logger     *zap.Logger
}

// NewFetcher creates a Fetcher that reads pages through getter.
func NewFetcher(getter fetcher.Getter, config scraper.ArticleConfig, opts Options) *Fetcher {
	f := &Fetcher{
		getter:     getter,
		config:     config,
		retries:    opts.Retries,
		politeness: opts.Politeness,
		backoff:    opts.Backoff,
		sleeper:    opts.Sleeper,
		logger:     opts.Logger,
	}

	if f.retries <= 0 {
		f.retries = DefaultRetries
	}
	if f.politeness == (fetcher.Range{}) {
		f.politeness = DefaultPoliteness
	}
	if f.backoff == (fetcher.Range{}) {
		f.backoff = DefaultBackoff
	}
	if f.sleeper == nil {
		f.sleeper = fetcher.RandomSleeper{}
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}

	return f
}

// Fetch returns the cleaned text of the article at url and its summary. It
// never fails outright. Transport errors are retried with backoff until
// the attempts run out, a page without a content region is given up on at
// once, and in both cases the failure sentinels are returned.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, string) {
	log := f.logger.With(zap.String("url", url))

	for attempt := 1; attempt <= f.retries; attempt++ {
		if err := f.sleeper.Sleep(ctx, f.politeness); err != nil {
			return FailedText, FailedSummary
		}

		body, err := f.getter.Get(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return FailedText, FailedSummary
			}

			log.Warn("article fetch failed",
				zap.Int("attempt", attempt),
				zap.Int("retries", f.retries),
				zap.Error(err),
			)

			if attempt == f.retries {
				break
			}
			if err := f.sleeper.Sleep(ctx, f.backoff); err != nil {
				return FailedText, FailedSummary
			}
			continue
		}

		text, ok := f.extract(body)
		if !ok {
			log.Warn("article has no content region")
			return FailedText, FailedSummary
		}

		return text, Summarize(text)
	}

	log.Error("giving up on article", zap.Int("retries", f.retries))
	return FailedText, FailedSummary
}

// extract parses body and returns the cleaned content text.
func (f *Fetcher) extract(body []byte) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	return Clean(doc, f.config)
}

// Clean removes metadata and comment nodes from the content region and
// returns its text. The second return is false when the page has no
// content region.
func Clean(doc *goquery.Document, config scraper.ArticleConfig) (string, bool) {
	region := doc.Find(config.ContentSelector).First()
	if region.Length() == 0 {
		return "", false
	}

	for _, sel := range []string{config.TrailerSelector, config.HeaderSelector, config.CommentSelector} {
		if sel != "" {
			region.Find(sel).Remove()
		}
	}

	return strings.TrimSpace(region.Text()), true
}

// Summarize returns the first line of text cut to SummaryLength characters
// with "..." appended when the whole text is longer than that. Shorter
// texts are returned unchanged.
func Summarize(text string) string {
	if len([]rune(text)) <= SummaryLength {
		return text
	}

	first, _, _ := strings.Cut(text, "\n")
	first = strings.TrimRight(first, "\r")

	runes := []rune(first)
	if len(runes) > SummaryLength {
		runes = runes[:SummaryLength]
	}
	return string(runes) + "..."
}

// IsFailure reports whether text is the failure sentinel.
func IsFailure(text string) bool {
	return text == FailedText
}
