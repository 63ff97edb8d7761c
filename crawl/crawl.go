// Package crawl walks a board's index backward from the newest page,
// collecting the postings that fall inside the lookback window and match a
// FilterSpec.
//
// Each page is one step of a small state machine:
//
//	fetch page -> extract entries -> filter each entry -> fetch content
//	-> record -> decide whether to follow the previous-page link
//
// The walk ends when an entry older than the boundary date is seen, when
// the oldest page has been read, when the page cap is exceeded or when the
// context is cancelled. Records collected before the end are always
// returned.
package crawl

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/pttcrawl/content"
	"github.com/pevans/pttcrawl/criteria"
	"github.com/pevans/pttcrawl/engagement"
	"github.com/pevans/pttcrawl/fetcher"
	"github.com/pevans/pttcrawl/listing"
	"github.com/pevans/pttcrawl/scraper"
	"go.uber.org/zap"
)

// Default configuration values.
const (
	DefaultBaseURL  = "https://www.ptt.cc"
	DefaultMaxPages = 500
)

// Default pause ranges for index pages. The backoff after a failed page
// fetch is longer than the politeness pause before every page.
var (
	DefaultPoliteness  = fetcher.Range{Min: 300 * time.Millisecond, Max: 1 * time.Second}
	DefaultPageBackoff = fetcher.Range{Min: 5 * time.Second, Max: 10 * time.Second}
)

// Reason tells why a walk ended.
type Reason string

// Termination reasons.
const (
	ReasonBoundary        Reason = "boundary"
	ReasonExhausted       Reason = "exhausted"
	ReasonPageCap         Reason = "page-cap"
	ReasonCancelled       Reason = "cancelled"
	ReasonPageFetchFailed Reason = "page-fetch-failed"
	ReasonPageUnreadable  Reason = "page-unreadable"
)

// ContentFetcher returns the cleaned text and summary of an article. It
// must not fail; unreadable articles come back as sentinel strings.
type ContentFetcher interface {
	Fetch(ctx context.Context, url string) (string, string)
}

// Record is one matching posting together with its article text.
type Record struct {
	listing.Entry
	Date      time.Time `json:"date"`
	Score     int       `json:"score"`
	Estimated bool      `json:"estimated"` // Score is a lower bound
	FullText  string    `json:"full_text"`
	Summary   string    `json:"summary"`
}

// State is the walker's position between steps.
type State struct {
	URL             string `json:"url"`
	Pages           int    `json:"pages"`
	BoundaryReached bool   `json:"boundary_reached"`
	Done            bool   `json:"done"`
	Reason          Reason `json:"reason,omitempty"`
}

// Result is the outcome of a full walk.
type Result struct {
	RunID     uuid.UUID           `json:"run_id"`
	Spec      criteria.FilterSpec `json:"spec"`
	Reference time.Time           `json:"reference"`
	Boundary  time.Time           `json:"boundary"`
	Records   []Record            `json:"records"`
	State     State               `json:"state"`
}

// Config holds walker settings.
type Config struct {
	BaseURL  string
	MaxPages int
	// PageRetries caps attempts per index page. Zero retries forever, which
	// stalls the walk on a page that never comes back.
	PageRetries int
	// Concurrency is the number of articles fetched at once within a page.
	Concurrency int
	Politeness  fetcher.Range
	PageBackoff fetcher.Range
}

// WithDefaults returns a copy of the config with default values applied for
// zero-value fields.
func (c Config) WithDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.PageRetries < 0 {
		c.PageRetries = 0
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Politeness == (fetcher.Range{}) {
		c.Politeness = DefaultPoliteness
	}
	if c.PageBackoff == (fetcher.Range{}) {
		c.PageBackoff = DefaultPageBackoff
	}
	return c
}

// Walker drives the backward pagination walk.
type Walker struct {
	getter   fetcher.Getter
	articles ContentFetcher
	list     scraper.ListConfig
	config   Config
	sleeper  fetcher.Sleeper
	logger   *zap.Logger
}

// NewWalker creates a walker. A nil sleeper uses fetcher.RandomSleeper and
// a nil logger disables logging.
func NewWalker(
	getter fetcher.Getter,
	articles ContentFetcher,
	list scraper.ListConfig,
	config Config,
	sleeper fetcher.Sleeper,
	logger *zap.Logger,
) *Walker {
	if sleeper == nil {
		sleeper = fetcher.RandomSleeper{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Walker{
		getter:   getter,
		articles: articles,
		list:     list,
		config:   config.WithDefaults(),
		sleeper:  sleeper,
		logger:   logger,
	}
}

// IndexURL returns the newest index page of board.
func IndexURL(baseURL, board string) string {
	return fmt.Sprintf("%s/bbs/%s/index.html", strings.TrimRight(baseURL, "/"), board)
}

// Start returns the initial state for spec.
func (w *Walker) Start(spec criteria.FilterSpec) State {
	return State{URL: IndexURL(w.config.BaseURL, spec.Board)}
}

// Walk runs the whole walk for spec relative to the reference instant ref.
func (w *Walker) Walk(ctx context.Context, spec criteria.FilterSpec, ref time.Time) *Result {
	result := &Result{
		RunID:     uuid.New(),
		Spec:      spec,
		Reference: ref,
		Boundary:  BoundaryDate(spec, ref),
		Records:   []Record{},
	}

	log := w.logger.With(zap.String("run_id", result.RunID.String()), zap.String("board", spec.Board))
	log.Info("starting walk",
		zap.Time("boundary", result.Boundary),
		zap.Int("lookback_months", spec.LookbackMonths),
	)

	state := w.Start(spec)
	for !state.Done {
		var records []Record
		state, records = w.Step(ctx, spec, ref, state)
		result.Records = append(result.Records, records...)
	}
	result.State = state

	log.Info("walk finished",
		zap.String("reason", string(state.Reason)),
		zap.Int("pages", state.Pages),
		zap.Int("records", len(result.Records)),
	)

	return result
}

// BoundaryDate returns the calendar date of spec's boundary. Entries dated
// on the boundary day are still inside the window.
func BoundaryDate(spec criteria.FilterSpec, ref time.Time) time.Time {
	b := spec.Boundary(ref)
	return time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, b.Location())
}

// Step processes the page at state.URL and returns the next state together
// with the records found on the page. A done state is returned unchanged.
func (w *Walker) Step(ctx context.Context, spec criteria.FilterSpec, ref time.Time, state State) (State, []Record) {
	if state.Done {
		return state, nil
	}
	if ctx.Err() != nil {
		return finish(state, ReasonCancelled), nil
	}

	log := w.logger.With(zap.String("url", state.URL), zap.Int("page", state.Pages+1))

	body, reason := w.fetchPage(ctx, state.URL, log)
	if reason != "" {
		return finish(state, reason), nil
	}
	state.Pages++

	page, err := listing.Parse(bytes.NewReader(body), state.URL, w.list)
	if err != nil {
		log.Error("failed to read index page", zap.Error(err))
		return finish(state, ReasonPageUnreadable), nil
	}

	candidates, boundary, cancelled := w.scan(ctx, page.Entries, spec, ref)
	if boundary {
		state.BoundaryReached = true
		log.Info("boundary reached")
	}
	if cancelled {
		return finish(state, ReasonCancelled), nil
	}

	records := w.fetchContent(ctx, candidates)

	log.Info("page processed",
		zap.Int("entries", len(page.Entries)),
		zap.Int("matched", len(candidates)),
		zap.Int("recorded", len(records)),
	)

	switch {
	case ctx.Err() != nil:
		return finish(state, ReasonCancelled), records
	case state.BoundaryReached:
		return finish(state, ReasonBoundary), records
	case state.Pages > w.config.MaxPages:
		log.Warn("page cap exceeded", zap.Int("max_pages", w.config.MaxPages))
		return finish(state, ReasonPageCap), records
	case page.PreviousURL == "":
		return finish(state, ReasonExhausted), records
	}

	state.URL = page.PreviousURL
	return state, records
}

// fetchPage fetches an index page, retrying transport failures on the same
// URL after a backoff. It returns a non-empty reason when the walk has to
// stop instead.
func (w *Walker) fetchPage(ctx context.Context, url string, log *zap.Logger) ([]byte, Reason) {
	for attempt := 1; ; attempt++ {
		if err := w.sleeper.Sleep(ctx, w.config.Politeness); err != nil {
			return nil, ReasonCancelled
		}

		body, err := w.getter.Get(ctx, url)
		if err == nil {
			return body, ""
		}
		if ctx.Err() != nil {
			return nil, ReasonCancelled
		}

		log.Warn("index page fetch failed", zap.Int("attempt", attempt), zap.Error(err))

		if w.config.PageRetries > 0 && attempt >= w.config.PageRetries {
			log.Error("giving up on index page", zap.Int("page_retries", w.config.PageRetries))
			return nil, ReasonPageFetchFailed
		}

		if err := w.sleeper.Sleep(ctx, w.config.PageBackoff); err != nil {
			return nil, ReasonCancelled
		}
	}
}

// candidate is an entry that passed every listing-level check.
type candidate struct {
	entry listing.Entry
	date  time.Time
}

// scan applies the boundary and criteria checks to entries in page order.
// The boundary decision for the whole page is made here, before any
// article is fetched.
func (w *Walker) scan(
	ctx context.Context,
	entries []listing.Entry,
	spec criteria.FilterSpec,
	ref time.Time,
) (candidates []candidate, boundary, cancelled bool) {
	limit := BoundaryDate(spec, ref)

	for _, entry := range entries {
		if ctx.Err() != nil {
			return candidates, boundary, true
		}

		date := listing.ResolveDate(entry.Month, entry.Day, ref)
		if date.Before(limit) {
			return candidates, true, false
		}

		if entry.Removed() || !criteria.Matches(entry, spec) {
			continue
		}

		candidates = append(candidates, candidate{entry: entry, date: date})
	}

	return candidates, false, false
}

// fetchContent fetches the article for each candidate and builds records
// in candidate order. With Concurrency above one the fetches run on a
// bounded pool; the shared transport limiter still bounds the request
// rate. Articles not fetched before cancellation are left out.
func (w *Walker) fetchContent(ctx context.Context, candidates []candidate) []Record {
	slots := make([]*Record, len(candidates))

	if w.config.Concurrency <= 1 {
		for i, c := range candidates {
			slots[i] = w.record(ctx, c)
		}
	} else {
		var wg sync.WaitGroup
		sem := make(chan struct{}, w.config.Concurrency)

		for i, c := range candidates {
			select {
			case <-ctx.Done():
			case sem <- struct{}{}:
				wg.Add(1)
				go func(i int, c candidate) {
					defer wg.Done()
					defer func() { <-sem }()
					slots[i] = w.record(ctx, c)
				}(i, c)
			}
		}
		wg.Wait()
	}

	records := []Record{}
	for _, r := range slots {
		if r != nil {
			records = append(records, *r)
		}
	}
	return records
}

// record fetches one article. It returns nil if the context was cancelled
// before the fetch, or during it in a way that lost the text.
func (w *Walker) record(ctx context.Context, c candidate) *Record {
	if ctx.Err() != nil {
		return nil
	}

	text, summary := w.articles.Fetch(ctx, c.entry.Link)
	if ctx.Err() != nil && content.IsFailure(text) {
		return nil
	}

	return &Record{
		Entry:     c.entry,
		Date:      c.date,
		Score:     engagement.Parse(c.entry.Marker),
		Estimated: engagement.IsEstimate(c.entry.Marker),
		FullText:  text,
		Summary:   summary,
	}
}

// finish marks state as terminated for reason.
func finish(state State, reason Reason) State {
	state.Done = true
	state.Reason = reason
	return state
}
