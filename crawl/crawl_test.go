package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/pttcrawl/criteria"
	"github.com/pevans/pttcrawl/fetcher"
	"github.com/pevans/pttcrawl/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "https://www.ptt.cc"

var ref = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

// row describes one index entry for the fake site.
type row struct {
	date   string
	title  string
	author string
	marker string
	id     string // Empty for removed posts
}

// Test helper: render an index page. Rows are given newest first, the way
// the walker reads them, and printed oldest first the way PTT does.
func indexPage(prev string, rows ...row) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="btn-group btn-group-paging">`)
	b.WriteString(`<a class="btn wide" href="/bbs/Stock/index1.html">最舊</a>`)
	if prev != "" {
		fmt.Fprintf(&b, `<a class="btn wide" href="%s">&lsaquo; 上頁</a>`, prev)
	} else {
		b.WriteString(`<a class="btn wide disabled">&lsaquo; 上頁</a>`)
	}
	b.WriteString(`</div><div class="r-list-container">`)
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		title := r.title
		if r.id != "" {
			title = fmt.Sprintf(`<a href="/bbs/Stock/%s.html">%s</a>`, r.id, r.title)
		}
		fmt.Fprintf(&b, `<div class="r-ent"><div class="nrec">%s</div><div class="title">%s</div>`+
			`<div class="meta"><div class="author">%s</div><div class="date">%s</div></div></div>`,
			r.marker, title, r.author, r.date)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

// fakeSite serves index pages from memory and can fail a URL a given
// number of times.
type fakeSite struct {
	mu       sync.Mutex
	pages    map[string]string
	failures map[string]int
	hits     map[string]int
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages:    map[string]string{},
		failures: map[string]int{},
		hits:     map[string]int{},
	}
}

func (s *fakeSite) add(path, body string) {
	s.pages[baseURL+path] = body
}

func (s *fakeSite) Get(_ context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hits[url]++
	if s.failures[url] > 0 {
		s.failures[url]--
		return nil, errors.New("connection reset by peer")
	}
	body, ok := s.pages[url]
	if !ok {
		return nil, &fetcher.StatusError{URL: url, Code: 404}
	}
	return []byte(body), nil
}

func (s *fakeSite) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[baseURL+path]
}

// fakeArticles returns canned text and records which URLs were fetched.
type fakeArticles struct {
	mu      sync.Mutex
	fetched []string
	onFetch func(url string)
}

func (a *fakeArticles) Fetch(_ context.Context, url string) (string, string) {
	a.mu.Lock()
	a.fetched = append(a.fetched, url)
	hook := a.onFetch
	a.mu.Unlock()

	if hook != nil {
		hook(url)
	}
	return "body of " + url, "summary of " + url
}

// Test helper: create a walker over a fake site
func newTestWalker(site *fakeSite, articles ContentFetcher, config Config) *Walker {
	config.BaseURL = baseURL
	return NewWalker(site, articles, scraper.NewScraperConfig().ListConfig, config, fetcher.NoSleep{}, nil)
}

// Test helper: build a spec or fail the test
func mustSpec(t *testing.T, opts criteria.Options) criteria.FilterSpec {
	t.Helper()
	opts.Board = "Stock"
	if opts.LookbackMonths == 0 {
		opts.LookbackMonths = 1
	}
	spec, err := criteria.NewFilterSpec(opts)
	require.NoError(t, err)
	return spec
}

func titles(records []Record) []string {
	out := []string{}
	for _, r := range records {
		out = append(out, r.Title)
	}
	return out
}

// Test helper: a two-page board whose second page crosses the boundary
// (2023-12-11 for a one-month lookback from ref)
func boundarySite() *fakeSite {
	site := newFakeSite()
	site.add("/bbs/Stock/index.html", indexPage("/bbs/Stock/index3.html",
		row{date: " 1/10", title: "[新聞] a", author: "alice", marker: "爆", id: "M.10"},
		row{date: " 1/09", title: "[新聞] b", author: "bob", marker: "5", id: "M.9"},
		row{date: " 1/08", title: "[閒聊] c", author: "carol", marker: "", id: "M.8"},
	))
	site.add("/bbs/Stock/index3.html", indexPage("/bbs/Stock/index2.html",
		row{date: "12/20", title: "[新聞] d", author: "dave", marker: "X2", id: "M.7"},
		row{date: "12/11", title: "[新聞] e", author: "erin", marker: "1", id: "M.6"},
		row{date: "12/10", title: "[新聞] f", author: "frank", marker: "1", id: "M.5"},
		row{date: "12/12", title: "[新聞] g", author: "grace", marker: "1", id: "M.4"},
	))
	site.add("/bbs/Stock/index2.html", indexPage("/bbs/Stock/index1.html",
		row{date: "12/01", title: "[新聞] old", author: "x", marker: "1", id: "M.3"},
	))
	return site
}

// TestWalk_StopsAtBoundary verifies entries up to the first out-of-window
// entry are kept and no further pages are fetched
func TestWalk_StopsAtBoundary(t *testing.T) {
	site := boundarySite()
	articles := &fakeArticles{}
	w := newTestWalker(site, articles, Config{})

	result := w.Walk(context.Background(), mustSpec(t, criteria.Options{}), ref)

	assert.Equal(t, []string{"[新聞] a", "[新聞] b", "[閒聊] c", "[新聞] d", "[新聞] e"}, titles(result.Records),
		"should stop at 12/10 even though a later row is newer")
	assert.Equal(t, ReasonBoundary, result.State.Reason)
	assert.True(t, result.State.BoundaryReached)
	assert.Equal(t, 2, result.State.Pages)
	assert.Equal(t, 0, site.hitCount("/bbs/Stock/index2.html"), "should not fetch past the boundary")
	assert.Equal(t, time.Date(2023, 12, 11, 0, 0, 0, 0, time.UTC), result.Boundary)
}

// TestWalk_BuildsRecords verifies record fields
func TestWalk_BuildsRecords(t *testing.T) {
	site := boundarySite()
	w := newTestWalker(site, &fakeArticles{}, Config{})

	result := w.Walk(context.Background(), mustSpec(t, criteria.Options{}), ref)
	require.NotEmpty(t, result.Records)

	first := result.Records[0]
	assert.Equal(t, "https://www.ptt.cc/bbs/Stock/M.10.html", first.Link)
	assert.Equal(t, "alice", first.Author)
	assert.Equal(t, 100, first.Score)
	assert.True(t, first.Estimated)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), first.Date)
	assert.Equal(t, "body of https://www.ptt.cc/bbs/Stock/M.10.html", first.FullText)
	assert.Equal(t, "summary of https://www.ptt.cc/bbs/Stock/M.10.html", first.Summary)

	wrapped := result.Records[3]
	assert.Equal(t, 2023, wrapped.Date.Year(), "12/20 seen on 2024-01-10 belongs to 2023")
	assert.Equal(t, 200, wrapped.Score)
	assert.NotEqual(t, uuid.Nil, result.RunID)
}

// TestWalk_FiltersBeforeFetching verifies content is only fetched for
// matching, non-removed entries
func TestWalk_FiltersBeforeFetching(t *testing.T) {
	site := newFakeSite()
	site.add("/bbs/Stock/index.html", indexPage("",
		row{date: " 1/10", title: "[新聞] 台積電 漲", author: "alice", marker: "10", id: "M.4"},
		row{date: " 1/10", title: "(本文已被刪除) [bob]", author: "-", marker: "", id: ""},
		row{date: " 1/09", title: "[新聞] 台積電 跌", author: "carol", marker: "爆", id: "M.2"},
		row{date: " 1/09", title: "[閒聊] 聯發科", author: "dave", marker: "99", id: "M.1"},
	))
	articles := &fakeArticles{}
	w := newTestWalker(site, articles, Config{})

	spec := mustSpec(t, criteria.Options{
		Keywords: []string{"台積電"},
		Exclude:  []string{"跌"},
	})
	result := w.Walk(context.Background(), spec, ref)

	assert.Equal(t, []string{"[新聞] 台積電 漲"}, titles(result.Records))
	assert.Equal(t, []string{"https://www.ptt.cc/bbs/Stock/M.4.html"}, articles.fetched)
	assert.Equal(t, ReasonExhausted, result.State.Reason)
	assert.Equal(t, 1, result.State.Pages)
}

// TestWalk_RemovedPostsNeverRecorded verifies entries without a link are
// skipped even with no filters
func TestWalk_RemovedPostsNeverRecorded(t *testing.T) {
	site := newFakeSite()
	site.add("/bbs/Stock/index.html", indexPage("",
		row{date: " 1/10", title: "(本文已被刪除) [bob]", author: "-", marker: ""},
	))
	articles := &fakeArticles{}
	w := newTestWalker(site, articles, Config{})

	result := w.Walk(context.Background(), mustSpec(t, criteria.Options{}), ref)

	assert.Empty(t, result.Records)
	assert.Empty(t, articles.fetched)
}

// Test helper: an endless chain of in-window pages
func endlessSite(pages int) *fakeSite {
	site := newFakeSite()
	for i := pages; i >= 1; i-- {
		path := fmt.Sprintf("/bbs/Stock/index%d.html", i)
		if i == pages {
			path = "/bbs/Stock/index.html"
		}
		prev := fmt.Sprintf("/bbs/Stock/index%d.html", i-1)
		site.add(path, indexPage(prev,
			row{date: " 1/10", title: fmt.Sprintf("post %d", i), author: "a", marker: "1", id: fmt.Sprintf("M.%d", i)},
		))
	}
	return site
}

// TestWalk_PageCap verifies the walk stops once the page count exceeds the
// cap
func TestWalk_PageCap(t *testing.T) {
	site := endlessSite(10)
	w := newTestWalker(site, &fakeArticles{}, Config{MaxPages: 2})

	result := w.Walk(context.Background(), mustSpec(t, criteria.Options{}), ref)

	assert.Equal(t, ReasonPageCap, result.State.Reason)
	assert.Equal(t, 3, result.State.Pages)
	assert.Len(t, result.Records, 3, "records from every visited page are kept")
}

// TestWalk_RetriesPageForever verifies transient page failures are retried
// on the same URL by default
func TestWalk_RetriesPageForever(t *testing.T) {
	site := boundarySite()
	site.failures[baseURL+"/bbs/Stock/index3.html"] = 7
	w := newTestWalker(site, &fakeArticles{}, Config{})

	result := w.Walk(context.Background(), mustSpec(t, criteria.Options{}), ref)

	assert.Equal(t, ReasonBoundary, result.State.Reason)
	assert.Len(t, result.Records, 5)
	assert.Equal(t, 8, site.hitCount("/bbs/Stock/index3.html"))
}

// TestWalk_PageRetriesCapped verifies a capped retry policy ends the walk
// with the records gathered so far
func TestWalk_PageRetriesCapped(t *testing.T) {
	site := boundarySite()
	site.failures[baseURL+"/bbs/Stock/index3.html"] = 100
	w := newTestWalker(site, &fakeArticles{}, Config{PageRetries: 3})

	result := w.Walk(context.Background(), mustSpec(t, criteria.Options{}), ref)

	assert.Equal(t, ReasonPageFetchFailed, result.State.Reason)
	assert.Equal(t, []string{"[新聞] a", "[新聞] b", "[閒聊] c"}, titles(result.Records))
	assert.Equal(t, 3, site.hitCount("/bbs/Stock/index3.html"))
	assert.Equal(t, 1, result.State.Pages)
}

// TestWalk_CancelKeepsPartialResults verifies cancellation returns what was
// already collected
func TestWalk_CancelKeepsPartialResults(t *testing.T) {
	site := boundarySite()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	articles := &fakeArticles{}
	articles.onFetch = func(url string) {
		if strings.HasSuffix(url, "M.9.html") {
			cancel()
		}
	}
	w := newTestWalker(site, articles, Config{})

	result := w.Walk(ctx, mustSpec(t, criteria.Options{}), ref)

	assert.Equal(t, ReasonCancelled, result.State.Reason)
	assert.Equal(t, []string{"[新聞] a", "[新聞] b"}, titles(result.Records))
	assert.Equal(t, 0, site.hitCount("/bbs/Stock/index3.html"))
}

// TestWalk_AlreadyCancelled verifies no request is made after cancellation
func TestWalk_AlreadyCancelled(t *testing.T) {
	site := boundarySite()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := newTestWalker(site, &fakeArticles{}, Config{})
	result := w.Walk(ctx, mustSpec(t, criteria.Options{}), ref)

	assert.Equal(t, ReasonCancelled, result.State.Reason)
	assert.Empty(t, result.Records)
	assert.Equal(t, 0, site.hitCount("/bbs/Stock/index.html"))
}

// TestWalk_ConcurrentFetchKeepsOrder verifies parallel content fetches do
// not reorder records
func TestWalk_ConcurrentFetchKeepsOrder(t *testing.T) {
	sequential := newTestWalker(boundarySite(), &fakeArticles{}, Config{})
	parallel := newTestWalker(boundarySite(), &fakeArticles{}, Config{Concurrency: 4})
	spec := mustSpec(t, criteria.Options{})

	want := sequential.Walk(context.Background(), spec, ref)
	got := parallel.Walk(context.Background(), spec, ref)

	assert.Equal(t, want.Records, got.Records)
	assert.Equal(t, want.State, got.State)
}

// TestWalk_Idempotent verifies identical inputs yield identical results
func TestWalk_Idempotent(t *testing.T) {
	spec := mustSpec(t, criteria.Options{MinEngagement: intPtr(2)})

	first := newTestWalker(boundarySite(), &fakeArticles{}, Config{}).Walk(context.Background(), spec, ref)
	second := newTestWalker(boundarySite(), &fakeArticles{}, Config{}).Walk(context.Background(), spec, ref)

	assert.Equal(t, first.Records, second.Records)
	assert.Equal(t, []string{"[新聞] a", "[新聞] b", "[新聞] d"}, titles(first.Records))
	assert.NotEqual(t, first.RunID, second.RunID, "each run gets its own ID")
}

// TestStep_ExposesState verifies the state machine can be driven one page
// at a time
func TestStep_ExposesState(t *testing.T) {
	site := boundarySite()
	w := newTestWalker(site, &fakeArticles{}, Config{})
	spec := mustSpec(t, criteria.Options{})

	state := w.Start(spec)
	assert.Equal(t, "https://www.ptt.cc/bbs/Stock/index.html", state.URL)

	state, records := w.Step(context.Background(), spec, ref, state)
	assert.False(t, state.Done)
	assert.Equal(t, 1, state.Pages)
	assert.Equal(t, "https://www.ptt.cc/bbs/Stock/index3.html", state.URL)
	assert.Len(t, records, 3)

	state, records = w.Step(context.Background(), spec, ref, state)
	assert.True(t, state.Done)
	assert.Equal(t, ReasonBoundary, state.Reason)
	assert.Len(t, records, 2)

	again, records := w.Step(context.Background(), spec, ref, state)
	assert.Equal(t, state, again, "a finished state is returned unchanged")
	assert.Nil(t, records)
}

// TestIndexURL verifies board index URLs
func TestIndexURL(t *testing.T) {
	assert.Equal(t, "https://www.ptt.cc/bbs/Gossiping/index.html", IndexURL("https://www.ptt.cc/", "Gossiping"))
}

// TestConfig_WithDefaults verifies defaults are applied
func TestConfig_WithDefaults(t *testing.T) {
	c := Config{PageRetries: -1}.WithDefaults()

	assert.Equal(t, DefaultBaseURL, c.BaseURL)
	assert.Equal(t, DefaultMaxPages, c.MaxPages)
	assert.Equal(t, 0, c.PageRetries)
	assert.Equal(t, 1, c.Concurrency)
	assert.Greater(t, c.PageBackoff.Min, c.Politeness.Max, "backoff should be longer than politeness")
}

func intPtr(v int) *int {
	return &v
}
