// Package listing reads board index pages into entries.
package listing

import (
	"fmt"
	"io"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/pttcrawl/scraper"
)

// Entry is one row of a board index page.
type Entry struct {
	Title  string `json:"title"`
	Link   string `json:"link,omitempty"` // Empty when the post was removed
	Month  int    `json:"month"`
	Day    int    `json:"day"`
	Author string `json:"author"`
	Marker string `json:"marker"`
}

// Removed reports whether the post behind the entry has been deleted.
func (e Entry) Removed() bool {
	return e.Link == ""
}

// Page holds the entries of one index page, newest first, and the URL of
// the previous (older) page if there is one.
type Page struct {
	Entries     []Entry
	PreviousURL string
}

// Parse reads an index page body and extracts its entries. pageURL is used
// to resolve relative links.
func Parse(body io.Reader, pageURL string, config scraper.ListConfig) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	return Extract(doc, pageURL, config)
}

// Extract pulls entries and the previous-page link out of a parsed index
// page. Rows missing any of the title, date, author or marker blocks, or
// carrying an unreadable date, are skipped.
//
// PTT prints the oldest row at the top of each page, so the returned
// entries are reversed into newest-first order. Pinned rows below the list
// separator are left out.
func Extract(doc *goquery.Document, pageURL string, config scraper.ListConfig) (*Page, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}

	page := &Page{Entries: []Entry{}}

	rows := doc.Find(config.EntrySelector)
	if config.SeparatorSelector != "" {
		if sep := doc.Find(config.SeparatorSelector).First(); sep.Length() > 0 {
			rows = rows.FilterFunction(func(_ int, s *goquery.Selection) bool {
				return s.NextAllFiltered(config.SeparatorSelector).Length() > 0
			})
		}
	}

	rows.Each(func(_ int, s *goquery.Selection) {
		entry, ok := extractEntry(s, base, config)
		if ok {
			page.Entries = append(page.Entries, entry)
		}
	})
	slices.Reverse(page.Entries)

	page.PreviousURL = previousLink(doc, base, config)

	return page, nil
}

// extractEntry reads a single row.
func extractEntry(s *goquery.Selection, base *url.URL, config scraper.ListConfig) (Entry, bool) {
	titleBlock := s.Find(config.TitleSelector).First()
	dateBlock := s.Find(config.DateSelector).First()
	authorBlock := s.Find(config.AuthorSelector).First()
	markerBlock := s.Find(config.MarkerSelector).First()

	if titleBlock.Length() == 0 || dateBlock.Length() == 0 ||
		authorBlock.Length() == 0 || markerBlock.Length() == 0 {
		return Entry{}, false
	}

	month, day, err := ParseMonthDay(dateBlock.Text())
	if err != nil {
		return Entry{}, false
	}

	entry := Entry{
		Title:  strings.TrimSpace(titleBlock.Text()),
		Month:  month,
		Day:    day,
		Author: strings.TrimSpace(authorBlock.Text()),
		Marker: strings.TrimSpace(markerBlock.Text()),
	}

	if a := titleBlock.Find("a").First(); a.Length() > 0 {
		entry.Title = strings.TrimSpace(a.Text())
		if href, ok := a.Attr("href"); ok && href != "" {
			if link, err := base.Parse(href); err == nil {
				entry.Link = link.String()
			}
		}
	}

	return entry, true
}

// previousLink finds the pagination anchor labelled as the previous page.
// Disabled buttons carry no href, which ends the walk on the oldest page.
func previousLink(doc *goquery.Document, base *url.URL, config scraper.ListConfig) string {
	var prev string
	doc.Find(config.PaginationSelector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if !strings.Contains(a.Text(), config.PreviousLabel) {
			return true
		}
		href, ok := a.Attr("href")
		if !ok || href == "" {
			return false
		}
		if link, err := base.Parse(href); err == nil {
			prev = link.String()
		}
		return false
	})
	return prev
}

// ParseMonthDay parses the "M/DD" date printed on index pages.
func ParseMonthDay(text string) (month, day int, err error) {
	text = strings.TrimSpace(text)

	m, d, found := strings.Cut(text, "/")
	if !found {
		return 0, 0, fmt.Errorf("invalid date %q", text)
	}

	month, err = strconv.Atoi(strings.TrimSpace(m))
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("invalid month in date %q", text)
	}

	day, err = strconv.Atoi(strings.TrimSpace(d))
	if err != nil || day < 1 || day > 31 {
		return 0, 0, fmt.Errorf("invalid day in date %q", text)
	}

	return month, day, nil
}

// ResolveDate turns a month/day into a full date relative to ref. A
// month/day later in the year than ref's belongs to the previous year,
// which handles walking back across January 1.
func ResolveDate(month, day int, ref time.Time) time.Time {
	year := ref.Year()
	if month > int(ref.Month()) || (month == int(ref.Month()) && day > ref.Day()) {
		year--
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, ref.Location())
}
