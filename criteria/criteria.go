// Package criteria decides whether a listing entry is wanted by the
// caller.
package criteria

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pevans/pttcrawl/engagement"
	"github.com/pevans/pttcrawl/listing"
)

// DaysPerMonth is the fixed month length used to turn a lookback in months
// into a boundary date. Calendar month lengths are not consulted.
const DaysPerMonth = 30

// Custom errors for filter construction
var (
	ErrInvalidBoard    = errors.New("board name must be 1-20 letters, digits, '_' or '-'")
	ErrInvalidLookback = errors.New("lookback months must be at least 1")
	ErrInvalidMinScore = errors.New("minimum engagement must not be negative")
)

var boardNameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,20}$`)

// FilterSpec describes what the caller wants. Keyword, exclusion and author
// strings are stored already normalized; build it with NewFilterSpec.
type FilterSpec struct {
	Board          string   `json:"board"`
	LookbackMonths int      `json:"lookback_months"`
	Keywords       []string `json:"keywords,omitempty"`
	Exclude        []string `json:"exclude,omitempty"`
	Author         string   `json:"author,omitempty"`
	MinEngagement  *int     `json:"min_engagement,omitempty"`
}

// Options carries raw, caller-supplied filter values.
type Options struct {
	Board          string
	LookbackMonths int
	Keywords       []string
	Exclude        []string
	Author         string
	MinEngagement  *int
}

// NewFilterSpec validates opts and returns a normalized FilterSpec.
func NewFilterSpec(opts Options) (FilterSpec, error) {
	board := strings.TrimSpace(opts.Board)
	if !boardNameRegex.MatchString(board) {
		return FilterSpec{}, fmt.Errorf("%w: %q", ErrInvalidBoard, opts.Board)
	}
	if opts.LookbackMonths < 1 {
		return FilterSpec{}, fmt.Errorf("%w: got %d", ErrInvalidLookback, opts.LookbackMonths)
	}

	var minScore *int
	if opts.MinEngagement != nil {
		if *opts.MinEngagement < 0 {
			return FilterSpec{}, ErrInvalidMinScore
		}
		v := *opts.MinEngagement
		minScore = &v
	}

	return FilterSpec{
		Board:          board,
		LookbackMonths: opts.LookbackMonths,
		Keywords:       normalizeAll(opts.Keywords),
		Exclude:        normalizeAll(opts.Exclude),
		Author:         Normalize(opts.Author),
		MinEngagement:  minScore,
	}, nil
}

// Boundary returns the oldest date still inside the lookback window,
// measured from ref using 30-day months.
func (s FilterSpec) Boundary(ref time.Time) time.Time {
	return ref.AddDate(0, 0, -s.LookbackMonths*DaysPerMonth)
}

// Matches reports whether entry passes every active filter in spec. The
// date window is not checked here; the walker does that before calling.
// Spec strings are normalized again, so a FilterSpec built by hand matches
// the same way as one from NewFilterSpec. Checks run cheapest first and
// stop at the first failure.
func Matches(entry listing.Entry, spec FilterSpec) bool {
	title := Normalize(entry.Title)

	for _, kw := range spec.Keywords {
		if !strings.Contains(title, Normalize(kw)) {
			return false
		}
	}

	for _, kw := range spec.Exclude {
		if kw := Normalize(kw); kw != "" && strings.Contains(title, kw) {
			return false
		}
	}

	if author := Normalize(spec.Author); author != "" && Normalize(entry.Author) != author {
		return false
	}

	if spec.MinEngagement != nil && engagement.Parse(entry.Marker) < *spec.MinEngagement {
		return false
	}

	return true
}

// Normalize trims s, removes ASCII and full-width spaces and lower-cases
// the result.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '　' {
			return -1
		}
		return r
	}, s)
	return strings.ToLower(s)
}

// SplitList splits a comma-separated list, dropping blank items.
func SplitList(s string) []string {
	items := []string{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			items = append(items, part)
		}
	}
	return items
}

// normalizeAll normalizes each string and drops the ones that end up
// empty, since an empty keyword would match every title.
func normalizeAll(in []string) []string {
	out := []string{}
	for _, s := range in {
		if n := Normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}
