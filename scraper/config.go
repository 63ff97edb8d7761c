package scraper

// ScraperConfig defines how to pick listing entries and article bodies out
// of a board's HTML.
type ScraperConfig struct {
	ListConfig    ListConfig    `json:"list_config" yaml:"list"`
	ArticleConfig ArticleConfig `json:"article_config" yaml:"article"`
}

// ListConfig defines how to read one board index page.
type ListConfig struct {
	EntrySelector  string `json:"entry_selector" yaml:"entry_selector"`
	TitleSelector  string `json:"title_selector" yaml:"title_selector"`
	DateSelector   string `json:"date_selector" yaml:"date_selector"`
	AuthorSelector string `json:"author_selector" yaml:"author_selector"`
	MarkerSelector string `json:"marker_selector" yaml:"marker_selector"`

	// Entries after the first element matching SeparatorSelector are pinned
	// announcements rather than part of the chronological listing.
	SeparatorSelector string `json:"separator_selector,omitempty" yaml:"separator_selector"`

	PaginationSelector string `json:"pagination_selector" yaml:"pagination_selector"`
	PreviousLabel      string `json:"previous_label" yaml:"previous_label"`
}

// ArticleConfig defines how to extract the authored body from an article
// page.
type ArticleConfig struct {
	ContentSelector string `json:"content_selector" yaml:"content_selector"`

	// Noise selectors are removed from the content region before its text
	// is read.
	TrailerSelector string `json:"trailer_selector" yaml:"trailer_selector"`
	HeaderSelector  string `json:"header_selector" yaml:"header_selector"`
	CommentSelector string `json:"comment_selector" yaml:"comment_selector"`
}

// NewScraperConfig returns the selectors for PTT's web front end.
func NewScraperConfig() *ScraperConfig {
	return &ScraperConfig{
		ListConfig: ListConfig{
			EntrySelector:      "div.r-ent",
			TitleSelector:      "div.title",
			DateSelector:       "div.meta div.date",
			AuthorSelector:     "div.meta div.author",
			MarkerSelector:     "div.nrec",
			SeparatorSelector:  "div.r-list-sep",
			PaginationSelector: "div.btn-group-paging a",
			PreviousLabel:      "上頁",
		},
		ArticleConfig: ArticleConfig{
			ContentSelector: "#main-content",
			TrailerSelector: "span.f2",
			HeaderSelector:  "div.article-metaline, div.article-metaline-right",
			CommentSelector: "div.push",
		},
	}
}
