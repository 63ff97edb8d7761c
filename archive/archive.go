// Package archive keeps finished crawl runs in SQLite so they can be
// listed and served later. Each run is stored on its own; nothing is
// deduplicated across runs.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pevans/pttcrawl/crawl"
	"github.com/pevans/pttcrawl/criteria"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// dateLayout stores a record's calendar date without a zone, so it reads
// back as the same day wherever the archive is opened.
const dateLayout = "2006-01-02"

// Store manages archived runs using SQLite.
type Store struct {
	db *sqlx.DB
}

// Run is the summary of one archived walk.
type Run struct {
	RunID       string              `json:"run_id" db:"run_id"`
	Board       string              `json:"board" db:"board"`
	Spec        criteria.FilterSpec `json:"spec" db:"-"`
	SpecJSON    string              `json:"-" db:"spec"`
	Reference   time.Time           `json:"reference" db:"reference"`
	Boundary    time.Time           `json:"boundary" db:"boundary"`
	Pages       int                 `json:"pages" db:"pages"`
	Reason      string              `json:"reason" db:"reason"`
	RecordCount int                 `json:"record_count" db:"record_count"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
}

// Article is one archived record of a run.
type Article struct {
	RunID     string `json:"run_id" db:"run_id"`
	Position  int    `json:"position" db:"position"`
	Title     string `json:"title" db:"title"`
	Link      string `json:"link" db:"link"`
	Author    string `json:"author" db:"author"`
	Marker    string `json:"marker" db:"marker"`
	Date      string `json:"date" db:"date"` // YYYY-MM-DD
	Score     int    `json:"score" db:"score"`
	Estimated bool   `json:"estimated" db:"estimated"`
	FullText  string `json:"full_text" db:"full_text"`
	Summary   string `json:"summary" db:"summary"`
}

// NewStore opens the archive at dsn and creates its tables if needed.
func NewStore(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the runs and articles tables if they don't exist.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		board TEXT NOT NULL,
		spec TEXT NOT NULL,
		reference TIMESTAMP NOT NULL,
		boundary TIMESTAMP NOT NULL,
		pages INTEGER NOT NULL,
		reason TEXT NOT NULL,
		record_count INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS articles (
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		title TEXT NOT NULL,
		link TEXT NOT NULL,
		author TEXT NOT NULL,
		marker TEXT NOT NULL,
		date TEXT NOT NULL,
		score INTEGER NOT NULL,
		estimated BOOLEAN NOT NULL,
		full_text TEXT NOT NULL,
		summary TEXT NOT NULL,
		PRIMARY KEY (run_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores result and its records in a single transaction. Records
// keep their walk order.
func (s *Store) SaveRun(ctx context.Context, result *crawl.Result) error {
	spec, err := json.Marshal(result.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal spec: %w", err)
	}

	run := Run{
		RunID:       result.RunID.String(),
		Board:       result.Spec.Board,
		SpecJSON:    string(spec),
		Reference:   result.Reference.UTC(),
		Boundary:    result.Boundary.UTC(),
		Pages:       result.State.Pages,
		Reason:      string(result.State.Reason),
		RecordCount: len(result.Records),
		CreatedAt:   time.Now().UTC(),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO runs (
			run_id, board, spec, reference, boundary, pages, reason,
			record_count, created_at
		) VALUES (
			:run_id, :board, :spec, :reference, :boundary, :pages, :reason,
			:record_count, :created_at
		)`, run)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i, r := range result.Records {
		article := Article{
			RunID:     run.RunID,
			Position:  i,
			Title:     r.Title,
			Link:      r.Link,
			Author:    r.Author,
			Marker:    r.Marker,
			Date:      r.Date.Format(dateLayout),
			Score:     r.Score,
			Estimated: r.Estimated,
			FullText:  r.FullText,
			Summary:   r.Summary,
		}

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO articles (
				run_id, position, title, link, author, marker, date, score,
				estimated, full_text, summary
			) VALUES (
				:run_id, :position, :title, :link, :author, :marker, :date,
				:score, :estimated, :full_text, :summary
			)`, article)
		if err != nil {
			return fmt.Errorf("failed to insert article %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	return nil
}

// ListRuns returns archived runs, newest first. A limit of zero or less
// returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT run_id, board, spec, reference, boundary, pages, reason,
		       record_count, created_at
		FROM runs
		ORDER BY created_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	runs := []Run{}
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	for i := range runs {
		if err := runs[i].decodeSpec(); err != nil {
			return nil, err
		}
	}

	return runs, nil
}

// GetRun returns the run with the given ID.
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var run Run
	err := s.db.GetContext(ctx, &run, `
		SELECT run_id, board, spec, reference, boundary, pages, reason,
		       record_count, created_at
		FROM runs
		WHERE run_id = ?`, runID.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if err := run.decodeSpec(); err != nil {
		return nil, err
	}

	return &run, nil
}

// ListArticles returns the records of a run in walk order.
func (s *Store) ListArticles(ctx context.Context, runID uuid.UUID) ([]Article, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	articles := []Article{}
	err := s.db.SelectContext(ctx, &articles, `
		SELECT run_id, position, title, link, author, marker, date, score,
		       estimated, full_text, summary
		FROM articles
		WHERE run_id = ?
		ORDER BY position`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}

	return articles, nil
}

// Records converts archived articles back into crawl records.
func Records(articles []Article) []crawl.Record {
	records := make([]crawl.Record, 0, len(articles))
	for _, a := range articles {
		records = append(records, a.Record())
	}
	return records
}

// Record converts an archived article back into a crawl record. The date
// is rebuilt as local midnight, the way the walker resolves index dates.
func (a Article) Record() crawl.Record {
	// An unreadable date leaves the zero time and no month/day
	date, _ := time.ParseInLocation(dateLayout, a.Date, time.Local)

	r := crawl.Record{
		Date:      date,
		Score:     a.Score,
		Estimated: a.Estimated,
		FullText:  a.FullText,
		Summary:   a.Summary,
	}
	r.Title = a.Title
	r.Link = a.Link
	r.Author = a.Author
	r.Marker = a.Marker
	if !date.IsZero() {
		r.Month = int(date.Month())
		r.Day = date.Day()
	}
	return r
}

func (r *Run) decodeSpec() error {
	if err := json.Unmarshal([]byte(r.SpecJSON), &r.Spec); err != nil {
		return fmt.Errorf("failed to unmarshal spec for run %s: %w", r.RunID, err)
	}
	return nil
}
