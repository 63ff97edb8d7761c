// Package report renders crawl results for people and for other programs.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pevans/pttcrawl/archive"
	"github.com/pevans/pttcrawl/crawl"
)

// Column widths past which cells wrap.
const (
	titleWidth   = 40
	summaryWidth = 50
)

// Engagement formats a record's score. Scores derived from a threshold
// marker are prefixed with "≥".
func Engagement(r crawl.Record) string {
	if r.Estimated {
		return "≥" + strconv.Itoa(r.Score)
	}
	return strconv.Itoa(r.Score)
}

// PrintTable writes the number of matches followed by one row per record.
// Nothing but the count is written when there are no records.
func PrintTable(w io.Writer, records []crawl.Record) {
	fmt.Fprintf(w, "Found %d matching posts\n", len(records))
	if len(records) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Date", "Title", "Author", "Engagement", "Link", "Summary"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Title", WidthMax: titleWidth},
		{Name: "Summary", WidthMax: summaryWidth},
	})

	for i, r := range records {
		t.AppendRow(table.Row{
			i + 1,
			r.Date.Format("2006-01-02"),
			r.Title,
			r.Author,
			Engagement(r),
			r.Link,
			r.Summary,
		})
	}

	t.Render()
}

// PrintRuns writes one row per archived run.
func PrintRuns(w io.Writer, runs []archive.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No archived runs")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run ID", "Board", "Months", "Reference", "Pages", "Reason", "Records"})

	for _, run := range runs {
		t.AppendRow(table.Row{
			run.RunID,
			run.Board,
			run.Spec.LookbackMonths,
			run.Reference.Local().Format("2006-01-02 15:04"),
			run.Pages,
			run.Reason,
			run.RecordCount,
		})
	}

	t.Render()
}

// WriteJSON writes result to path as indented JSON readable only by the
// owner.
func WriteJSON(path string, result *crawl.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}

	return nil
}
