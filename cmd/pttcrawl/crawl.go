package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pevans/pttcrawl/archive"
	"github.com/pevans/pttcrawl/config"
	"github.com/pevans/pttcrawl/content"
	"github.com/pevans/pttcrawl/crawl"
	"github.com/pevans/pttcrawl/criteria"
	"github.com/pevans/pttcrawl/fetcher"
	"github.com/pevans/pttcrawl/report"
	"github.com/pevans/pttcrawl/scraper"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errFirstPage is returned when not even the newest index page could be
// read.
var errFirstPage = errors.New("could not fetch the first index page")

type crawlFlags struct {
	months      int
	keywords    string
	exclude     string
	author      string
	minScore    int
	board       string
	output      string
	save        bool
	concurrency int
	pageRetries int
	maxPages    int
}

func newCrawlCmd(a *app) *cobra.Command {
	f := &crawlFlags{}

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Walk a board's index and print matching posts",
		Example: `  pttcrawl crawl --months 1 --keywords 台積電,法說會 --min-score 30
  pttcrawl crawl --months 3 --author alice --board Gossiping --output result.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCrawl(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&f.months, "months", 0, "lookback window in months (required)")
	flags.StringVar(&f.keywords, "keywords", "", "comma-separated keywords that must all appear in the title")
	flags.StringVar(&f.exclude, "exclude", "", "comma-separated keywords that must not appear in the title")
	flags.StringVar(&f.author, "author", "", "exact author ID")
	flags.IntVar(&f.minScore, "min-score", 0, "minimum engagement score")
	flags.StringVar(&f.board, "board", "", "board name (default from config)")
	flags.StringVar(&f.output, "output", "", "write the full result as JSON to this file")
	flags.BoolVar(&f.save, "save", false, "store the run in the archive")
	flags.IntVar(&f.concurrency, "concurrency", 0, "articles fetched at once within a page (default from config)")
	flags.IntVar(&f.pageRetries, "page-retries", 0, "attempts per index page, 0 retries forever (default from config)")
	flags.IntVar(&f.maxPages, "max-pages", 0, "index pages visited before giving up (default from config)")
	_ = cmd.MarkFlagRequired("months")

	return cmd
}

func (a *app) runCrawl(cmd *cobra.Command, f *crawlFlags) error {
	flags := cmd.Flags()

	board := a.cfg.Board
	if flags.Changed("board") {
		board = f.board
	}

	opts := criteria.Options{
		Board:          board,
		LookbackMonths: f.months,
		Keywords:       criteria.SplitList(f.keywords),
		Exclude:        criteria.SplitList(f.exclude),
		Author:         f.author,
	}
	if flags.Changed("min-score") {
		opts.MinEngagement = &f.minScore
	}

	spec, err := criteria.NewFilterSpec(opts)
	if err != nil {
		return err
	}

	crawlCfg := a.cfg.Crawl
	if flags.Changed("concurrency") {
		crawlCfg.Concurrency = f.concurrency
	}
	if flags.Changed("page-retries") {
		crawlCfg.PageRetries = f.pageRetries
	}
	if flags.Changed("max-pages") {
		crawlCfg.MaxPages = f.maxPages
	}
	if crawlCfg.Concurrency < 1 || crawlCfg.PageRetries < 0 || crawlCfg.MaxPages < 1 {
		return fmt.Errorf("invalid flags: --concurrency and --max-pages must be positive, --page-retries must not be negative")
	}

	// Open the archive before crawling so a bad DSN fails fast
	var store *archive.Store
	if f.save {
		store, err = archive.NewStore(a.cfg.Archive.DSN)
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	walker := a.newWalker(crawlCfg)
	result := walker.Walk(ctx, spec, time.Now())

	if result.State.Reason == crawl.ReasonCancelled {
		a.log.Warn("walk interrupted, showing partial results", zap.Int("records", len(result.Records)))
	}
	if result.State.Pages == 0 && result.State.Reason == crawl.ReasonPageFetchFailed {
		return errFirstPage
	}

	report.PrintTable(cmd.OutOrStdout(), result.Records)

	if f.output != "" {
		if err := report.WriteJSON(f.output, result); err != nil {
			return err
		}
		a.log.Info("result written", zap.String("path", f.output))
	}

	if store != nil {
		// The walk's context may be cancelled already; saving still has to
		// complete.
		if err := store.SaveRun(context.WithoutCancel(ctx), result); err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
		a.log.Info("run archived", zap.String("run_id", result.RunID.String()))
	}

	return nil
}

// newWalker wires the transport, article fetcher and walker from config.
func (a *app) newWalker(crawlCfg config.CrawlConfig) *crawl.Walker {
	client := fetcher.NewClient(fetcher.Config{
		UserAgent:      a.cfg.Fetcher.UserAgent,
		RequestTimeout: a.cfg.Fetcher.RequestTimeout,
		RateInterval:   a.cfg.Fetcher.RateInterval,
		Over18:         a.cfg.Fetcher.Over18,
	}, a.log)

	selectors := scraper.NewScraperConfig()

	articles := content.NewFetcher(client, selectors.ArticleConfig, content.Options{
		Retries:    a.cfg.Content.Retries,
		Politeness: a.cfg.Content.Politeness,
		Backoff:    a.cfg.Content.Backoff,
		Logger:     a.log,
	})

	return crawl.NewWalker(client, articles, selectors.ListConfig, crawl.Config{
		BaseURL:     crawlCfg.BaseURL,
		MaxPages:    crawlCfg.MaxPages,
		PageRetries: crawlCfg.PageRetries,
		Concurrency: crawlCfg.Concurrency,
		Politeness:  crawlCfg.Politeness,
		PageBackoff: crawlCfg.PageBackoff,
	}, nil, a.log)
}
