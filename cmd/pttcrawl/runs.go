package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pevans/pttcrawl/archive"
	"github.com/pevans/pttcrawl/report"
	"github.com/spf13/cobra"
)

func newRunsCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List archived runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *archive.Store) error {
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				report.PrintRuns(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list, 0 for all")

	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the records of an archived run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run ID %q: %w", args[0], err)
			}

			return a.withStore(func(store *archive.Store) error {
				return showRun(cmd.Context(), cmd, store, runID)
			})
		},
	}
}

func showRun(ctx context.Context, cmd *cobra.Command, store *archive.Store, runID uuid.UUID) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	articles, err := store.ListArticles(ctx, runID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s on %s (%d months, %d pages, %s)\n",
		run.RunID, run.Board, run.Spec.LookbackMonths, run.Pages, run.Reason)
	report.PrintTable(out, archive.Records(articles))
	return nil
}

// withStore opens the archive for the duration of fn.
func (a *app) withStore(fn func(*archive.Store) error) error {
	store, err := archive.NewStore(a.cfg.Archive.DSN)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer store.Close()

	return fn(store)
}
