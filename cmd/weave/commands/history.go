package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostweave/hostweave/pkg/engine"
	"github.com/hostweave/hostweave/pkg/stores"
)

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled runs",
		Long: `List the plans and applies recorded in the run journal, newest first.

The journal is a SQLite database under $XDG_DATA_HOME/hostweave unless the
settings file names another path.`,
		Example: `  weave history
  weave history show 6f1c...
  weave history prune --older-than 720h
  weave history rm 6f1c... 9a02...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJournal(cmd, opts, func(store *stores.SQLiteStore) error {
				runs, err := store.ListRuns(cmd.Context(), limit, offset)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), runs)
				}
				if len(runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
					return nil
				}
				printRuns(cmd.OutOrStdout(), runs, time.Now())
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")

	cmd.AddCommand(newHistoryShowCommand(opts))
	cmd.AddCommand(newHistoryPruneCommand(opts))
	cmd.AddCommand(newHistoryRemoveCommand(opts))

	return cmd
}

func newHistoryShowCommand(opts *globalOptions) *cobra.Command {
	var level string

	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show one run's steps and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd, opts, func(store *stores.SQLiteStore) error {
				ctx := cmd.Context()
				id := args[0]

				run, err := store.GetRun(ctx, id)
				if errors.Is(err, stores.ErrNotFound) {
					return engine.NewValidationError(fmt.Sprintf("no run %q in the journal", id), err)
				}
				if err != nil {
					return err
				}
				steps, err := store.ListSteps(ctx, id)
				if err != nil {
					return err
				}

				var levelFilter *string
				if level != "" {
					levelFilter = &level
				}
				events, err := store.GetEvents(ctx, &id, levelFilter, -1, 0)
				if err != nil {
					return err
				}

				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), map[string]any{
						"run":    run,
						"steps":  steps,
						"events": events,
					})
				}
				printRun(cmd.OutOrStdout(), run, steps, events)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&level, "level", "", "only show events at this level: info, warning, or error")

	return cmd
}

func newHistoryPruneCommand(opts *globalOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than a given age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return engine.NewValidationError("--older-than must be positive", nil)
			}
			return withJournal(cmd, opts, func(store *stores.SQLiteStore) error {
				n, err := store.PruneRuns(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s).\n", n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete runs started before this long ago")

	return cmd
}

func newHistoryRemoveCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm RUN_ID...",
		Aliases: []string{"delete"},
		Short:   "Delete runs with their steps and events",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd, opts, func(store *stores.SQLiteStore) error {
				for _, id := range args {
					err := store.DeleteRun(cmd.Context(), id)
					if errors.Is(err, stores.ErrNotFound) {
						return engine.NewValidationError(fmt.Sprintf("no run %q in the journal", id), err)
					}
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
				}
				return nil
			})
		},
	}
}

// withJournal opens the journal for fn. A disabled journal is an error.
func withJournal(cmd *cobra.Command, opts *globalOptions, fn func(*stores.SQLiteStore) error) error {
	a, err := newApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.journal(cmd.Context())
	if err != nil {
		return err
	}
	if store == nil {
		return engine.NewValidationError("the run journal is disabled in settings", nil)
	}
	return fn(store)
}
