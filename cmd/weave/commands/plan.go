package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hostweave/hostweave/pkg/engine"
	"github.com/hostweave/hostweave/pkg/planner"
)

func newPlanCommand(opts *globalOptions) *cobra.Command {
	var ro runOptions

	cmd := &cobra.Command{
		Use:   "plan MANIFEST",
		Short: "Show what applying a manifest would change",
		Long: `Compile a manifest into steps and ask every atom what it would change,
without changing anything.

Plan:
  - Resolves context values from the configured providers
  - Compiles each action into steps, in declaration order
  - Checks the steps against policy when policies are enabled
  - Runs every atom in dry-run mode and prints its side effects`,
		Example: `  # Preview a manifest
  weave plan site.yaml

  # Keep planning past actions that fail to compile
  weave plan site.yaml --plan-errors skip

  # Machine-readable output
  weave plan site.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ro.dryRun = true
			return runManifest(cmd, opts, args[0], ro, nil)
		},
	}

	cmd.Flags().StringVar(&ro.planErrors, "plan-errors", "", "what to do when an action fails to compile: abort or skip (default from settings)")

	return cmd
}

// confirmFunc decides whether to go ahead after a dry run.
type confirmFunc func(cmd *cobra.Command, plan *planner.Plan, preview *engine.Report) (bool, error)

// runManifest plans the manifest at path and runs it. With confirm set, the
// steps are first run dry and confirm decides whether the real run happens.
func runManifest(cmd *cobra.Command, opts *globalOptions, path string, ro runOptions, confirm confirmFunc) (err error) {
	ctx := cmd.Context()

	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			a.tel.Metrics.RecordError(err)
		}
		if cerr := a.Close(); cerr != nil {
			a.logger.Warn().Err(cerr).Msg("Failed to shut down cleanly")
		}
	}()

	s, err := a.openSession(ctx, path)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Plan(ctx, ro); err != nil {
		return emit(cmd, opts, s.plan, nil, err)
	}

	if confirm != nil {
		preview, err := s.Run(ctx, runOptions{dryRun: true})
		if err != nil {
			return emit(cmd, opts, s.plan, preview, err)
		}
		ok, err := confirm(cmd, s.plan, preview)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	report, err := s.Run(ctx, ro)
	if err == nil && report != nil && report.Status == engine.RunStatusPartial {
		sum := report.Summary()
		err = fmt.Errorf("%d of %d steps failed", sum.Failed, sum.Total)
	}
	return emit(cmd, opts, s.plan, report, err)
}

// emit prints the outcome of a plan or apply and passes err through.
func emit(cmd *cobra.Command, opts *globalOptions, plan *planner.Plan, report *engine.Report, err error) error {
	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		if werr := writeJSON(out, newRunOutput(plan, report, err)); werr != nil {
			return werr
		}
		return err
	}

	printFindings(out, plan)
	if report != nil {
		printReport(out, report)
	}
	return err
}
