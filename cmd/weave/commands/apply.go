package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hostweave/hostweave/pkg/engine"
	"github.com/hostweave/hostweave/pkg/planner"
)

func newApplyCommand(opts *globalOptions) *cobra.Command {
	var (
		ro  runOptions
		yes bool
	)

	cmd := &cobra.Command{
		Use:   "apply MANIFEST",
		Short: "Apply a manifest to its host",
		Long: `Apply a manifest: plan it, show what would change, and after confirmation
run every step in order.

Steps whose atom reports nothing to do are not run. The run stops at the
first failing step unless --continue-on-error is set. Finalizers registered
by script.run still run when a step fails.`,
		Example: `  # Apply with a confirmation prompt
  weave apply site.yaml

  # Apply without prompting (CI, cron)
  weave apply site.yaml --yes

  # Run every step even if one fails
  weave apply site.yaml --yes --continue-on-error`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var confirm confirmFunc
			if !yes {
				if opts.jsonOutput || !isInteractive(cmd) {
					return engine.NewValidationError("refusing to apply without --yes on a non-interactive terminal", nil)
				}
				confirm = confirmApply
			}
			return runManifest(cmd, opts, args[0], ro, confirm)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "apply without asking for confirmation")
	cmd.Flags().BoolVar(&ro.continueOnError, "continue-on-error", false, "keep running steps after one fails")
	cmd.Flags().StringVar(&ro.planErrors, "plan-errors", "", "what to do when an action fails to compile: abort or skip (default from settings)")

	return cmd
}

// confirmApply shows the dry run and asks before changing anything. A dry
// run with nothing to change needs no confirmation.
func confirmApply(cmd *cobra.Command, plan *planner.Plan, preview *engine.Report) (bool, error) {
	out := cmd.OutOrStdout()
	printFindings(out, plan)
	printReport(out, preview)

	changes := 0
	for _, s := range preview.Steps {
		if s.Outcome != nil && s.Outcome.ShouldRun {
			changes++
		}
	}
	if changes == 0 {
		fmt.Fprintln(out, "\nNothing to change.")
		return false, nil
	}

	ok := false
	field := huh.NewConfirm().
		Title(fmt.Sprintf("Apply %d change(s) to %s?", changes, preview.Target)).
		Affirmative("Apply").
		Negative("Cancel").
		Value(&ok)

	form := huh.NewForm(huh.NewGroup(field)).
		WithInput(cmd.InOrStdin()).
		WithOutput(out).
		WithShowHelp(false)

	if err := form.Run(); err != nil && !errors.Is(err, huh.ErrUserAborted) {
		return false, err
	}
	if !ok {
		fmt.Fprintln(out, "Apply cancelled.")
	}
	return ok, nil
}

// isInteractive reports whether both ends of the command are terminals.
func isInteractive(cmd *cobra.Command) bool {
	in, ok := cmd.InOrStdin().(*os.File)
	if !ok {
		return false
	}
	out, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(in.Fd())) && term.IsTerminal(int(out.Fd()))
}
