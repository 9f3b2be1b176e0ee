package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPoliciesCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List the policies plans are checked against",
		Long: `List the built-in policies and those loaded from policy.paths, with
their default severity and whether policy.disabled turns them off.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			eng, err := a.policies(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if eng == nil {
				fmt.Fprintln(out, "Policy checks are disabled.")
				return nil
			}

			list := eng.ListPolicies()
			if opts.jsonOutput {
				return writeJSON(out, list)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSEVERITY\tSTATE\tSOURCE\tTAGS")
			for _, p := range list {
				state := "enabled"
				if !p.Enabled {
					state = "disabled"
				}
				source := p.Source
				if p.Builtin {
					source = "builtin"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Name, p.Severity, state, source, strings.Join(p.Tags, ","))
			}
			return tw.Flush()
		},
	}
}
