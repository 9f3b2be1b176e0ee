package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hostweave/hostweave/pkg/config"
	"github.com/hostweave/hostweave/pkg/manifest"
)

// validation is the result for one manifest.
type validation struct {
	Path    string   `json:"path"`
	Valid   bool     `json:"valid"`
	Scope   string   `json:"scope,omitempty"`
	Actions []string `json:"actions,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func newValidateCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate MANIFEST...",
		Short: "Check manifests and settings without contacting any host",
		Long: `Validate the settings file and each manifest.

Manifests are decoded strictly: unknown actions, unknown fields, and missing
required fields are errors. Context references are not resolved.`,
		Example: `  weave validate site.yaml
  weave validate manifests/*.yaml --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if path, ok, err := config.Find(opts.configPath); err != nil {
				return err
			} else if ok {
				if _, err := config.NewLoader(nil).Load(path); err != nil {
					return err
				}
			}

			codec, err := manifest.NewCodec(nil)
			if err != nil {
				return err
			}

			var (
				results []validation
				errs    []error
			)
			for _, path := range args {
				v := validation{Path: path}
				m, err := codec.LoadFile(path)
				if err != nil {
					v.Error = err.Error()
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
				} else {
					v.Valid = true
					v.Scope = scopeName(m.Scope)
					for _, a := range m.Actions {
						v.Actions = append(v.Actions, string(a.Kind()))
					}
				}
				results = append(results, v)
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				if err := writeJSON(out, results); err != nil {
					return err
				}
				return errors.Join(errs...)
			}

			for _, v := range results {
				if !v.Valid {
					fmt.Fprintf(out, "%s: invalid: %s\n", v.Path, v.Error)
					continue
				}
				fmt.Fprintf(out, "%s: %d action(s) on %s", v.Path, len(v.Actions), v.Scope)
				if len(v.Actions) > 0 {
					fmt.Fprintf(out, " [%s]", strings.Join(v.Actions, ", "))
				}
				fmt.Fprintln(out)
			}
			return errors.Join(errs...)
		},
	}

	return cmd
}

func scopeName(s manifest.Scope) string {
	if s.IsLocal() {
		return "local"
	}
	return s.Host
}
