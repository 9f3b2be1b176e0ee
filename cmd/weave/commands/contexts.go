package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/hostweave/hostweave/pkg/contexts"
	"github.com/hostweave/hostweave/pkg/engine"
	"github.com/hostweave/hostweave/pkg/manifest"
)

func newContextsCommand(opts *globalOptions) *cobra.Command {
	var (
		hostFlag string
		query    string
	)

	cmd := &cobra.Command{
		Use:   "contexts [MANIFEST]",
		Short: "Show the context values manifests can reference",
		Long: `Resolve every configured context provider and print the values a
manifest can reference as {{ prefix.key }}.

The host comes from the manifest's scope, from --host, or is this machine.
--query filters the values with a jq expression; values are nested by
prefix, so {{ user.home_dir }} is .user.home_dir.`,
		Example: `  weave contexts
  weave contexts site.yaml
  weave contexts --host deploy@web1 --query '.host'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var scope manifest.Scope
			if len(args) == 1 {
				codec, err := manifest.NewCodec(nil)
				if err != nil {
					return err
				}
				m, err := codec.LoadFile(args[0])
				if err != nil {
					return err
				}
				scope = m.Scope
			}
			if hostFlag != "" {
				scope.Host = hostFlag
			}

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.resolveContexts(ctx, scope)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if query != "" {
				results, err := queryContexts(nestContexts(c), query)
				if err != nil {
					return err
				}
				for _, r := range results {
					if s, ok := r.(string); ok && !opts.jsonOutput {
						fmt.Fprintln(out, s)
						continue
					}
					if err := writeJSON(out, r); err != nil {
						return err
					}
				}
				return nil
			}

			if opts.jsonOutput {
				return writeJSON(out, map[string]any{
					"values":      nestContexts(c),
					"unavailable": c.Unavailable(),
				})
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tVALUE")
			for _, k := range c.Keys() {
				v, _ := c.Get(k)
				fmt.Fprintf(tw, "%s\t%s\n", k, v)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			for _, prefix := range c.Unavailable() {
				fmt.Fprintf(out, "\n%s: unavailable: %v\n", prefix, c.UnavailableErr(prefix))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&hostFlag, "host", "", "resolve against this host instead of the manifest's scope")
	cmd.Flags().StringVarP(&query, "query", "q", "", "jq expression applied to the values")

	return cmd
}

// resolveContexts connects to the scope's host and resolves every
// provider.
func (a *app) resolveContexts(ctx context.Context, scope manifest.Scope) (*contexts.Contexts, error) {
	exec, err := a.executor(ctx, scope)
	if err != nil {
		return nil, err
	}
	defer exec.Close()

	reg, err := a.registry(exec)
	if err != nil {
		return nil, err
	}
	return reg.Resolve(ctx)
}

// nestContexts turns "user.home_dir" keys into {"user": {"home_dir": ...}}.
func nestContexts(c *contexts.Contexts) map[string]any {
	out := make(map[string]any)
	for _, k := range c.Keys() {
		v, _ := c.Get(k)
		prefix, key, ok := strings.Cut(k, ".")
		if !ok {
			out[k] = v
			continue
		}
		group, ok := out[prefix].(map[string]any)
		if !ok {
			group = make(map[string]any)
			out[prefix] = group
		}
		group[key] = v
	}
	return out
}

// queryContexts runs a jq expression over values and collects its outputs.
func queryContexts(values map[string]any, expr string) ([]any, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("invalid query %q", expr), err)
	}

	var results []any
	iter := query.Run(values)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, fmt.Errorf("query %q: %w", expr, err)
		}
		results = append(results, v)
	}
	return results, nil
}
