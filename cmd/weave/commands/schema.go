package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hostweave/hostweave/pkg/engine"
	"github.com/hostweave/hostweave/pkg/manifest"
)

func newSchemaCommand() *cobra.Command {
	var (
		format string
		atoms  bool
	)

	cmd := &cobra.Command{
		Use:   "schema [KIND...]",
		Short: "Print the manifest schema",
		Long: `Print the shape of every action as JSON Schema or CUE definitions.

Editors can use the JSON Schema to check manifests as they are written.
With --atoms the atoms actions compile into are included.`,
		Example: `  weave schema > weave.schema.json
  weave schema --format cue cron.add`,
		RunE: func(cmd *cobra.Command, args []string) error {
			shapes := manifest.ActionShapes()
			if atoms {
				shapes = append(shapes, manifest.AtomShapes()...)
			}
			shapes, err := selectShapes(shapes, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				return writeJSON(out, manifest.JSONSchema(shapes))
			case "cue":
				defs := make([]string, 0, len(shapes))
				for _, s := range shapes {
					defs = append(defs, manifest.CUE(s))
				}
				_, err := fmt.Fprint(out, strings.Join(defs, "\n"))
				return err
			default:
				return engine.NewValidationError(fmt.Sprintf("invalid format %q (must be json or cue)", format), nil)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or cue")
	cmd.Flags().BoolVar(&atoms, "atoms", false, "include atom shapes")

	return cmd
}

// selectShapes keeps the shapes named by kinds, in the order given. No
// kinds keeps everything.
func selectShapes(shapes []manifest.Shape, kinds []string) ([]manifest.Shape, error) {
	if len(kinds) == 0 {
		return shapes, nil
	}

	byKind := make(map[string]manifest.Shape, len(shapes))
	for _, s := range shapes {
		if _, ok := byKind[s.Kind]; !ok {
			byKind[s.Kind] = s
		}
	}

	out := make([]manifest.Shape, 0, len(kinds))
	for _, k := range kinds {
		s, ok := byKind[k]
		if !ok {
			return nil, engine.NewValidationError(fmt.Sprintf("unknown kind %q", k), nil).
				WithCode(engine.ErrCodeUnknownAction)
		}
		out = append(out, s)
	}
	return out, nil
}
