package commands

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hostweave/hostweave/pkg/engine"
	"github.com/hostweave/hostweave/pkg/telemetry"
)

// BuildInfo is stamped into the binary with -ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

func (b BuildInfo) orUnknown() BuildInfo {
	for _, f := range []*string{&b.Version, &b.Commit, &b.BuildDate} {
		if *f == "" {
			*f = "unknown"
		}
	}
	return b
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	jsonOutput bool

	// version is reported to telemetry.
	version string
}

// Execute runs the root command.
func Execute(ctx context.Context, info BuildInfo) error {
	return newRootCommand(info).ExecuteContext(ctx)
}

// ExitCode maps an error to the process exit status: 2 for manifest and
// settings problems, 3 for plans rejected by policy or plan errors, 1 for
// everything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case engine.IsValidation(err):
		return 2
	case engine.IsPlan(err):
		return 3
	default:
		return 1
	}
}

func newRootCommand(info BuildInfo) *cobra.Command {
	info = info.orUnknown()
	opts := &globalOptions{version: info.Version}

	rootCmd := &cobra.Command{
		Use:   "weave",
		Short: "hostweave - declarative host automation",
		Long: `hostweave applies YAML manifests of actions to a host.

Each action compiles into steps built from atoms, the smallest operations
weave can plan and run. Every atom can report what it would change before
it changes anything, so 'weave plan' shows exactly what 'weave apply' does.

Actions:
  - cron.add, cron.list, cron.remove: manage crontab entries
  - script.run: run a Starlark script against the host

String fields may reference context values such as {{ user.home_dir }} or
{{ dns.schedule }}, resolved from context providers before planning.`,
		Version:       info.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return configureLogging(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "settings file (default ./weave.cue, then $XDG_CONFIG_HOME/hostweave/weave.cue)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "console", "log format: console or json")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newPlanCommand(opts))
	rootCmd.AddCommand(newApplyCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newSchemaCommand())
	rootCmd.AddCommand(newContextsCommand(opts))
	rootCmd.AddCommand(newPoliciesCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))
	rootCmd.AddCommand(newWatchCommand(opts))
	rootCmd.AddCommand(newVersionCommand(info))

	return rootCmd
}

// configureLogging applies --log-level and --log-format to the global logger
// and attaches it to the command's context. Without --log-level the level
// set at startup is kept.
func configureLogging(cmd *cobra.Command, opts *globalOptions) error {
	cfg := telemetry.DefaultConfig().Logging
	cfg.Format = opts.logFormat
	cfg.Level = zerolog.GlobalLevel().String()
	if opts.logLevel != "" {
		cfg.Level = opts.logLevel
	}

	if err := telemetry.Configure(cmd.ErrOrStderr(), cfg); err != nil {
		return engine.NewValidationError(err.Error(), nil)
	}
	cmd.SetContext(telemetry.WithContext(cmd.Context(), telemetry.Logger{Logger: log.Logger}))
	return nil
}
