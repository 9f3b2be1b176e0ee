package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/hostweave/hostweave/cmd/weave/commands"
	"github.com/hostweave/hostweave/pkg/telemetry"
)

// Version information (set via ldflags during build)
var (
	Version   = ""
	Commit    = ""
	BuildDate = ""
)

func main() {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := commands.Execute(ctx, commands.BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	})
	if err != nil {
		log.Error().Err(err).Msg("Command execution failed")
		stop()
		os.Exit(commands.ExitCode(err))
	}
}

// setupLogging configures the global logger from WEAVE_LOG_LEVEL. Flags may
// change the level and format later.
func setupLogging() {
	cfg := telemetry.DefaultConfig().Logging
	if env := os.Getenv("WEAVE_LOG_LEVEL"); env != "" {
		cfg.Level = env
	}
	if err := telemetry.Configure(os.Stderr, cfg); err != nil {
		_ = telemetry.Configure(os.Stderr, telemetry.DefaultConfig().Logging)
		log.Warn().Err(err).Msg("Ignoring WEAVE_LOG_LEVEL")
	}
}
