package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Logger is a zerolog logger scoped to one component of weave.
type Logger struct {
	zerolog.Logger
}

// NewComponentLogger returns base tagged with component.
func NewComponentLogger(base zerolog.Logger, component string) Logger {
	return Logger{base.With().Str("component", component).Logger()}
}

// WithRun adds the run ID.
func (l Logger) WithRun(runID string) Logger {
	return Logger{l.With().Str("run_id", runID).Logger()}
}

// WithStep adds the step index and the action it came from.
func (l Logger) WithStep(index int, action string) Logger {
	return Logger{l.With().Int("step", index).Str("action", action).Logger()}
}

// WithContext attaches l to ctx. The runner attaches its step loggers the
// same way, so FromContext finds them too.
func WithContext(ctx context.Context, l Logger) context.Context {
	return l.Logger.WithContext(ctx)
}

// FromContext returns the logger attached to ctx. Without one, or when the
// attached logger is disabled, the global logger is returned.
func FromContext(ctx context.Context) Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return Logger{*l}
	}
	return Logger{log.Logger}
}

// NewLogger builds a zerolog logger writing to w as cfg describes. Console
// output is colored only when w is a terminal.
func NewLogger(w io.Writer, cfg LoggingConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(normalizeLevel(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q", cfg.Level)
	}

	switch cfg.Format {
	case "json":
	case "", "console":
		w = zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    !isTerminal(w),
			TimeFormat: consoleTime(cfg.TimeFormat),
		}
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q (must be console or json)", cfg.Format)
	}

	zctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.EnableCaller {
		zctx = zctx.Caller()
	}
	return zctx.Logger(), nil
}

// Configure replaces the global logger and sets the global level from cfg.
func Configure(w io.Writer, cfg LoggingConfig) error {
	logger, err := NewLogger(w, cfg)
	if err != nil {
		return err
	}
	log.Logger = logger
	zerolog.SetGlobalLevel(logger.GetLevel())
	return nil
}

// ParseLevel maps a level name to a zerolog level. "warning" is accepted for
// warn; unknown names mean info.
func ParseLevel(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(normalizeLevel(name))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func normalizeLevel(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return "info"
	case "warning":
		return "warn"
	}
	return name
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func consoleTime(format string) string {
	switch format {
	case "unix":
		return zerolog.TimeFormatUnix
	case "unixms":
		return zerolog.TimeFormatUnixMs
	case "kitchen":
		return time.Kitchen
	}
	return time.RFC3339
}
