package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// LocalExecutor runs commands on the machine weave itself runs on.
type LocalExecutor struct {
	logger zerolog.Logger
	isRoot bool
}

var _ Executor = (*LocalExecutor)(nil)

// NewLocalExecutor creates an executor for the local host.
func NewLocalExecutor(logger zerolog.Logger) *LocalExecutor {
	return &LocalExecutor{
		logger: logger.With().Str("component", "local-executor").Logger(),
		isRoot: os.Geteuid() == 0,
	}
}

// Run executes cmd without a shell.
func (l *LocalExecutor) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("command is required")
	}

	cmd = elevate(cmd, l.isRoot)
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	l.logger.Debug().
		Str("command", cmd.String()).
		Dur("duration", result.Duration).
		Err(err).
		Msg("command completed")

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, &ExitError{Command: cmd.String(), ExitCode: result.ExitCode, Stderr: result.Stderr}
		}
		return nil, fmt.Errorf("failed to execute command: %w", err)
	}
	return result, nil
}

// WriteFile writes data to path, creating parent directories.
func (l *LocalExecutor) WriteFile(_ context.Context, path string, data []byte, mode uint32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if mode == 0 {
		mode = 0o600
	}
	return os.WriteFile(path, data, os.FileMode(mode))
}

// IsRoot reports whether the process runs with effective uid 0.
func (l *LocalExecutor) IsRoot() bool {
	return l.isRoot
}

// Name returns "local".
func (l *LocalExecutor) Name() string {
	return "local"
}

// Close is a no-op for the local host.
func (l *LocalExecutor) Close() error {
	return nil
}
