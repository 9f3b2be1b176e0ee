package host

import (
	"context"
	"fmt"

	"github.com/hostweave/hostweave/pkg/transports/ssh"
	"github.com/rs/zerolog"
)

// RemoteExecutor runs commands on a remote host over an SSH transport.
type RemoteExecutor struct {
	transport ssh.Transport
	target    string
	isRoot    bool
	logger    zerolog.Logger
}

var _ Executor = (*RemoteExecutor)(nil)

// NewRemoteExecutor connects to the host described by cfg.
func NewRemoteExecutor(ctx context.Context, cfg *ssh.Config, logger zerolog.Logger) (*RemoteExecutor, error) {
	client, err := ssh.NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return NewRemoteExecutorWithTransport(client, cfg.URL(), cfg.User == "root", logger), nil
}

// NewRemoteExecutorWithTransport wraps an already connected transport.
func NewRemoteExecutorWithTransport(transport ssh.Transport, target string, isRoot bool, logger zerolog.Logger) *RemoteExecutor {
	return &RemoteExecutor{
		transport: transport,
		target:    target,
		isRoot:    isRoot,
		logger:    logger.With().Str("component", "remote-executor").Str("target", target).Logger(),
	}
}

// Run executes cmd through the remote login shell.
func (r *RemoteExecutor) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("command is required")
	}

	cmd = elevate(cmd, r.isRoot)
	line := cmd.String()
	res, err := r.transport.Run(ctx, line, cmd.Stdin)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		Duration: res.Duration,
	}
	if result.ExitCode != 0 {
		return result, &ExitError{Command: line, ExitCode: result.ExitCode, Stderr: result.Stderr}
	}
	return result, nil
}

// WriteFile uploads data via SFTP.
func (r *RemoteExecutor) WriteFile(ctx context.Context, path string, data []byte, mode uint32) error {
	if mode == 0 {
		mode = 0o600
	}
	return r.transport.WriteFile(ctx, path, data, mode)
}

// IsRoot reports whether the SSH login user is root.
func (r *RemoteExecutor) IsRoot() bool {
	return r.isRoot
}

// Name returns the ssh:// target string.
func (r *RemoteExecutor) Name() string {
	return r.target
}

// Close disconnects the transport.
func (r *RemoteExecutor) Close() error {
	return r.transport.Disconnect()
}
