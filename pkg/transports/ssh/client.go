package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var errNotConnected = errors.New("not connected")

// Client is a Transport over one SSH connection. Sessions for commands and
// SFTP are opened on it as needed.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu     sync.RWMutex
	client *ssh.Client
}

var _ Transport = (*Client)(nil)

// NewClient validates config. Connect opens the connection.
func NewClient(config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("ssh config for %s: %w", config.Address(), err)
	}
	return &Client{
		config: config,
		logger: logger.With().Str("component", "ssh").Str("address", config.Address()).Logger(),
	}, nil
}

// Connect dials the server, retrying failures that are not about
// credentials or host keys up to DialAttempts times.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	cfg, closer, err := c.config.clientConfig()
	if err != nil {
		return c.fail("connect", err, false)
	}
	if closer != nil {
		defer closer.Close()
	}

	attempts := c.config.DialAttempts
	if attempts == 0 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond

	start := time.Now()
	client, err := backoff.Retry(ctx, func() (*ssh.Client, error) {
		client, err := dial(ctx, c.config.Address(), cfg)
		if err != nil && rejected(err) {
			return nil, backoff.Permanent(err)
		}
		return client, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug().Err(err).Dur("retry_in", next).Msg("SSH connect failed, retrying")
		}),
	)
	if err != nil {
		te := c.fail("connect", err, !rejected(err))
		te.Auth = rejected(err)
		return te
	}

	c.client = client
	c.logger.Debug().Str("user", c.config.User).Dur("duration", time.Since(start)).Msg("SSH connected")
	return nil
}

// dial connects and performs the handshake within cfg.Timeout or the
// context deadline, whichever is sooner.
func dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(cfg.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	sc, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(sc, chans, reqs), nil
}

// rejected reports whether the server refused the credentials or presented
// an unknown host key.
func rejected(err error) bool {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return true
	}
	return strings.Contains(err.Error(), "unable to authenticate")
}

// Disconnect closes the connection. It is safe to call more than once.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return c.fail("disconnect", err, false)
	}
	c.logger.Debug().Msg("SSH disconnected")
	return nil
}

// IsConnected reports whether Connect succeeded and Disconnect was not
// called since.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil
}

// User returns the login user.
func (c *Client) User() string {
	return c.config.User
}

func (c *Client) conn() (*ssh.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, c.fail("session", errNotConnected, false)
	}
	return c.client, nil
}

// Run executes cmd in a new session. When ctx ends first the remote process
// is killed and ctx's error returned.
func (c *Client) Run(ctx context.Context, cmd string, stdin []byte) (*ExecResult, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
		defer cancel()
	}

	client, err := c.conn()
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, c.fail("session", err, true)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		runErr = ctx.Err()
	}

	res := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *ssh.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
	default:
		return res, c.fail("exec", runErr, ctx.Err() == nil)
	}

	c.logger.Debug().
		Str("command", cmd).
		Int("exit_code", res.ExitCode).
		Dur("duration", res.Duration).
		Msg("Remote command finished")
	return res, nil
}

func (c *Client) fail(op string, err error, retry bool) *TransportError {
	return &TransportError{Op: op, Host: c.config.Address(), Err: err, Retry: retry}
}
