// Package ssh is the transport behind remote manifest scopes: commands run
// in SSH sessions and files are written over SFTP.
package ssh

import (
	"context"
	"fmt"
	"time"
)

// Transport is what the remote host executor needs from a connection.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	// Run executes cmd, feeding stdin when non-nil. A non-zero exit status
	// is reported in ExecResult.ExitCode, not as an error.
	Run(ctx context.Context, cmd string, stdin []byte) (*ExecResult, error)

	// WriteFile creates or truncates path with mode and writes data to it.
	WriteFile(ctx context.Context, path string, data []byte, mode uint32) error
}

// ExecResult is the outcome of one remote command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// TransportError is a failure of the connection rather than of the remote
// command.
type TransportError struct {
	// Op is the failed operation: connect, session, exec, sftp or upload.
	Op   string
	Host string
	Err  error

	// Retry is set when trying again may succeed.
	Retry bool

	// Auth is set when the server rejected the credentials or host key.
	Auth bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ssh %s %s: %v", e.Op, e.Host, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the operation may succeed if retried.
func (e *TransportError) Temporary() bool {
	return e.Retry
}
