// Package host runs commands on the machine a manifest targets. Atoms talk to
// an Executor and never to os/exec or SSH directly, so the same atom works for
// the local host and for a remote scope.
package host

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Command is a single process invocation on the target host.
type Command struct {
	// Name is the program to run.
	Name string

	// Args are passed to the program verbatim.
	Args []string

	// Stdin is fed to the process when non-nil.
	Stdin []byte

	// Privileged asks the executor to elevate the command. Executors that
	// already run as root ignore it.
	Privileged bool
}

// String renders the command as a shell-like line for logs and errors.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, arg := range c.Args {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

// Result is the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Executor runs commands and writes files on a target host.
type Executor interface {
	// Run executes cmd. A non-zero exit status is returned as *ExitError
	// together with the captured Result.
	Run(ctx context.Context, cmd Command) (*Result, error)

	// WriteFile places data at path on the target.
	WriteFile(ctx context.Context, path string, data []byte, mode uint32) error

	// IsRoot reports whether commands already run with full privileges.
	IsRoot() bool

	// Name identifies the target (e.g. "local", "ssh://deploy@web1:22").
	Name() string

	// Close releases connections held by the executor.
	Close() error
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("command %q exited with code %d: %s", e.Command, e.ExitCode, stderr)
}

// elevate wraps cmd in non-interactive sudo when it asks for privilege and
// the executor is not already root.
func elevate(cmd Command, isRoot bool) Command {
	if !cmd.Privileged || isRoot {
		return cmd
	}
	args := append([]string{"-n", "--", cmd.Name}, cmd.Args...)
	return Command{Name: "sudo", Args: args, Stdin: cmd.Stdin}
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:@%+,", r))
	}) == -1 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
