package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hostweave/hostweave/pkg/engine"
	"github.com/hostweave/hostweave/pkg/host"
)

// target identifies whose crontab an atom edits.
type target struct {
	user       string
	privileged bool
}

func (t target) String() string {
	if t.user == "" {
		return "crontab"
	}
	return "crontab:" + t.user
}

func (t target) command(args ...string) host.Command {
	if t.user != "" {
		args = append([]string{"-u", t.user}, args...)
	}
	return host.Command{Name: "crontab", Args: args, Privileged: t.privileged}
}

// read loads the current table. A user without a crontab has an empty one.
func (t target) read(ctx context.Context, exec host.Executor) (*Table, error) {
	res, err := exec.Run(ctx, t.command("-l"))
	if err != nil {
		var exitErr *host.ExitError
		if errors.As(err, &exitErr) && strings.Contains(exitErr.Stderr, "no crontab for") {
			return ParseTable(""), nil
		}
		return nil, fmt.Errorf("read %s on %s: %w", t, exec.Name(), err)
	}
	return ParseTable(res.Stdout), nil
}

// write installs table by staging it in a temporary file on the target and
// handing the file to crontab(1).
func (t target) write(ctx context.Context, env *engine.Env, table *Table) error {
	path := "/tmp/weave-crontab-" + uuid.NewString()
	if err := env.Host.WriteFile(ctx, path, []byte(table.String()), 0o600); err != nil {
		return engine.NewExecutionError(fmt.Sprintf("stage %s on %s", t, env.Host.Name()), err)
	}
	defer func() {
		if _, err := env.Host.Run(ctx, host.Command{Name: "rm", Args: []string{"-f", path}}); err != nil {
			env.Logger.Warn().Err(err).Str("path", path).Msg("failed to remove staged crontab")
		}
	}()

	if _, err := env.Host.Run(ctx, t.command(path)); err != nil {
		return engine.NewExecutionError(fmt.Sprintf("install %s on %s", t, env.Host.Name()), err)
	}
	return nil
}
