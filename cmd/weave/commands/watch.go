package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hostweave/hostweave/pkg/engine"
	"github.com/hostweave/hostweave/pkg/policy"
)

// settleDelay collapses an editor's burst of writes into one plan.
const settleDelay = 300 * time.Millisecond

func newWatchCommand(opts *globalOptions) *cobra.Command {
	var (
		ro       runOptions
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch MANIFEST",
		Short: "Re-plan a manifest whenever it or a policy changes",
		Long: `Plan a manifest, then plan it again every time the file is saved or a
policy file changes. Nothing is applied.

While watching, metrics are served on the address set in the settings file.`,
		Example: `  weave watch site.yaml
  weave watch site.yaml --min-interval 10s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return engine.NewValidationError("--min-interval must be positive", nil)
			}
			ro.dryRun = true

			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			w := &watcher{
				app:     a,
				cmd:     cmd,
				opts:    opts,
				ro:      ro,
				path:    path,
				limiter: rate.NewLimiter(rate.Every(interval), 1),
				pending: make(chan struct{}, 1),
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.tel.ServeMetrics(gctx) })
			g.Go(func() error { return w.run(gctx) })
			return g.Wait()
		},
	}

	cmd.Flags().DurationVar(&interval, "min-interval", 2*time.Second, "minimum time between plans")
	cmd.Flags().StringVar(&ro.planErrors, "plan-errors", "", "what to do when an action fails to compile: abort or skip (default from settings)")

	return cmd
}

type watcher struct {
	app  *app
	cmd  *cobra.Command
	opts *globalOptions
	ro   runOptions
	path string

	limiter *rate.Limiter
	pending chan struct{}
}

// run plans once, then on every change until ctx is done.
func (w *watcher) run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	// Editors often replace the file, so watch its directory.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	if err := w.watchPolicies(ctx); err != nil {
		return err
	}

	w.app.logger.Info().Str("manifest", w.path).Msg("Watching for changes")
	w.trigger()

	var settle *time.Timer
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if settle != nil {
				settle.Stop()
			}
			settle = time.AfterFunc(settleDelay, w.trigger)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.app.logger.Warn().Err(err).Msg("Watcher error")

		case <-w.pending:
			if err := w.limiter.Wait(ctx); err != nil {
				return nil
			}
			w.plan(ctx)
		}
	}
}

// watchPolicies reloads user policies into the engine when they change.
func (w *watcher) watchPolicies(ctx context.Context) error {
	pe, err := w.app.policies(ctx)
	if err != nil || pe == nil {
		return err
	}
	paths := w.app.settings.Policy.Paths
	if len(paths) == 0 {
		return nil
	}

	return policy.NewLoader(w.app.logger).Watch(ctx, paths, func(policies []policy.Policy) error {
		if err := pe.Replace(ctx, policies); err != nil {
			return err
		}
		w.trigger()
		return nil
	})
}

// trigger queues a plan unless one is already queued.
func (w *watcher) trigger() {
	select {
	case w.pending <- struct{}{}:
	default:
	}
}

// plan runs one dry run and prints it. Failures are reported and watching
// goes on.
func (w *watcher) plan(ctx context.Context) {
	fmt.Fprintf(w.cmd.OutOrStdout(), "\n=== %s at %s\n", filepath.Base(w.path), time.Now().Format(time.TimeOnly))

	if err := w.planOnce(ctx); err != nil {
		w.app.tel.Metrics.RecordError(err)
		w.app.logger.Error().Err(err).Msg("Plan failed")
	}
}

func (w *watcher) planOnce(ctx context.Context) error {
	s, err := w.app.openSession(ctx, w.path)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Plan(ctx, w.ro); err != nil {
		return emit(w.cmd, w.opts, s.plan, nil, err)
	}
	report, err := s.Run(ctx, w.ro)
	return emit(w.cmd, w.opts, s.plan, report, err)
}
