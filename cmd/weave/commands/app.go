package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/hostweave/hostweave/pkg/config"
	"github.com/hostweave/hostweave/pkg/contexts"
	"github.com/hostweave/hostweave/pkg/engine"
	"github.com/hostweave/hostweave/pkg/host"
	"github.com/hostweave/hostweave/pkg/manifest"
	"github.com/hostweave/hostweave/pkg/policy"
	"github.com/hostweave/hostweave/pkg/script"
	"github.com/hostweave/hostweave/pkg/stores"
	"github.com/hostweave/hostweave/pkg/telemetry"
	"github.com/hostweave/hostweave/pkg/transports/ssh"
)

// app holds what every command builds from the settings file.
type app struct {
	settings *config.Settings
	logger   zerolog.Logger
	tel      *telemetry.Telemetry
	codec    *manifest.Codec

	// store and policy are built on first use.
	store  *stores.SQLiteStore
	policy *policy.Engine
}

// newApp loads settings and builds telemetry. The caller must Close it.
func newApp(ctx context.Context, opts *globalOptions) (*app, error) {
	logger := telemetry.FromContext(ctx).Logger

	loader := config.NewLoader(nil)
	path, ok, err := config.Find(opts.configPath)
	if err != nil {
		return nil, err
	}

	var settings *config.Settings
	if ok {
		logger.Debug().Str("path", path).Msg("Loading settings")
		settings, err = loader.Load(path)
	} else {
		settings, err = loader.Default()
	}
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(settings.Telemetry, opts.version), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	codec, err := manifest.NewCodec(nil)
	if err != nil {
		return nil, err
	}

	return &app{
		settings: settings,
		logger:   logger,
		tel:      tel,
		codec:    codec,
	}, nil
}

// Close flushes telemetry and closes the journal.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.tel.Shutdown(context.Background()))
	return errors.Join(errs...)
}

func (a *app) scriptOptions() script.Options {
	return script.Options{
		MaxSteps: a.settings.Scripts.MaxSteps,
		Timeout:  a.settings.Scripts.TimeoutDuration(),
		Logger:   a.logger,
	}
}

// executor connects to the host a scope names.
func (a *app) executor(ctx context.Context, scope manifest.Scope) (host.Executor, error) {
	if scope.IsLocal() {
		return host.NewLocalExecutor(a.logger), nil
	}

	target, err := parseTarget(scope.Host)
	if err != nil {
		return nil, err
	}

	s := a.settings.SSH
	user := firstNonEmpty(target.User, s.User, os.Getenv("USER"))
	cfg := ssh.NewConfig(target.Host, user)
	cfg.Port = firstPositive(target.Port, s.Port, ssh.DefaultPort)
	cfg.Auth = ssh.AuthMethod(s.Auth)
	if s.KeyFile != "" {
		cfg.KeyFile = s.KeyFile
	}
	if s.KnownHosts != "" {
		cfg.KnownHosts = s.KnownHosts
	}
	if d := s.TimeoutDuration(); d > 0 {
		cfg.DialTimeout = d
	}
	if s.DialAttempts > 0 {
		cfg.DialAttempts = uint(s.DialAttempts)
	}

	a.logger.Debug().Str("target", cfg.URL()).Str("auth", string(cfg.Method())).Msg("Connecting")
	exec, err := host.NewRemoteExecutor(ctx, cfg, a.logger)
	if err != nil {
		var terr *ssh.TransportError
		if errors.As(err, &terr) && terr.Temporary() {
			return nil, engine.NewTransientError("connect to "+cfg.URL(), err)
		}
		return nil, engine.NewExecutionError("connect to "+cfg.URL(), err)
	}
	return exec, nil
}

// registry builds the context providers configured in the settings file.
// Facts about the target come from exec.
func (a *app) registry(exec host.Executor) (*contexts.Registry, error) {
	cs := a.settings.Contexts
	mode := contexts.Mode(cs.Mode)
	if err := mode.Validate(); err != nil {
		return nil, err
	}

	reg := contexts.NewRegistry(mode, a.logger)
	reg.SetObserver(a.tel.Metrics.ObserveProvider)

	providers := []contexts.Provider{
		contexts.NewUserProvider(),
		contexts.NewHostProvider(exec),
	}

	if cs.DNS.Host != "" {
		dns, err := contexts.NewDNSProvider(contexts.DNSOptions{
			Host:       cs.DNS.Host,
			Nameserver: cs.DNS.Nameserver,
			Timeout:    cs.DNS.TimeoutDuration(),
			Retries:    cs.DNS.Retries,
			Logger:     a.logger,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, dns)
	}

	for _, sc := range cs.Scripts {
		providers = append(providers, contexts.NewScriptFileProvider(sc.Prefix, sc.File, a.scriptOptions()))
	}
	for _, wc := range cs.Wasm {
		providers = append(providers, contexts.NewWasmProvider(contexts.WasmOptions{
			Prefix:      wc.Prefix,
			File:        wc.File,
			Timeout:     a.settings.Scripts.TimeoutDuration(),
			MemoryPages: wc.MemoryPages,
			Logger:      a.logger,
		}))
	}

	for _, p := range providers {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// policies returns the policy engine, or nil when policy checks are off.
func (a *app) policies(ctx context.Context) (*policy.Engine, error) {
	if a.policy != nil || !a.settings.Policy.Enabled {
		return a.policy, nil
	}
	eng, err := policy.NewEngine(a.logger)
	if err != nil {
		return nil, err
	}
	if len(a.settings.Policy.Paths) > 0 {
		if err := eng.LoadPolicies(ctx, a.settings.Policy.Paths); err != nil {
			return nil, err
		}
	}
	if err := eng.Disable(a.settings.Policy.Disabled...); err != nil {
		return nil, engine.NewValidationError("policy.disabled", err)
	}
	a.policy = eng
	return eng, nil
}

// journal opens the run journal. It returns a nil store when the journal is
// disabled.
func (a *app) journal(ctx context.Context) (*stores.SQLiteStore, error) {
	if a.store != nil || !a.settings.Journal.Enabled {
		return a.store, nil
	}

	store, err := stores.Open(ctx, a.settings.JournalPath())
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
