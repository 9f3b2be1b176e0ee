package contexts

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

const (
	// DefaultWasmTimeout bounds one module run.
	DefaultWasmTimeout = 30 * time.Second

	// DefaultWasmMemoryPages is 16MiB of 64KiB pages.
	DefaultWasmMemoryPages = 256
)

// WasmOptions configures a WasmProvider.
type WasmOptions struct {
	Prefix string

	// File is the WASI command module. Module holds its bytes instead when
	// set.
	File   string
	Module []byte

	Timeout     time.Duration
	MemoryPages uint32

	Logger zerolog.Logger
}

// WasmProvider runs a sandboxed WASI command and turns the "key=value"
// lines it prints into facts. The module sees no filesystem, no network,
// and one argument: its prefix.
type WasmProvider struct {
	opts WasmOptions
}

// NewWasmProvider creates a provider. The module is read and compiled on
// each resolve.
func NewWasmProvider(opts WasmOptions) *WasmProvider {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultWasmTimeout
	}
	if opts.MemoryPages == 0 {
		opts.MemoryPages = DefaultWasmMemoryPages
	}
	return &WasmProvider{opts: opts}
}

// Prefix implements Provider.
func (p *WasmProvider) Prefix() string {
	return p.opts.Prefix
}

// Contexts implements Provider.
func (p *WasmProvider) Contexts(ctx context.Context) ([]Context, error) {
	code := p.opts.Module
	if code == nil {
		var err error
		if code, err = os.ReadFile(p.opts.File); err != nil {
			return nil, fmt.Errorf("failed to read module: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithMemoryLimitPages(p.opts.MemoryPages).
		WithCloseOnContextDone(true))
	defer runtime.Close(context.WithoutCancel(ctx))

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	var stdout, stderr bytes.Buffer
	config := wazero.NewModuleConfig().
		WithName(p.opts.Prefix).
		WithArgs(p.opts.Prefix).
		WithStdout(&stdout).
		WithStderr(&stderr)

	start := time.Now()
	mod, err := runtime.InstantiateWithConfig(ctx, code, config)
	if err != nil {
		var exit *sys.ExitError
		if !errors.As(err, &exit) || exit.ExitCode() != 0 {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return nil, fmt.Errorf("module failed: %w: %s", err, msg)
			}
			return nil, fmt.Errorf("module failed: %w", err)
		}
	} else {
		_ = mod.Close(ctx)
	}

	var lines []string
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read module output: %w", err)
	}

	facts := parseKeyValues(lines, p.opts.Logger)
	p.opts.Logger.Debug().
		Str("prefix", p.opts.Prefix).
		Int("facts", len(facts)).
		Dur("duration", time.Since(start)).
		Msg("WASI module finished")
	return facts, nil
}
