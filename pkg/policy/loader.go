package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/rs/zerolog"
)

// settle is how long the watcher waits for a burst of file events to end
// before reloading.
const settle = 500 * time.Millisecond

// Loader reads user policies from .rego and .json files.
//
// A .rego file becomes a policy named after the file, described by the
// comment block above its package clause. A .json file holds a Policy
// document; its name also defaults to the file name.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader returns a Loader that logs through logger.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "policy-loader").Logger()}
}

// LoadFromPaths reads every policy under paths, sorted by name. A path may
// be a file or a directory searched recursively. Explicitly named files must
// load; broken files found while searching a directory are logged and
// skipped. Two files defining the same policy name is an error.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	seen := make(map[string]string)
	var out []Policy

	add := func(p *Policy) error {
		if prev, ok := seen[p.Name]; ok {
			return fmt.Errorf("policy %s defined in both %s and %s", p.Name, prev, p.Source)
		}
		seen[p.Name] = p.Source
		out = append(out, *p)
		return nil
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("policy path: %w", err)
		}

		if !info.IsDir() {
			p, err := readPolicy(root)
			if err != nil {
				return nil, err
			}
			if err := add(p); err != nil {
				return nil, err
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() || !isPolicyFile(path) {
				return nil
			}
			p, err := readPolicy(path)
			if err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
				return nil
			}
			return add(p)
		})
		if err != nil {
			return nil, fmt.Errorf("load policies from %s: %w", root, err)
		}
	}

	slices.SortFunc(out, func(a, b Policy) int { return strings.Compare(a.Name, b.Name) })

	l.logger.Debug().Int("policies", len(out)).Strs("paths", paths).Msg("Policies loaded")
	return out, nil
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}

// readPolicy decodes one policy file.
func readPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ext := filepath.Ext(path)
	name := strings.TrimSuffix(filepath.Base(path), ext)

	switch ext {
	case ".rego":
		mod, err := ast.ParseModuleWithOpts(path, string(data), ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return &Policy{
			Name:        name,
			Description: describe(mod),
			Rego:        string(data),
			Severity:    SeverityWarning,
			Enabled:     true,
			Source:      path,
		}, nil

	case ".json":
		var p Policy
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if p.Name == "" {
			p.Name = name
		}
		if p.Severity == "" {
			p.Severity = SeverityWarning
		}
		if p.Rego == "" {
			return nil, fmt.Errorf("%s: rego is empty", path)
		}
		p.Builtin = false
		p.Source = path
		return &p, nil
	}

	return nil, fmt.Errorf("%s: not a policy file", path)
}

// describe joins the comment lines that precede the package clause.
func describe(mod *ast.Module) string {
	if mod.Package == nil || mod.Package.Location == nil {
		return ""
	}
	pkgRow := mod.Package.Location.Row

	var lines []string
	for _, c := range mod.Comments {
		if c.Location == nil || c.Location.Row >= pkgRow {
			continue
		}
		if text := strings.TrimSpace(string(c.Text)); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, " ")
}

// Watch calls apply with the full policy set each time a policy file under
// paths is written, created, removed or renamed. It returns once the watches
// are in place; the watcher stops when ctx is done.
//
// A reload that fails leaves the previous policies in force.
func (l *Loader) Watch(ctx context.Context, paths []string, apply func([]Policy) error) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy watcher: %w", err)
	}

	for _, root := range paths {
		if err := addTree(fw, root); err != nil {
			_ = fw.Close()
			return fmt.Errorf("watch %s: %w", root, err)
		}
	}

	go l.watch(ctx, fw, paths, apply)

	l.logger.Info().Strs("paths", paths).Msg("Watching policies")
	return nil
}

// addTree watches root, and every directory below it when root is a
// directory.
func addTree(fw *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

func (l *Loader) watch(ctx context.Context, fw *fsnotify.Watcher, paths []string, apply func([]Policy) error) {
	defer fw.Close()

	timer := time.NewTimer(settle)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(fw, ev.Name); err != nil {
						l.logger.Warn().Err(err).Str("dir", ev.Name).Msg("Cannot watch new directory")
					}
					continue
				}
			}
			if !isPolicyFile(ev.Name) || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
				continue
			}
			l.logger.Debug().Str("file", ev.Name).Stringer("op", ev.Op).Msg("Policy file changed")
			timer.Reset(settle)

		case <-timer.C:
			if err := l.reload(ctx, paths, apply); err != nil && !errors.Is(err, context.Canceled) {
				l.logger.Error().Err(err).Msg("Policy reload failed, keeping previous policies")
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			l.logger.Warn().Err(err).Msg("Policy watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, apply func([]Policy) error) error {
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	if err := apply(policies); err != nil {
		return err
	}
	l.logger.Info().Int("policies", len(policies)).Msg("Policies reloaded")
	return nil
}
