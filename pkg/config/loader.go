package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"

	"github.com/hostweave/hostweave/pkg/engine"
)

// FileName is the settings file looked up in the working directory.
const FileName = "weave.cue"

// Loader reads weave.cue files: CUE unification with #Settings supplies
// defaults and shape checks, then struct tags are checked by the validator.
type Loader struct {
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewLoader creates a loader over schemas. A nil registry gets the built-in
// one.
func NewLoader(schemas *SchemaRegistry) *Loader {
	if schemas == nil {
		schemas = NewSchemaRegistry()
	}
	return &Loader{schemas: schemas, validator: NewValidator()}
}

// NewValidator returns a validator that reports JSON field names and knows
// the "duration" tag.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		_, err := time.ParseDuration(s)
		return err == nil
	})
	return v
}

// Find resolves the settings file. An explicit path must exist; otherwise
// ./weave.cue and then $XDG_CONFIG_HOME/hostweave/weave.cue are tried. ok is
// false when there is nothing to load.
func Find(explicit string) (path string, ok bool, err error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", false, fmt.Errorf("settings file: %w", err)
		}
		return explicit, true, nil
	}
	if _, err := os.Stat(FileName); err == nil {
		return FileName, true, nil
	}
	if found, err := xdg.SearchConfigFile("hostweave/" + FileName); err == nil {
		return found, true, nil
	}
	return "", false, nil
}

// Load reads and validates the settings at path.
func (l *Loader) Load(path string) (*Settings, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, engine.NewValidationError("settings file not found", err).WithDetail("path", path)
		}
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}
	return l.LoadBytes(path, src)
}

// Default returns the settings of an empty weave.cue.
func (l *Loader) Default() (*Settings, error) {
	return l.LoadBytes("defaults", nil)
}

// LoadBytes parses src as a weave.cue file named filename.
func (l *Loader) LoadBytes(filename string, src []byte) (*Settings, error) {
	val := l.schemas.Context().CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, invalid(filename, ConvertCUEErrors(err))
	}

	def, ok := l.schemas.GetSchema(SettingsSchema)
	if !ok {
		return nil, fmt.Errorf("schema %s not registered", SettingsSchema)
	}

	unified := def.Unify(val)
	if err := unified.Validate(); err != nil {
		return nil, invalid(filename, ConvertCUEErrors(err))
	}

	var settings Settings
	if err := unified.Decode(&settings); err != nil {
		return nil, invalid(filename, ConvertCUEErrors(err))
	}

	if err := l.validator.Struct(&settings); err != nil {
		return nil, invalid(filename, convertValidatorErrors(err))
	}
	return &settings, nil
}

func invalid(filename string, errs ValidationErrors) error {
	return engine.NewValidationError("invalid settings in "+filename, errs).
		WithDetail("errors", len(errs))
}

// convertValidatorErrors maps validator field errors to validation errors
// keyed by the JSON path, e.g. "contexts.dns.timeout".
func convertValidatorErrors(err error) ValidationErrors {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{{Message: err.Error()}}
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		path := fe.Namespace()
		if _, rest, found := strings.Cut(path, "."); found {
			path = rest
		}
		msg := fmt.Sprintf("failed %q check", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q check (%s)", fe.Tag(), fe.Param())
		}
		out = append(out, ValidationError{Path: path, Message: msg})
	}
	return out
}
