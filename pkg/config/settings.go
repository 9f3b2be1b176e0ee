package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Settings is the engine configuration read from weave.cue.
type Settings struct {
	// PlanErrors decides what a failing action does to the run: abort it, or
	// skip the action with a warning.
	PlanErrors string `json:"plan_errors" validate:"oneof=abort skip"`

	Contexts  ContextSettings   `json:"contexts"`
	Scripts   ScriptSettings    `json:"scripts"`
	Journal   JournalSettings   `json:"journal"`
	Policy    PolicySettings    `json:"policy"`
	SSH       SSHSettings       `json:"ssh"`
	Telemetry TelemetrySettings `json:"telemetry"`
}

// ContextSettings configures the context providers.
type ContextSettings struct {
	Mode    string          `json:"mode" validate:"oneof=strict best-effort"`
	DNS     DNSSettings     `json:"dns"`
	Scripts []ScriptContext `json:"scripts" validate:"dive"`
	Wasm    []WasmContext   `json:"wasm" validate:"dive"`
}

// DNSSettings enables the dns provider when Host is set.
type DNSSettings struct {
	Host       string `json:"host"`
	Nameserver string `json:"nameserver"`
	Timeout    string `json:"timeout" validate:"duration"`
	Retries    int    `json:"retries" validate:"gte=0"`
}

// ScriptContext registers a Starlark file as a context provider.
type ScriptContext struct {
	Prefix string `json:"prefix" validate:"required"`
	File   string `json:"file" validate:"required"`
}

// WasmContext registers a WASI module as a context provider.
type WasmContext struct {
	Prefix      string `json:"prefix" validate:"required"`
	File        string `json:"file" validate:"required"`
	MemoryPages uint32 `json:"memory_pages" validate:"gt=0,lte=65536"`
}

// ScriptSettings bounds the script runtime.
type ScriptSettings struct {
	MaxSteps uint64 `json:"max_steps" validate:"gt=0"`
	Timeout  string `json:"timeout" validate:"duration"`
}

// JournalSettings configures the run journal.
type JournalSettings struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PolicySettings configures plan policy checks.
type PolicySettings struct {
	Enabled bool     `json:"enabled"`
	Paths   []string `json:"paths"`

	// Disabled names loaded policies, built-in or not, to skip.
	Disabled []string `json:"disabled"`
}

// SSHSettings are the defaults for remote scopes.
type SSHSettings struct {
	User string `json:"user"`
	Port int    `json:"port" validate:"min=1,max=65535"`

	// Auth is key or agent. Empty tries the key file, then the agent.
	Auth         string `json:"auth" validate:"omitempty,oneof=key agent"`
	KeyFile      string `json:"key_file"`
	KnownHosts   string `json:"known_hosts"`
	Timeout      string `json:"timeout" validate:"duration"`
	DialAttempts int    `json:"dial_attempts" validate:"min=1"`
}

// TelemetrySettings configures tracing and metrics export.
type TelemetrySettings struct {
	ServiceName  string `json:"service_name" validate:"required"`
	Tracing      string `json:"tracing" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string `json:"otlp_endpoint"`
	MetricsAddr  string `json:"metrics_addr"`
}

// TimeoutDuration returns the per-attempt DNS timeout.
func (d DNSSettings) TimeoutDuration() time.Duration {
	return mustDuration(d.Timeout)
}

// TimeoutDuration returns the per-call script timeout.
func (s ScriptSettings) TimeoutDuration() time.Duration {
	return mustDuration(s.Timeout)
}

// TimeoutDuration returns the SSH connect timeout.
func (s SSHSettings) TimeoutDuration() time.Duration {
	return mustDuration(s.Timeout)
}

// JournalPath returns the journal database path, defaulting to the XDG data
// directory.
func (s *Settings) JournalPath() string {
	if s.Journal.Path != "" {
		return s.Journal.Path
	}
	return filepath.Join(xdg.DataHome, "hostweave", "journal.db")
}

// mustDuration parses a duration already checked by the validator. Empty
// strings are zero.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
