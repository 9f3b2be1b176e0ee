package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hostweave/hostweave/pkg/config"
)

// Config is the telemetry setup of one weave process.
type Config struct {
	ServiceName    string
	ServiceVersion string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

// LoggingConfig describes the process logger.
type LoggingConfig struct {
	// Level is trace, debug, info, warn, error or fatal.
	Level string

	// Format is console or json.
	Format string

	// EnableCaller adds file:line to every entry.
	EnableCaller bool

	// TimeFormat applies to console output: rfc3339, kitchen, unix or unixms.
	TimeFormat string
}

// TracingConfig describes how run and step spans are exported.
type TracingConfig struct {
	// Exporter is none, stdout or otlp.
	Exporter string

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string

	// SamplingRate is the fraction of runs traced, from 0 to 1.
	SamplingRate float64

	ExportTimeout time.Duration
	Insecure      bool
}

// MetricsConfig describes the Prometheus collectors.
type MetricsConfig struct {
	// ListenAddress serves Path over HTTP when set.
	ListenAddress string
	Path          string
	Namespace     string

	// Buckets are the duration histogram buckets in seconds.
	Buckets []float64
}

// DefaultConfig logs to the console at info and exports nothing.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "hostweave",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1,
			ExportTimeout: 30 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Path:      "/metrics",
			Namespace: "hostweave",
			// Context providers answer in milliseconds; remote steps take
			// seconds.
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	}
}

// FromSettings builds a configuration from the telemetry block of weave.cue.
func FromSettings(s config.TelemetrySettings, version string) *Config {
	cfg := DefaultConfig()
	if s.ServiceName != "" {
		cfg.ServiceName = s.ServiceName
		cfg.Metrics.Namespace = s.ServiceName
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	if s.Tracing != "" {
		cfg.Tracing.Exporter = s.Tracing
	}
	cfg.Tracing.Endpoint = s.OTLPEndpoint
	cfg.Metrics.ListenAddress = s.MetricsAddr
	return cfg
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error

	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}

	if lvl, err := zerolog.ParseLevel(normalizeLevel(c.Logging.Level)); err != nil || lvl == zerolog.NoLevel {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Logging.Format))
	}

	switch c.Tracing.Exporter {
	case "none", "stdout":
	case "otlp":
		if c.Tracing.Endpoint == "" {
			errs = append(errs, errors.New("otlp tracing needs an endpoint"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid trace exporter %q", c.Tracing.Exporter))
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("sampling rate %g is outside [0, 1]", c.Tracing.SamplingRate))
	}

	return errors.Join(errs...)
}
