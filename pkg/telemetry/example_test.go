package telemetry_test

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/hostweave/hostweave/pkg/config"
	"github.com/hostweave/hostweave/pkg/engine"
	"github.com/hostweave/hostweave/pkg/telemetry"
)

// Example_setup builds telemetry from the settings file's telemetry block.
func Example_setup() {
	cfg := telemetry.FromSettings(config.TelemetrySettings{
		ServiceName: "hostweave",
		Tracing:     "none",
	}, "1.2.0")

	tel, err := telemetry.New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		fmt.Println(err)
		return
	}
	defer tel.Shutdown(context.Background())

	fmt.Println(tel.Config.ServiceName, tel.Config.ServiceVersion, tel.Config.Tracing.Exporter)
	// Output: hostweave 1.2.0 none
}

// Example_eventFilter logs only warnings and errors from the run timeline.
func Example_eventFilter() {
	logger, err := telemetry.NewLogger(os.Stdout, telemetry.LoggingConfig{Level: "info", Format: "json"})
	if err != nil {
		fmt.Println(err)
		return
	}
	pub := telemetry.Filter(telemetry.LogEvents(logger), telemetry.FilterByLevel(telemetry.EventLevelWarning))

	_ = pub.Publish(context.Background(), &engine.Event{
		Type:      engine.EventTypeStepDone,
		Level:     engine.EventTypeStepDone.Severity(),
		StepIndex: 0,
		Message:   "dropped by the filter",
	})

	// Output:
}
