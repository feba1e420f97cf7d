package workflow

import (
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/metrics"
	"github.com/dukex/procflow/pkg/otelhelper"
	"go.opentelemetry.io/otel/trace"
)

// Clock returns the current time. Tests pin it.
type Clock func() time.Time

// Options carries the collaborators shared by the executor and the manager.
// Zero fields get working defaults.
type Options struct {
	Logger    *slog.Logger
	Clock     Clock
	Publisher eventbus.EventPublisher
	Metrics   metrics.Recorder
	Tracer    trace.Tracer

	// MaxStepsPerRun bounds how many steps one run of an instance may
	// execute before it is failed. Zero means 1000.
	MaxStepsPerRun int
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}

	if o.Publisher == nil {
		o.Publisher = eventbus.Discard{}
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Noop{}
	}

	if o.Tracer == nil {
		o.Tracer = otelhelper.NoopTracer()
	}

	if o.MaxStepsPerRun <= 0 {
		o.MaxStepsPerRun = 1000
	}

	return o
}
