package orchestrator

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/quill/pkg/models"
)

const instrumentationName = "github.com/ShayCichocki/quill/internal/orchestrator"

// telemetry holds the orchestrator's tracer and task outcome counters.
// Nil providers fall back to the globals, which are no-ops unless
// telemetry.Setup installed SDK providers.
type telemetry struct {
	tracer    trace.Tracer
	completed metric.Int64Counter
	failed    metric.Int64Counter
	cancelled metric.Int64Counter
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider, logger *slog.Logger) *telemetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{task}"))
		if err != nil {
			logger.Warn("create counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}
	return &telemetry{
		tracer:    tp.Tracer(instrumentationName),
		completed: counter("quill.tasks.completed", "Tasks that finished successfully"),
		failed:    counter("quill.tasks.failed", "Tasks that ended in ERROR"),
		cancelled: counter("quill.tasks.cancelled", "Tasks that were cancelled or abandoned"),
	}
}

func (t *telemetry) count(ctx context.Context, c metric.Int64Counter, task *models.Task) {
	c.Add(ctx, 1, metric.WithAttributes(
		attribute.String("intent", string(task.Kind)),
		attribute.String("triggered_by", string(task.TriggeredBy)),
	))
}
