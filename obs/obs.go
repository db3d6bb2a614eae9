// Package obs wires OpenTelemetry tracing and metrics for docchat turns.
package obs

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	manager     *Manager
	managerOnce sync.Once
)

// Options configures observability setup.
type Options struct {
	ServiceName string
	// TraceToStdout enables the stdout span exporter; without it spans
	// are created but not exported (useful in tests and embedders that
	// install their own provider).
	TraceToStdout  bool
	DisableMetrics bool
}

// Manager holds the configured tracer and meter.
type Manager struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
}

type noopSpanExporter struct{}

func (noopSpanExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (noopSpanExporter) Shutdown(context.Context) error                             { return nil }

// Init configures global tracing and metrics. Safe to call once; returns a
// shutdown function.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	var initErr error
	managerOnce.Do(func() {
		if opts.ServiceName == "" {
			opts.ServiceName = "docchat"
		}
		res, err := resource.New(ctx,
			resource.WithAttributes(semconv.ServiceName(opts.ServiceName)),
		)
		if err != nil {
			initErr = err
			return
		}

		var exporter sdktrace.SpanExporter = noopSpanExporter{}
		if opts.TraceToStdout {
			exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
			if err != nil {
				initErr = err
				return
			}
		}
		tracerProvider := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tracerProvider)

		var meterProvider *sdkmetric.MeterProvider
		if !opts.DisableMetrics {
			meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
			otel.SetMeterProvider(meterProvider)
		}

		tracer := tracerProvider.Tracer("github.com/groundedqa/docchat/obs")
		var m metric.Meter
		if meterProvider != nil {
			m = meterProvider.Meter("github.com/groundedqa/docchat/obs")
			installMetrics(m)
		}

		manager = &Manager{
			tracerProvider: tracerProvider,
			meterProvider:  meterProvider,
			tracer:         tracer,
			meter:          m,
		}
	})
	if initErr != nil {
		return nil, initErr
	}
	return shutdown, nil
}

func shutdown(ctx context.Context) error {
	if manager == nil {
		return nil
	}
	var first error
	if manager.meterProvider != nil {
		if err := manager.meterProvider.Shutdown(ctx); err != nil {
			first = err
		}
	}
	if err := manager.tracerProvider.Shutdown(ctx); err != nil && first == nil {
		first = err
	}
	return first
}

// Tracer returns the configured tracer, falling back to the global one
// when Init has not been called.
func Tracer() trace.Tracer {
	if manager != nil {
		return manager.tracer
	}
	return otel.Tracer("github.com/groundedqa/docchat/obs")
}
