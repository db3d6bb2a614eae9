package obs

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce       sync.Once
	turnCounter       metric.Int64Counter
	turnOutcomes      metric.Int64Counter
	deltaCounter      metric.Int64Counter
	durationHistogram metric.Float64Histogram
)

func installMetrics(m metric.Meter) {
	metricsOnce.Do(func() {
		if m == nil {
			return
		}
		turnCounter, _ = m.Int64Counter("docchat.turns",
			metric.WithDescription("Generation turns started"))
		turnOutcomes, _ = m.Int64Counter("docchat.turn.outcomes",
			metric.WithDescription("Generation turns finished, by terminal phase"))
		deltaCounter, _ = m.Int64Counter("docchat.deltas",
			metric.WithDescription("Stream deltas applied"))
		durationHistogram, _ = m.Float64Histogram("docchat.turn.duration_ms",
			metric.WithDescription("Turn duration (ms)"))
	})
}

func recordTurnStart(attrs ...attribute.KeyValue) {
	if turnCounter != nil {
		turnCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	}
}

func recordOutcome(attrs ...attribute.KeyValue) {
	if turnOutcomes != nil {
		turnOutcomes.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	}
}

// RecordDelta counts one applied stream delta.
func RecordDelta() {
	if deltaCounter != nil {
		deltaCounter.Add(context.Background(), 1)
	}
}

func recordDuration(ms float64, attrs ...attribute.KeyValue) {
	if durationHistogram != nil {
		durationHistogram.Record(context.Background(), ms, metric.WithAttributes(attrs...))
	}
}
