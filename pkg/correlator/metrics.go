package correlator

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName                    = "corrstation.correlator"
	metricCorrelationEventsTotal = "correlation_events_total"
	metricTraceSynthesisTotal    = "trace_synthesis_total"
	metricQueueDepth             = "correlation_queue_depth"
	metricQueueDroppedTotal      = "correlation_queue_dropped_total"
)

var (
	// instrumentation handles are cached globally to avoid re-registering OTEL instruments on every call.
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	meterOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	eventsCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	synthesisCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	queueDepthGauge metric.Int64Gauge
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	queueDroppedCounter metric.Int64Counter
)

func initMeter() {
	meter := otel.Meter(meterName)

	events, err := meter.Int64Counter(
		metricCorrelationEventsTotal,
		metric.WithDescription("Total correlation events created by status"),
	)
	if err != nil {
		otel.Handle(err)
	}
	eventsCounter = events

	synthesis, err := meter.Int64Counter(
		metricTraceSynthesisTotal,
		metric.WithDescription("Total trace synthesis attempts by status"),
	)
	if err != nil {
		otel.Handle(err)
	}
	synthesisCounter = synthesis

	depth, err := meter.Int64Gauge(
		metricQueueDepth,
		metric.WithDescription("Current ingestion queue depth by queue type"),
	)
	if err != nil {
		otel.Handle(err)
	}
	queueDepthGauge = depth

	dropped, err := meter.Int64Counter(
		metricQueueDroppedTotal,
		metric.WithDescription("Total batches shed because a queue was full"),
	)
	if err != nil {
		otel.Handle(err)
	}
	queueDroppedCounter = dropped
}

func recordCorrelationEvents(ctx context.Context, count int, status string) {
	if count == 0 {
		return
	}

	meterOnce.Do(initMeter)
	if eventsCounter == nil {
		return
	}

	eventsCounter.Add(ctx, int64(count), metric.WithAttributes(attribute.String("status", status)))
}

func recordSynthesisAttempt(ctx context.Context, status string) {
	meterOnce.Do(initMeter)
	if synthesisCounter == nil {
		return
	}

	synthesisCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func recordQueueDepth(ctx context.Context, queueType string, depth int) {
	meterOnce.Do(initMeter)
	if queueDepthGauge == nil {
		return
	}

	queueDepthGauge.Record(ctx, int64(depth), metric.WithAttributes(attribute.String("queue_type", queueType)))
}

func recordQueueDrop(ctx context.Context, queueType string) {
	meterOnce.Do(initMeter)
	if queueDroppedCounter == nil {
		return
	}

	queueDroppedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("queue_type", queueType)))
}
