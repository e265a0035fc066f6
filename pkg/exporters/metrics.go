package exporters

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName                 = "corrstation.exporters"
	metricExportAttemptsTotal = "export_attempts_total"
	metricExportRetriesTotal  = "export_retries_total"
	metricCircuitBreakerState = "circuit_breaker_state"
)

var (
	// instrumentation handles are cached globally to avoid re-registering OTEL instruments on every call.
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	meterOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	attemptsCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	retriesCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	breakerGauge metric.Int64Gauge
)

func initMeter() {
	meter := otel.Meter(meterName)

	attempts, err := meter.Int64Counter(
		metricExportAttemptsTotal,
		metric.WithDescription("Total export attempts by backend and outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}
	attemptsCounter = attempts

	retries, err := meter.Int64Counter(
		metricExportRetriesTotal,
		metric.WithDescription("Total export retry attempts"),
	)
	if err != nil {
		otel.Handle(err)
	}
	retriesCounter = retries

	breaker, err := meter.Int64Gauge(
		metricCircuitBreakerState,
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		otel.Handle(err)
	}
	breakerGauge = breaker
}

func recordExportAttempt(ctx context.Context, backend, status string) {
	meterOnce.Do(initMeter)
	if attemptsCounter == nil {
		return
	}

	attemptsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("status", status),
	))
}

func recordExportRetry(ctx context.Context, backend string) {
	meterOnce.Do(initMeter)
	if retriesCounter == nil {
		return
	}

	retriesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

func recordBreakerState(ctx context.Context, backend string, state int) {
	meterOnce.Do(initMeter)
	if breakerGauge == nil {
		return
	}

	breakerGauge.Record(ctx, int64(state), metric.WithAttributes(attribute.String("backend", backend)))
}
