// Package exporters ships correlated telemetry to downstream backends. The
// NATS exporter publishes CloudEvents to a JetStream stream; a circuit
// breaker and bounded retry keep a flapping backend from stalling the
// pipeline.
package exporters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/logger"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/models"
)

const (
	eventSource = "corrstation/engine"

	eventTypeLogs        = "io.seefa.corrstation.logs"
	eventTypeTraces      = "io.seefa.corrstation.traces"
	eventTypeCorrelation = "io.seefa.corrstation.correlation"
	eventTypeBridgeSpan  = "io.seefa.corrstation.bridge_span"
	eventTypeTraceLink   = "io.seefa.corrstation.trace_link"
)

// Exporter sends derived telemetry downstream. Implementations must be safe
// for concurrent use; the engine loop and API handlers both export.
type Exporter interface {
	Name() string
	ExportLogs(ctx context.Context, logs []models.NormalizedLogRecord) error
	ExportTraces(ctx context.Context, spans []models.NormalizedSpan) error
	ExportCorrelationSpan(ctx context.Context, event *models.CorrelationEvent) error
	ExportBridgeSpan(ctx context.Context, span *models.BridgeSpan, link *models.TraceLink) error
	Close() error
}

// retryWithBackoff runs fn up to maxRetries times, doubling the delay after
// each failure. The last error is returned when all attempts fail.
func retryWithBackoff(ctx context.Context, fn func() error, maxRetries int, initialDelay time.Duration, backend string, log logger.Logger) error {
	var lastErr error

	delay := initialDelay

	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == maxRetries {
			break
		}

		recordExportRetry(ctx, backend)
		log.Warn().
			Err(lastErr).
			Str("backend", backend).
			Int("attempt", attempt).
			Int("max_retries", maxRetries).
			Dur("delay", delay).
			Msg("Export failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
	}

	return lastErr
}

// NATSExporterOptions configures the JetStream CloudEvents exporter.
type NATSExporterOptions struct {
	URL              string
	StreamName       string
	Subject          string
	FailureThreshold int
	RecoveryTimeout  time.Duration
	MaxRetries       int
	InitialDelay     time.Duration
}

// NATSExporter publishes each export as a CloudEvents v1.0 envelope on a
// JetStream stream.
type NATSExporter struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
	breaker *CircuitBreaker
	opts    NATSExporterOptions
	logger  logger.Logger
}

// NewNATSExporter connects to NATS and ensures the target stream exists.
func NewNATSExporter(ctx context.Context, opts NATSExporterOptions, log logger.Logger) (*NATSExporter, error) {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}

	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = 60 * time.Second
	}

	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	if opts.InitialDelay <= 0 {
		opts.InitialDelay = time.Second
	}

	nc, err := nats.Connect(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	componentLog := log.WithComponent("nats_exporter")

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     opts.StreamName,
		Subjects: []string{opts.Subject + ".>"},
	})
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("failed to create stream %s: %w", opts.StreamName, err)
	}

	return &NATSExporter{
		nc:      nc,
		js:      js,
		subject: opts.Subject,
		breaker: NewCircuitBreaker(opts.FailureThreshold, opts.RecoveryTimeout, componentLog),
		opts:    opts,
		logger:  componentLog,
	}, nil
}

func (e *NATSExporter) Name() string { return "nats" }

func (e *NATSExporter) ExportLogs(ctx context.Context, logs []models.NormalizedLogRecord) error {
	if len(logs) == 0 {
		return nil
	}

	return e.publish(ctx, eventTypeLogs, "logs", logs)
}

func (e *NATSExporter) ExportTraces(ctx context.Context, spans []models.NormalizedSpan) error {
	if len(spans) == 0 {
		return nil
	}

	return e.publish(ctx, eventTypeTraces, "traces", spans)
}

func (e *NATSExporter) ExportCorrelationSpan(ctx context.Context, event *models.CorrelationEvent) error {
	return e.publish(ctx, eventTypeCorrelation, "correlations", event)
}

func (e *NATSExporter) ExportBridgeSpan(ctx context.Context, span *models.BridgeSpan, link *models.TraceLink) error {
	payload := struct {
		Span *models.BridgeSpan `json:"span"`
		Link *models.TraceLink  `json:"link"`
	}{Span: span, Link: link}

	return e.publish(ctx, eventTypeBridgeSpan, "bridges", payload)
}

// publish wraps data in a CloudEvent and sends it through the breaker with
// bounded retry.
func (e *NATSExporter) publish(ctx context.Context, eventType, subjectSuffix string, data interface{}) error {
	if !e.breaker.CanExecute() {
		recordExportAttempt(ctx, e.Name(), "circuit_open")
		recordBreakerState(ctx, e.Name(), e.breaker.StateCode())
		e.logger.Warn().Str("event_type", eventType).Msg("Export skipped, circuit breaker open")

		return nil
	}

	now := time.Now().UTC()
	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          eventSource,
		Type:            eventType,
		DataContentType: "application/json",
		Subject:         e.subject + "." + subjectSuffix,
		Time:            &now,
		Data:            data,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	err = retryWithBackoff(ctx, func() error {
		_, pubErr := e.js.Publish(ctx, event.Subject, eventBytes)

		return pubErr
	}, e.opts.MaxRetries, e.opts.InitialDelay, e.Name(), e.logger)

	if err != nil {
		e.breaker.RecordFailure()
		recordExportAttempt(ctx, e.Name(), "error")
		recordBreakerState(ctx, e.Name(), e.breaker.StateCode())

		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}

	e.breaker.RecordSuccess()
	recordExportAttempt(ctx, e.Name(), "success")
	recordBreakerState(ctx, e.Name(), e.breaker.StateCode())

	return nil
}

func (e *NATSExporter) Close() error {
	e.nc.Close()

	return nil
}

// NoopExporter discards everything. It stands in when export is disabled.
type NoopExporter struct{}

func (NoopExporter) Name() string { return "noop" }

func (NoopExporter) ExportLogs(context.Context, []models.NormalizedLogRecord) error { return nil }

func (NoopExporter) ExportTraces(context.Context, []models.NormalizedSpan) error { return nil }

func (NoopExporter) ExportCorrelationSpan(context.Context, *models.CorrelationEvent) error {
	return nil
}

func (NoopExporter) ExportBridgeSpan(context.Context, *models.BridgeSpan, *models.TraceLink) error {
	return nil
}

func (NoopExporter) Close() error { return nil }

var (
	_ Exporter = (*NATSExporter)(nil)
	_ Exporter = NoopExporter{}
)
