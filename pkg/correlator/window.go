// Package correlator implements the windowed correlation engine: bounded
// ingestion queues, the run loop, window lifecycle, the history index, and
// hand-off to the synthesizer and exporters.
package correlator

import (
	"time"

	"github.com/google/uuid"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/models"
)

// Window is the time-bounded aggregation bucket grouping normalized records
// by trace id. Exactly one window is current per engine instance; a closed
// window is discarded, never reused.
type Window struct {
	windowSeconds int
	windowStart   time.Time
	logsByTrace   map[string][]models.NormalizedLogRecord
	spansByTrace  map[string][]models.NormalizedSpan

	// now is swapped in tests to drive window expiry deterministically.
	now func() time.Time
}

// NewWindow opens a window starting at the current time.
func NewWindow(windowSeconds int) *Window {
	return &Window{
		windowSeconds: windowSeconds,
		windowStart:   time.Now().UTC(),
		logsByTrace:   make(map[string][]models.NormalizedLogRecord),
		spansByTrace:  make(map[string][]models.NormalizedSpan),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// AddLog appends a log record under its trace id. Records without a trace
// id cannot be correlated and are dropped.
func (w *Window) AddLog(record models.NormalizedLogRecord) {
	if record.TraceID == "" {
		return
	}

	w.logsByTrace[record.TraceID] = append(w.logsByTrace[record.TraceID], record)
}

// AddSpan appends a span under its trace id. Spans without a trace id are
// dropped.
func (w *Window) AddSpan(span models.NormalizedSpan) {
	if span.TraceID == "" {
		return
	}

	w.spansByTrace[span.TraceID] = append(w.spansByTrace[span.TraceID], span)
}

// ShouldClose reports whether the configured duration has elapsed. It is a
// pure time check; the engine loop decides when to poll it.
func (w *Window) ShouldClose() bool {
	return w.now().Sub(w.windowStart) >= time.Duration(w.windowSeconds)*time.Second
}

// CreateCorrelations emits one event per trace id present in either map.
// Identifying attributes come from the first log record when any logs
// exist, else from the first span. Emission order is unspecified.
func (w *Window) CreateCorrelations() []models.CorrelationEvent {
	var correlations []models.CorrelationEvent

	traceIDs := make(map[string]struct{}, len(w.logsByTrace)+len(w.spansByTrace))
	for traceID := range w.logsByTrace {
		traceIDs[traceID] = struct{}{}
	}

	for traceID := range w.spansByTrace {
		traceIDs[traceID] = struct{}{}
	}

	for traceID := range traceIDs {
		logs := w.logsByTrace[traceID]
		spans := w.spansByTrace[traceID]

		if len(logs) == 0 && len(spans) == 0 {
			continue
		}

		event := models.CorrelationEvent{
			CorrelationID: uuid.New().String(),
			TraceID:       traceID,
			Timestamp:     w.now(),
			Service:       "unknown",
			Env:           "dev",
			LogCount:      len(logs),
			SpanCount:     len(spans),
			Metadata: map[string]interface{}{
				"window_start":   w.windowStart.Format(time.RFC3339Nano),
				"window_seconds": w.windowSeconds,
			},
		}

		if len(logs) > 0 {
			first := logs[0]
			event.Service = first.Service
			event.Env = first.Env
			event.CircuitID = first.CircuitID
			event.ProductID = first.ProductID
			event.ResourceID = first.ResourceID
			event.ResourceTypeID = first.ResourceTypeID
			event.RequestID = first.RequestID
		} else {
			first := spans[0]
			event.Service = first.Service
			event.Env = first.Env
			event.CircuitID = first.CircuitID
			event.ProductID = first.ProductID
			event.ResourceID = first.ResourceID
			event.ResourceTypeID = first.ResourceTypeID
		}

		correlations = append(correlations, event)
	}

	return correlations
}
