// Package models defines the record types shared across the correlation
// pipeline. Everything past the normalizer boundary is one of these typed
// records; untyped payloads never travel beyond pkg/normalizer.
package models

import "time"

// LogResource carries the batch-level attributes shared by every record in a
// vendor log batch.
type LogResource struct {
	Service string `json:"service"`
	Host    string `json:"host,omitempty"`
	Env     string `json:"env,omitempty"`
}

// LogRecord is a single entry inside a vendor log batch, before
// normalization.
type LogRecord struct {
	Timestamp      string            `json:"timestamp"`
	Severity       string            `json:"severity,omitempty"`
	Message        string            `json:"message"`
	TraceID        string            `json:"trace_id,omitempty"`
	SpanID         string            `json:"span_id,omitempty"`
	CircuitID      string            `json:"circuit_id,omitempty"`
	ProductID      string            `json:"product_id,omitempty"`
	ResourceID     string            `json:"resource_id,omitempty"`
	ResourceTypeID string            `json:"resource_type_id,omitempty"`
	RequestID      string            `json:"request_id,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
}

// LogBatch is the vendor-shaped ingestion payload: one resource, many
// records.
type LogBatch struct {
	Resource LogResource `json:"resource"`
	Records  []LogRecord `json:"records"`
}

// NormalizedLogRecord is the flat internal form of a log record. Immutable
// once produced; lives for one correlation window.
type NormalizedLogRecord struct {
	TraceID        string            `json:"trace_id,omitempty"`
	SpanID         string            `json:"span_id,omitempty"`
	Service        string            `json:"service"`
	Host           string            `json:"host,omitempty"`
	Env            string            `json:"env"`
	Timestamp      string            `json:"timestamp"`
	Severity       string            `json:"severity,omitempty"`
	Message        string            `json:"message"`
	CircuitID      string            `json:"circuit_id,omitempty"`
	ProductID      string            `json:"product_id,omitempty"`
	ResourceID     string            `json:"resource_id,omitempty"`
	ResourceTypeID string            `json:"resource_type_id,omitempty"`
	RequestID      string            `json:"request_id,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
}

// NormalizedSpan is the flat internal form of an OTLP span. Trace and span
// ids are hex strings.
type NormalizedSpan struct {
	TraceID        string    `json:"trace_id"`
	SpanID         string    `json:"span_id"`
	Service        string    `json:"service"`
	Env            string    `json:"env"`
	Name           string    `json:"name"`
	CircuitID      string    `json:"circuit_id,omitempty"`
	ProductID      string    `json:"product_id,omitempty"`
	ResourceID     string    `json:"resource_id,omitempty"`
	ResourceTypeID string    `json:"resource_type_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// TraceSegment is the synthesizer's working unit: one circuit-tagged span
// reduced to its correlation keys.
type TraceSegment struct {
	TraceID        string    `json:"trace_id"`
	SpanID         string    `json:"span_id"`
	Service        string    `json:"service"`
	Timestamp      time.Time `json:"timestamp"`
	CircuitID      string    `json:"circuit_id,omitempty"`
	ResourceID     string    `json:"resource_id,omitempty"`
	ProductID      string    `json:"product_id,omitempty"`
	ResourceTypeID string    `json:"resource_type_id,omitempty"`
	Operation      string    `json:"operation,omitempty"`
}

// CorrelationEvent is the emitted correlation record for one trace id in one
// window. Append-only once created.
type CorrelationEvent struct {
	CorrelationID  string                 `json:"correlation_id"`
	TraceID        string                 `json:"trace_id"`
	Timestamp      time.Time              `json:"timestamp"`
	Service        string                 `json:"service"`
	Env            string                 `json:"env"`
	LogCount       int                    `json:"log_count"`
	SpanCount      int                    `json:"span_count"`
	CircuitID      string                 `json:"circuit_id,omitempty"`
	ProductID      string                 `json:"product_id,omitempty"`
	ResourceID     string                 `json:"resource_id,omitempty"`
	ResourceTypeID string                 `json:"resource_type_id,omitempty"`
	RequestID      string                 `json:"request_id,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// SyntheticEvent is a manually injected signal that bypasses the window.
type SyntheticEvent struct {
	TraceID    string                 `json:"trace_id"`
	Service    string                 `json:"service"`
	Message    string                 `json:"message,omitempty"`
	Severity   string                 `json:"severity,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// TraceLink records a discovered parent/child relationship between two
// traces that share no trace id.
type TraceLink struct {
	ParentTraceID string    `json:"parent_trace_id"`
	ChildTraceID  string    `json:"child_trace_id"`
	LinkType      string    `json:"link_type"`
	Timestamp     time.Time `json:"timestamp"`
	CircuitID     string    `json:"circuit_id,omitempty"`
	Confidence    float64   `json:"confidence"`
}

// SpanLink is a cross-trace reference carried by a bridge span.
type SpanLink struct {
	TraceID    string            `json:"trace_id"`
	SpanID     string            `json:"span_id"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// BridgeSpan is the synthetic span stitched between two traces. The field
// names follow OTLP so a downstream translator can re-emit a real span.
type BridgeSpan struct {
	TraceID           string                 `json:"trace_id"`
	SpanID            string                 `json:"span_id"`
	ParentSpanID      string                 `json:"parent_span_id"`
	Name              string                 `json:"name"`
	Kind              int                    `json:"kind"`
	StartTimeUnixNano int64                  `json:"start_time_unix_nano"`
	EndTimeUnixNano   int64                  `json:"end_time_unix_nano"`
	Attributes        map[string]interface{} `json:"attributes"`
	Links             []SpanLink             `json:"links,omitempty"`
}

// CloudEvent is the CloudEvents v1.0 envelope used on the derived-telemetry
// stream.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}
