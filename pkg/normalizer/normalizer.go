// Package normalizer is the single boundary converting untyped external
// telemetry (vendor log batches, OTLP trace payloads, raw syslog lines) into
// the typed records the rest of the pipeline operates on. Normalization is
// total: malformed input degrades to defaults rather than failing, since a
// bad batch must not abort the pipeline.
package normalizer

import (
	"encoding/hex"
	"time"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/logger"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/models"
)

const (
	defaultService = "unknown"
	defaultEnv     = "dev"

	attrServiceName    = "service.name"
	attrDeploymentEnv  = "deployment.environment"
	attrCircuitID      = "circuit_id"
	attrProductID      = "product_id"
	attrResourceID     = "resource_id"
	attrResourceTypeID = "resource_type_id"
)

// Normalizer maps external batch shapes to internal records.
type Normalizer struct {
	logger logger.Logger
}

// New creates a Normalizer.
func New(log logger.Logger) *Normalizer {
	return &Normalizer{logger: log.WithComponent("normalizer")}
}

// NormalizeLogBatch flattens a vendor log batch into one normalized record
// per entry, with batch-level resource attributes applied to each.
func (n *Normalizer) NormalizeLogBatch(batch *models.LogBatch) []models.NormalizedLogRecord {
	if batch == nil {
		return nil
	}

	service := batch.Resource.Service
	if service == "" {
		service = defaultService
	}

	env := batch.Resource.Env
	if env == "" {
		env = defaultEnv
	}

	normalized := make([]models.NormalizedLogRecord, 0, len(batch.Records))

	for i := range batch.Records {
		record := &batch.Records[i]

		traceID := record.TraceID
		if traceID == "" {
			traceID = extractTraceID(record.Message)
		}

		normalized = append(normalized, models.NormalizedLogRecord{
			TraceID:        traceID,
			SpanID:         record.SpanID,
			Service:        service,
			Host:           batch.Resource.Host,
			Env:            env,
			Timestamp:      record.Timestamp,
			Severity:       record.Severity,
			Message:        record.Message,
			CircuitID:      record.CircuitID,
			ProductID:      record.ProductID,
			ResourceID:     record.ResourceID,
			ResourceTypeID: record.ResourceTypeID,
			RequestID:      record.RequestID,
			Labels:         record.Labels,
		})
	}

	return normalized
}

// NormalizeTraceBatch walks the OTLP resourceSpans → scopeSpans → spans
// nesting. Resource attributes supply service/env for every span beneath
// them; span attributes supply the domain correlation keys. Byte-valued
// trace/span ids are hex-encoded; a missing start time defaults to now.
func (n *Normalizer) NormalizeTraceBatch(batch *tracepb.TracesData) []models.NormalizedSpan {
	if batch == nil {
		return nil
	}

	var normalized []models.NormalizedSpan

	for _, rs := range batch.GetResourceSpans() {
		resourceAttrs := attributeMap(rs.GetResource().GetAttributes())

		service := stringAttr(resourceAttrs, attrServiceName, defaultService)
		env := stringAttr(resourceAttrs, attrDeploymentEnv, defaultEnv)

		for _, ss := range rs.GetScopeSpans() {
			for _, span := range ss.GetSpans() {
				spanAttrs := attributeMap(span.GetAttributes())

				timestamp := time.Now().UTC()
				if ns := span.GetStartTimeUnixNano(); ns > 0 {
					timestamp = time.Unix(0, int64(ns)).UTC()
				}

				normalized = append(normalized, models.NormalizedSpan{
					TraceID:        hex.EncodeToString(span.GetTraceId()),
					SpanID:         hex.EncodeToString(span.GetSpanId()),
					Service:        service,
					Env:            env,
					Name:           span.GetName(),
					CircuitID:      stringAttr(spanAttrs, attrCircuitID, ""),
					ProductID:      stringAttr(spanAttrs, attrProductID, ""),
					ResourceID:     stringAttr(spanAttrs, attrResourceID, ""),
					ResourceTypeID: stringAttr(spanAttrs, attrResourceTypeID, ""),
					Timestamp:      timestamp,
				})
			}
		}
	}

	return normalized
}

// SegmentFromSpan reduces a normalized span to the synthesizer's working
// unit.
func SegmentFromSpan(span *models.NormalizedSpan) models.TraceSegment {
	return models.TraceSegment{
		TraceID:        span.TraceID,
		SpanID:         span.SpanID,
		Service:        span.Service,
		Timestamp:      span.Timestamp,
		CircuitID:      span.CircuitID,
		ResourceID:     span.ResourceID,
		ProductID:      span.ProductID,
		ResourceTypeID: span.ResourceTypeID,
		Operation:      span.Name,
	}
}

func attributeMap(attrs []*commonpb.KeyValue) map[string]*commonpb.AnyValue {
	if len(attrs) == 0 {
		return nil
	}

	out := make(map[string]*commonpb.AnyValue, len(attrs))

	for _, attr := range attrs {
		if attr == nil {
			continue
		}

		out[attr.GetKey()] = attr.GetValue()
	}

	return out
}

func stringAttr(attrs map[string]*commonpb.AnyValue, key, fallback string) string {
	if value, ok := attrs[key]; ok {
		if s := value.GetStringValue(); s != "" {
			return s
		}
	}

	return fallback
}
