package exporters

import (
	"context"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/logger"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/models"
)

// Manager fans exports out to every configured backend. A failing backend
// is logged and skipped; it never blocks the others or the caller.
type Manager struct {
	exporters []Exporter
	logger    logger.Logger
}

// NewManager wraps the given exporters.
func NewManager(log logger.Logger, exps ...Exporter) *Manager {
	return &Manager{
		exporters: exps,
		logger:    log.WithComponent("export_manager"),
	}
}

func (m *Manager) ExportLogs(ctx context.Context, logs []models.NormalizedLogRecord) {
	for _, exp := range m.exporters {
		if err := exp.ExportLogs(ctx, logs); err != nil {
			m.logger.Error().Err(err).Str("backend", exp.Name()).Msg("Log export failed")
		}
	}
}

func (m *Manager) ExportTraces(ctx context.Context, spans []models.NormalizedSpan) {
	for _, exp := range m.exporters {
		if err := exp.ExportTraces(ctx, spans); err != nil {
			m.logger.Error().Err(err).Str("backend", exp.Name()).Msg("Trace export failed")
		}
	}
}

func (m *Manager) ExportCorrelationSpan(ctx context.Context, event *models.CorrelationEvent) {
	for _, exp := range m.exporters {
		if err := exp.ExportCorrelationSpan(ctx, event); err != nil {
			m.logger.Error().Err(err).
				Str("backend", exp.Name()).
				Str("correlation_id", event.CorrelationID).
				Msg("Correlation export failed")
		}
	}
}

func (m *Manager) ExportBridgeSpan(ctx context.Context, span *models.BridgeSpan, link *models.TraceLink) {
	for _, exp := range m.exporters {
		if err := exp.ExportBridgeSpan(ctx, span, link); err != nil {
			m.logger.Error().Err(err).
				Str("backend", exp.Name()).
				Str("span_id", span.SpanID).
				Msg("Bridge span export failed")
		}
	}
}

// Close closes every backend, returning the first error seen.
func (m *Manager) Close() error {
	var firstErr error

	for _, exp := range m.exporters {
		if err := exp.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
