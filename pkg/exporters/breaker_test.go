package exporters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/logger"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/models"
)

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute, logger.NewTestLogger())

	require.True(t, cb.CanExecute())
	require.Equal(t, breakerClosed, cb.StateCode())

	cb.RecordFailure()
	cb.RecordFailure()
	require.True(t, cb.CanExecute())

	cb.RecordFailure()
	require.Equal(t, breakerOpen, cb.StateCode())
	require.False(t, cb.CanExecute())
}

func TestCircuitBreakerRecovery(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond, logger.NewTestLogger())

	cb.RecordFailure()
	require.False(t, cb.CanExecute())

	time.Sleep(25 * time.Millisecond)

	// Recovery timeout elapsed, breaker lets a probe through.
	require.True(t, cb.CanExecute())
	require.Equal(t, breakerHalfOpen, cb.StateCode())

	cb.RecordSuccess()
	require.Equal(t, breakerClosed, cb.StateCode())
	require.True(t, cb.CanExecute())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond, logger.NewTestLogger())

	cb.RecordFailure()
	time.Sleep(25 * time.Millisecond)
	require.True(t, cb.CanExecute())

	cb.RecordFailure()
	require.Equal(t, breakerOpen, cb.StateCode())
	require.False(t, cb.CanExecute())
}

func TestRetryWithBackoffSucceedsAfterFailures(t *testing.T) {
	attempts := 0

	err := retryWithBackoff(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}

		return nil
	}, 3, time.Millisecond, "test", logger.NewTestLogger())

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryWithBackoffExhausted(t *testing.T) {
	attempts := 0
	wantErr := errors.New("persistent")

	err := retryWithBackoff(context.Background(), func() error {
		attempts++

		return wantErr
	}, 3, time.Millisecond, "test", logger.NewTestLogger())

	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 3, attempts)
}

func TestRetryWithBackoffHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retryWithBackoff(ctx, func() error {
		return errors.New("transient")
	}, 3, 50*time.Millisecond, "test", logger.NewTestLogger())

	require.ErrorIs(t, err, context.Canceled)
}

// recordingExporter captures everything handed to it and optionally fails.
type recordingExporter struct {
	name         string
	err          error
	logBatches   [][]models.NormalizedLogRecord
	spanBatches  [][]models.NormalizedSpan
	correlations []*models.CorrelationEvent
	bridges      []*models.BridgeSpan
}

func (r *recordingExporter) Name() string { return r.name }

func (r *recordingExporter) ExportLogs(_ context.Context, logs []models.NormalizedLogRecord) error {
	r.logBatches = append(r.logBatches, logs)

	return r.err
}

func (r *recordingExporter) ExportTraces(_ context.Context, spans []models.NormalizedSpan) error {
	r.spanBatches = append(r.spanBatches, spans)

	return r.err
}

func (r *recordingExporter) ExportCorrelationSpan(_ context.Context, event *models.CorrelationEvent) error {
	r.correlations = append(r.correlations, event)

	return r.err
}

func (r *recordingExporter) ExportBridgeSpan(_ context.Context, span *models.BridgeSpan, _ *models.TraceLink) error {
	r.bridges = append(r.bridges, span)

	return r.err
}

func (r *recordingExporter) Close() error { return r.err }

func TestManagerFansOutPastFailures(t *testing.T) {
	failing := &recordingExporter{name: "failing", err: errors.New("down")}
	healthy := &recordingExporter{name: "healthy"}
	mgr := NewManager(logger.NewTestLogger(), failing, healthy)

	ctx := context.Background()
	mgr.ExportCorrelationSpan(ctx, &models.CorrelationEvent{CorrelationID: "c-1"})
	mgr.ExportBridgeSpan(ctx, &models.BridgeSpan{SpanID: "s-1"}, &models.TraceLink{})
	mgr.ExportLogs(ctx, []models.NormalizedLogRecord{{TraceID: "t-1"}})
	mgr.ExportTraces(ctx, []models.NormalizedSpan{{TraceID: "t-1"}})

	// The failing backend never blocks the healthy one.
	require.Len(t, healthy.correlations, 1)
	require.Len(t, healthy.bridges, 1)
	require.Len(t, healthy.logBatches, 1)
	require.Len(t, healthy.spanBatches, 1)
	require.Len(t, failing.correlations, 1)

	require.Error(t, mgr.Close())
}
