package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/logger"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/models"
)

func newTestEntry(traceID, service string, updated time.Time) *models.CorrelationEntry {
	entry := models.NewCorrelationEntry(traceID, service, "prod")
	entry.FirstSeen = updated
	entry.LastUpdated = updated

	return entry
}

func TestMemoryManagerCRUD(t *testing.T) {
	mgr := NewMemoryManager(logger.NewTestLogger())
	ctx := context.Background()

	_, found, err := mgr.GetCorrelation(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)

	entry := newTestEntry("trace-1", "beorn", time.Now().UTC())
	require.NoError(t, mgr.SetCorrelation(ctx, "corr-1", entry, 0))

	got, found, err := mgr.GetCorrelation(ctx, "corr-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "trace-1", got.TraceID)
	require.Equal(t, "beorn", got.Service)

	count, err := mgr.GetCorrelationCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, mgr.DeleteCorrelation(ctx, "corr-1"))

	_, found, err = mgr.GetCorrelation(ctx, "corr-1")
	require.NoError(t, err)
	require.False(t, found)

	// Deleting an absent id is not an error.
	require.NoError(t, mgr.DeleteCorrelation(ctx, "corr-1"))
}

func TestMemoryManagerTimeRange(t *testing.T) {
	mgr := NewMemoryManager(logger.NewTestLogger())
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, mgr.SetCorrelation(ctx, "old", newTestEntry("t-old", "arda", base.Add(-2*time.Hour)), 0))
	require.NoError(t, mgr.SetCorrelation(ctx, "mid", newTestEntry("t-mid", "arda", base.Add(-30*time.Minute)), 0))
	require.NoError(t, mgr.SetCorrelation(ctx, "new", newTestEntry("t-new", "arda", base), 0))

	results, err := mgr.GetCorrelationsByTimeRange(ctx, base.Add(-time.Hour), base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "t-mid", results[0].TraceID)

	// Zero end means now, so everything from before base is included.
	results, err = mgr.GetCorrelationsByTimeRange(ctx, base.Add(-3*time.Hour), time.Time{})
	require.NoError(t, err)
	require.Len(t, results, 3)
}

func TestMemoryManagerTTLHonoredOnlyByCleanup(t *testing.T) {
	mgr := NewMemoryManager(logger.NewTestLogger())
	ctx := context.Background()

	entry := newTestEntry("trace-ttl", "palantir", time.Now().UTC())
	require.NoError(t, mgr.SetCorrelation(ctx, "corr-ttl", entry, 10*time.Millisecond))

	time.Sleep(25 * time.Millisecond)

	// Reads do not enforce TTL.
	_, found, err := mgr.GetCorrelation(ctx, "corr-ttl")
	require.NoError(t, err)
	require.True(t, found)

	// Cleanup with a cutoff in the past still removes it as expired.
	deleted, err := mgr.CleanupOldCorrelations(ctx, entry.LastUpdated.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	_, found, err = mgr.GetCorrelation(ctx, "corr-ttl")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemoryManagerCleanupByCutoff(t *testing.T) {
	mgr := NewMemoryManager(logger.NewTestLogger())
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, mgr.SetCorrelation(ctx, "stale", newTestEntry("t-1", "granite", now.Add(-2*time.Hour)), 0))
	require.NoError(t, mgr.SetCorrelation(ctx, "fresh", newTestEntry("t-2", "granite", now), 0))

	deleted, err := mgr.CleanupOldCorrelations(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	count, err := mgr.GetCorrelationCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, found, err := mgr.GetCorrelation(ctx, "fresh")
	require.NoError(t, err)
	require.True(t, found)
}

func TestEnvelopeExpiry(t *testing.T) {
	entry := newTestEntry("trace-env", "beorn", time.Now().UTC())

	env := newEnvelope(entry, 0)
	require.Nil(t, env.ExpiresAt)
	require.False(t, env.expired(time.Now().UTC().Add(24*time.Hour)))

	env = newEnvelope(entry, time.Second)
	require.NotNil(t, env.ExpiresAt)
	require.False(t, env.expired(time.Now().UTC()))
	require.True(t, env.expired(time.Now().UTC().Add(2*time.Second)))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	updated := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	env := newEnvelope(newTestEntry("trace-rt", "arda", updated), time.Hour)

	data, err := env.marshal()
	require.NoError(t, err)

	decoded, err := unmarshalEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, env.Entry.TraceID, decoded.Entry.TraceID)
	require.Equal(t, env.Entry.LastUpdated, decoded.Entry.LastUpdated)
	require.NotNil(t, decoded.ExpiresAt)
	require.True(t, env.ExpiresAt.Equal(*decoded.ExpiresAt))

	_, err = unmarshalEnvelope([]byte("{not json"))
	require.Error(t, err)
}
