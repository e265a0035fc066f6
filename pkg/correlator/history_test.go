package correlator

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/models"
)

func historyEvent(id, traceID, service string, ts time.Time) *models.CorrelationEvent {
	return &models.CorrelationEvent{
		CorrelationID: id,
		TraceID:       traceID,
		Service:       service,
		Timestamp:     ts,
	}
}

func TestHistoryQueryMostRecentFirst(t *testing.T) {
	h := NewHistory(100)
	now := time.Now().UTC()

	e1 := historyEvent("c1", "abc", "beorn", now.Add(-2*time.Second))
	e2 := historyEvent("c2", "abc", "beorn", now.Add(-time.Second))
	e3 := historyEvent("c3", "abc", "beorn", now)

	h.Add(e1)
	h.Add(e2)
	h.Add(e3)

	results := h.Query(QueryOptions{TraceID: "abc", Limit: 1})
	require.Len(t, results, 1)
	require.Equal(t, "c3", results[0].CorrelationID)

	results = h.Query(QueryOptions{TraceID: "abc"})
	require.Equal(t, []*models.CorrelationEvent{e3, e2, e1}, results)
}

func TestHistoryQueryFilters(t *testing.T) {
	h := NewHistory(100)
	now := time.Now().UTC()

	h.Add(historyEvent("c1", "t1", "beorn", now.Add(-time.Hour)))
	h.Add(historyEvent("c2", "t2", "arda", now.Add(-30*time.Minute)))
	h.Add(historyEvent("c3", "t3", "beorn", now))

	results := h.Query(QueryOptions{Service: "beorn"})
	require.Len(t, results, 2)
	require.Equal(t, "c3", results[0].CorrelationID)

	results = h.Query(QueryOptions{StartTime: now.Add(-45 * time.Minute), EndTime: now.Add(-time.Minute)})
	require.Len(t, results, 1)
	require.Equal(t, "c2", results[0].CorrelationID)

	// Unknown keys yield an empty result, not an error.
	require.Empty(t, h.Query(QueryOptions{TraceID: "missing"}))
	require.Empty(t, h.Query(QueryOptions{Service: "missing"}))
}

func TestHistoryBound(t *testing.T) {
	const maxHistory = 10

	h := NewHistory(maxHistory)
	now := time.Now().UTC()

	for i := 0; i < maxHistory+5; i++ {
		h.Add(historyEvent(fmt.Sprintf("c%d", i), fmt.Sprintf("t%d", i), "beorn", now))
	}

	require.Equal(t, maxHistory, h.Len())

	// The oldest entries are gone from history and both indices.
	require.Empty(t, h.Query(QueryOptions{TraceID: "t0"}))
	require.Empty(t, h.byTraceID["t4"])
	require.Len(t, h.Query(QueryOptions{Service: "beorn"}), maxHistory)
}

func TestHistoryIndexConsistency(t *testing.T) {
	const maxHistory = 8

	h := NewHistory(maxHistory)
	now := time.Now().UTC()

	var all []*models.CorrelationEvent

	// Reuse a few trace ids and services so index lists hold multiple
	// events and evictions remove the right one.
	for i := 0; i < 25; i++ {
		event := historyEvent(
			fmt.Sprintf("c%d", i),
			fmt.Sprintf("t%d", i%4),
			fmt.Sprintf("svc%d", i%3),
			now,
		)
		all = append(all, event)
		h.Add(event)
	}

	retained := make(map[*models.CorrelationEvent]bool, len(h.events))
	for _, event := range h.events {
		retained[event] = true
		require.True(t, h.indexed(event), "retained event %s missing from an index", event.CorrelationID)
	}

	for _, event := range all {
		if !retained[event] {
			require.False(t, h.indexed(event), "evicted event %s still indexed", event.CorrelationID)
		}
	}
}
