package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCorrelationEntryRoundTrip(t *testing.T) {
	first := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)

	entry := &CorrelationEntry{
		CorrelationID: "corr-1",
		TraceID:       "4bf92f3577b34da6a3ce929d0e0e4736",
		Service:       "arda",
		Env:           "prod",
		FirstSeen:     first,
		LastUpdated:   first.Add(42 * time.Second),
		Spans: []NormalizedSpan{
			{
				TraceID:   "4bf92f3577b34da6a3ce929d0e0e4736",
				SpanID:    "00f067aa0ba902b7",
				Service:   "arda",
				Env:       "prod",
				Name:      "create_circuit",
				CircuitID: "CKT-100",
				Timestamp: first,
			},
		},
		Logs: []NormalizedLogRecord{
			{
				TraceID:   "4bf92f3577b34da6a3ce929d0e0e4736",
				Service:   "arda",
				Env:       "prod",
				Timestamp: first.Format(time.RFC3339Nano),
				Severity:  "INFO",
				Message:   "circuit provisioned",
				CircuitID: "CKT-100",
				Labels:    map[string]string{"region": "west"},
			},
		},
		Metadata: map[string]interface{}{"window_seconds": "30"},
	}

	data, err := entry.ToJSON()
	require.NoError(t, err)

	decoded, err := CorrelationEntryFromJSON(data)
	require.NoError(t, err)
	require.Equal(t, entry, decoded)
}

func TestCorrelationEntryFromJSONInvalid(t *testing.T) {
	_, err := CorrelationEntryFromJSON([]byte("{not json"))
	require.Error(t, err)
}

func TestNewCorrelationEntryDefaults(t *testing.T) {
	entry := NewCorrelationEntry("4bf92f3577b34da6a3ce929d0e0e4736", "", "")

	require.NotEmpty(t, entry.CorrelationID)
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry.TraceID)
	require.Equal(t, "unknown", entry.Service)
	require.Equal(t, "unknown", entry.Env)
	require.NotNil(t, entry.Spans)
	require.NotNil(t, entry.Logs)
	require.NotNil(t, entry.Metadata)
	require.False(t, entry.FirstSeen.IsZero())
}

func TestNewCorrelationEntryKeepsProvidedIdentity(t *testing.T) {
	entry := NewCorrelationEntry("abc123", "palantir", "prod")

	require.Equal(t, "abc123", entry.TraceID)
	require.Equal(t, "palantir", entry.Service)
	require.Equal(t, "prod", entry.Env)
}
