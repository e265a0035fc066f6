package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/config"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/correlator"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/exporters"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/logger"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/models"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/state"
)

func syntheticEvent(traceID, service string) *models.SyntheticEvent {
	return &models.SyntheticEvent{TraceID: traceID, Service: service, Message: "manual check", Severity: "INFO"}
}

func newTestServer(t *testing.T) (*Server, *correlator.Engine, state.Manager) {
	t.Helper()

	log := logger.NewTestLogger()
	store := state.NewMemoryManager(log)
	engine := correlator.NewEngine(config.Default(), exporters.NewManager(log), store, log)

	return NewServer(engine, store, log), engine, store
}

func doRequest(t *testing.T, s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	return rec
}

func TestPostLogs(t *testing.T) {
	s, _, _ := newTestServer(t)

	payload := []byte(`{
		"resource": {"service": "beorn", "env": "prod"},
		"records": [{"timestamp": "2025-06-01T12:00:00Z", "message": "hi", "trace_id": "abc"}]
	}`)

	rec := doRequest(t, s, http.MethodPost, "/api/logs", payload)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "accepted", resp["status"])
}

func TestPostLogsRejectsBadJSON(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/logs", []byte("{not json"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostTraces(t *testing.T) {
	s, _, _ := newTestServer(t)

	payload := []byte(`{
		"resourceSpans": [{
			"resource": {"attributes": [{"key": "service.name", "value": {"stringValue": "beorn"}}]},
			"scopeSpans": [{
				"spans": [{
					"traceId": "0102030405060708090a0b0c0d0e0f10",
					"spanId": "0102030405060708",
					"name": "provision"
				}]
			}]
		}]
	}`)

	rec := doRequest(t, s, http.MethodPost, "/v1/traces", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "{}", rec.Body.String())
}

func TestPostTracesRejectsMalformedPayload(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/traces", []byte(`{"resourceSpans": "nope"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCorrelations(t *testing.T) {
	s, engine, _ := newTestServer(t)

	engine.InjectSyntheticEvent(context.Background(), syntheticEvent("abc", "beorn"))
	engine.InjectSyntheticEvent(context.Background(), syntheticEvent("def", "arda"))

	rec := doRequest(t, s, http.MethodGet, "/api/correlations?trace_id=abc", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count        int `json:"count"`
		Correlations []struct {
			TraceID string `json:"trace_id"`
		} `json:"correlations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	require.Equal(t, "abc", resp.Correlations[0].TraceID)

	// No matches is an empty list, not an error.
	rec = doRequest(t, s, http.MethodGet, "/api/correlations?trace_id=missing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.Count)

	rec = doRequest(t, s, http.MethodGet, "/api/correlations?start_time=garbage", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/correlations?limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostSynthetic(t *testing.T) {
	s, engine, _ := newTestServer(t)

	payload := []byte(`{"trace_id": "manual-1", "service": "operator", "message": "manual check"}`)

	rec := doRequest(t, s, http.MethodPost, "/api/correlations/synthetic", payload)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		CorrelationID string                 `json:"correlation_id"`
		TraceID       string                 `json:"trace_id"`
		Metadata      map[string]interface{} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.CorrelationID)
	require.Equal(t, "manual-1", resp.TraceID)
	require.Equal(t, true, resp.Metadata["synthetic"])

	require.Len(t, engine.QueryCorrelations(correlator.QueryOptions{TraceID: "manual-1"}), 1)

	rec = doRequest(t, s, http.MethodPost, "/api/correlations/synthetic", []byte(`{"message": "no ids"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTraceChainAndGraph(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/traces/abc/chain", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var chainResp struct {
		TraceID string        `json:"trace_id"`
		Links   []interface{} `json:"links"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chainResp))
	require.Equal(t, "abc", chainResp.TraceID)
	require.Empty(t, chainResp.Links)

	rec = doRequest(t, s, http.MethodGet, "/api/traces/abc/chain?max_depth=0", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/circuits/CIRC-1/graph", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetStatsAndHealth(t *testing.T) {
	s, engine, _ := newTestServer(t)

	engine.InjectSyntheticEvent(context.Background(), syntheticEvent("abc", "beorn"))

	rec := doRequest(t, s, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Engine struct {
			HistorySize   int `json:"history_size"`
			WindowSeconds int `json:"window_seconds"`
		} `json:"engine"`
		StoredCorrelations int `json:"stored_correlations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Engine.HistorySize)
	require.Equal(t, 30, resp.Engine.WindowSeconds)

	rec = doRequest(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}
