// Package api exposes the correlation engine over HTTP: ingestion endpoints
// for log and OTLP trace batches, the correlation query surface, and
// operational stats. Ingestion is fire-and-forget; a shed batch still gets
// an accepted response.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/correlator"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/logger"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/models"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/state"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/synthesizer"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second

	maxBodyBytes = 10 << 20 // 10 MiB
)

// Engine is the correlator surface the API depends on.
type Engine interface {
	AddLogs(batch *models.LogBatch)
	AddTraces(batch *tracepb.TracesData)
	QueryCorrelations(opts correlator.QueryOptions) []*models.CorrelationEvent
	InjectSyntheticEvent(ctx context.Context, event *models.SyntheticEvent) *models.CorrelationEvent
	FindTraceChain(traceID string, maxDepth int) []models.TraceLink
	TraceGraph(circuitID string) synthesizer.TraceGraph
	Stats() correlator.Stats
}

type errorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// Server is the HTTP front end.
type Server struct {
	engine     Engine
	store      state.Manager
	router     *mux.Router
	httpServer *http.Server
	logger     logger.Logger
}

// NewServer builds the server and registers its routes.
func NewServer(engine Engine, store state.Manager, log logger.Logger) *Server {
	s := &Server{
		engine: engine,
		store:  store,
		router: mux.NewRouter(),
		logger: log.WithComponent("api"),
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/logs", s.postLogs).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/traces", s.postTraces).Methods(http.MethodPost)
	s.router.HandleFunc("/api/correlations", s.getCorrelations).Methods(http.MethodGet)
	s.router.HandleFunc("/api/correlations/synthetic", s.postSynthetic).Methods(http.MethodPost)
	s.router.HandleFunc("/api/traces/{trace_id}/chain", s.getTraceChain).Methods(http.MethodGet)
	s.router.HandleFunc("/api/circuits/{circuit_id}/graph", s.getCircuitGraph).Methods(http.MethodGet)
	s.router.HandleFunc("/api/stats", s.getStats).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.getHealth).Methods(http.MethodGet)
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start blocks serving HTTP on addr until shutdown or failure.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	s.logger.Info().Str("addr", addr).Msg("HTTP API listening")

	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) postLogs(w http.ResponseWriter, r *http.Request) {
	var batch models.LogBatch

	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&batch); err != nil {
		writeError(w, "Invalid log batch payload", http.StatusBadRequest)

		return
	}

	s.engine.AddLogs(&batch)

	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "accepted"}, s.logger)
}

func (s *Server) postTraces(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, "Failed to read request body", http.StatusBadRequest)

		return
	}

	var batch tracepb.TracesData

	if err := protojson.Unmarshal(body, &batch); err != nil {
		writeError(w, "Invalid OTLP trace payload", http.StatusBadRequest)

		return
	}

	s.engine.AddTraces(&batch)

	// OTLP/HTTP success: empty partial-success object. Shed batches are
	// reported as accepted too; load shedding is silent to producers.
	writeJSON(w, map[string]interface{}{}, s.logger)
}

func (s *Server) getCorrelations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	opts := correlator.QueryOptions{
		TraceID: query.Get("trace_id"),
		Service: query.Get("service"),
	}

	if raw := query.Get("start_time"); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, "start_time must be RFC 3339", http.StatusBadRequest)

			return
		}

		opts.StartTime = start
	}

	if raw := query.Get("end_time"); raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, "end_time must be RFC 3339", http.StatusBadRequest)

			return
		}

		opts.EndTime = end
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)

			return
		}

		opts.Limit = limit
	}

	results := s.engine.QueryCorrelations(opts)
	if results == nil {
		results = []*models.CorrelationEvent{}
	}

	writeJSON(w, map[string]interface{}{
		"correlations": results,
		"count":        len(results),
	}, s.logger)
}

func (s *Server) postSynthetic(w http.ResponseWriter, r *http.Request) {
	var event models.SyntheticEvent

	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&event); err != nil {
		writeError(w, "Invalid synthetic event payload", http.StatusBadRequest)

		return
	}

	if event.TraceID == "" || event.Service == "" {
		writeError(w, "trace_id and service are required", http.StatusBadRequest)

		return
	}

	created := s.engine.InjectSyntheticEvent(r.Context(), &event)

	writeJSONStatus(w, http.StatusCreated, created, s.logger)
}

func (s *Server) getTraceChain(w http.ResponseWriter, r *http.Request) {
	traceID := mux.Vars(r)["trace_id"]

	maxDepth := 5

	if raw := r.URL.Query().Get("max_depth"); raw != "" {
		depth, err := strconv.Atoi(raw)
		if err != nil || depth <= 0 {
			writeError(w, "max_depth must be a positive integer", http.StatusBadRequest)

			return
		}

		maxDepth = depth
	}

	chain := s.engine.FindTraceChain(traceID, maxDepth)
	if chain == nil {
		chain = []models.TraceLink{}
	}

	writeJSON(w, map[string]interface{}{
		"trace_id": traceID,
		"links":    chain,
	}, s.logger)
}

func (s *Server) getCircuitGraph(w http.ResponseWriter, r *http.Request) {
	circuitID := mux.Vars(r)["circuit_id"]

	writeJSON(w, s.engine.TraceGraph(circuitID), s.logger)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()

	response := map[string]interface{}{
		"engine": stats,
	}

	if s.store != nil {
		count, err := s.store.GetCorrelationCount(r.Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to count stored correlations")
		} else {
			response["stored_correlations"] = count
		}
	}

	writeJSON(w, response, s.logger)
}

func (*Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, nil)
}

func writeJSON(w http.ResponseWriter, data interface{}, log logger.Logger) {
	writeJSONStatus(w, http.StatusOK, data, log)
}

func writeJSONStatus(w http.ResponseWriter, statusCode int, data interface{}, log logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		if log != nil {
			log.Error().Err(err).Msg("Failed to encode response")
		}

		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(errorResponse{Message: message, Status: statusCode}); err != nil {
		http.Error(w, "Failed to encode error response", http.StatusInternalServerError)
	}
}
