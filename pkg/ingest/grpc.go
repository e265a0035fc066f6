// Package ingest receives OTLP traces over gRPC and feeds them to the
// correlation engine. Delivery is fire-and-forget: a shed batch still gets
// a success response, matching the HTTP ingestion surface.
package ingest

import (
	"context"
	"fmt"
	"net"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/logger"
)

// Engine is the ingestion surface the receiver needs.
type Engine interface {
	AddTraces(batch *tracepb.TracesData)
}

// TraceReceiver implements the OTLP collector TraceService.
type TraceReceiver struct {
	coltracepb.UnimplementedTraceServiceServer

	engine Engine
	logger logger.Logger
}

// NewTraceReceiver wires the receiver to an engine.
func NewTraceReceiver(engine Engine, log logger.Logger) *TraceReceiver {
	return &TraceReceiver{
		engine: engine,
		logger: log.WithComponent("otlp_receiver"),
	}
}

// Export enqueues the request's resource spans. The response never reports
// partial failure; load shedding is silent to producers.
func (r *TraceReceiver) Export(_ context.Context, req *coltracepb.ExportTraceServiceRequest) (*coltracepb.ExportTraceServiceResponse, error) {
	if req != nil && len(req.ResourceSpans) > 0 {
		r.engine.AddTraces(&tracepb.TracesData{ResourceSpans: req.ResourceSpans})
	}

	return &coltracepb.ExportTraceServiceResponse{}, nil
}

// Server hosts the receiver on a gRPC listener.
type Server struct {
	grpcServer *grpc.Server
	logger     logger.Logger
}

// NewServer registers the trace receiver on a fresh gRPC server.
func NewServer(engine Engine, log logger.Logger) *Server {
	s := &Server{
		grpcServer: grpc.NewServer(),
		logger:     log.WithComponent("grpc_ingest"),
	}

	coltracepb.RegisterTraceServiceServer(s.grpcServer, NewTraceReceiver(engine, log))

	return s
}

// Start blocks serving gRPC on addr until Stop or failure.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.logger.Info().Str("addr", addr).Msg("OTLP gRPC receiver listening")

	return s.grpcServer.Serve(lis)
}

// Stop drains in-flight RPCs and shuts the server down.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}
