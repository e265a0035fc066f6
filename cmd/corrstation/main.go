package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/api"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/config"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/correlator"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/exporters"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/ingest"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/logger"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/state"
)

const (
	serviceName    = "corrstation"
	serviceVersion = "1.0.0"

	shutdownGrace = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "/etc/corrstation/corrstation.json", "Path to config file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	shutdownTelemetry, err := logger.InitTelemetry(ctx, logger.DefaultTelemetryConfig(serviceName, serviceVersion))
	if err != nil {
		appLogger.Fatal().Err(err).Msg("Failed to initialize telemetry")
	}
	defer shutdownTelemetry()

	store, err := buildStateManager(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("Failed to create state manager")
	}
	defer func() { _ = store.Close() }()

	exportManager, err := buildExportManager(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("Failed to create exporters")
	}
	defer func() { _ = exportManager.Close() }()

	engine := correlator.NewEngine(cfg, exportManager, store, appLogger)
	engine.Start()

	httpServer := api.NewServer(engine, store, appLogger)
	grpcServer := ingest.NewServer(engine, appLogger)

	errCh := make(chan error, 2)

	go func() {
		if err := httpServer.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go func() {
		if err := grpcServer.Start(cfg.GRPCAddr); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		appLogger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		appLogger.Error().Err(err).Msg("Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("HTTP shutdown failed")
	}

	grpcServer.Stop()
	engine.Stop()

	appLogger.Info().Msg("Shutdown complete")
}

func buildStateManager(ctx context.Context, cfg *config.Config, appLogger logger.Logger) (state.Manager, error) {
	if cfg.State.Backend == "nats" {
		return state.NewNATSManager(ctx, state.NATSOptions{
			URL:       cfg.State.NATSURL,
			Bucket:    cfg.State.Bucket,
			BucketTTL: time.Duration(cfg.State.TTLSeconds) * time.Second,
		}, appLogger)
	}

	return state.NewMemoryManager(appLogger), nil
}

func buildExportManager(ctx context.Context, cfg *config.Config, appLogger logger.Logger) (*exporters.Manager, error) {
	if !cfg.Export.Enabled {
		return exporters.NewManager(appLogger, exporters.NoopExporter{}), nil
	}

	natsExporter, err := exporters.NewNATSExporter(ctx, exporters.NATSExporterOptions{
		URL:        cfg.Export.NATSURL,
		StreamName: cfg.Export.StreamName,
		Subject:    cfg.Export.Subject,
	}, appLogger)
	if err != nil {
		return nil, err
	}

	return exporters.NewManager(appLogger, natsExporter), nil
}
