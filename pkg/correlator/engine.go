package correlator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/config"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/logger"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/models"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/normalizer"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/state"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/synthesizer"
)

const (
	// maxSynthesisPerCycle bounds how many pending segments one loop
	// iteration scores, so a burst cannot stall window processing.
	maxSynthesisPerCycle = 100

	loopTick    = time.Second
	loopBackoff = 5 * time.Second
)

// ExportSink is what the engine needs from the export layer. Export
// failures are the sink's concern; the engine never retries beyond the
// loop's generic backoff.
type ExportSink interface {
	ExportLogs(ctx context.Context, logs []models.NormalizedLogRecord)
	ExportTraces(ctx context.Context, spans []models.NormalizedSpan)
	ExportCorrelationSpan(ctx context.Context, event *models.CorrelationEvent)
	ExportBridgeSpan(ctx context.Context, span *models.BridgeSpan, link *models.TraceLink)
}

// Stats is a point-in-time snapshot of engine internals for the stats API.
type Stats struct {
	Running          bool              `json:"running"`
	WindowStart      time.Time         `json:"window_start"`
	WindowSeconds    int               `json:"window_seconds"`
	LogQueueDepth    int               `json:"log_queue_depth"`
	TraceQueueDepth  int               `json:"trace_queue_depth"`
	HistorySize      int               `json:"history_size"`
	ActiveTraceLinks int               `json:"active_trace_links"`
	Synthesis        synthesizer.Stats `json:"synthesis"`
}

// Engine owns the ingestion queues, the current window, and the run loop.
// The loop is the only mutator of the window and the synthesizer; producers
// touch nothing but the queues.
type Engine struct {
	cfg        *config.Config
	logger     logger.Logger
	normalizer *normalizer.Normalizer
	synth      *synthesizer.Synthesizer
	links      *synthesizer.LinkResolver
	exporter   ExportSink
	store      state.Manager
	history    *History

	// windowMu guards the window pointer; the loop swaps it on expiry
	// while Stats reads it from the API goroutine.
	windowMu   sync.Mutex
	window     *Window
	logQueue   chan *models.LogBatch
	traceQueue chan *tracepb.TracesData

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	tick    time.Duration
	backoff time.Duration
}

// NewEngine wires the engine from its collaborators. The store may be the
// in-memory backend for single-instance deployments or the NATS backend for
// shared state.
func NewEngine(cfg *config.Config, exporter ExportSink, store state.Manager, log logger.Logger) *Engine {
	componentLog := log.WithComponent("engine")

	return &Engine{
		cfg:        cfg,
		logger:     componentLog,
		normalizer: normalizer.New(log),
		synth:      synthesizer.New(time.Duration(cfg.Synthesis.WindowSeconds)*time.Second, log),
		links:      synthesizer.NewLinkResolver(time.Duration(cfg.Synthesis.RetentionHours)*time.Hour, log),
		exporter:   exporter,
		store:      store,
		history:    NewHistory(cfg.MaxHistory),
		window:     NewWindow(cfg.WindowSeconds),
		logQueue:   make(chan *models.LogBatch, cfg.MaxQueueSize),
		traceQueue: make(chan *tracepb.TracesData, cfg.MaxQueueSize),
		tick:       loopTick,
		backoff:    loopBackoff,
	}
}

// Start launches the run loop. Starting a running engine is a no-op.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)

	go e.run(ctx)

	e.logger.Info().
		Int("window_seconds", e.cfg.WindowSeconds).
		Bool("synthesis_enabled", e.cfg.Synthesis.Enabled).
		Msg("Correlation engine started")
}

// Stop flags the loop to exit and waits for the in-flight iteration to
// finish. Exports for that iteration complete; nothing is preempted.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}

	e.logger.Info().Msg("Correlation engine stopping")
	e.cancel()
	e.wg.Wait()
}

// AddLogs enqueues a log batch. A full queue sheds the batch with a
// warning; the producer never blocks and never sees an error.
func (e *Engine) AddLogs(batch *models.LogBatch) {
	select {
	case e.logQueue <- batch:
	default:
		recordQueueDrop(context.Background(), "logs")
		e.logger.Warn().Str("service", batch.Resource.Service).Msg("Log queue full, dropping batch")
	}
}

// AddTraces enqueues an OTLP trace batch with the same shedding policy.
func (e *Engine) AddTraces(batch *tracepb.TracesData) {
	select {
	case e.traceQueue <- batch:
	default:
		recordQueueDrop(context.Background(), "traces")
		e.logger.Warn().Msg("Trace queue full, dropping batch")
	}
}

// QueryCorrelations reads the history index. Empty results are a valid
// answer, not an error.
func (e *Engine) QueryCorrelations(opts QueryOptions) []*models.CorrelationEvent {
	return e.history.Query(opts)
}

// FindTraceChain walks accepted links outward from a trace id.
func (e *Engine) FindTraceChain(traceID string, maxDepth int) []models.TraceLink {
	return e.links.FindTraceChain(traceID, maxDepth)
}

// TraceGraph assembles the link graph for one circuit.
func (e *Engine) TraceGraph(circuitID string) synthesizer.TraceGraph {
	return e.links.Graph(circuitID)
}

// InjectSyntheticEvent bypasses the window, manufacturing a correlation
// event tagged synthetic and exporting it immediately.
func (e *Engine) InjectSyntheticEvent(ctx context.Context, synthetic *models.SyntheticEvent) *models.CorrelationEvent {
	metadata := map[string]interface{}{
		"synthetic": true,
		"message":   synthetic.Message,
		"severity":  synthetic.Severity,
	}

	for key, value := range synthetic.Attributes {
		metadata[key] = value
	}

	event := &models.CorrelationEvent{
		CorrelationID: uuid.New().String(),
		TraceID:       synthetic.TraceID,
		Timestamp:     time.Now().UTC(),
		Service:       synthetic.Service,
		Env:           "dev",
		LogCount:      1,
		SpanCount:     0,
		Metadata:      metadata,
	}

	e.history.Add(event)
	recordCorrelationEvents(ctx, 1, "synthetic")
	e.exporter.ExportCorrelationSpan(ctx, event)

	return event
}

// Stats snapshots the engine for the stats API.
func (e *Engine) Stats() Stats {
	e.windowMu.Lock()
	windowStart := e.window.windowStart
	e.windowMu.Unlock()

	return Stats{
		Running:          e.running.Load(),
		WindowStart:      windowStart,
		WindowSeconds:    e.cfg.WindowSeconds,
		LogQueueDepth:    len(e.logQueue),
		TraceQueueDepth:  len(e.traceQueue),
		HistorySize:      e.history.Len(),
		ActiveTraceLinks: e.links.Len(),
		Synthesis:        e.synth.Stats(),
	}
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	for {
		e.iterate(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.tick):
		}
	}
}

// iterate runs one loop cycle. A panic in any stage is logged and absorbed
// with a cool-down; one bad event must never kill the pipeline.
func (e *Engine) iterate(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("Error in correlation loop")

			select {
			case <-ctx.Done():
			case <-time.After(e.backoff):
			}
		}
	}()

	recordQueueDepth(ctx, "logs", len(e.logQueue))
	recordQueueDepth(ctx, "traces", len(e.traceQueue))

	e.drainLogs(ctx)
	e.drainTraces(ctx)

	if e.cfg.Synthesis.Enabled {
		e.runSynthesis(ctx)
	}

	if e.window.ShouldClose() {
		e.closeWindow(ctx)
	}
}

func (e *Engine) drainLogs(ctx context.Context) {
	for {
		select {
		case batch := <-e.logQueue:
			normalized := e.normalizer.NormalizeLogBatch(batch)
			for _, record := range normalized {
				e.window.AddLog(record)
			}

			e.exporter.ExportLogs(ctx, normalized)
		default:
			return
		}
	}
}

func (e *Engine) drainTraces(ctx context.Context) {
	for {
		select {
		case batch := <-e.traceQueue:
			normalized := e.normalizer.NormalizeTraceBatch(batch)
			for i := range normalized {
				e.window.AddSpan(normalized[i])
				e.synth.AddSegment(normalizer.SegmentFromSpan(&normalized[i]))
			}

			e.exporter.ExportTraces(ctx, normalized)
		default:
			return
		}
	}
}

// runSynthesis scores a bounded slice of pending segments against the
// segment arena, accepting matches at or above the confidence threshold.
func (e *Engine) runSynthesis(ctx context.Context) {
	pending := e.synth.DrainPending(maxSynthesisPerCycle)

	for _, segment := range pending {
		parent, confidence, found := e.synth.FindParent(segment)
		if !found {
			recordSynthesisAttempt(ctx, "no_match")

			continue
		}

		if confidence < e.cfg.Synthesis.ConfidenceThreshold {
			recordSynthesisAttempt(ctx, "below_threshold")

			continue
		}

		bridge := e.synth.CreateBridgeSpan(parent, segment, confidence)
		link := models.TraceLink{
			ParentTraceID: parent.TraceID,
			ChildTraceID:  segment.TraceID,
			LinkType:      "synthetic",
			Timestamp:     time.Now().UTC(),
			CircuitID:     segment.CircuitID,
			Confidence:    confidence,
		}

		e.links.AddLink(link)
		e.exporter.ExportBridgeSpan(ctx, &bridge, &link)
		recordSynthesisAttempt(ctx, "success")

		e.logger.Debug().
			Str("parent_trace_id", parent.TraceID).
			Str("child_trace_id", segment.TraceID).
			Float64("confidence", confidence).
			Msg("Synthesized trace link")
	}
}

func (e *Engine) closeWindow(ctx context.Context) {
	correlations := e.window.CreateCorrelations()

	e.logger.Info().
		Int("correlations", len(correlations)).
		Int("window_seconds", e.cfg.WindowSeconds).
		Msg("Correlation window closed")

	for i := range correlations {
		event := &correlations[i]

		e.history.Add(event)
		e.exporter.ExportCorrelationSpan(ctx, event)
		e.persist(ctx, event)
	}

	recordCorrelationEvents(ctx, len(correlations), "success")

	e.windowMu.Lock()
	e.window = NewWindow(e.cfg.WindowSeconds)
	e.windowMu.Unlock()
}

// persist mirrors the event into the state store so other instances can see
// it. Store failures are logged and absorbed.
func (e *Engine) persist(ctx context.Context, event *models.CorrelationEvent) {
	if e.store == nil {
		return
	}

	entry := models.NewCorrelationEntry(event.TraceID, event.Service, event.Env)
	entry.CorrelationID = event.CorrelationID
	entry.Metadata = event.Metadata

	ttl := time.Duration(e.cfg.State.TTLSeconds) * time.Second

	if err := e.store.SetCorrelation(ctx, event.CorrelationID, entry, ttl); err != nil {
		e.logger.Error().Err(err).Str("correlation_id", event.CorrelationID).Msg("Failed to persist correlation")
	}
}
