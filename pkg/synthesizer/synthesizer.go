// Package synthesizer discovers parent/child relationships between trace
// segments that share no trace id but share circuit context and are
// temporally close. MDSO does not propagate W3C trace context into the Sense
// apps, so the only way to stitch those traces back together is heuristic
// correlation on the provisioning identifiers.
package synthesizer

import (
	"crypto/md5" //nolint:gosec // deterministic span id derivation, not security
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/logger"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/models"
)

// Scoring weights. The sum of a circuit-only match at the window edge is
// exactly 0.5, the default acceptance threshold; any additional shared key
// or temporal closeness clears it.
const (
	scoreCircuitMatch  = 0.50
	scoreResourceMatch = 0.20
	scoreProductMatch  = 0.10
	scoreTemporalMax   = 0.20
	scoreFlowBonus     = 0.10

	// Full temporal score inside this gap, linear decay out to the window
	// edge beyond it.
	temporalFullScoreGap = 10 * time.Second
)

// knownFlows lists the provisioning call sequences observed between the
// services. A candidate pair matching one of these gets a confidence bonus.
var knownFlows = map[[2]string]struct{}{
	{"beorn", "mdso-scriptplan"}:    {},
	{"beorn", "palantir"}:           {},
	{"beorn", "arda"}:               {},
	{"palantir", "mdso-scriptplan"}: {},
	{"palantir", "arda"}:            {},
	{"mdso-scriptplan", "arda"}:     {},
	{"mdso-scriptplan", "beorn"}:    {},
	{"mdso-scriptplan", "palantir"}: {},
	{"arda", "granite"}:             {},
}

// Stats tracks synthesizer activity.
type Stats struct {
	SegmentsAdded      int `json:"segments_added"`
	ParentsFound       int `json:"parents_found"`
	BridgeSpansCreated int `json:"bridge_spans_created"`
	ActiveSegments     int `json:"active_segments"`
}

// Synthesizer holds a time-windowed arena of circuit-tagged trace segments,
// indexed by circuit id. Segments older than the synthesis window are
// evicted on insert, so the arena is bounded by ingest rate times window
// length rather than process lifetime. Safe for concurrent use; the engine
// loop writes while API handlers read stats.
type Synthesizer struct {
	mu      sync.Mutex
	window  time.Duration
	logger  logger.Logger
	arena   map[string][]models.TraceSegment
	pending []models.TraceSegment
	active  int
	stats   Stats
}

// New creates a Synthesizer with the given correlation window.
func New(window time.Duration, log logger.Logger) *Synthesizer {
	return &Synthesizer{
		window: window,
		logger: log.WithComponent("synthesizer"),
		arena:  make(map[string][]models.TraceSegment),
	}
}

// AddSegment adds a circuit-tagged segment to the arena and queues it for
// the next synthesis pass. Segments without a circuit id cannot be
// correlated and are ignored.
func (s *Synthesizer) AddSegment(segment models.TraceSegment) {
	if segment.CircuitID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictCircuit(segment.CircuitID, segment.Timestamp)

	s.arena[segment.CircuitID] = append(s.arena[segment.CircuitID], segment)
	s.active++
	s.pending = append(s.pending, segment)
	s.stats.SegmentsAdded++

	s.logger.Debug().
		Str("service", segment.Service).
		Str("trace_id", segment.TraceID).
		Str("circuit_id", segment.CircuitID).
		Msg("Added trace segment")
}

// DrainPending returns up to max segments queued since the last pass. Each
// segment is handed out exactly once, which bounds per-cycle synthesis cost
// without re-scanning the arena.
func (s *Synthesizer) DrainPending(maxSegments int) []models.TraceSegment {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	n := len(s.pending)
	if maxSegments > 0 && n > maxSegments {
		n = maxSegments
	}

	drained := s.pending[:n]
	s.pending = s.pending[n:]

	return drained
}

// FindParent searches the segment's circuit arena for the best-scoring
// earlier segment from a different trace and service. Returns the candidate
// with its confidence in [0,1]; the caller applies the acceptance threshold.
func (s *Synthesizer) FindParent(segment models.TraceSegment) (models.TraceSegment, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best      models.TraceSegment
		bestScore float64
		bestGap   time.Duration
		found     bool
	)

	for _, parent := range s.arena[segment.CircuitID] {
		if parent.TraceID == segment.TraceID || parent.Service == segment.Service {
			continue
		}

		// Causality: a parent cannot start after its child.
		if parent.Timestamp.After(segment.Timestamp) {
			continue
		}

		gap := segment.Timestamp.Sub(parent.Timestamp)
		if gap > s.window {
			continue
		}

		score := s.score(&parent, &segment, gap)
		if !found || score > bestScore || (score == bestScore && gap < bestGap) {
			best = parent
			bestScore = score
			bestGap = gap
			found = true
		}
	}

	if !found {
		return models.TraceSegment{}, 0, false
	}

	s.stats.ParentsFound++

	s.logger.Debug().
		Str("parent_service", best.Service).
		Str("child_service", segment.Service).
		Float64("confidence", bestScore).
		Dur("gap", bestGap).
		Msg("Found parent trace candidate")

	return best, bestScore, true
}

// score combines shared-context strength and temporal proximity into a
// confidence in [0,1]. Monotone: more shared keys and smaller gaps never
// lower the score.
func (s *Synthesizer) score(parent, child *models.TraceSegment, gap time.Duration) float64 {
	score := scoreCircuitMatch

	if child.ResourceID != "" && parent.ResourceID == child.ResourceID {
		score += scoreResourceMatch
	}

	if child.ProductID != "" && parent.ProductID == child.ProductID {
		score += scoreProductMatch
	}

	if gap <= temporalFullScoreGap {
		score += scoreTemporalMax
	} else if s.window > temporalFullScoreGap {
		decay := 1 - float64(gap-temporalFullScoreGap)/float64(s.window-temporalFullScoreGap)
		score += scoreTemporalMax * decay
	}

	if _, ok := knownFlows[[2]string{parent.Service, child.Service}]; ok {
		score += scoreFlowBonus
	}

	if score > 1 {
		score = 1
	}

	return score
}

// CreateBridgeSpan builds the synthetic span stitching parent and child. It
// carries the parent's trace id, spans the gap between the two segments, and
// links to the child trace so a trace viewer can navigate across.
func (s *Synthesizer) CreateBridgeSpan(parent, child models.TraceSegment, confidence float64) models.BridgeSpan {
	sum := md5.Sum([]byte(parent.SpanID + "-" + child.SpanID)) //nolint:gosec // see package note
	spanID := hex.EncodeToString(sum[:])[:16]

	s.mu.Lock()
	s.stats.BridgeSpansCreated++
	s.mu.Unlock()

	return models.BridgeSpan{
		TraceID:           parent.TraceID,
		SpanID:            spanID,
		ParentSpanID:      parent.SpanID,
		Name:              fmt.Sprintf("%s_to_%s_bridge", parent.Service, child.Service),
		Kind:              3, // INTERNAL
		StartTimeUnixNano: parent.Timestamp.UnixNano(),
		EndTimeUnixNano:   child.Timestamp.UnixNano(),
		Attributes: map[string]interface{}{
			"bridge.type":                  "synthetic",
			"bridge.parent_service":        parent.Service,
			"bridge.child_service":         child.Service,
			"bridge.parent_trace_id":       parent.TraceID,
			"bridge.child_trace_id":        child.TraceID,
			"synthetic":                    true,
			"correlation.method":           "circuit_id_match",
			"correlation.confidence":       confidence,
			"correlation.time_gap_seconds": child.Timestamp.Sub(parent.Timestamp).Seconds(),
			"circuit_id":                   firstNonEmpty(parent.CircuitID, child.CircuitID),
			"resource_id":                  firstNonEmpty(parent.ResourceID, child.ResourceID),
			"product_id":                   firstNonEmpty(parent.ProductID, child.ProductID),
			"resource_type_id":             firstNonEmpty(parent.ResourceTypeID, child.ResourceTypeID),
		},
		Links: []models.SpanLink{
			{
				TraceID: child.TraceID,
				SpanID:  child.SpanID,
				Attributes: map[string]string{
					"link.type":    "follows_from",
					"link.service": child.Service,
				},
			},
		},
	}
}

// Stats returns a snapshot of synthesizer activity.
func (s *Synthesizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.stats
	snapshot.ActiveSegments = s.active

	return snapshot
}

// evictCircuit drops segments in one circuit's arena older than the window,
// relative to now.
func (s *Synthesizer) evictCircuit(circuitID string, now time.Time) {
	segments, ok := s.arena[circuitID]
	if !ok {
		return
	}

	cutoff := now.Add(-s.window)
	kept := segments[:0]

	for _, seg := range segments {
		if !seg.Timestamp.Before(cutoff) {
			kept = append(kept, seg)
		}
	}

	s.active -= len(segments) - len(kept)

	if len(kept) == 0 {
		delete(s.arena, circuitID)
		return
	}

	s.arena[circuitID] = kept
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
