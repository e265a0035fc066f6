package correlator

import (
	"sync"
	"time"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/models"
)

const defaultQueryLimit = 100

// QueryOptions filters a history query. Zero values mean "no filter"; a
// zero Limit falls back to the default.
type QueryOptions struct {
	TraceID   string
	Service   string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// History is the engine's append-ordered correlation record, bounded at
// maxHistory, with secondary indices by trace id and service. Every insert
// and eviction keeps the indices consistent with the history list. It is
// safe for concurrent use; the engine loop writes while the query API
// reads.
type History struct {
	mu         sync.RWMutex
	maxHistory int
	events     []*models.CorrelationEvent
	byTraceID  map[string][]*models.CorrelationEvent
	byService  map[string][]*models.CorrelationEvent
}

// NewHistory creates an empty history bounded at maxHistory entries.
func NewHistory(maxHistory int) *History {
	return &History{
		maxHistory: maxHistory,
		byTraceID:  make(map[string][]*models.CorrelationEvent),
		byService:  make(map[string][]*models.CorrelationEvent),
	}
}

// Add appends an event, evicting the oldest entry once the bound is
// exceeded.
func (h *History) Add(event *models.CorrelationEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append(h.events, event)
	h.byTraceID[event.TraceID] = append(h.byTraceID[event.TraceID], event)
	h.byService[event.Service] = append(h.byService[event.Service], event)

	for len(h.events) > h.maxHistory {
		h.evictOldestLocked()
	}
}

func (h *History) evictOldestLocked() {
	oldest := h.events[0]
	h.events = h.events[1:]

	h.byTraceID[oldest.TraceID] = removeEvent(h.byTraceID[oldest.TraceID], oldest)
	if len(h.byTraceID[oldest.TraceID]) == 0 {
		delete(h.byTraceID, oldest.TraceID)
	}

	h.byService[oldest.Service] = removeEvent(h.byService[oldest.Service], oldest)
	if len(h.byService[oldest.Service]) == 0 {
		delete(h.byService, oldest.Service)
	}
}

func removeEvent(events []*models.CorrelationEvent, target *models.CorrelationEvent) []*models.CorrelationEvent {
	for i, event := range events {
		if event == target {
			return append(events[:i], events[i+1:]...)
		}
	}

	return events
}

// Query returns matching events most-recent-first, capped at the limit. A
// trace id or service filter narrows the scan to the matching index;
// otherwise the full history is walked.
func (h *History) Query(opts QueryOptions) []*models.CorrelationEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	candidates := h.events

	switch {
	case opts.TraceID != "":
		candidates = h.byTraceID[opts.TraceID]
	case opts.Service != "":
		candidates = h.byService[opts.Service]
	}

	results := make([]*models.CorrelationEvent, 0, limit)

	for i := len(candidates) - 1; i >= 0; i-- {
		event := candidates[i]

		if opts.TraceID != "" && event.TraceID != opts.TraceID {
			continue
		}

		if opts.Service != "" && event.Service != opts.Service {
			continue
		}

		if !opts.StartTime.IsZero() && event.Timestamp.Before(opts.StartTime) {
			continue
		}

		if !opts.EndTime.IsZero() && event.Timestamp.After(opts.EndTime) {
			continue
		}

		results = append(results, event)

		if len(results) >= limit {
			break
		}
	}

	return results
}

// Len reports the number of retained events.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.events)
}

// indexed reports whether the event is present in both secondary indices.
// Test helper for the consistency invariant.
func (h *History) indexed(event *models.CorrelationEvent) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	inTrace := false

	for _, candidate := range h.byTraceID[event.TraceID] {
		if candidate == event {
			inTrace = true

			break
		}
	}

	if !inTrace {
		return false
	}

	for _, candidate := range h.byService[event.Service] {
		if candidate == event {
			return true
		}
	}

	return false
}
