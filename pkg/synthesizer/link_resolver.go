package synthesizer

import (
	"sync"
	"time"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/logger"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/models"
)

// GraphEdge is one directed link in a circuit's trace graph.
type GraphEdge struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// GraphNode is a trace participating in a circuit's trace graph.
type GraphNode struct {
	ID string `json:"id"`
}

// TraceGraph is the link structure for one circuit, shaped for
// visualization.
type TraceGraph struct {
	Nodes     []GraphNode `json:"nodes"`
	Edges     []GraphEdge `json:"edges"`
	CircuitID string      `json:"circuit_id"`
}

// LinkResolver retains discovered cross-trace links for a bounded window and
// answers relationship queries over them. Safe for concurrent use; the
// engine loop inserts links while API handlers query them.
type LinkResolver struct {
	mu           sync.RWMutex
	retention    time.Duration
	logger       logger.Logger
	links        []models.TraceLink
	circuitIndex map[string]map[string]struct{}
	traceIndex   map[string][]int
}

// NewLinkResolver creates a LinkResolver keeping links for the given
// retention.
func NewLinkResolver(retention time.Duration, log logger.Logger) *LinkResolver {
	return &LinkResolver{
		retention:    retention,
		logger:       log.WithComponent("link_resolver"),
		circuitIndex: make(map[string]map[string]struct{}),
		traceIndex:   make(map[string][]int),
	}
}

// AddLink stores an accepted link and indexes it by circuit and by both
// trace ids. Expired links are swept lazily on insert.
func (r *LinkResolver) AddLink(link models.TraceLink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cleanup(time.Now().UTC())

	idx := len(r.links)
	r.links = append(r.links, link)

	if link.CircuitID != "" {
		traces, ok := r.circuitIndex[link.CircuitID]
		if !ok {
			traces = make(map[string]struct{})
			r.circuitIndex[link.CircuitID] = traces
		}

		traces[link.ParentTraceID] = struct{}{}
		traces[link.ChildTraceID] = struct{}{}
	}

	r.traceIndex[link.ParentTraceID] = append(r.traceIndex[link.ParentTraceID], idx)
	r.traceIndex[link.ChildTraceID] = append(r.traceIndex[link.ChildTraceID], idx)
}

// FindRelatedTraces returns all trace ids linked under a circuit.
func (r *LinkResolver) FindRelatedTraces(circuitID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	traces := r.circuitIndex[circuitID]
	out := make([]string, 0, len(traces))

	for id := range traces {
		out = append(out, id)
	}

	return out
}

// FindTraceChain walks outward from a trace id across retained links,
// breadth-first, up to maxDepth hops.
func (r *LinkResolver) FindTraceChain(traceID string, maxDepth int) []models.TraceLink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-r.retention)
	visited := map[string]struct{}{}
	seen := map[int]struct{}{}

	var chain []models.TraceLink

	type hop struct {
		id    string
		depth int
	}

	queue := []hop{{id: traceID}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if _, ok := visited[current.id]; ok || current.depth >= maxDepth {
			continue
		}

		visited[current.id] = struct{}{}

		for _, idx := range r.traceIndex[current.id] {
			link := r.links[idx]
			if link.Timestamp.Before(cutoff) {
				continue
			}

			if _, ok := seen[idx]; !ok {
				seen[idx] = struct{}{}
				chain = append(chain, link)
			}

			if link.ParentTraceID == current.id {
				queue = append(queue, hop{id: link.ChildTraceID, depth: current.depth + 1})
			} else if link.ChildTraceID == current.id {
				queue = append(queue, hop{id: link.ParentTraceID, depth: current.depth + 1})
			}
		}
	}

	return chain
}

// Graph assembles the full trace graph for one circuit.
func (r *LinkResolver) Graph(circuitID string) TraceGraph {
	r.mu.RLock()
	defer r.mu.RUnlock()

	graph := TraceGraph{CircuitID: circuitID, Nodes: []GraphNode{}, Edges: []GraphEdge{}}

	traces := r.circuitIndex[circuitID]
	if len(traces) == 0 {
		return graph
	}

	cutoff := time.Now().UTC().Add(-r.retention)
	edgeSeen := map[int]struct{}{}

	for traceID := range traces {
		graph.Nodes = append(graph.Nodes, GraphNode{ID: traceID})

		for _, idx := range r.traceIndex[traceID] {
			if _, ok := edgeSeen[idx]; ok {
				continue
			}

			edgeSeen[idx] = struct{}{}

			link := r.links[idx]
			if link.Timestamp.Before(cutoff) {
				continue
			}

			graph.Edges = append(graph.Edges, GraphEdge{
				Source:     link.ParentTraceID,
				Target:     link.ChildTraceID,
				Type:       link.LinkType,
				Confidence: link.Confidence,
			})
		}
	}

	return graph
}

// Len reports the number of retained links.
func (r *LinkResolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.links)
}

// cleanup drops links older than retention and rebuilds the indices when
// anything was removed.
func (r *LinkResolver) cleanup(now time.Time) {
	cutoff := now.Add(-r.retention)
	kept := r.links[:0]

	for _, link := range r.links {
		if !link.Timestamp.Before(cutoff) {
			kept = append(kept, link)
		}
	}

	removed := len(r.links) - len(kept)
	if removed == 0 {
		return
	}

	r.links = kept
	r.circuitIndex = make(map[string]map[string]struct{})
	r.traceIndex = make(map[string][]int)

	for idx, link := range r.links {
		if link.CircuitID != "" {
			traces, ok := r.circuitIndex[link.CircuitID]
			if !ok {
				traces = make(map[string]struct{})
				r.circuitIndex[link.CircuitID] = traces
			}

			traces[link.ParentTraceID] = struct{}{}
			traces[link.ChildTraceID] = struct{}{}
		}

		r.traceIndex[link.ParentTraceID] = append(r.traceIndex[link.ParentTraceID], idx)
		r.traceIndex[link.ChildTraceID] = append(r.traceIndex[link.ChildTraceID], idx)
	}

	r.logger.Debug().Int("removed", removed).Msg("Cleaned up expired trace links")
}
