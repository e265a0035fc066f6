package synthesizer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/logger"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/models"
)

func link(parent, child, circuit string, ts time.Time) models.TraceLink {
	return models.TraceLink{
		ParentTraceID: parent,
		ChildTraceID:  child,
		LinkType:      "synthetic",
		Timestamp:     ts,
		CircuitID:     circuit,
		Confidence:    0.9,
	}
}

func TestAddLinkIndexes(t *testing.T) {
	r := NewLinkResolver(24*time.Hour, logger.NewTestLogger())
	now := time.Now().UTC()

	r.AddLink(link("aaaa", "bbbb", "CKT-1", now))

	related := r.FindRelatedTraces("CKT-1")
	require.ElementsMatch(t, []string{"aaaa", "bbbb"}, related)
	require.Equal(t, 1, r.Len())
}

func TestExpiredLinksAreSweptOnInsert(t *testing.T) {
	r := NewLinkResolver(time.Hour, logger.NewTestLogger())
	now := time.Now().UTC()

	r.AddLink(link("aaaa", "bbbb", "CKT-1", now.Add(-2*time.Hour)))
	r.AddLink(link("cccc", "dddd", "CKT-1", now))

	require.Equal(t, 1, r.Len())
	require.ElementsMatch(t, []string{"cccc", "dddd"}, r.FindRelatedTraces("CKT-1"))
	require.Empty(t, r.FindTraceChain("aaaa", 10))
}

func TestFindTraceChainWalksBothDirections(t *testing.T) {
	r := NewLinkResolver(24*time.Hour, logger.NewTestLogger())
	now := time.Now().UTC()

	// aaaa -> bbbb -> cccc
	r.AddLink(link("aaaa", "bbbb", "CKT-2", now))
	r.AddLink(link("bbbb", "cccc", "CKT-2", now))

	chain := r.FindTraceChain("cccc", 10)
	require.Len(t, chain, 2)

	// Depth cap stops traversal.
	shallow := r.FindTraceChain("cccc", 1)
	require.Len(t, shallow, 1)
}

func TestGraph(t *testing.T) {
	r := NewLinkResolver(24*time.Hour, logger.NewTestLogger())
	now := time.Now().UTC()

	r.AddLink(link("aaaa", "bbbb", "CKT-3", now))
	r.AddLink(link("bbbb", "cccc", "CKT-3", now))

	graph := r.Graph("CKT-3")
	require.Equal(t, "CKT-3", graph.CircuitID)
	require.Len(t, graph.Nodes, 3)
	require.Len(t, graph.Edges, 2)

	empty := r.Graph("CKT-none")
	require.Empty(t, empty.Nodes)
	require.Empty(t, empty.Edges)
}

func TestLinkResolverConcurrentInsertAndQuery(t *testing.T) {
	r := NewLinkResolver(24*time.Hour, logger.NewTestLogger())
	now := time.Now().UTC()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()

		for i := 0; i < 200; i++ {
			r.AddLink(link(fmt.Sprintf("p-%d", i), fmt.Sprintf("c-%d", i), "CKT-race", now))
		}
	}()

	go func() {
		defer wg.Done()

		for i := 0; i < 200; i++ {
			r.Graph("CKT-race")
			r.FindTraceChain("p-0", 3)
			r.Len()
		}
	}()

	wg.Wait()

	require.Equal(t, 200, r.Len())
}
