package state

import (
	"context"
	"sync"
	"time"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/logger"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/models"
)

// timeIndexEntry pairs a last-updated timestamp with the id written at that
// time, in insertion order.
type timeIndexEntry struct {
	ts time.Time
	id string
}

// MemoryManager keeps correlation state in process memory. Single-instance
// only: it must never be shared across processes. TTL is honored only by
// the explicit cleanup call, never at read or write time.
type MemoryManager struct {
	mu           sync.RWMutex
	logger       logger.Logger
	correlations map[string]*envelope
	timeIndex    []timeIndexEntry
}

// NewMemoryManager creates an empty in-memory state manager.
func NewMemoryManager(log logger.Logger) *MemoryManager {
	return &MemoryManager{
		logger:       log.WithComponent("state_memory"),
		correlations: make(map[string]*envelope),
	}
}

func (m *MemoryManager) GetCorrelation(_ context.Context, correlationID string) (*models.CorrelationEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// TTL is honored during cleanup, not at read time; the single-instance
	// backend keeps reads cheap and predictable.
	env, ok := m.correlations[correlationID]
	if !ok {
		return nil, false, nil
	}

	return env.Entry, true, nil
}

func (m *MemoryManager) SetCorrelation(_ context.Context, correlationID string, entry *models.CorrelationEntry, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.correlations[correlationID] = newEnvelope(entry, ttl)
	m.timeIndex = append(m.timeIndex, timeIndexEntry{ts: entry.LastUpdated, id: correlationID})

	return nil
}

func (m *MemoryManager) DeleteCorrelation(_ context.Context, correlationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteLocked(correlationID)

	return nil
}

func (m *MemoryManager) deleteLocked(correlationID string) {
	delete(m.correlations, correlationID)

	kept := m.timeIndex[:0]

	for _, entry := range m.timeIndex {
		if entry.id != correlationID {
			kept = append(kept, entry)
		}
	}

	m.timeIndex = kept
}

func (m *MemoryManager) GetCorrelationsByTimeRange(_ context.Context, start, end time.Time) ([]*models.CorrelationEntry, error) {
	if end.IsZero() {
		end = time.Now().UTC()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*models.CorrelationEntry

	for _, indexed := range m.timeIndex {
		if indexed.ts.Before(start) || indexed.ts.After(end) {
			continue
		}

		env, ok := m.correlations[indexed.id]
		if !ok {
			continue
		}

		results = append(results, env.Entry)
	}

	return results, nil
}

func (m *MemoryManager) CleanupOldCorrelations(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	var stale []string

	for id, env := range m.correlations {
		if env.Entry.LastUpdated.Before(cutoff) || env.expired(now) {
			stale = append(stale, id)
		}
	}

	for _, id := range stale {
		m.deleteLocked(id)
	}

	m.logger.Info().Int("deleted_count", len(stale)).Msg("In-memory state cleanup")

	return len(stale), nil
}

func (m *MemoryManager) GetCorrelationCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.correlations), nil
}

// Close is a no-op for in-memory storage.
func (*MemoryManager) Close() error {
	return nil
}

var _ Manager = (*MemoryManager)(nil)
