// Package state stores correlation entries behind a uniform Manager
// interface. The in-memory backend serves single-instance deployments; the
// NATS JetStream KV backend shares state between engine instances, which is
// what allows the correlator to scale horizontally.
package state

import (
	"context"
	"encoding/json"
	"time"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/models"
)

// Manager is the correlation state contract, identical across backends.
// Implementations differ only in persistence and sharing semantics.
type Manager interface {
	// GetCorrelation retrieves an entry by id. found is false when the id is
	// absent or the entry has expired.
	GetCorrelation(ctx context.Context, correlationID string) (entry *models.CorrelationEntry, found bool, err error)

	// SetCorrelation stores or replaces an entry. A positive ttl bounds the
	// entry's lifetime; zero means no expiry.
	SetCorrelation(ctx context.Context, correlationID string, entry *models.CorrelationEntry, ttl time.Duration) error

	// DeleteCorrelation removes an entry. Deleting an absent id is not an
	// error.
	DeleteCorrelation(ctx context.Context, correlationID string) error

	// GetCorrelationsByTimeRange returns entries last updated within
	// [start, end]. A zero end means now.
	GetCorrelationsByTimeRange(ctx context.Context, start, end time.Time) ([]*models.CorrelationEntry, error)

	// CleanupOldCorrelations deletes entries last updated before cutoff and
	// reports how many were removed.
	CleanupOldCorrelations(ctx context.Context, cutoff time.Time) (int, error)

	// GetCorrelationCount reports the number of live entries.
	GetCorrelationCount(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// envelope wraps a stored entry with its optional expiry. JetStream KV only
// enforces TTL at bucket level, so per-entry TTL rides in the stored value
// and is enforced lazily on read and during cleanup.
type envelope struct {
	ExpiresAt *time.Time               `json:"expires_at,omitempty"`
	Entry     *models.CorrelationEntry `json:"entry"`
}

func newEnvelope(entry *models.CorrelationEntry, ttl time.Duration) *envelope {
	env := &envelope{Entry: entry}

	if ttl > 0 {
		expires := time.Now().UTC().Add(ttl)
		env.ExpiresAt = &expires
	}

	return env
}

func (e *envelope) expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

func (e *envelope) marshal() ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEnvelope(data []byte) (*envelope, error) {
	var env envelope

	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	return &env, nil
}
