package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/logger"
	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/models"
)

// kvStore is the slice of jetstream.KeyValue the manager depends on.
type kvStore interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
	ListKeys(ctx context.Context, opts ...jetstream.WatchOpt) (jetstream.KeyLister, error)
}

// NATSManager stores correlation state in a JetStream KV bucket so multiple
// engine instances can share it. The bucket TTL (when configured) is
// enforced natively by the server; per-entry TTL rides in the envelope and
// is enforced lazily on read and during cleanup.
type NATSManager struct {
	nc     *nats.Conn
	kv     kvStore
	logger logger.Logger
}

// NATSOptions configures the NATS state backend.
type NATSOptions struct {
	URL    string
	Bucket string
	// BucketTTL bounds every entry's lifetime at the bucket level. Zero
	// means no bucket-level expiry.
	BucketTTL time.Duration
}

// NewNATSManager connects to NATS and creates (or binds to) the KV bucket.
func NewNATSManager(ctx context.Context, opts NATSOptions, log logger.Logger) (*NATSManager, error) {
	nc, err := nats.Connect(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kvConfig := jetstream.KeyValueConfig{Bucket: opts.Bucket}

	if opts.BucketTTL > 0 {
		kvConfig.TTL = opts.BucketTTL
	}

	kv, err := js.CreateKeyValue(ctx, kvConfig)
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("failed to create KV bucket %s: %w", opts.Bucket, err)
	}

	return &NATSManager{
		nc:     nc,
		kv:     kv,
		logger: log.WithComponent("state_nats"),
	}, nil
}

// newNATSManagerWithKV wires the manager over an existing bucket handle.
func newNATSManagerWithKV(kv kvStore, log logger.Logger) *NATSManager {
	return &NATSManager{
		kv:     kv,
		logger: log.WithComponent("state_nats"),
	}
}

func (n *NATSManager) GetCorrelation(ctx context.Context, correlationID string) (*models.CorrelationEntry, bool, error) {
	kvEntry, err := n.kv.Get(ctx, correlationID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to get correlation %s: %w", correlationID, err)
	}

	env, err := unmarshalEnvelope(kvEntry.Value())
	if err != nil {
		n.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to decode stored correlation")

		return nil, false, nil
	}

	if env.expired(time.Now().UTC()) {
		// Expired under per-entry TTL: surface as absent and reap the key.
		if err := n.kv.Delete(ctx, correlationID); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			n.logger.Warn().Err(err).Str("correlation_id", correlationID).Msg("Failed to reap expired correlation")
		}

		return nil, false, nil
	}

	return env.Entry, true, nil
}

func (n *NATSManager) SetCorrelation(ctx context.Context, correlationID string, entry *models.CorrelationEntry, ttl time.Duration) error {
	value, err := newEnvelope(entry, ttl).marshal()
	if err != nil {
		return fmt.Errorf("failed to encode correlation %s: %w", correlationID, err)
	}

	if _, err := n.kv.Put(ctx, correlationID, value); err != nil {
		return fmt.Errorf("failed to put correlation %s: %w", correlationID, err)
	}

	return nil
}

func (n *NATSManager) DeleteCorrelation(ctx context.Context, correlationID string) error {
	err := n.kv.Delete(ctx, correlationID)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete correlation %s: %w", correlationID, err)
	}

	return nil
}

func (n *NATSManager) GetCorrelationsByTimeRange(ctx context.Context, start, end time.Time) ([]*models.CorrelationEntry, error) {
	if end.IsZero() {
		end = time.Now().UTC()
	}

	var results []*models.CorrelationEntry

	err := n.scan(ctx, func(_ string, env *envelope) error {
		updated := env.Entry.LastUpdated
		if updated.Before(start) || updated.After(end) {
			return nil
		}

		results = append(results, env.Entry)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

func (n *NATSManager) CleanupOldCorrelations(ctx context.Context, cutoff time.Time) (int, error) {
	now := time.Now().UTC()

	var stale []string

	err := n.scan(ctx, func(key string, env *envelope) error {
		if env.Entry.LastUpdated.Before(cutoff) || env.expired(now) {
			stale = append(stale, key)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	deleted := 0

	for _, key := range stale {
		if err := n.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			n.logger.Warn().Err(err).Str("correlation_id", key).Msg("Failed to delete stale correlation")

			continue
		}

		deleted++
	}

	n.logger.Info().Int("deleted_count", deleted).Msg("NATS state cleanup")

	return deleted, nil
}

func (n *NATSManager) GetCorrelationCount(ctx context.Context) (int, error) {
	count := 0

	err := n.scan(ctx, func(string, *envelope) error {
		count++

		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// scan visits every decodable live entry in the bucket.
func (n *NATSManager) scan(ctx context.Context, visit func(key string, env *envelope) error) error {
	lister, err := n.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil
		}

		return fmt.Errorf("failed to list correlation keys: %w", err)
	}

	defer func() { _ = lister.Stop() }()

	for key := range lister.Keys() {
		kvEntry, err := n.kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}

		if err != nil {
			return fmt.Errorf("failed to get correlation %s: %w", key, err)
		}

		env, err := unmarshalEnvelope(kvEntry.Value())
		if err != nil {
			n.logger.Warn().Err(err).Str("correlation_id", key).Msg("Skipping undecodable correlation")

			continue
		}

		if err := visit(key, env); err != nil {
			return err
		}
	}

	return nil
}

func (n *NATSManager) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}

	return nil
}

var _ Manager = (*NATSManager)(nil)
