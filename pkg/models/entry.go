package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CorrelationEntry is the persistable superset of correlation state held in
// the state store. Serializes losslessly to JSON with RFC3339 timestamps so
// engine instances sharing a distributed backend stay interoperable.
type CorrelationEntry struct {
	CorrelationID string                 `json:"correlation_id"`
	TraceID       string                 `json:"trace_id,omitempty"`
	Service       string                 `json:"service"`
	Env           string                 `json:"env"`
	FirstSeen     time.Time              `json:"first_seen"`
	LastUpdated   time.Time              `json:"last_updated"`
	Spans         []NormalizedSpan       `json:"spans"`
	Logs          []NormalizedLogRecord  `json:"logs"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// NewCorrelationEntry builds an entry for a trace with both timestamps set
// to now. The correlation id is generated; callers tracking their own id
// overwrite CorrelationID after construction.
func NewCorrelationEntry(traceID, service, env string) *CorrelationEntry {
	now := time.Now().UTC()

	if service == "" {
		service = "unknown"
	}

	if env == "" {
		env = "unknown"
	}

	return &CorrelationEntry{
		CorrelationID: uuid.NewString(),
		TraceID:       traceID,
		Service:       service,
		Env:           env,
		FirstSeen:     now,
		LastUpdated:   now,
		Spans:         []NormalizedSpan{},
		Logs:          []NormalizedLogRecord{},
		Metadata:      map[string]interface{}{},
	}
}

// Touch bumps LastUpdated.
func (e *CorrelationEntry) Touch() {
	e.LastUpdated = time.Now().UTC()
}

// ToJSON serializes the entry for storage.
func (e *CorrelationEntry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// CorrelationEntryFromJSON deserializes an entry previously produced by
// ToJSON.
func CorrelationEntryFromJSON(data []byte) (*CorrelationEntry, error) {
	var entry CorrelationEntry

	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}

	return &entry, nil
}
