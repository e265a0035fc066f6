// Package config loads and validates the corrstation service configuration
// from a JSON file, with environment overrides for the common knobs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/logger"
)

var (
	ErrMissingListenAddr      = errors.New("listen_addr is required")
	ErrInvalidWindowSeconds   = errors.New("window_seconds must be positive")
	ErrInvalidQueueSize       = errors.New("max_queue_size must be positive")
	ErrInvalidMaxHistory      = errors.New("max_history must be positive")
	ErrInvalidConfidence      = errors.New("confidence_threshold must be in [0,1]")
	ErrMissingNATSURL         = errors.New("nats_url is required for the nats state backend")
	ErrUnknownStateBackend    = errors.New("state backend must be \"memory\" or \"nats\"")
	ErrInvalidJSON            = errors.New("failed to unmarshal JSON configuration")
	ErrInvalidRetentionHours  = errors.New("retention_hours must be positive")
	ErrInvalidSynthesisWindow = errors.New("synthesis window_seconds must be positive")
)

// SynthesisConfig controls the trace synthesizer and link resolver.
type SynthesisConfig struct {
	Enabled             bool    `json:"enabled"`
	WindowSeconds       int     `json:"window_seconds"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	RetentionHours      int     `json:"retention_hours"`
}

// StateConfig selects and configures the correlation state backend.
type StateConfig struct {
	Backend    string `json:"backend"`
	NATSURL    string `json:"nats_url"`
	Bucket     string `json:"bucket"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// ExportConfig configures the derived-telemetry export stream.
type ExportConfig struct {
	Enabled    bool   `json:"enabled"`
	NATSURL    string `json:"nats_url"`
	StreamName string `json:"stream_name"`
	Subject    string `json:"subject"`
}

// Config is the full service configuration.
type Config struct {
	ListenAddr    string          `json:"listen_addr"`
	GRPCAddr      string          `json:"grpc_addr"`
	WindowSeconds int             `json:"window_seconds"`
	MaxQueueSize  int             `json:"max_queue_size"`
	MaxHistory    int             `json:"max_history"`
	Synthesis     SynthesisConfig `json:"synthesis"`
	State         StateConfig     `json:"state"`
	Export        ExportConfig    `json:"export"`
	Logging       *logger.Config  `json:"logging"`
}

// Default returns the configuration used when a field is absent from the
// file. Values mirror the original service settings.
func Default() *Config {
	return &Config{
		ListenAddr:    ":8084",
		GRPCAddr:      ":4317",
		WindowSeconds: 30,
		MaxQueueSize:  10000,
		MaxHistory:    10000,
		Synthesis: SynthesisConfig{
			Enabled:             true,
			WindowSeconds:       60,
			ConfidenceThreshold: 0.5,
			RetentionHours:      24,
		},
		State: StateConfig{
			Backend: "memory",
			Bucket:  "correlations",
		},
		Export: ExportConfig{
			StreamName: "telemetry",
			Subject:    "telemetry.correlations",
		},
	}
}

// LoadFromFile reads path into a Config, applying defaults first and env
// overrides last.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Join(ErrInvalidJSON, err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CORRELATION_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}

	if v := os.Getenv("CORRELATION_NATS_URL"); v != "" {
		c.State.NATSURL = v
		c.Export.NATSURL = v
	}

	if v := os.Getenv("CORRELATION_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WindowSeconds = n
		}
	}

	if v := os.Getenv("CORRELATION_STATE_BACKEND"); v != "" {
		c.State.Backend = v
	}
}

// Validate checks the configuration for required fields and sane ranges.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return ErrMissingListenAddr
	}

	if c.WindowSeconds <= 0 {
		return ErrInvalidWindowSeconds
	}

	if c.MaxQueueSize <= 0 {
		return ErrInvalidQueueSize
	}

	if c.MaxHistory <= 0 {
		return ErrInvalidMaxHistory
	}

	if c.Synthesis.Enabled {
		if c.Synthesis.WindowSeconds <= 0 {
			return ErrInvalidSynthesisWindow
		}

		if c.Synthesis.ConfidenceThreshold < 0 || c.Synthesis.ConfidenceThreshold > 1 {
			return ErrInvalidConfidence
		}

		if c.Synthesis.RetentionHours <= 0 {
			return ErrInvalidRetentionHours
		}
	}

	switch c.State.Backend {
	case "memory":
	case "nats":
		if c.State.NATSURL == "" {
			return ErrMissingNATSURL
		}
	default:
		return ErrUnknownStateBackend
	}

	return nil
}
