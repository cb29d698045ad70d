package client

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AltairaLabs/SwapKit/client/batch"
	"github.com/AltairaLabs/SwapKit/client/live"
	"github.com/AltairaLabs/SwapKit/client/media"
)

// livePath is the service's live-processing WebSocket route, relative to the
// service base URL.
const livePath = "/process/live"

// Config is the client configuration. All fields besides ServiceURL are
// optional; zero values fall back to the package defaults.
type Config struct {
	// ServiceURL is the HTTP base URL of the swap service,
	// e.g. "http://localhost:8000/api/v1".
	ServiceURL string `yaml:"service_url"`

	// LiveEndpoint is the WebSocket URL for live streaming. Derived from
	// ServiceURL when empty.
	LiveEndpoint string `yaml:"live_endpoint,omitempty"`

	// APIKey is attached as a bearer token to every request when set.
	APIKey string `yaml:"api_key,omitempty"`

	// Live tunes the live streaming session.
	Live LiveConfig `yaml:"live,omitempty"`

	// Batch tunes batch job submission and polling.
	Batch BatchConfig `yaml:"batch,omitempty"`
}

// LiveConfig tunes the live streaming session.
type LiveConfig struct {
	// TargetFPS is the outbound frame rate.
	TargetFPS float64 `yaml:"target_fps,omitempty"`

	// MaxDimension caps outbound frame dimensions.
	MaxDimension int `yaml:"max_dimension,omitempty"`

	// Quality is the outbound JPEG quality (1-100).
	Quality int `yaml:"quality,omitempty"`

	// HandshakeTimeout bounds the wait for the handshake acknowledgement,
	// as a duration string like "10s".
	HandshakeTimeout string `yaml:"handshake_timeout,omitempty"`
}

// BatchConfig tunes batch job submission and polling.
type BatchConfig struct {
	// PollInterval is the fixed poll cadence, as a duration string like "2s".
	PollInterval string `yaml:"poll_interval,omitempty"`

	// MaxConsecutivePollFailures ends a job after this many transient poll
	// failures in a row. Zero means poll forever.
	MaxConsecutivePollFailures int `yaml:"max_consecutive_poll_failures,omitempty"`

	// SubmitTimeout bounds one submission request, as a duration string.
	SubmitTimeout string `yaml:"submit_timeout,omitempty"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and duration formats.
func (c *Config) Validate() error {
	if c.ServiceURL == "" {
		return fmt.Errorf("service_url is required")
	}
	if _, err := url.Parse(c.ServiceURL); err != nil {
		return fmt.Errorf("invalid service_url %q: %w", c.ServiceURL, err)
	}
	if c.Live.Quality < 0 || c.Live.Quality > media.MaxQuality {
		return fmt.Errorf("live quality must be in [0,%d], got %d", media.MaxQuality, c.Live.Quality)
	}

	for name, value := range map[string]string{
		"live handshake_timeout": c.Live.HandshakeTimeout,
		"batch poll_interval":    c.Batch.PollInterval,
		"batch submit_timeout":   c.Batch.SubmitTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
	}

	return nil
}

// ResolvedLiveEndpoint returns the WebSocket endpoint for live streaming,
// deriving it from ServiceURL when not configured explicitly.
func (c *Config) ResolvedLiveEndpoint() string {
	if c.LiveEndpoint != "" {
		return c.LiveEndpoint
	}

	endpoint := strings.TrimSuffix(c.ServiceURL, "/") + livePath
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://")
	default:
		return endpoint
	}
}

// HandshakeTimeoutDuration returns the parsed handshake timeout or the default.
func (c *LiveConfig) HandshakeTimeoutDuration() time.Duration {
	return parseDurationOr(c.HandshakeTimeout, live.DefaultHandshakeTimeout)
}

// PollIntervalDuration returns the parsed poll interval or the default.
func (c *BatchConfig) PollIntervalDuration() time.Duration {
	return parseDurationOr(c.PollInterval, batch.DefaultPollInterval)
}

// SubmitTimeoutDuration returns the parsed submit timeout or the default.
func (c *BatchConfig) SubmitTimeoutDuration() time.Duration {
	return parseDurationOr(c.SubmitTimeout, batch.DefaultSubmitTimeout)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
