// Package config holds the service configuration: defaults, optional
// yaml overlay and environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a beacon instance.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Publish   PublishConfig   `yaml:"publish"`
	Stream    StreamConfig    `yaml:"stream"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	// Port the HTTP server listens on.
	Port string `yaml:"port"`

	// APIKey, when non-empty, is required in the X-API-Key header on
	// every request except /health.
	APIKey string `yaml:"api_key"`

	// GracefulShutdownTimeout bounds the drain on SIGTERM.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// PublishConfig holds the publish-side knobs.
type PublishConfig struct {
	// EventTTL is how long an outbox entry stays readable before the
	// reaper may remove it.
	EventTTL time.Duration `yaml:"event_ttl"`

	// MaxRetries bounds insert retries after the first attempt.
	MaxRetries uint64 `yaml:"max_retries"`

	// InitialBackoff is the first retry delay; subsequent delays double.
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// StreamConfig holds the delivery-side knobs: poller cadence, per-client
// channel sizing, dedup window, replay and heartbeat behavior.
type StreamConfig struct {
	// PollInterval is the sleep between empty outbox reads.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollBatchSize is the maximum entries fetched per read.
	PollBatchSize int `yaml:"poll_batch_size"`

	// RewindOnStart is how many sequence numbers the poller steps back
	// from the outbox head when a pod starts. Per-client dedup absorbs
	// the overlap for clients that were already caught up.
	RewindOnStart int64 `yaml:"rewind_on_start"`

	// ErrorRetryInterval is the sleep after a failed outbox read.
	ErrorRetryInterval time.Duration `yaml:"error_retry_interval"`

	// ChannelCapacity bounds each client's pending-event channel.
	ChannelCapacity int `yaml:"channel_capacity"`

	// EnqueueTimeout is how long a full channel is waited on before the
	// event is dropped for that client.
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`

	// RecentIDCapacity bounds the per-client duplicate-suppression set.
	RecentIDCapacity int `yaml:"recent_id_capacity"`

	// ReplayBatchLimit caps the events injected by a single replay.
	ReplayBatchLimit int `yaml:"replay_batch_limit"`

	// ReplayPacing is the delay between replayed enqueues, giving the
	// client's decoder room to breathe.
	ReplayPacing time.Duration `yaml:"replay_pacing"`

	// HeartbeatInterval is the cadence of synthesized heartbeat events.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// RetentionConfig controls the outbox TTL reaper.
type RetentionConfig struct {
	// CleanupInterval is how often expired entries are reaped.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                    "8080",
			GracefulShutdownTimeout: 10 * time.Second,
		},
		Publish: PublishConfig{
			EventTTL:       time.Hour,
			MaxRetries:     3,
			InitialBackoff: 100 * time.Millisecond,
		},
		Stream: StreamConfig{
			PollInterval:       50 * time.Millisecond,
			PollBatchSize:      100,
			RewindOnStart:      100,
			ErrorRetryInterval: 5 * time.Second,
			ChannelCapacity:    10000,
			EnqueueTimeout:     30 * time.Second,
			RecentIDCapacity:   1000,
			ReplayBatchLimit:   1000,
			ReplayPacing:       10 * time.Millisecond,
			HeartbeatInterval:  30 * time.Second,
		},
		Retention: RetentionConfig{
			CleanupInterval: 10 * time.Minute,
		},
	}
}

// Load returns the defaults overlaid with the yaml file at path (when
// path is non-empty) and then with environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if port := os.Getenv("HTTP_PORT"); port != "" {
		cfg.Server.Port = port
	}
	if key := os.Getenv("API_KEY"); key != "" {
		cfg.Server.APIKey = key
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Stream.PollBatchSize <= 0 {
		return fmt.Errorf("stream.poll_batch_size must be positive")
	}
	if c.Stream.ChannelCapacity <= 0 {
		return fmt.Errorf("stream.channel_capacity must be positive")
	}
	if c.Stream.RecentIDCapacity <= 0 {
		return fmt.Errorf("stream.recent_id_capacity must be positive")
	}
	if c.Stream.ReplayBatchLimit <= 0 {
		return fmt.Errorf("stream.replay_batch_limit must be positive")
	}
	if c.Publish.EventTTL <= 0 {
		return fmt.Errorf("publish.event_ttl must be positive")
	}
	return nil
}
