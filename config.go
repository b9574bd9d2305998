package xfuse

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file form of a channel configuration.
//
//	broadcaster: redis-pubsub
//	broadcaster_config:
//	  addr: 127.0.0.1:6379
//	  prefix: "xfuse:"
//	codec: json
//	default_origin: dashboard
//	max_payload_bytes: 65536
//	frame_interval_ms: 16
type Config struct {
	Broadcaster       string         `yaml:"broadcaster"`
	BroadcasterConfig map[string]any `yaml:"broadcaster_config"`
	Codec             string         `yaml:"codec"`
	DefaultOrigin     string         `yaml:"default_origin"`
	MaxPayloadBytes   int            `yaml:"max_payload_bytes"`
	FrameIntervalMS   int            `yaml:"frame_interval_ms"`
	ObserverPool      PoolConfig     `yaml:"observer_pool"`
}

type PoolConfig struct {
	Workers    int `yaml:"workers"`
	BufferSize int `yaml:"buffer_size"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates YAML config bytes.
func ParseConfig(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks values a builder cannot recover from.
func (c Config) Validate() error {
	if c.MaxPayloadBytes < 0 {
		return fmt.Errorf("config: max_payload_bytes must be >= 0, got %d", c.MaxPayloadBytes)
	}
	if c.FrameIntervalMS < 0 {
		return fmt.Errorf("config: frame_interval_ms must be >= 0, got %d", c.FrameIntervalMS)
	}
	if c.ObserverPool.Workers < 0 || c.ObserverPool.BufferSize < 0 {
		return fmt.Errorf("config: observer_pool values must be >= 0")
	}
	if c.Codec != "" {
		if _, err := NewCodec(c.Codec); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// Apply copies the configuration onto b. Unset fields keep the builder's values.
func (c Config) Apply(b *ChannelBuilder) {
	if c.Broadcaster != "" {
		b.WithBroadcaster(c.Broadcaster, c.BroadcasterConfig)
	}
	if c.Codec != "" {
		b.WithCodec(c.Codec)
	}
	b.WithDefaultOrigin(c.DefaultOrigin)
	b.WithMaxPayloadBytes(c.MaxPayloadBytes)
	if c.ObserverPool.Workers > 0 || c.ObserverPool.BufferSize > 0 {
		b.WithObserverPool(c.ObserverPool.Workers, c.ObserverPool.BufferSize)
	}
}

// FrameInterval returns the configured frame length, or DefaultFrameInterval.
func (c Config) FrameInterval() time.Duration {
	if c.FrameIntervalMS <= 0 {
		return DefaultFrameInterval
	}
	return time.Duration(c.FrameIntervalMS) * time.Millisecond
}
