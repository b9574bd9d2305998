package redispubsub

import (
	"fmt"
	"time"
)

// Config for the Redis Pub/Sub broadcaster.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Prefix is prepended to channel names to form the Redis channel key.
	Prefix string
	// PingTimeout bounds the reachability check done at construction.
	PingTimeout time.Duration
}

// Defaults returns a Config for a local Redis.
func Defaults() Config {
	return Config{
		Addr:        "127.0.0.1:6379",
		Prefix:      "xfuse:",
		PingTimeout: 2 * time.Second,
	}
}

// Validate checks Config before a client is created.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.DB < 0 {
		return fmt.Errorf("config: db must be >= 0, got %d", c.DB)
	}
	if c.PingTimeout <= 0 {
		return fmt.Errorf("config: ping_timeout must be > 0, got %v", c.PingTimeout)
	}
	return nil
}

// toMap converts Config to generic map for the broadcaster factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"addr":            c.Addr,
		"username":        c.Username,
		"password":        c.Password,
		"db":              c.DB,
		"tls":             c.TLS,
		"tls_server_name": c.TLSServerName,
		"prefix":          c.Prefix,
		"ping_timeout":    c.PingTimeout,
	}
}

// ConfigFromMap safely converts cfg into Config with defaults.
func ConfigFromMap(cfg map[string]any) Config {
	d := Defaults()

	getString := func(k, def string) string {
		if v, ok := cfg[k].(string); ok && v != "" {
			return v
		}
		return def
	}
	getInt := func(k string, def int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
		return def
	}
	getBool := func(k string, def bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return def
	}
	getDur := func(k string, def time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			if v > 0 {
				return v
			}
		case string:
			if p, err := time.ParseDuration(v); err == nil && p > 0 {
				return p
			}
		case float64:
			if v > 0 {
				return time.Duration(v)
			}
		}
		return def
	}

	prefix := d.Prefix
	if v, ok := cfg["prefix"].(string); ok {
		prefix = v
	}

	return Config{
		Addr:          getString("addr", d.Addr),
		Username:      getString("username", ""),
		Password:      getString("password", ""),
		DB:            getInt("db", 0),
		TLS:           getBool("tls", false),
		TLSServerName: getString("tls_server_name", ""),
		Prefix:        prefix,
		PingTimeout:   getDur("ping_timeout", d.PingTimeout),
	}
}
