package config

import (
	"fmt"
	"strconv"
	"time"
)

// Config represents the persistent coach configuration stored as config.toml
// in the .coach/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version int           `toml:"version"`
	Storage StorageConfig `toml:"storage"`
	API     APIConfig     `toml:"api"`
	Client  ClientConfig  `toml:"client"`
	Stream  StreamConfig  `toml:"stream"`
	Events  EventsConfig  `toml:"events"`
}

// StorageConfig selects the transcript store used by "coach serve".
// An empty config means in-memory storage.
type StorageConfig struct {
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// ClientConfig holds settings for "coach chat" when it connects to the coach
// services. Targets are full URLs (scheme + host + port).
type ClientConfig struct {
	// ServiceTarget serves the streaming completion endpoint.
	ServiceTarget string `toml:"service_target,omitempty"`

	// APITarget serves thread history.
	APITarget string `toml:"api_target,omitempty"`

	// EventsTarget serves the side-channel websocket feed. Empty disables it.
	EventsTarget string `toml:"events_target,omitempty"`

	// LinkBase is the base URL of shareable thread links. Empty disables them.
	LinkBase string `toml:"link_base,omitempty"`
}

// StreamConfig holds completion stream settings.
type StreamConfig struct {
	// Provider is "coach" (the coach service) or "ollama" (direct).
	Provider string `toml:"provider,omitempty"`

	// Upstream is the Ollama server URL.
	Upstream string `toml:"upstream,omitempty"`

	Model string `toml:"model,omitempty"`

	// SilenceTimeout is a duration string; "0s" disables the timeout.
	SilenceTimeout string `toml:"silence_timeout,omitempty"`

	BreakerFailures uint `toml:"breaker_failures,omitempty"`
}

// EventsConfig holds exchange event publishing settings.
type EventsConfig struct {
	// KafkaBrokers is a comma-separated broker list. Empty disables publishing.
	KafkaBrokers string `toml:"kafka_brokers,omitempty"`
	KafkaTopic   string `toml:"kafka_topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_dsn": {
		get: func(c *Config) string { return c.Storage.PostgresDSN },
		set: func(c *Config, v string) error { c.Storage.PostgresDSN = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"client.service_target": {
		get: func(c *Config) string { return c.Client.ServiceTarget },
		set: func(c *Config, v string) error { c.Client.ServiceTarget = v; return nil },
	},
	"client.api_target": {
		get: func(c *Config) string { return c.Client.APITarget },
		set: func(c *Config, v string) error { c.Client.APITarget = v; return nil },
	},
	"client.events_target": {
		get: func(c *Config) string { return c.Client.EventsTarget },
		set: func(c *Config, v string) error { c.Client.EventsTarget = v; return nil },
	},
	"client.link_base": {
		get: func(c *Config) string { return c.Client.LinkBase },
		set: func(c *Config, v string) error { c.Client.LinkBase = v; return nil },
	},
	"stream.provider": {
		get: func(c *Config) string { return c.Stream.Provider },
		set: func(c *Config, v string) error {
			switch v {
			case ProviderCoach, ProviderOllama:
				c.Stream.Provider = v
				return nil
			default:
				return fmt.Errorf("invalid value for stream.provider: %q (expected %s or %s)", v, ProviderCoach, ProviderOllama)
			}
		},
	},
	"stream.upstream": {
		get: func(c *Config) string { return c.Stream.Upstream },
		set: func(c *Config, v string) error { c.Stream.Upstream = v; return nil },
	},
	"stream.model": {
		get: func(c *Config) string { return c.Stream.Model },
		set: func(c *Config, v string) error { c.Stream.Model = v; return nil },
	},
	"stream.silence_timeout": {
		get: func(c *Config) string { return c.Stream.SilenceTimeout },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid value for stream.silence_timeout: %w", err)
			}
			if d < 0 {
				return fmt.Errorf("invalid value for stream.silence_timeout: %s is negative", v)
			}
			c.Stream.SilenceTimeout = v
			return nil
		},
	},
	"stream.breaker_failures": {
		get: func(c *Config) string {
			if c.Stream.BreakerFailures == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Stream.BreakerFailures), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid value for stream.breaker_failures: %w", err)
			}
			c.Stream.BreakerFailures = uint(n)
			return nil
		},
	},
	"events.kafka_brokers": {
		get: func(c *Config) string { return c.Events.KafkaBrokers },
		set: func(c *Config, v string) error { c.Events.KafkaBrokers = v; return nil },
	},
	"events.kafka_topic": {
		get: func(c *Config) string { return c.Events.KafkaTopic },
		set: func(c *Config, v string) error { c.Events.KafkaTopic = v; return nil },
	},
}
