package config

import "time"

const (
	// DefaultQueueSize is the per-channel bounded queue size.
	DefaultQueueSize = 5000
	// MaxQueueSize caps the configurable queue size.
	MaxQueueSize = 50000
)

// CollectorConfig controls Windows Event Log collection.
type CollectorConfig struct {
	// Channels are the event log channels to tail. Duplicates are
	// deduplicated case-insensitively at load time.
	Channels []string `yaml:"channels"`

	// Filter is a raw XPath fragment applied to every query. When empty a
	// filter is derived from MinLevel and the time bound.
	Filter string `yaml:"filter"`

	// MinLevel is the least severe level collected when Filter is empty.
	// One of Information, Warning, Error, Critical.
	MinLevel string `yaml:"min_level"`

	// PollInterval is the delay between live polls of a channel. Zero means
	// poll continuously.
	PollInterval time.Duration `yaml:"poll_interval"`

	// QueueSize bounds the collector output queue (default 5000, max 50000).
	QueueSize int `yaml:"queue_size"`

	// MaxClockSkew bounds how far an event timestamp may lead the collector
	// clock before the timestamp is clamped.
	MaxClockSkew time.Duration `yaml:"max_clock_skew"`

	// Bookmarks selects the durable bookmark backend.
	Bookmarks BookmarkConfig `yaml:"bookmarks"`
}

// BookmarkConfig selects where per-channel bookmarks persist.
type BookmarkConfig struct {
	// Backend is "bolt" (single local file) or "redis" (shared deployments).
	Backend string `yaml:"backend"`

	// Path is the bolt database file. Ignored for redis.
	Path string `yaml:"path"`

	// RedisAddr, RedisDB and RedisPasswordEnv configure the redis backend.
	RedisAddr        string `yaml:"redis_addr"`
	RedisDB          int    `yaml:"redis_db"`
	RedisPasswordEnv string `yaml:"redis_password_env"`
}

// DefaultCollectorConfig returns the built-in collector defaults.
func DefaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		Channels:     []string{"Security", "System", "Application", "Microsoft-Windows-PowerShell/Operational"},
		MinLevel:     "Information",
		PollInterval: 30 * time.Second,
		QueueSize:    DefaultQueueSize,
		MaxClockSkew: 5 * time.Minute,
		Bookmarks: BookmarkConfig{
			Backend: "bolt",
			Path:    "data/bookmarks.db",
		},
	}
}
