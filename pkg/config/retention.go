package config

import "time"

// RetentionConfig controls the sliding retention window on the vector store.
type RetentionConfig struct {
	// Window is the maximum age of a stored vector point. Points older
	// than this are invisible to search and removed by the sweep.
	Window time.Duration `yaml:"window"`

	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// PurgeBatchSize caps how many points a single scroll-and-delete
	// round touches.
	PurgeBatchSize int `yaml:"purge_batch_size"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		Window:         24 * time.Hour,
		SweepInterval:  1 * time.Hour,
		PurgeBatchSize: 512,
	}
}
