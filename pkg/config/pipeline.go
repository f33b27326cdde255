package config

import "time"

// PipelineConfig controls the analysis orchestrator.
type PipelineConfig struct {
	// Workers is the number of consumer goroutines pulling from the
	// collector queue.
	Workers int `yaml:"workers"`

	// QueueSize bounds the pipeline input queue; overflow drops the oldest
	// entry (default 5000, max 50000).
	QueueSize int `yaml:"queue_size"`

	// EventDeadline bounds one embed → search → analyze pass end-to-end.
	EventDeadline time.Duration `yaml:"event_deadline"`

	// DeterministicRules enables the fixed event-id classification table.
	DeterministicRules bool `yaml:"deterministic_rules"`
}

// DefaultPipelineConfig returns the built-in pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Workers:            4,
		QueueSize:          DefaultQueueSize,
		EventDeadline:      60 * time.Second,
		DeterministicRules: true,
	}
}

// CorrelationConfig controls the sliding-window detector.
type CorrelationConfig struct {
	// Enabled turns burst/correlation detection on.
	Enabled bool `yaml:"enabled"`

	// Window is the sliding observation window.
	Window time.Duration `yaml:"window"`

	// BurstThreshold is the event count within Window that scores a full
	// burst.
	BurstThreshold int `yaml:"burst_threshold"`

	// MinScore is the score at or above which a correlation event is
	// emitted.
	MinScore float64 `yaml:"min_score"`
}

// DefaultCorrelationConfig returns the built-in correlation defaults.
func DefaultCorrelationConfig() *CorrelationConfig {
	return &CorrelationConfig{
		Enabled:        true,
		Window:         10 * time.Minute,
		BurstThreshold: 10,
		MinScore:       0.7,
	}
}
