// Package config loads, validates, and hot-reloads the service
// configuration. Each concern owns a typed section with compiled defaults;
// user YAML is merged on top and the result is validated before use.
package config

// Config is the umbrella configuration object returned by Initialize and
// passed into component constructors. Treat a Config as immutable once
// built; hot reload produces a fresh snapshot.
type Config struct {
	configDir string

	Collector     *CollectorConfig     `yaml:"collector"`
	Embedding     *EmbeddingConfig     `yaml:"embedding"`
	VectorStore   *VectorStoreConfig   `yaml:"vector_store"`
	Retriever     *RetrieverConfig     `yaml:"retriever"`
	LLM           *LLMConfig           `yaml:"llm"`
	Pipeline      *PipelineConfig      `yaml:"pipeline"`
	Correlation   *CorrelationConfig   `yaml:"correlation"`
	Retention     *RetentionConfig     `yaml:"retention"`
	Notifications *NotificationsConfig `yaml:"notifications"`
	Ops           *OpsConfig           `yaml:"ops"`
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats contains a summary of the loaded configuration for startup logging.
type Stats struct {
	Channels             int
	NotificationChannels int
	EnsembleModels       int
	HybridEnabled        bool
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.Collector != nil {
		s.Channels = len(c.Collector.Channels)
	}
	if c.Notifications != nil {
		if c.Notifications.Teams.Enabled {
			s.NotificationChannels++
		}
		if c.Notifications.Slack.Enabled {
			s.NotificationChannels++
		}
	}
	if c.LLM != nil && c.LLM.Ensemble.Enabled {
		s.EnsembleModels = len(c.LLM.Ensemble.Models)
	}
	if c.Retriever != nil {
		s.HybridEnabled = c.Retriever.Enabled
	}
	return s
}

// Default returns a Config populated entirely from compiled defaults.
func Default() *Config {
	return &Config{
		Collector:     DefaultCollectorConfig(),
		Embedding:     DefaultEmbeddingConfig(),
		VectorStore:   DefaultVectorStoreConfig(),
		Retriever:     DefaultRetrieverConfig(),
		LLM:           DefaultLLMConfig(),
		Pipeline:      DefaultPipelineConfig(),
		Correlation:   DefaultCorrelationConfig(),
		Retention:     DefaultRetentionConfig(),
		Notifications: DefaultNotificationsConfig(),
		Ops:           DefaultOpsConfig(),
	}
}
