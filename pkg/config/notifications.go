package config

// NotificationsConfig controls alert fan-out.
type NotificationsConfig struct {
	// Enabled gates all outbound notifications.
	Enabled bool `yaml:"enabled"`

	Teams TeamsChannelConfig `yaml:"teams"`
	Slack SlackChannelConfig `yaml:"slack"`
}

// TeamsChannelConfig configures the Teams webhook driver.
type TeamsChannelConfig struct {
	Enabled bool `yaml:"enabled"`

	// WebhookURL must resolve to an allowed Teams host.
	WebhookURL string `yaml:"webhook_url"`
}

// SlackChannelConfig configures the Slack webhook driver.
type SlackChannelConfig struct {
	Enabled bool `yaml:"enabled"`

	// WebhookURL must resolve to hooks.slack.com.
	WebhookURL string `yaml:"webhook_url"`
}

// DefaultNotificationsConfig returns the built-in notification defaults.
// Channels start disabled; enabling one requires its webhook URL.
func DefaultNotificationsConfig() *NotificationsConfig {
	return &NotificationsConfig{
		Enabled: true,
	}
}

// OpsConfig controls the operational HTTP surface.
type OpsConfig struct {
	// ListenAddr is the bind address of the health/stats/metrics server.
	// Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultOpsConfig returns the built-in ops defaults.
func DefaultOpsConfig() *OpsConfig {
	return &OpsConfig{
		ListenAddr: ":8085",
	}
}
