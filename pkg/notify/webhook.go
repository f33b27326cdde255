package notify

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidWebhookHost rejects webhook URLs that do not resolve to an
// allowed host over https. Keeps a mistyped or malicious config value from
// exfiltrating alert content.
var ErrInvalidWebhookHost = errors.New("webhook host not allowed")

// validateWebhook parses raw and enforces https plus the driver's host
// allow-list.
func validateWebhook(raw string, allowed func(host string) bool) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse webhook url: %w", err)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidWebhookHost, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if !allowed(host) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWebhookHost, host)
	}
	return u, nil
}

// teamsHostAllowed matches the Office 365 connector hosts. Tenant-scoped
// webhooks live on subdomains of outlook.office.com.
func teamsHostAllowed(host string) bool {
	return host == "outlook.office.com" ||
		strings.HasSuffix(host, ".outlook.office.com") ||
		host == "teams.microsoft.com"
}

// slackHostAllowed matches Slack incoming webhooks only.
func slackHostAllowed(host string) bool {
	return host == "hooks.slack.com"
}
