package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// attachmentColors map risk to the Slack attachment bar.
var attachmentColors = map[models.RiskLevel]string{
	models.RiskLevelCritical: "#8B0000",
	models.RiskLevelHigh:     "danger",
	models.RiskLevelMedium:   "warning",
	models.RiskLevelLow:      "good",
}

var riskEmoji = map[models.RiskLevel]string{
	models.RiskLevelCritical: ":rotating_light:",
	models.RiskLevelHigh:     ":red_circle:",
	models.RiskLevelMedium:   ":large_orange_circle:",
	models.RiskLevelLow:      ":large_green_circle:",
}

// SlackDriver posts attachment messages to a Slack incoming webhook.
type SlackDriver struct {
	source     func() *config.SlackChannelConfig
	templates  *TemplateStore
	httpClient *http.Client
	hostCheck  func(host string) bool
	logger     *slog.Logger
	health     healthState
}

var _ Driver = (*SlackDriver)(nil)

// NewSlackDriver builds the driver. An enabled channel with an invalid
// webhook URL fails construction.
func NewSlackDriver(source func() *config.SlackChannelConfig, templates *TemplateStore) (*SlackDriver, error) {
	d := &SlackDriver{
		source:     source,
		templates:  templates,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		hostCheck:  slackHostAllowed,
		logger:     slog.With("component", "notify_slack"),
	}
	if cfg := source(); cfg.Enabled {
		if _, err := validateWebhook(cfg.WebhookURL, d.hostCheck); err != nil {
			return nil, fmt.Errorf("slack webhook: %w", err)
		}
	}
	return d, nil
}

// Type implements Driver.
func (d *SlackDriver) Type() ChannelType { return ChannelSlack }

// IsEnabled implements Driver.
func (d *SlackDriver) IsEnabled() bool {
	cfg := d.source()
	return cfg.Enabled && cfg.WebhookURL != ""
}

// Send implements Driver.
func (d *SlackDriver) Send(ctx context.Context, alert Alert) error {
	msg := d.buildMessage(alert)
	if err := d.post(ctx, msg); err != nil {
		d.health.failure(err)
		return err
	}
	d.health.success()
	d.logger.Debug("Alert delivered", "kind", alert.Kind, "risk", alert.Risk())
	return nil
}

// TestConnection implements Driver.
func (d *SlackDriver) TestConnection(ctx context.Context) error {
	msg := &goslack.WebhookMessage{
		Username:  "Castellan",
		IconEmoji: ":shield:",
		Text:      "Castellan connectivity test",
	}
	if err := d.post(ctx, msg); err != nil {
		d.health.failure(err)
		return err
	}
	d.health.success()
	return nil
}

// Health implements Driver.
func (d *SlackDriver) Health() Health { return d.health.snapshot() }

func (d *SlackDriver) post(ctx context.Context, msg *goslack.WebhookMessage) error {
	u, err := validateWebhook(d.source().WebhookURL, d.hostCheck)
	if err != nil {
		return err
	}
	if err := goslack.PostWebhookCustomHTTPContext(ctx, u.String(), d.httpClient, msg); err != nil {
		return fmt.Errorf("post to slack webhook: %w", err)
	}
	return nil
}

func (d *SlackDriver) buildMessage(alert Alert) *goslack.WebhookMessage {
	view := newAlertView(alert)
	risk := alert.Risk()

	color, ok := attachmentColors[risk]
	if !ok {
		color = attachmentColors[models.RiskLevelMedium]
	}
	emoji, ok := riskEmoji[risk]
	if !ok {
		emoji = riskEmoji[models.RiskLevelMedium]
	}

	var fields []goslack.AttachmentField
	if view.Host != "" {
		fields = append(fields, goslack.AttachmentField{Title: "Host", Value: view.Host, Short: true})
	}
	if view.EventID != 0 {
		fields = append(fields, goslack.AttachmentField{Title: "Event ID", Value: strconv.Itoa(view.EventID), Short: true})
	}
	if view.User != "" {
		fields = append(fields, goslack.AttachmentField{Title: "Account", Value: view.User, Short: true})
	}
	if view.Confidence > 0 {
		fields = append(fields, goslack.AttachmentField{Title: "Confidence", Value: strconv.Itoa(view.Confidence) + "%", Short: true})
	}

	attachment := goslack.Attachment{
		Color:    color,
		Title:    view.Title,
		Text:     d.templates.Render(ChannelSlack, alert),
		Fields:   fields,
		Footer:   "castellan",
		Fallback: builtinFormat(view),
	}

	return &goslack.WebhookMessage{
		Username:    "Castellan",
		IconEmoji:   ":shield:",
		Text:        fmt.Sprintf("%s %s", emoji, view.Title),
		Attachments: []goslack.Attachment{attachment},
	}
}
