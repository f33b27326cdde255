package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// messageCard is the Office 365 connector envelope Teams webhooks accept.
type messageCard struct {
	Type       string               `json:"@type"`
	Context    string               `json:"@context"`
	ThemeColor string               `json:"themeColor"`
	Summary    string               `json:"summary"`
	Title      string               `json:"title"`
	Sections   []messageCardSection `json:"sections,omitempty"`
}

type messageCardSection struct {
	ActivityTitle string            `json:"activityTitle,omitempty"`
	Text          string            `json:"text,omitempty"`
	Facts         []messageCardFact `json:"facts,omitempty"`
}

type messageCardFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// themeColors map risk to the card accent color.
var themeColors = map[models.RiskLevel]string{
	models.RiskLevelCritical: "B71C1C",
	models.RiskLevelHigh:     "E53935",
	models.RiskLevelMedium:   "FB8C00",
	models.RiskLevelLow:      "43A047",
}

// TeamsDriver posts MessageCard payloads to a Teams incoming webhook. The
// webhook URL is re-read and re-validated per send so config reloads apply
// and a rewritten URL cannot escape the host allow-list.
type TeamsDriver struct {
	source     func() *config.TeamsChannelConfig
	templates  *TemplateStore
	httpClient *http.Client
	hostCheck  func(host string) bool
	logger     *slog.Logger
	health     healthState
}

var _ Driver = (*TeamsDriver)(nil)

// NewTeamsDriver builds the driver. An enabled channel with an invalid
// webhook URL fails construction so a bad config dies at startup.
func NewTeamsDriver(source func() *config.TeamsChannelConfig, templates *TemplateStore) (*TeamsDriver, error) {
	d := &TeamsDriver{
		source:     source,
		templates:  templates,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		hostCheck:  teamsHostAllowed,
		logger:     slog.With("component", "notify_teams"),
	}
	if cfg := source(); cfg.Enabled {
		if _, err := validateWebhook(cfg.WebhookURL, d.hostCheck); err != nil {
			return nil, fmt.Errorf("teams webhook: %w", err)
		}
	}
	return d, nil
}

// Type implements Driver.
func (d *TeamsDriver) Type() ChannelType { return ChannelTeams }

// IsEnabled implements Driver.
func (d *TeamsDriver) IsEnabled() bool {
	cfg := d.source()
	return cfg.Enabled && cfg.WebhookURL != ""
}

// Send implements Driver.
func (d *TeamsDriver) Send(ctx context.Context, alert Alert) error {
	card := d.buildCard(alert)
	if err := d.post(ctx, card); err != nil {
		d.health.failure(err)
		return err
	}
	d.health.success()
	d.logger.Debug("Alert delivered", "kind", alert.Kind, "risk", alert.Risk())
	return nil
}

// TestConnection implements Driver. Posts a minimal connectivity card.
func (d *TeamsDriver) TestConnection(ctx context.Context) error {
	card := messageCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: themeColors[models.RiskLevelLow],
		Summary:    "Connectivity test",
		Title:      "Castellan connectivity test",
	}
	if err := d.post(ctx, card); err != nil {
		d.health.failure(err)
		return err
	}
	d.health.success()
	return nil
}

// Health implements Driver.
func (d *TeamsDriver) Health() Health { return d.health.snapshot() }

func (d *TeamsDriver) post(ctx context.Context, card messageCard) error {
	u, err := validateWebhook(d.source().WebhookURL, d.hostCheck)
	if err != nil {
		return err
	}

	body, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal message card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to teams webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("teams webhook returned %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}

func (d *TeamsDriver) buildCard(alert Alert) messageCard {
	view := newAlertView(alert)
	color, ok := themeColors[alert.Risk()]
	if !ok {
		color = themeColors[models.RiskLevelMedium]
	}

	section := messageCardSection{
		ActivityTitle: view.Title,
		Text:          d.templates.Render(ChannelTeams, alert),
	}
	if view.Host != "" {
		section.Facts = append(section.Facts, messageCardFact{Name: "Host", Value: view.Host})
	}
	if view.EventID != 0 {
		section.Facts = append(section.Facts, messageCardFact{Name: "Event ID", Value: strconv.Itoa(view.EventID)})
	}
	if view.User != "" {
		section.Facts = append(section.Facts, messageCardFact{Name: "Account", Value: view.User})
	}
	section.Facts = append(section.Facts, messageCardFact{Name: "Risk", Value: view.Risk})
	if view.Confidence > 0 {
		section.Facts = append(section.Facts, messageCardFact{Name: "Confidence", Value: strconv.Itoa(view.Confidence) + "%"})
	}
	if view.Time != "" {
		section.Facts = append(section.Facts, messageCardFact{Name: "Time", Value: view.Time})
	}

	return messageCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: color,
		Summary:    view.Title,
		Title:      view.Title,
		Sections:   []messageCardSection{section},
	}
}
