// Package notify delivers new-alert notifications to chat channels.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// SlackConfig configures the Slack notifier. An empty token disables it.
type SlackConfig struct {
	Token   string `yaml:"token" toml:"token"`
	Channel string `yaml:"channel" toml:"channel"`
	// APIURL overrides the Slack API base URL.
	APIURL string `yaml:"api_url" toml:"api_url"`
	// MinSeverity suppresses alerts below this level.
	MinSeverity types.AlertSeverity `yaml:"min_severity" toml:"min_severity"`
}

// Enabled reports whether a token and channel are set.
func (c SlackConfig) Enabled() bool {
	return c.Token != "" && c.Channel != ""
}

// Slack posts one message per new alert.
type Slack struct {
	client  *slack.Client
	channel string
	minSev  types.AlertSeverity
	logger  *slog.Logger
}

// NewSlack creates a Slack notifier.
func NewSlack(cfg SlackConfig, logger *slog.Logger) *Slack {
	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return &Slack{
		client:  slack.New(cfg.Token, opts...),
		channel: cfg.Channel,
		minSev:  cfg.MinSeverity,
		logger:  logger.With("component", "slack_notifier"),
	}
}

var severityColors = map[types.AlertSeverity]string{
	types.SeverityNotice:   "#439FE0",
	types.SeverityMinor:    "warning",
	types.SeveritySevere:   "danger",
	types.SeverityCritical: "#8B0000",
}

// NotifyAlert posts alert to the configured channel.
func (s *Slack) NotifyAlert(ctx context.Context, target types.DeviceTarget, alert *types.Alert) error {
	if alert.Severity.Level() < s.minSev.Level() {
		return nil
	}

	device := target.Name
	if device == "" {
		device = target.Host
	}

	attachment := slack.Attachment{
		Color: severityColors[alert.Severity],
		Title: alert.Title,
		Text:  alert.Description,
		Fields: []slack.AttachmentField{
			{Title: "Dispositivo", Value: device, Short: true},
			{Title: "Severidad", Value: string(alert.Severity), Short: true},
			{Title: "Origen", Value: string(alert.Source), Short: true},
			{Title: "Estado", Value: string(alert.Status), Short: true},
			{Title: "Acción recomendada", Value: alert.RecommendedAction},
		},
		Footer: "alert " + alert.ID,
	}

	_, ts, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(fmt.Sprintf(":rotating_light: *%s* en %s", alert.Severity, device), false),
		slack.MsgOptionAttachments(attachment),
	)
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}

	s.logger.Debug("alert posted", "alert_id", alert.ID, "ts", ts)
	return nil
}
