package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"splitguard/internal/config"
	"splitguard/internal/model"
)

// Channel names referenced by notification rules.
const (
	ChannelWebhook = "webhook"
	ChannelEmail   = "email"
	ChannelSlack   = "slack"
	ChannelInApp   = "in_app"
)

// Channel delivers one alert to one destination type. Implementations must be
// safe for concurrent use; the dispatcher fans out across channels.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert model.Alert) error
}

// BuildChannels constructs the enabled channels from config.
func BuildChannels(cfg config.ChannelsConfig) map[string]Channel {
	out := make(map[string]Channel)
	if cfg.Webhook.Enabled {
		out[ChannelWebhook] = NewWebhookChannel(cfg.Webhook)
	}
	if cfg.Email.Enabled {
		out[ChannelEmail] = NewEmailChannel(cfg.Email)
	}
	if cfg.Slack.Enabled {
		out[ChannelSlack] = NewSlackChannel(cfg.Slack)
	}
	if cfg.InApp.Enabled {
		out[ChannelInApp] = NewInAppChannel(cfg.InApp)
	}
	return out
}

// WebhookChannel POSTs the alert as JSON to each configured URL.
type WebhookChannel struct {
	urls   []string
	client *http.Client
}

func NewWebhookChannel(cfg config.WebhookChannelConfig) *WebhookChannel {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookChannel{
		urls:   cfg.URLs,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *WebhookChannel) Name() string { return ChannelWebhook }

func (c *WebhookChannel) Send(ctx context.Context, alert model.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	for _, url := range c.urls {
		if err := c.post(ctx, url, body); err != nil {
			return err
		}
	}
	return nil
}

func (c *WebhookChannel) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// EmailChannel sends a plain-text alert mail over SMTP.
type EmailChannel struct {
	cfg config.EmailChannelConfig
}

func NewEmailChannel(cfg config.EmailChannelConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg}
}

func (c *EmailChannel) Name() string { return ChannelEmail }

func (c *EmailChannel) Send(_ context.Context, alert model.Alert) error {
	if len(c.cfg.Recipients) == 0 {
		return fmt.Errorf("email channel has no recipients")
	}
	addr := fmt.Sprintf("%s:%d", c.cfg.SMTPServer, c.cfg.SMTPPort)
	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.SMTPServer)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", c.cfg.Username)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(c.cfg.Recipients, ", "))
	fmt.Fprintf(&msg, "Subject: [%s] %s\r\n\r\n", alert.Severity, alert.Title)
	fmt.Fprintf(&msg, "%s\r\n\r\nUser: %s\nGroup: %s\nAmount: %.2f\nRisk score: %.2f\n",
		alert.Message, alert.UserID, alert.GroupID, alert.Amount, alert.RiskScore)

	if err := smtp.SendMail(addr, auth, c.cfg.Username, c.cfg.Recipients, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// SlackChannel posts the alert to a Slack incoming webhook.
type SlackChannel struct {
	url     string
	channel string
	client  *http.Client
}

func NewSlackChannel(cfg config.SlackChannelConfig) *SlackChannel {
	return &SlackChannel{
		url:     cfg.WebhookURL,
		channel: cfg.Channel,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *SlackChannel) Name() string { return ChannelSlack }

func (c *SlackChannel) Send(ctx context.Context, alert model.Alert) error {
	payload := map[string]string{
		"text": fmt.Sprintf("*[%s]* %s\n%s (user %s, risk %.2f)",
			alert.Severity, alert.Title, alert.Message, alert.UserID, alert.RiskScore),
	}
	if c.channel != "" {
		payload["channel"] = c.channel
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("slack webhook: status %d", resp.StatusCode)
	}
	return nil
}

// InAppChannel keeps a bounded per-user inbox of delivered alerts for the
// ops API to serve.
type InAppChannel struct {
	mu    sync.Mutex
	limit int
	inbox map[string][]model.Alert
}

func NewInAppChannel(cfg config.InAppChannelConfig) *InAppChannel {
	limit := cfg.Limit
	if limit <= 0 {
		limit = 100
	}
	return &InAppChannel{
		limit: limit,
		inbox: make(map[string][]model.Alert),
	}
}

func (c *InAppChannel) Name() string { return ChannelInApp }

func (c *InAppChannel) Send(_ context.Context, alert model.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	box := append(c.inbox[alert.UserID], alert)
	if len(box) > c.limit {
		box = box[len(box)-c.limit:]
	}
	c.inbox[alert.UserID] = box
	return nil
}

// Inbox returns the user's delivered alerts, oldest first.
func (c *InAppChannel) Inbox(userID string) []model.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Alert(nil), c.inbox[userID]...)
}
