package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/homereach/leadpilot/internal/pkg/httpretry"
)

// Alert is one threshold or escalation notification.
type Alert struct {
	Kind      string         `json:"kind"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Channel delivers alerts to one destination.
type Channel interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// LogChannel writes alerts to the process log.
type LogChannel struct{}

func (LogChannel) Name() string { return "log" }

func (LogChannel) Notify(_ context.Context, a Alert) error {
	log.Printf("[Monitor] ALERT %s (%s): %s %v", a.Kind, a.Level, a.Message, a.Data)
	return nil
}

// EmailChannel sends alerts over SMTP.
type EmailChannel struct {
	Host       string
	Port       int
	From       string
	Recipients []string
	Auth       smtp.Auth
}

func (EmailChannel) Name() string { return "email" }

func (c EmailChannel) Notify(_ context.Context, a Alert) error {
	if c.Host == "" || len(c.Recipients) == 0 {
		return nil
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: [leadpilot] %s alert: %s\r\n\r\n%s\r\n\r\nkind=%s level=%s at=%s\r\n",
		c.From, strings.Join(c.Recipients, ", "), a.Level, a.Kind,
		a.Message, a.Kind, a.Level, a.Timestamp.Format(time.RFC3339))
	addr := fmt.Sprintf("%s:%d", c.Host, c.Port)
	if err := smtp.SendMail(addr, c.Auth, c.From, c.Recipients, []byte(msg)); err != nil {
		return fmt.Errorf("send alert mail: %w", err)
	}
	return nil
}

// SlackChannel posts alerts to a Slack incoming webhook.
type SlackChannel struct {
	WebhookURL string
	Client     httpretry.HTTPDoer
}

func (SlackChannel) Name() string { return "slack" }

func (c SlackChannel) Notify(ctx context.Context, a Alert) error {
	if c.WebhookURL == "" {
		return nil
	}
	text := fmt.Sprintf(":rotating_light: *%s* (%s): %s", a.Kind, a.Level, a.Message)
	return postJSON(ctx, c.Client, c.WebhookURL, map[string]any{"text": text})
}

// WebhookChannel posts the raw alert JSON to an arbitrary endpoint.
type WebhookChannel struct {
	URL    string
	Client httpretry.HTTPDoer
}

func (WebhookChannel) Name() string { return "webhook" }

func (c WebhookChannel) Notify(ctx context.Context, a Alert) error {
	if c.URL == "" {
		return nil
	}
	return postJSON(ctx, c.Client, c.URL, a)
}

func postJSON(ctx context.Context, client httpretry.HTTPDoer, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if client == nil {
		client = httpretry.NewRetryClient(nil, 2)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post alert: status %d", resp.StatusCode)
	}
	return nil
}
