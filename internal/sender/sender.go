// Package sender holds the concrete outbound channel adapters behind
// the scheduler's Sender contract: SMTP for email, an HTTP gateway for
// sms and whatsapp.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"strings"

	"github.com/google/uuid"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/pkg/httpretry"
	"github.com/homereach/leadpilot/internal/sequence"
)

// SMTPConfig holds the email relay settings.
type SMTPConfig struct {
	Host string
	Port int
	From string
	Auth smtp.Auth
}

// GatewayConfig holds the sms/whatsapp HTTP gateway settings.
type GatewayConfig struct {
	URL    string
	APIKey string
}

// Multiplexer routes each channel to its adapter. Channels without a
// configured adapter report delivery failure rather than erroring, so
// the scheduler can mark the sequence failed and move on.
type Multiplexer struct {
	smtp    SMTPConfig
	gateway GatewayConfig
	client  httpretry.HTTPDoer
}

// New builds the multiplexer. client may be nil.
func New(smtpCfg SMTPConfig, gateway GatewayConfig, client httpretry.HTTPDoer) *Multiplexer {
	if client == nil {
		client = httpretry.NewRetryClient(nil, 3)
	}
	return &Multiplexer{smtp: smtpCfg, gateway: gateway, client: client}
}

// Send delivers one message on one channel.
func (m *Multiplexer) Send(ctx context.Context, channel domain.InteractionType, destination, payload string) (sequence.SendResult, error) {
	switch channel {
	case domain.InteractionEmail:
		return m.sendEmail(destination, payload)
	case domain.InteractionSMS, domain.InteractionWhatsApp:
		return m.sendGateway(ctx, channel, destination, payload)
	default:
		return sequence.SendResult{}, fmt.Errorf("%w: no adapter for channel %s", domain.ErrValidation, channel)
	}
}

func (m *Multiplexer) sendEmail(destination, payload string) (sequence.SendResult, error) {
	if m.smtp.Host == "" {
		return sequence.SendResult{FailureReason: "smtp not configured"}, nil
	}
	subject, body := splitSubject(payload)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		m.smtp.From, destination, subject, body)
	addr := fmt.Sprintf("%s:%d", m.smtp.Host, m.smtp.Port)
	if err := smtp.SendMail(addr, m.smtp.Auth, m.smtp.From, []string{destination}, []byte(msg)); err != nil {
		return sequence.SendResult{}, fmt.Errorf("%w: smtp send: %v", domain.ErrExternalUnavailable, err)
	}
	return sequence.SendResult{Delivered: true, MessageID: uuid.New().String()}, nil
}

// splitSubject uses the first sentence as the subject line.
func splitSubject(payload string) (string, string) {
	subject := payload
	if i := strings.IndexAny(payload, ".!?"); i > 0 && i < 80 {
		subject = payload[:i]
	} else if len(subject) > 80 {
		subject = subject[:80]
	}
	return subject, payload
}

func (m *Multiplexer) sendGateway(ctx context.Context, channel domain.InteractionType, destination, payload string) (sequence.SendResult, error) {
	if m.gateway.URL == "" {
		return sequence.SendResult{FailureReason: "message gateway not configured"}, nil
	}
	body, err := json.Marshal(map[string]string{
		"channel": string(channel),
		"to":      destination,
		"message": payload,
	})
	if err != nil {
		return sequence.SendResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.gateway.URL, bytes.NewReader(body))
	if err != nil {
		return sequence.SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.gateway.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.gateway.APIKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return sequence.SendResult{}, fmt.Errorf("%w: gateway send: %v", domain.ErrExternalUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return sequence.SendResult{FailureReason: fmt.Sprintf("gateway status %d", resp.StatusCode)}, nil
	}

	var out struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Printf("[Sender] gateway response decode: %v", err)
	}
	if out.MessageID == "" {
		out.MessageID = uuid.New().String()
	}
	return sequence.SendResult{Delivered: true, MessageID: out.MessageID}, nil
}
