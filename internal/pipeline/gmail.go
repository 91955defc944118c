package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/ingest"
	"github.com/homereach/leadpilot/internal/pkg/httpretry"
)

const gmailAPIBase = "https://gmail.googleapis.com/gmail/v1/users/me"

// GmailSource polls a Gmail inbox for lead emails via the Gmail REST
// API using an OAuth refresh token.
type GmailSource struct {
	client httpretry.HTTPDoer
	labels []string
}

// NewGmailSource builds the OAuth-backed source. The token source
// refreshes access tokens transparently.
func NewGmailSource(clientID, clientSecret, refreshToken string, labels []string) *GmailSource {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"https://www.googleapis.com/auth/gmail.modify"},
	}
	base := cfg.Client(context.Background(), &oauth2.Token{RefreshToken: refreshToken})
	base.Timeout = 30 * time.Second
	return &GmailSource{
		client: httpretry.NewRetryClient(base, 3),
		labels: labels,
	}
}

func (g *GmailSource) Name() string { return "gmail" }

type gmailList struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type gmailMessage struct {
	ID      string `json:"id"`
	Payload struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
		Body struct {
			Data string `json:"data"`
		} `json:"body"`
		Parts []struct {
			MimeType string `json:"mimeType"`
			Body     struct {
				Data string `json:"data"`
			} `json:"body"`
		} `json:"parts"`
	} `json:"payload"`
}

// Fetch lists messages newer than since and converts each into a raw
// lead payload.
func (g *GmailSource) Fetch(ctx context.Context, since, until time.Time) ([]ingest.RawLead, error) {
	q := fmt.Sprintf("after:%d", since.Unix())
	params := url.Values{"q": []string{q}, "maxResults": []string{"50"}}
	for _, l := range g.labels {
		params.Add("labelIds", l)
	}

	var list gmailList
	if err := g.getJSON(ctx, gmailAPIBase+"/messages?"+params.Encode(), &list); err != nil {
		return nil, fmt.Errorf("%w: gmail list: %v", domain.ErrExternalUnavailable, err)
	}

	var out []ingest.RawLead
	for _, m := range list.Messages {
		var msg gmailMessage
		if err := g.getJSON(ctx, gmailAPIBase+"/messages/"+m.ID+"?format=full", &msg); err != nil {
			return nil, fmt.Errorf("%w: gmail message %s: %v", domain.ErrExternalUnavailable, m.ID, err)
		}
		out = append(out, rawLeadFromGmail(msg, until))
	}
	return out, nil
}

func rawLeadFromGmail(msg gmailMessage, receivedAt time.Time) ingest.RawLead {
	payload := map[string]any{}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			name, email := splitAddress(h.Value)
			payload["from_name"] = name
			payload["from_email"] = email
		case "subject":
			payload["subject"] = h.Value
		}
	}
	payload["body"] = decodeBody(msg)
	return ingest.RawLead{
		Source:     domain.SourceGmail,
		ExternalID: msg.ID,
		Payload:    payload,
		ReceivedAt: receivedAt,
	}
}

// splitAddress parses `Display Name <addr@host>` header values.
func splitAddress(from string) (name, email string) {
	if lt := strings.Index(from, "<"); lt >= 0 {
		name = strings.Trim(strings.TrimSpace(from[:lt]), `"`)
		email = strings.TrimRight(from[lt+1:], ">")
		return name, strings.TrimSpace(email)
	}
	return "", strings.TrimSpace(from)
}

func decodeBody(msg gmailMessage) string {
	data := msg.Payload.Body.Data
	if data == "" {
		for _, part := range msg.Payload.Parts {
			if part.MimeType == "text/plain" && part.Body.Data != "" {
				data = part.Body.Data
				break
			}
		}
	}
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(data)
	if err != nil {
		return ""
	}
	return string(decoded)
}

func (g *GmailSource) getJSON(ctx context.Context, rawURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
