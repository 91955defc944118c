package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/ingest"
	"github.com/homereach/leadpilot/internal/pkg/httpretry"
)

const metaGraphBase = "https://graph.facebook.com/v19.0"

// MetaSource polls Meta Lead Ads for submitted lead forms. Webhook
// delivery is the primary path; polling backfills anything missed.
type MetaSource struct {
	client      httpretry.HTTPDoer
	accessToken string
	pageID      string
}

// NewMetaSource creates the Graph API poller.
func NewMetaSource(accessToken, pageID string) *MetaSource {
	return &MetaSource{
		client:      httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 3),
		accessToken: accessToken,
		pageID:      pageID,
	}
}

func (m *MetaSource) Name() string { return "meta_ads" }

type metaLeadList struct {
	Data []struct {
		ID          string `json:"id"`
		CreatedTime string `json:"created_time"`
		FieldData   []struct {
			Name   string   `json:"name"`
			Values []string `json:"values"`
		} `json:"field_data"`
	} `json:"data"`
}

// Fetch pulls leadgen submissions newer than since.
func (m *MetaSource) Fetch(ctx context.Context, since, until time.Time) ([]ingest.RawLead, error) {
	params := url.Values{
		"access_token": []string{m.accessToken},
		"fields":       []string{"id,created_time,field_data"},
		"filtering": []string{fmt.Sprintf(
			`[{"field":"time_created","operator":"GREATER_THAN","value":%d}]`, since.Unix())},
	}
	endpoint := fmt.Sprintf("%s/%s/leadgen_forms_leads?%s", metaGraphBase, m.pageID, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: meta leads: %v", domain.ErrExternalUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: meta leads status %d: %s", domain.ErrExternalUnavailable, resp.StatusCode, body)
	}

	var list metaLeadList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode meta leads: %w", err)
	}

	var out []ingest.RawLead
	for _, item := range list.Data {
		payload := map[string]any{}
		for _, f := range item.FieldData {
			if len(f.Values) > 0 {
				payload[normalizeMetaField(f.Name)] = f.Values[0]
			}
		}
		out = append(out, ingest.RawLead{
			Source:     domain.SourceMetaAds,
			ExternalID: item.ID,
			Payload:    payload,
			ReceivedAt: until,
		})
	}
	return out, nil
}

// normalizeMetaField maps Meta's field naming to the payload keys the
// normalizer expects.
func normalizeMetaField(name string) string {
	switch strings.ToLower(name) {
	case "full name", "fullname":
		return "full_name"
	case "phone", "phone number":
		return "phone_number"
	default:
		return strings.ReplaceAll(strings.ToLower(name), " ", "_")
	}
}
