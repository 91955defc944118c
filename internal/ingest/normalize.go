// Package ingest turns raw source payloads into canonical leads and
// guards the lead table against duplicates.
package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/homereach/leadpilot/internal/domain"
)

// RawLead is one unprocessed payload from any source.
type RawLead struct {
	Source     domain.LeadSource `json:"source"`
	ExternalID string            `json:"external_id,omitempty"`
	Payload    map[string]any    `json:"payload"`
	ReceivedAt time.Time         `json:"received_at"`
}

var phoneRe = regexp.MustCompile(`(\+?1?[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)

// Normalize converts a raw payload into a canonical lead according to
// per-source rules. The returned lead has status new and no id; the
// pipeline assigns the id at insert.
func Normalize(raw RawLead) (*domain.Lead, error) {
	if raw.Payload == nil {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrValidation)
	}

	lead := &domain.Lead{
		Source:    raw.Source,
		Status:    domain.StatusNew,
		CreatedAt: raw.ReceivedAt,
		UpdatedAt: raw.ReceivedAt,
	}

	text := messageText(raw.Payload)

	switch raw.Source {
	case domain.SourceGmail:
		normalizeGmail(raw.Payload, text, lead)
	case domain.SourceMetaAds:
		normalizeMeta(raw.Payload, lead)
	case domain.SourceWebsite:
		normalizeWebsite(raw.Payload, lead)
	case domain.SourceSlack, domain.SourceReferral:
		normalizeGeneric(raw.Payload, lead)
		lead.LeadType = domain.LeadWarm
		lead.Urgency = 4
	case domain.SourceThirdParty, domain.SourceOther:
		normalizeGeneric(raw.Payload, lead)
		lead.LeadType = domain.LeadCold
		lead.Urgency = 2
	default:
		return nil, fmt.Errorf("%w: unknown source %q", domain.ErrValidation, raw.Source)
	}

	if lead.Contact.Name == "" {
		lead.Contact.Name = "Unknown"
	}

	lead.IntentSignals = extractIntentSignals(text)
	if min, max, ok := parseBudget(text); ok {
		lead.Qualification.BudgetMin = min
		lead.Qualification.BudgetMax = max
	}
	if tl, ok := parseTimeline(text); ok {
		lead.Qualification.Timeline = tl
	}
	if loc := stringField(raw.Payload, "location", "city", "area"); loc != "" {
		lead.Qualification.Location = loc
	}
	if pt := stringField(raw.Payload, "property_type", "propertyType"); pt != "" {
		lead.Qualification.PropertyType = pt
	}

	if err := lead.Validate(); err != nil {
		return nil, err
	}
	return lead, nil
}

func normalizeGmail(p map[string]any, text string, lead *domain.Lead) {
	email := stringField(p, "from_email", "from", "email")
	name := stringField(p, "from_name", "name")
	if name == "" && email != "" {
		if at := strings.Index(email, "@"); at > 0 {
			name = email[:at]
		}
	}
	lead.Contact.Name = name
	lead.Contact.Email = email
	lead.Contact.Phone = phoneRe.FindString(text)
	lead.Contact.PreferredChannel = "email"
	lead.LeadType = domain.LeadWarm
	lead.Urgency = classifyUrgency(text)
}

func normalizeMeta(p map[string]any, lead *domain.Lead) {
	lead.Contact.Name = stringField(p, "full_name", "fullName", "name")
	lead.Contact.Email = stringField(p, "email")
	lead.Contact.Phone = stringField(p, "phone_number", "phone")
	lead.LeadType = domain.LeadWarm
	lead.Urgency = 5
}

func normalizeWebsite(p map[string]any, lead *domain.Lead) {
	normalizeGeneric(p, lead)
	lead.LeadType = domain.LeadHot

	form := strings.ToLower(stringField(p, "form_name", "formName", "form"))
	switch {
	case strings.Contains(form, "quote"):
		lead.Urgency = 9
	case strings.Contains(form, "contact"):
		lead.Urgency = 8
	default:
		lead.Urgency = 6
	}
}

func normalizeGeneric(p map[string]any, lead *domain.Lead) {
	lead.Contact.Name = stringField(p, "name", "full_name", "fullName")
	lead.Contact.Email = stringField(p, "email")
	lead.Contact.Phone = stringField(p, "phone", "phone_number")
	if ch := stringField(p, "preferred_channel", "preferredChannel"); ch != "" {
		lead.Contact.PreferredChannel = ch
	}
	if tz := stringField(p, "timezone"); tz != "" {
		lead.Contact.Timezone = tz
	}
}

// messageText concatenates the free-text fields a payload may carry.
func messageText(p map[string]any) string {
	var parts []string
	for _, key := range []string{"subject", "body", "message", "comments", "description", "notes"} {
		if v, ok := p[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func stringField(p map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := p[k].(string); ok && v != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
