package sequence

import (
	"fmt"
	"strings"
	"time"

	"github.com/osteele/liquid"

	"github.com/homereach/leadpilot/internal/domain"
)

// stepDelays is the progressive delay schedule in days. Step indexes
// beyond the table saturate at the last entry.
var stepDelays = []int{1, 3, 7, 14, 30}

// DelayForStep returns the wait before the given step fires.
func DelayForStep(step int) time.Duration {
	if step < 0 {
		step = 0
	}
	if step >= len(stepDelays) {
		step = len(stepDelays) - 1
	}
	return time.Duration(stepDelays[step]) * 24 * time.Hour
}

// WarmStepCount picks the warm re-engagement chain length from the
// lead's sentiment history: mostly-positive leads get the short chain.
func WarmStepCount(interactions []domain.Interaction) int {
	withSentiment, positive := 0, 0
	for _, in := range interactions {
		if in.Sentiment == nil {
			continue
		}
		withSentiment++
		if in.Sentiment.Score > 0 {
			positive++
		}
	}
	if withSentiment > 0 && float64(positive)/float64(withSentiment) > 0.6 {
		return 3
	}
	return 5
}

// messageTemplates holds the per-kind step templates. Campaign
// sequences override these with campaign-specific templates.
var messageTemplates = map[domain.SequenceKind][]string{
	domain.SequenceColdFollowUp: {
		"Hi {{ leadName }}, just checking in about your interest in {{ propertyInterest }}. Happy to answer any questions.",
		"Hi {{ leadName }}, properties in {{ location }} are moving quickly. Want me to send over a few current listings?",
		"Hi {{ leadName }}, {{ companyName }} here. We have new {{ propertyInterest }} options in {{ location }} this week.",
		"Hi {{ leadName }}, still thinking about {{ location }}? I can set up a quick call whenever suits you.",
		"Hi {{ leadName }}, this is my last check-in for now. Reach out anytime and I'll pick things right back up.",
	},
	domain.SequenceWarmReengagement: {
		"Hi {{ leadName }}, great talking on {{ lastInteractionDate }}. Here are the next steps we discussed.",
		"Hi {{ leadName }}, a new {{ propertyInterest }} just listed in {{ location }} that matches what you described.",
		"Hi {{ leadName }}, want to lock in a viewing time this week?",
		"Hi {{ leadName }}, following up once more. The {{ location }} market shifted since we spoke.",
		"Hi {{ leadName }}, closing the loop for now. {{ companyName }} is here when you're ready.",
	},
	domain.SequenceCampaign: {
		"Hi {{ leadName }}, {{ companyName }} has an update on {{ propertyInterest }} in {{ location }}.",
		"Hi {{ leadName }}, a quick follow-up from {{ companyName }} about {{ location }}.",
		"Hi {{ leadName }}, final note from {{ companyName }}. Reply anytime.",
	},
}

// TemplateForStep resolves the message template for a sequence kind
// and zero-based step index, saturating at the last template.
func TemplateForStep(kind domain.SequenceKind, step int) (string, error) {
	templates, ok := messageTemplates[kind]
	if !ok {
		return "", fmt.Errorf("%w: no templates for sequence kind %q", domain.ErrValidation, kind)
	}
	if step < 0 {
		step = 0
	}
	if step >= len(templates) {
		step = len(templates) - 1
	}
	return templates[step], nil
}

// Personalizer renders message templates against a closed substitution
// set. Unknown variables render empty rather than failing the send.
type Personalizer struct {
	engine      *liquid.Engine
	companyName string
}

// NewPersonalizer creates the liquid-backed template renderer.
func NewPersonalizer(companyName string) *Personalizer {
	return &Personalizer{engine: liquid.NewEngine(), companyName: companyName}
}

// Bindings builds the substitution set for one lead. Only the closed
// set {leadName, companyName, lastInteractionDate, propertyInterest,
// location, customFields.*} is exposed to templates.
func (p *Personalizer) Bindings(lead *domain.Lead, lastInteraction *time.Time, customFields map[string]any) map[string]any {
	b := map[string]any{
		"leadName":            lead.Contact.Name,
		"companyName":         p.companyName,
		"lastInteractionDate": "",
		"propertyInterest":    lead.Qualification.PropertyType,
		"location":            lead.Qualification.Location,
		"customFields":        map[string]any{},
	}
	if lastInteraction != nil {
		b["lastInteractionDate"] = lastInteraction.Format("January 2")
	}
	if customFields != nil {
		b["customFields"] = customFields
	}
	return b
}

// Render personalizes one template. Double spaces left by empty
// substitutions are collapsed.
func (p *Personalizer) Render(tpl string, bindings map[string]any) (string, error) {
	out, err := p.engine.ParseAndRenderString(tpl, bindings)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return strings.Join(strings.Fields(out), " "), nil
}
