package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/pkg/clock"
	"github.com/homereach/leadpilot/internal/store"
)

// DuplicateThreshold is the confidence at or above which an incoming
// lead merges into an existing one.
const DuplicateThreshold = 0.7

// LeadIndex is the slice of the store the deduplicator needs.
type LeadIndex interface {
	QueryLeads(ctx context.Context, f store.LeadFilter) ([]domain.Lead, error)
	GetLead(ctx context.Context, id string) (*domain.Lead, error)
	UpsertLead(ctx context.Context, lead *domain.Lead, actor string, changes map[string]any) error
}

// DupResult reports the outcome of a duplicate check.
type DupResult struct {
	IsDuplicate    bool     `json:"is_duplicate"`
	ExistingID     string   `json:"existing_id,omitempty"`
	Confidence     float64  `json:"confidence"`
	MatchingFields []string `json:"matching_fields,omitempty"`
}

// Deduper scores incoming leads against existing ones and merges
// confirmed duplicates.
type Deduper struct {
	index     LeadIndex
	clk       clock.Clock
	threshold float64
}

// NewDeduper creates a deduplicator over the given lead index.
func NewDeduper(index LeadIndex, clk clock.Clock, threshold float64) *Deduper {
	if threshold <= 0 {
		threshold = DuplicateThreshold
	}
	return &Deduper{index: index, clk: clk, threshold: threshold}
}

// Check scores the incoming lead against candidates sharing its email
// or phone and returns the best match. Confidence is always in [0, 1].
func (d *Deduper) Check(ctx context.Context, incoming *domain.Lead) (DupResult, error) {
	candidates, err := d.candidates(ctx, incoming)
	if err != nil {
		return DupResult{}, err
	}

	best := DupResult{}
	for i := range candidates {
		score, fields := d.score(incoming, &candidates[i])
		if score > best.Confidence {
			best = DupResult{
				ExistingID:     candidates[i].ID,
				Confidence:     score,
				MatchingFields: fields,
			}
		}
	}
	best.IsDuplicate = best.Confidence >= d.threshold
	if !best.IsDuplicate {
		best.ExistingID = ""
	}
	return best, nil
}

// Merge folds the incoming lead into the existing one field by field
// and audits the diff. A vanished merge target fails with
// ErrDuplicateConflict so the pipeline can retry the check once.
func (d *Deduper) Merge(ctx context.Context, existingID string, incoming *domain.Lead) error {
	existing, err := d.index.GetLead(ctx, existingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateConflict, existingID)
		}
		return err
	}

	changes := mergeFields(existing, incoming)
	if len(changes) == 0 {
		return nil
	}
	return d.index.UpsertLead(ctx, existing, "deduper", changes)
}

func (d *Deduper) candidates(ctx context.Context, incoming *domain.Lead) ([]domain.Lead, error) {
	seen := map[string]bool{}
	var out []domain.Lead

	if incoming.Contact.Email != "" {
		byEmail, err := d.index.QueryLeads(ctx, store.LeadFilter{Email: incoming.Contact.Email, Limit: 20})
		if err != nil {
			return nil, fmt.Errorf("candidates by email: %w", err)
		}
		for _, l := range byEmail {
			if !seen[l.ID] {
				seen[l.ID] = true
				out = append(out, l)
			}
		}
	}
	if last10 := lastDigits(incoming.Contact.Phone, 10); last10 != "" {
		byPhone, err := d.index.QueryLeads(ctx, store.LeadFilter{PhoneLast10: last10, Limit: 20})
		if err != nil {
			return nil, fmt.Errorf("candidates by phone: %w", err)
		}
		for _, l := range byPhone {
			if !seen[l.ID] {
				seen[l.ID] = true
				out = append(out, l)
			}
		}
	}
	return out, nil
}

// score computes the additive match score per the weighted field table,
// capped at 1.0.
func (d *Deduper) score(incoming, existing *domain.Lead) (float64, []string) {
	score := 0.0
	var fields []string

	if incoming.Contact.Email != "" &&
		strings.EqualFold(incoming.Contact.Email, existing.Contact.Email) {
		score += 0.50
		fields = append(fields, "email")
	}
	inPhone, exPhone := lastDigits(incoming.Contact.Phone, 10), lastDigits(existing.Contact.Phone, 10)
	if inPhone != "" && inPhone == exPhone {
		score += 0.40
		fields = append(fields, "phone")
	}
	if sim := nameSimilarity(incoming.Contact.Name, existing.Contact.Name); sim > 0.8 {
		score += 0.30 * sim
		fields = append(fields, "name")
	}
	if incoming.Source == existing.Source {
		score += 0.10
		fields = append(fields, "source")
	}
	if incoming.Qualification.Location != "" &&
		strings.EqualFold(incoming.Qualification.Location, existing.Qualification.Location) {
		score += 0.10
		fields = append(fields, "location")
	}

	age := d.clk.Now().Sub(existing.CreatedAt)
	switch {
	case age <= 24*time.Hour:
		score += 0.10
		fields = append(fields, "recency_1d")
	case age <= 7*24*time.Hour:
		score += 0.05
		fields = append(fields, "recency_1w")
	}

	if score > 1.0 {
		score = 1.0
	}
	return score, fields
}

// nameSimilarity: 1.0 on exact match, 0.8 on substring containment,
// otherwise token overlap where two tokens match if either contains
// the other, normalized by the larger token count.
func nameSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.8
	}

	tokensA := strings.Fields(a)
	tokensB := strings.Fields(b)
	common := 0
	for _, ta := range tokensA {
		for _, tb := range tokensB {
			if strings.Contains(ta, tb) || strings.Contains(tb, ta) {
				common++
				break
			}
		}
	}
	max := len(tokensA)
	if len(tokensB) > max {
		max = len(tokensB)
	}
	return float64(common) / float64(max)
}

// mergeFields applies the merge policy in place on existing and returns
// the audit diff. Applying the same incoming payload twice is a no-op
// the second time.
func mergeFields(existing, incoming *domain.Lead) map[string]any {
	changes := map[string]any{}
	setStr := func(field string, dst *string, val string) {
		if val != "" && val != *dst {
			changes[field] = map[string]any{"from": *dst, "to": val}
			*dst = val
		}
	}

	if incoming.Contact.Name != "" && incoming.Contact.Name != "Unknown" {
		setStr("name", &existing.Contact.Name, incoming.Contact.Name)
	}
	setStr("email", &existing.Contact.Email, incoming.Contact.Email)
	setStr("phone", &existing.Contact.Phone, incoming.Contact.Phone)
	setStr("preferred_channel", &existing.Contact.PreferredChannel, incoming.Contact.PreferredChannel)
	setStr("timezone", &existing.Contact.Timezone, incoming.Contact.Timezone)
	setStr("location", &existing.Qualification.Location, incoming.Qualification.Location)
	setStr("property_type", &existing.Qualification.PropertyType, incoming.Qualification.PropertyType)
	setStr("timeline", &existing.Qualification.Timeline, incoming.Qualification.Timeline)

	if incoming.Urgency > existing.Urgency {
		changes["urgency"] = map[string]any{"from": existing.Urgency, "to": incoming.Urgency}
		existing.Urgency = incoming.Urgency
	}
	if incoming.Qualification.Score > existing.Qualification.Score {
		changes["qualification_score"] = map[string]any{
			"from": existing.Qualification.Score, "to": incoming.Qualification.Score,
		}
		existing.Qualification.Score = incoming.Qualification.Score
	}

	if union := unionSignals(existing.IntentSignals, incoming.IntentSignals); len(union) != len(existing.IntentSignals) {
		changes["intent_signals"] = map[string]any{"from": existing.IntentSignals, "to": union}
		existing.IntentSignals = union
	}

	return changes
}

func unionSignals(a, b []string) []string {
	seen := map[string]bool{}
	for _, s := range a {
		seen[s] = true
	}
	out := append([]string{}, a...)
	var added []string
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			added = append(added, s)
		}
	}
	sort.Strings(added)
	return append(out, added...)
}

func lastDigits(s string, n int) string {
	var digits []byte
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			digits = append(digits, s[i])
		}
	}
	if len(digits) == 0 {
		return ""
	}
	if len(digits) > n {
		digits = digits[len(digits)-n:]
	}
	return string(digits)
}
