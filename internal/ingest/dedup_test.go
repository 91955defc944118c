package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/ingest"
	"github.com/homereach/leadpilot/internal/pkg/clock"
	"github.com/homereach/leadpilot/internal/store"
)

// fakeIndex is an in-memory LeadIndex.
type fakeIndex struct {
	leads   map[string]*domain.Lead
	upserts int
}

func newFakeIndex(leads ...*domain.Lead) *fakeIndex {
	m := map[string]*domain.Lead{}
	for _, l := range leads {
		m[l.ID] = l
	}
	return &fakeIndex{leads: m}
}

func (f *fakeIndex) QueryLeads(_ context.Context, filter store.LeadFilter) ([]domain.Lead, error) {
	var out []domain.Lead
	for _, l := range f.leads {
		if filter.Email != "" && !strings.EqualFold(l.Contact.Email, filter.Email) {
			continue
		}
		if filter.PhoneLast10 != "" && last10(l.Contact.Phone) != filter.PhoneLast10 {
			continue
		}
		out = append(out, *l)
	}
	return out, nil
}

func (f *fakeIndex) GetLead(_ context.Context, id string) (*domain.Lead, error) {
	l, ok := f.leads[id]
	if !ok {
		return nil, fmt.Errorf("%w: lead %s", domain.ErrNotFound, id)
	}
	cp := *l
	return &cp, nil
}

func (f *fakeIndex) UpsertLead(_ context.Context, lead *domain.Lead, _ string, _ map[string]any) error {
	f.upserts++
	cp := *lead
	f.leads[lead.ID] = &cp
	return nil
}

func last10(phone string) string {
	var d []byte
	for i := 0; i < len(phone); i++ {
		if phone[i] >= '0' && phone[i] <= '9' {
			d = append(d, phone[i])
		}
	}
	if len(d) > 10 {
		d = d[len(d)-10:]
	}
	return string(d)
}

func TestCheckDuplicateByPhoneVariantFormatting(t *testing.T) {
	clk := clock.NewFake(time.Now())
	existing := &domain.Lead{
		ID:        "E1",
		Source:    domain.SourceWebsite,
		Contact:   domain.Contact{Name: "Jane", Phone: "5551234567"},
		Status:    domain.StatusNew,
		Urgency:   5,
		CreatedAt: clk.Now().Add(-2 * time.Hour),
	}
	d := ingest.NewDeduper(newFakeIndex(existing), clk, 0)

	incoming := &domain.Lead{
		Source:    domain.SourceWebsite,
		Contact:   domain.Contact{Name: "Jane", Phone: "555-123-4567"},
		Status:    domain.StatusNew,
		Urgency:   5,
		CreatedAt: clk.Now(),
	}
	res, err := d.Check(context.Background(), incoming)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.IsDuplicate {
		t.Fatalf("expected duplicate, got confidence %.2f", res.Confidence)
	}
	if res.ExistingID != "E1" {
		t.Errorf("existing id = %q, want E1", res.ExistingID)
	}
	hasPhone := false
	for _, f := range res.MatchingFields {
		if f == "phone" {
			hasPhone = true
		}
	}
	if !hasPhone {
		t.Errorf("matching fields = %v, want phone included", res.MatchingFields)
	}
}

func TestCheckConfidenceBounded(t *testing.T) {
	clk := clock.NewFake(time.Now())
	existing := &domain.Lead{
		ID:     "E1",
		Source: domain.SourceWebsite,
		Contact: domain.Contact{
			Name: "Jane Doe", Email: "jane@example.com", Phone: "5551234567",
		},
		Qualification: domain.Qualification{Location: "Austin"},
		Status:        domain.StatusNew,
		Urgency:       5,
		CreatedAt:     clk.Now().Add(-time.Hour),
	}
	d := ingest.NewDeduper(newFakeIndex(existing), clk, 0)

	// Every weighted field matches; raw sum exceeds 1.0 and must cap.
	incoming := &domain.Lead{
		Source: domain.SourceWebsite,
		Contact: domain.Contact{
			Name: "Jane Doe", Email: "JANE@example.com", Phone: "(555) 123-4567",
		},
		Qualification: domain.Qualification{Location: "austin"},
		Status:        domain.StatusNew,
		Urgency:       5,
	}
	res, err := d.Check(context.Background(), incoming)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		t.Errorf("confidence %.3f out of [0,1]", res.Confidence)
	}
	if res.Confidence != 1.0 {
		t.Errorf("confidence = %.3f, want capped at 1.0", res.Confidence)
	}
}

func TestCheckNoMatch(t *testing.T) {
	clk := clock.NewFake(time.Now())
	d := ingest.NewDeduper(newFakeIndex(), clk, 0)

	res, err := d.Check(context.Background(), &domain.Lead{
		Contact: domain.Contact{Name: "Nobody", Email: "new@example.com"},
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.IsDuplicate || res.ExistingID != "" {
		t.Errorf("unexpected duplicate: %+v", res)
	}
}

func TestMergePolicy(t *testing.T) {
	clk := clock.NewFake(time.Now())
	existing := &domain.Lead{
		ID:     "E1",
		Source: domain.SourceGmail,
		Contact: domain.Contact{
			Name: "Unknown", Email: "jane@example.com",
		},
		Urgency:       5,
		IntentSignals: []string{"buying_intent"},
		Qualification: domain.Qualification{Score: 0.4},
		Status:        domain.StatusNew,
		CreatedAt:     clk.Now().Add(-time.Hour),
	}
	idx := newFakeIndex(existing)
	d := ingest.NewDeduper(idx, clk, 0)

	incoming := &domain.Lead{
		Source: domain.SourceWebsite,
		Contact: domain.Contact{
			Name: "Jane Doe", Email: "jane@example.com", Phone: "555-123-4567",
		},
		Urgency:       8,
		IntentSignals: []string{"buying_intent", "financing_need"},
		Qualification: domain.Qualification{Score: 0.3, Location: "Austin"},
		Status:        domain.StatusNew,
	}
	if err := d.Merge(context.Background(), "E1", incoming); err != nil {
		t.Fatalf("merge: %v", err)
	}

	merged := idx.leads["E1"]
	if merged.Contact.Name != "Jane Doe" {
		t.Errorf("name = %q, want incoming name over Unknown", merged.Contact.Name)
	}
	if merged.Contact.Phone != "555-123-4567" {
		t.Errorf("phone = %q, want incoming non-empty phone", merged.Contact.Phone)
	}
	if merged.Urgency != 8 {
		t.Errorf("urgency = %d, want max(5, 8)", merged.Urgency)
	}
	if merged.Qualification.Score != 0.4 {
		t.Errorf("score = %.2f, want max(0.4, 0.3)", merged.Qualification.Score)
	}
	if len(merged.IntentSignals) != 2 {
		t.Errorf("intent signals = %v, want union of two tags", merged.IntentSignals)
	}
	if merged.Qualification.Location != "Austin" {
		t.Errorf("location = %q, want incoming location", merged.Qualification.Location)
	}
}

func TestMergeIdempotent(t *testing.T) {
	clk := clock.NewFake(time.Now())
	existing := &domain.Lead{
		ID:        "E1",
		Source:    domain.SourceGmail,
		Contact:   domain.Contact{Name: "Jane", Email: "jane@example.com"},
		Urgency:   5,
		Status:    domain.StatusNew,
		CreatedAt: clk.Now().Add(-time.Hour),
	}
	idx := newFakeIndex(existing)
	d := ingest.NewDeduper(idx, clk, 0)

	incoming := &domain.Lead{
		Source:  domain.SourceWebsite,
		Contact: domain.Contact{Name: "Jane Doe", Email: "jane@example.com", Phone: "5551234567"},
		Urgency: 8,
		Status:  domain.StatusNew,
	}
	if err := d.Merge(context.Background(), "E1", incoming); err != nil {
		t.Fatalf("first merge: %v", err)
	}
	after := *idx.leads["E1"]
	upserts := idx.upserts

	// A second merge of the same payload changes nothing and skips the write.
	if err := d.Merge(context.Background(), "E1", incoming); err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if idx.upserts != upserts {
		t.Errorf("second identical merge wrote to the store")
	}
	if got := *idx.leads["E1"]; got.Contact != after.Contact || got.Urgency != after.Urgency {
		t.Errorf("second merge mutated the lead: %+v", got)
	}
}

func TestMergeTargetGone(t *testing.T) {
	clk := clock.NewFake(time.Now())
	d := ingest.NewDeduper(newFakeIndex(), clk, 0)

	err := d.Merge(context.Background(), "ghost", &domain.Lead{})
	if !errors.Is(err, domain.ErrDuplicateConflict) {
		t.Fatalf("expected ErrDuplicateConflict, got %v", err)
	}
}
