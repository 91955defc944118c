package ingest_test

import (
	"testing"
	"time"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/ingest"
)

func TestNormalizeWebsiteContactForm(t *testing.T) {
	lead, err := ingest.Normalize(ingest.RawLead{
		Source: domain.SourceWebsite,
		Payload: map[string]any{
			"form_name": "Contact Form",
			"name":      "X",
			"email":     "x@x",
		},
		ReceivedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if lead.Urgency != 8 {
		t.Errorf("urgency = %d, want 8", lead.Urgency)
	}
	if lead.LeadType != domain.LeadHot {
		t.Errorf("lead type = %s, want hot", lead.LeadType)
	}
}

func TestNormalizeWebsiteFormUrgencies(t *testing.T) {
	cases := []struct {
		form    string
		urgency int
	}{
		{"Quote Request", 9},
		{"Contact Form", 8},
		{"Newsletter Signup", 6},
	}
	for _, c := range cases {
		lead, err := ingest.Normalize(ingest.RawLead{
			Source:     domain.SourceWebsite,
			Payload:    map[string]any{"form_name": c.form, "name": "X", "email": "x@x"},
			ReceivedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("normalize %s: %v", c.form, err)
		}
		if lead.Urgency != c.urgency {
			t.Errorf("form %q: urgency = %d, want %d", c.form, lead.Urgency, c.urgency)
		}
	}
}

func TestNormalizeGmail(t *testing.T) {
	lead, err := ingest.Normalize(ingest.RawLead{
		Source: domain.SourceGmail,
		Payload: map[string]any{
			"from_email": "jane.doe@example.com",
			"subject":    "Interested in a condo",
			"body":       "Hi, I'm looking for a 2br condo. Call me at (555) 123-4567. Budget around $350,000.",
		},
		ReceivedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if lead.Contact.Name != "jane.doe" {
		t.Errorf("name = %q, want left-of-@ fallback", lead.Contact.Name)
	}
	if lead.Contact.Phone != "(555) 123-4567" {
		t.Errorf("phone = %q", lead.Contact.Phone)
	}
	if lead.Contact.PreferredChannel != "email" {
		t.Errorf("preferred channel = %q, want email", lead.Contact.PreferredChannel)
	}
	// "interested" and "looking for" hit the rank-3 tier.
	if lead.Urgency != 5 {
		t.Errorf("urgency = %d, want 5", lead.Urgency)
	}
	if lead.Qualification.BudgetMin != 350000*0.8 || lead.Qualification.BudgetMax != 350000*1.2 {
		t.Errorf("budget = [%.0f, %.0f], want single value widened to [280000, 420000]",
			lead.Qualification.BudgetMin, lead.Qualification.BudgetMax)
	}
	if !lead.HasIntent("buying_intent") {
		t.Errorf("intent signals = %v, want buying_intent", lead.IntentSignals)
	}
}

func TestNormalizeGmailUrgencyTiers(t *testing.T) {
	cases := []struct {
		body    string
		urgency int
	}{
		{"This is URGENT, call me today", 9},
		{"Hoping to move soon, this week if possible", 7},
		{"I am interested in the listing", 5},
		{"Hello there", 3},
	}
	for _, c := range cases {
		lead, err := ingest.Normalize(ingest.RawLead{
			Source:     domain.SourceGmail,
			Payload:    map[string]any{"from_email": "a@b.com", "body": c.body},
			ReceivedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if lead.Urgency != c.urgency {
			t.Errorf("body %q: urgency = %d, want %d", c.body, lead.Urgency, c.urgency)
		}
	}
}

func TestNormalizeMeta(t *testing.T) {
	lead, err := ingest.Normalize(ingest.RawLead{
		Source: domain.SourceMetaAds,
		Payload: map[string]any{
			"full_name":    "Bob Smith",
			"email":        "bob@example.com",
			"phone_number": "+1 555 987 6543",
		},
		ReceivedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if lead.LeadType != domain.LeadWarm || lead.Urgency != 5 {
		t.Errorf("meta lead = type %s urgency %d, want warm/5", lead.LeadType, lead.Urgency)
	}
	if lead.Contact.Name != "Bob Smith" || lead.Contact.Phone != "+1 555 987 6543" {
		t.Errorf("contact = %+v", lead.Contact)
	}
}

func TestNormalizeThirdPartyDefaults(t *testing.T) {
	lead, err := ingest.Normalize(ingest.RawLead{
		Source:     domain.SourceThirdParty,
		Payload:    map[string]any{"email": "cold@example.com"},
		ReceivedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if lead.LeadType != domain.LeadCold || lead.Urgency != 2 {
		t.Errorf("third party lead = type %s urgency %d, want cold/2", lead.LeadType, lead.Urgency)
	}
	if lead.Contact.Name != "Unknown" {
		t.Errorf("name = %q, want Unknown fallback", lead.Contact.Name)
	}
}

func TestNormalizeBudgetRange(t *testing.T) {
	lead, err := ingest.Normalize(ingest.RawLead{
		Source:     domain.SourceGmail,
		Payload:    map[string]any{"from_email": "a@b.com", "body": "Budget is $200,000 - $250,000 for a house"},
		ReceivedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if lead.Qualification.BudgetMin != 200000 || lead.Qualification.BudgetMax != 250000 {
		t.Errorf("budget = [%.0f, %.0f], want [200000, 250000]",
			lead.Qualification.BudgetMin, lead.Qualification.BudgetMax)
	}
}

func TestNormalizeTimelineBuckets(t *testing.T) {
	cases := []struct {
		body, bucket string
	}{
		{"need to move immediately", "immediate"},
		{"sometime in the next month", "1-2 months"},
		{"within 3 months ideally", "3 months"},
		{"maybe in 6 months", "6 months"},
		{"thinking about next year", "1 year"},
	}
	for _, c := range cases {
		lead, err := ingest.Normalize(ingest.RawLead{
			Source:     domain.SourceGmail,
			Payload:    map[string]any{"from_email": "a@b.com", "body": c.body},
			ReceivedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if lead.Qualification.Timeline != c.bucket {
			t.Errorf("body %q: timeline = %q, want %q", c.body, lead.Qualification.Timeline, c.bucket)
		}
	}
}

func TestNormalizeEmptyPayload(t *testing.T) {
	_, err := ingest.Normalize(ingest.RawLead{Source: domain.SourceGmail})
	if err == nil {
		t.Fatal("expected error on empty payload")
	}
}
