package sequence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/pkg/clock"
	"github.com/homereach/leadpilot/internal/sequence"
)

func convertedLead(id string) *domain.Lead {
	return &domain.Lead{
		ID:            id,
		Source:        domain.SourceWebsite,
		Status:        domain.StatusConverted,
		AssignedAgent: "agent-1",
		Contact: domain.Contact{
			Name:             "Jane Buyer",
			Email:            "jane@example.com",
			PreferredChannel: "email",
		},
	}
}

func TestRequestReviewSchedulesOneStepSequence(t *testing.T) {
	fs := newFakeStore()
	clk := clock.NewFake(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	collector := sequence.NewFeedbackCollector(fs, clk)

	lead := convertedLead("lead-1")
	fs.leads[lead.ID] = lead

	session, err := collector.RequestReview(context.Background(), lead)
	if err != nil {
		t.Fatalf("RequestReview: %v", err)
	}
	if session.Status != domain.FeedbackSent {
		t.Fatalf("session status = %s, want sent", session.Status)
	}
	if session.Channel != domain.InteractionEmail {
		t.Fatalf("session channel = %s, want email", session.Channel)
	}

	if len(fs.sequences) != 1 {
		t.Fatalf("sequences created = %d, want 1", len(fs.sequences))
	}
	for _, seq := range fs.sequences {
		if seq.CampaignID != sequence.ReviewCampaignID {
			t.Errorf("campaign = %q, want %q", seq.CampaignID, sequence.ReviewCampaignID)
		}
		if seq.TotalSteps != 1 {
			t.Errorf("total steps = %d, want 1", seq.TotalSteps)
		}
		if seq.Kind != domain.SequenceCampaign {
			t.Errorf("kind = %s, want campaign", seq.Kind)
		}
	}
}

func TestRequestReviewRejectsUnconvertedLead(t *testing.T) {
	fs := newFakeStore()
	clk := clock.NewFake(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	collector := sequence.NewFeedbackCollector(fs, clk)

	lead := convertedLead("lead-1")
	lead.Status = domain.StatusQualified

	_, err := collector.RequestReview(context.Background(), lead)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if len(fs.sessions) != 0 || len(fs.sequences) != 0 {
		t.Fatal("nothing should be persisted for a rejected request")
	}
}

func TestRecordResponseClosesSession(t *testing.T) {
	fs := newFakeStore()
	clk := clock.NewFake(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	collector := sequence.NewFeedbackCollector(fs, clk)

	lead := convertedLead("lead-1")
	session, err := collector.RequestReview(context.Background(), lead)
	if err != nil {
		t.Fatalf("RequestReview: %v", err)
	}

	got, err := collector.RecordResponse(context.Background(), session.ID, 5, "great agent")
	if err != nil {
		t.Fatalf("RecordResponse: %v", err)
	}
	if got.Status != domain.FeedbackReceived {
		t.Fatalf("status = %s, want received", got.Status)
	}
	if got.Rating == nil || *got.Rating != 5 {
		t.Fatalf("rating = %v, want 5", got.Rating)
	}
	if got.RespondedAt == nil {
		t.Fatal("responded_at not set")
	}

	// A second response must not overwrite the first.
	if _, err := collector.RecordResponse(context.Background(), session.ID, 1, "changed my mind"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second response err = %v, want ErrInvalidTransition", err)
	}
}

func TestRecordResponseRejectsOutOfRangeRating(t *testing.T) {
	fs := newFakeStore()
	clk := clock.NewFake(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	collector := sequence.NewFeedbackCollector(fs, clk)

	if _, err := collector.RecordResponse(context.Background(), "any", 6, ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestExpireStaleClosesOldSessions(t *testing.T) {
	fs := newFakeStore()
	clk := clock.NewFake(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	collector := sequence.NewFeedbackCollector(fs, clk)

	old, err := collector.RequestReview(context.Background(), convertedLead("lead-old"))
	if err != nil {
		t.Fatalf("RequestReview: %v", err)
	}

	clk.Advance(15 * 24 * time.Hour)
	fresh, err := collector.RequestReview(context.Background(), convertedLead("lead-fresh"))
	if err != nil {
		t.Fatalf("RequestReview: %v", err)
	}

	n, err := collector.ExpireStale(context.Background())
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}
	if fs.sessions[old.ID].Status != domain.FeedbackExpired {
		t.Fatalf("old session status = %s, want expired", fs.sessions[old.ID].Status)
	}
	if fs.sessions[fresh.ID].Status != domain.FeedbackSent {
		t.Fatalf("fresh session status = %s, want sent", fs.sessions[fresh.ID].Status)
	}
}
