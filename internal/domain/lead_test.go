package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/homereach/leadpilot/internal/domain"
)

func TestTransitionPermittedEdges(t *testing.T) {
	cases := []struct {
		from, to domain.LeadStatus
		ok       bool
	}{
		{domain.StatusNew, domain.StatusContacted, true},
		{domain.StatusNew, domain.StatusDormant, true},
		{domain.StatusNew, domain.StatusLost, true},
		{domain.StatusNew, domain.StatusConverted, false},
		{domain.StatusNew, domain.StatusQualified, false},
		{domain.StatusContacted, domain.StatusQualified, true},
		{domain.StatusContacted, domain.StatusAppointmentScheduled, false},
		{domain.StatusQualified, domain.StatusAppointmentScheduled, true},
		{domain.StatusAppointmentScheduled, domain.StatusConverted, true},
		{domain.StatusAppointmentScheduled, domain.StatusContacted, true},
		{domain.StatusDormant, domain.StatusContacted, true},
		{domain.StatusDormant, domain.StatusLost, false},
		{domain.StatusConverted, domain.StatusContacted, false},
		{domain.StatusLost, domain.StatusContacted, false},
	}

	for _, c := range cases {
		if got := domain.CanTransition(c.from, c.to); got != c.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestTransitionIllegalEdgeRejected(t *testing.T) {
	lead := &domain.Lead{
		ID:      "L1",
		Status:  domain.StatusNew,
		Contact: domain.Contact{Name: "Jane", Email: "jane@example.com"},
	}

	err := lead.Transition(domain.StatusConverted)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if lead.Status != domain.StatusNew {
		t.Errorf("lead status changed on rejected transition: %s", lead.Status)
	}
}

func TestTransitionRequiresContactInfo(t *testing.T) {
	lead := &domain.Lead{ID: "L2", Status: domain.StatusNew, Contact: domain.Contact{Name: "No Contact"}}

	err := lead.Transition(domain.StatusContacted)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for lead without email/phone, got %v", err)
	}

	lead.Contact.Phone = "555-123-4567"
	if err := lead.Transition(domain.StatusContacted); err != nil {
		t.Fatalf("transition with phone set: %v", err)
	}
	if lead.Status != domain.StatusContacted {
		t.Errorf("status = %s, want contacted", lead.Status)
	}
}

func TestLeadValidate(t *testing.T) {
	lead := &domain.Lead{ID: "L3", Urgency: 11}
	if err := lead.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("urgency 11 should fail validation, got %v", err)
	}

	lead.Urgency = 5
	lead.Qualification.Score = 1.5
	if err := lead.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("score 1.5 should fail validation, got %v", err)
	}

	lead.Qualification.Score = 0.9
	if err := lead.Validate(); err != nil {
		t.Errorf("valid lead failed validation: %v", err)
	}
}

func TestInteractionDurationBounds(t *testing.T) {
	now := time.Now()
	cases := []struct {
		typ      domain.InteractionType
		duration int
		ok       bool
	}{
		{domain.InteractionCall, 29, false},
		{domain.InteractionCall, 30, true},
		{domain.InteractionCall, 3600, true},
		{domain.InteractionCall, 3601, false},
		{domain.InteractionSMS, 120, true},
		{domain.InteractionSMS, 301, false},
		{domain.InteractionEmail, 300, true},
	}

	for _, c := range cases {
		i := &domain.Interaction{Type: c.typ, DurationS: c.duration, Outcome: domain.Outcome{Status: domain.OutcomeSuccessful}}
		err := i.Validate(now)
		if c.ok && err != nil {
			t.Errorf("%s duration %d: unexpected error %v", c.typ, c.duration, err)
		}
		if !c.ok && !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%s duration %d: expected ErrValidation, got %v", c.typ, c.duration, err)
		}
	}
}

func TestInteractionNextActionMustBeFuture(t *testing.T) {
	now := time.Now()
	i := &domain.Interaction{
		Type:       domain.InteractionEmail,
		NextAction: &domain.NextAction{Action: "follow_up", ScheduledAt: now.Add(-time.Hour)},
	}
	if err := i.Validate(now); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("past next action should fail, got %v", err)
	}

	i.NextAction.ScheduledAt = now.Add(time.Hour)
	if err := i.Validate(now); err != nil {
		t.Fatalf("future next action should pass, got %v", err)
	}
}

func TestSequencePauseResume(t *testing.T) {
	fire := time.Now().Add(24 * time.Hour)
	seq := &domain.OutboundSequence{
		ID: "S1", LeadID: "L1", Kind: domain.SequenceColdFollowUp,
		CurrentStep: 1, TotalSteps: 5, NextFireAt: &fire,
		Status: domain.SequenceActive,
	}

	if err := seq.Pause(); err != nil {
		t.Fatalf("pause active: %v", err)
	}
	if err := seq.Pause(); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("pausing a paused sequence should fail, got %v", err)
	}
	if err := seq.Resume(); err != nil {
		t.Fatalf("resume paused: %v", err)
	}

	seq.Status = domain.SequenceCompleted
	if err := seq.Resume(); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("resuming a completed sequence should fail, got %v", err)
	}
}

func TestSequenceValidate(t *testing.T) {
	seq := &domain.OutboundSequence{ID: "S2", CurrentStep: 6, TotalSteps: 5, Status: domain.SequencePaused}
	if err := seq.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("current step beyond total should fail, got %v", err)
	}

	seq = &domain.OutboundSequence{ID: "S3", CurrentStep: 3, TotalSteps: 5, Status: domain.SequenceCompleted}
	if err := seq.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("completed at step 3 of 5 should fail, got %v", err)
	}

	seq = &domain.OutboundSequence{ID: "S4", CurrentStep: 2, TotalSteps: 5, Status: domain.SequenceActive}
	if err := seq.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("active without next fire time should fail, got %v", err)
	}
}
