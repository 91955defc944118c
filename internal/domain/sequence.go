package domain

import (
	"fmt"
	"time"
)

// SequenceStatus is the outbound sequence lifecycle.
type SequenceStatus string

const (
	SequenceActive    SequenceStatus = "active"
	SequencePaused    SequenceStatus = "paused"
	SequenceCompleted SequenceStatus = "completed"
	SequenceFailed    SequenceStatus = "failed"
)

// SequenceKind selects the step template table and delay schedule.
type SequenceKind string

const (
	SequenceColdFollowUp     SequenceKind = "cold_follow_up"
	SequenceWarmReengagement SequenceKind = "warm_reengagement"
	SequenceCampaign         SequenceKind = "campaign"
)

// OutboundSequence is a scheduled multi-step contact plan for one lead.
type OutboundSequence struct {
	ID             string         `json:"id"`
	LeadID         string         `json:"lead_id"`
	CampaignID     string         `json:"campaign_id,omitempty"`
	Kind           SequenceKind   `json:"kind"`
	CurrentStep    int            `json:"current_step"`
	TotalSteps     int            `json:"total_steps"`
	NextFireAt     *time.Time     `json:"next_fire_at,omitempty"`
	Status         SequenceStatus `json:"status"`
	InteractionIDs []string       `json:"interaction_ids,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Validate checks the sequence's structural invariants.
func (s *OutboundSequence) Validate() error {
	if s.CurrentStep < 0 || s.CurrentStep > s.TotalSteps {
		return fmt.Errorf("%w: current step %d out of range [0,%d]", ErrValidation, s.CurrentStep, s.TotalSteps)
	}
	if s.Status == SequenceCompleted && s.CurrentStep != s.TotalSteps {
		return fmt.Errorf("%w: completed sequence at step %d of %d", ErrValidation, s.CurrentStep, s.TotalSteps)
	}
	if s.Status == SequenceActive && s.NextFireAt == nil {
		return fmt.Errorf("%w: active sequence without a next fire time", ErrValidation)
	}
	return nil
}

// Pause moves active -> paused. Any other starting status is rejected.
func (s *OutboundSequence) Pause() error {
	if s.Status != SequenceActive {
		return fmt.Errorf("%w: cannot pause sequence in status %s", ErrInvalidTransition, s.Status)
	}
	s.Status = SequencePaused
	return nil
}

// Resume moves paused -> active. Any other starting status is rejected.
func (s *OutboundSequence) Resume() error {
	if s.Status != SequencePaused {
		return fmt.Errorf("%w: cannot resume sequence in status %s", ErrInvalidTransition, s.Status)
	}
	s.Status = SequenceActive
	return nil
}

// ABVariant tracks send/open/response/conversion counters for one arm
// of a campaign's two-way split.
type ABVariant struct {
	Name      string `json:"name"`
	Sent      int    `json:"sent"`
	Opened    int    `json:"opened"`
	Responded int    `json:"responded"`
	Converted int    `json:"converted"`
}

// ConversionRate is conversions over sends; zero sends yields zero.
func (v ABVariant) ConversionRate() float64 {
	if v.Sent == 0 {
		return 0
	}
	return float64(v.Converted) / float64(v.Sent)
}

// OpenRate is opens over sends; zero sends yields zero.
func (v ABVariant) OpenRate() float64 {
	if v.Sent == 0 {
		return 0
	}
	return float64(v.Opened) / float64(v.Sent)
}

// ResponseRate is responses over sends; zero sends yields zero.
func (v ABVariant) ResponseRate() float64 {
	if v.Sent == 0 {
		return 0
	}
	return float64(v.Responded) / float64(v.Sent)
}

// ABTest is the per-campaign two-variant experiment record.
type ABTest struct {
	CampaignID    string    `json:"campaign_id"`
	VariantA      ABVariant `json:"variant_a"`
	VariantB      ABVariant `json:"variant_b"`
	SplitRatio    float64   `json:"split_ratio"` // Fraction of sends routed to A
	MinSampleSize int       `json:"min_sample_size"`
}
