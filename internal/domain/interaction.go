package domain

import (
	"fmt"
	"time"
)

// InteractionType is the channel the exchange happened on.
type InteractionType string

const (
	InteractionCall     InteractionType = "call"
	InteractionSMS      InteractionType = "sms"
	InteractionEmail    InteractionType = "email"
	InteractionWhatsApp InteractionType = "whatsapp"
)

// Direction of an interaction relative to the platform.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// OutcomeStatus is the terminal result of an interaction attempt.
type OutcomeStatus string

const (
	OutcomeSuccessful  OutcomeStatus = "successful"
	OutcomeFailed      OutcomeStatus = "failed"
	OutcomeTransferred OutcomeStatus = "transferred"
	OutcomePending     OutcomeStatus = "pending"
)

// Outcome records what the interaction achieved. A transferred outcome
// does not by itself change the lead's status.
type Outcome struct {
	Status               OutcomeStatus `json:"status"`
	AppointmentBooked    bool          `json:"appointment_booked"`
	QualificationUpdated bool          `json:"qualification_updated"`
	EscalationRequired   bool          `json:"escalation_required"`
}

// Sentiment is the analyzer's read on the customer's tone.
type Sentiment struct {
	Score      float64 `json:"score"`      // [-1, 1]
	Confidence float64 `json:"confidence"` // [0, 1]
}

// NextAction is the follow-up the agent committed to.
type NextAction struct {
	Action      string    `json:"action"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Description string    `json:"description,omitempty"`
}

// Interaction is one outbound or inbound exchange on one channel.
type Interaction struct {
	ID         string          `json:"id"`
	LeadID     string          `json:"lead_id"`
	AgentID    string          `json:"agent_id"`
	Type       InteractionType `json:"type"`
	Direction  Direction       `json:"direction"`
	Content    string          `json:"content,omitempty"`
	Outcome    Outcome         `json:"outcome"`
	DurationS  int             `json:"duration_s,omitempty"`
	Sentiment  *Sentiment      `json:"sentiment,omitempty"`
	NextAction *NextAction     `json:"next_action,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// durationBounds are the per-channel valid duration_s ranges.
var durationBounds = map[InteractionType][2]int{
	InteractionCall:     {30, 3600},
	InteractionSMS:      {0, 300},
	InteractionEmail:    {0, 300},
	InteractionWhatsApp: {0, 300},
}

// Validate checks channel duration bounds, sentiment ranges, and that
// any next action is scheduled in the future relative to now.
func (i *Interaction) Validate(now time.Time) error {
	if i.DurationS != 0 {
		b, ok := durationBounds[i.Type]
		if !ok {
			return fmt.Errorf("%w: unknown interaction type %q", ErrValidation, i.Type)
		}
		if i.DurationS < b[0] || i.DurationS > b[1] {
			return fmt.Errorf("%w: %s duration %ds out of range [%d,%d]",
				ErrValidation, i.Type, i.DurationS, b[0], b[1])
		}
	}
	if i.Sentiment != nil {
		if i.Sentiment.Score < -1 || i.Sentiment.Score > 1 {
			return fmt.Errorf("%w: sentiment score %.2f out of range [-1,1]", ErrValidation, i.Sentiment.Score)
		}
		if i.Sentiment.Confidence < 0 || i.Sentiment.Confidence > 1 {
			return fmt.Errorf("%w: sentiment confidence %.2f out of range [0,1]", ErrValidation, i.Sentiment.Confidence)
		}
	}
	if i.NextAction != nil && !i.NextAction.ScheduledAt.After(now) {
		return fmt.Errorf("%w: next action scheduled in the past", ErrValidation)
	}
	return nil
}
