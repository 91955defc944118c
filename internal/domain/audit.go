package domain

import "time"

// AuditEntry is one append-only record of an entity mutation.
type AuditEntry struct {
	ID         int64          `json:"id,omitempty"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"` // create, update, transition, merge, sync
	Changes    map[string]any `json:"changes,omitempty"`
	Actor      string         `json:"actor"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// FeedbackSessionStatus is the review-collection workflow lifecycle.
type FeedbackSessionStatus string

const (
	FeedbackRequested FeedbackSessionStatus = "requested"
	FeedbackSent      FeedbackSessionStatus = "sent"
	FeedbackReceived  FeedbackSessionStatus = "received"
	FeedbackExpired   FeedbackSessionStatus = "expired"
)

// FeedbackSession is a customer-facing review-collection workflow,
// driven off positive interaction outcomes.
type FeedbackSession struct {
	ID          string                `json:"id"`
	LeadID      string                `json:"lead_id"`
	AgentID     string                `json:"agent_id"`
	Channel     InteractionType       `json:"channel"`
	Status      FeedbackSessionStatus `json:"status"`
	Rating      *int                  `json:"rating,omitempty"` // 1-5 once received
	Comment     string                `json:"comment,omitempty"`
	RequestedAt time.Time             `json:"requested_at"`
	RespondedAt *time.Time            `json:"responded_at,omitempty"`
}
