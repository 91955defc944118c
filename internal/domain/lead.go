// Package domain defines the entities shared by the ingestion pipeline,
// analytics engine, sequence scheduler, and optimization loop.
package domain

import (
	"fmt"
	"time"
)

// LeadSource identifies where a lead entered the system.
type LeadSource string

const (
	SourceGmail      LeadSource = "gmail"
	SourceMetaAds    LeadSource = "meta_ads"
	SourceWebsite    LeadSource = "website"
	SourceSlack      LeadSource = "slack"
	SourceReferral   LeadSource = "referral"
	SourceThirdParty LeadSource = "third_party"
	SourceOther      LeadSource = "other"
)

// LeadType buckets leads by expected responsiveness.
type LeadType string

const (
	LeadHot  LeadType = "hot"
	LeadWarm LeadType = "warm"
	LeadCold LeadType = "cold"
)

// LeadStatus is the lead lifecycle state machine.
type LeadStatus string

const (
	StatusNew                  LeadStatus = "new"
	StatusContacted            LeadStatus = "contacted"
	StatusQualified            LeadStatus = "qualified"
	StatusAppointmentScheduled LeadStatus = "appointment_scheduled"
	StatusConverted            LeadStatus = "converted"
	StatusDormant              LeadStatus = "dormant"
	StatusLost                 LeadStatus = "lost"
)

// statusEdges is the permitted transition graph. Terminal states
// (converted, lost) have no outgoing edges.
var statusEdges = map[LeadStatus][]LeadStatus{
	StatusNew:                  {StatusContacted, StatusDormant, StatusLost},
	StatusContacted:            {StatusQualified, StatusDormant, StatusLost},
	StatusQualified:            {StatusAppointmentScheduled, StatusDormant, StatusLost},
	StatusAppointmentScheduled: {StatusConverted, StatusContacted, StatusLost},
	StatusDormant:              {StatusContacted},
}

// CanTransition reports whether the edge from → to is permitted.
func CanTransition(from, to LeadStatus) bool {
	for _, s := range statusEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Contact holds how to reach the lead.
type Contact struct {
	Name             string `json:"name"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
	PreferredChannel string `json:"preferred_channel,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
}

// Qualification holds what the lead is shopping for.
type Qualification struct {
	BudgetMin    float64 `json:"budget_min,omitempty"`
	BudgetMax    float64 `json:"budget_max,omitempty"`
	Location     string  `json:"location,omitempty"`
	PropertyType string  `json:"property_type,omitempty"`
	Timeline     string  `json:"timeline,omitempty"`
	Score        float64 `json:"score"`
}

// Lead is the customer record.
type Lead struct {
	ID            string        `json:"id"`
	Source        LeadSource    `json:"source"`
	Contact       Contact       `json:"contact"`
	LeadType      LeadType      `json:"lead_type"`
	Urgency       int           `json:"urgency"`
	IntentSignals []string      `json:"intent_signals,omitempty"`
	Qualification Qualification `json:"qualification"`
	Status        LeadStatus    `json:"status"`
	AssignedAgent string        `json:"assigned_agent,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Validate checks the lead's field invariants.
func (l *Lead) Validate() error {
	if l.Urgency < 1 || l.Urgency > 10 {
		return fmt.Errorf("%w: urgency %d out of range [1,10]", ErrValidation, l.Urgency)
	}
	if l.Qualification.Score < 0 || l.Qualification.Score > 1 {
		return fmt.Errorf("%w: qualification score %.2f out of range [0,1]", ErrValidation, l.Qualification.Score)
	}
	return nil
}

// Transition moves the lead to a new status, enforcing the permitted
// edge graph. Transitioning past new additionally requires at least one
// of email or phone.
func (l *Lead) Transition(to LeadStatus) error {
	if !CanTransition(l.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.Status, to)
	}
	if l.Status == StatusNew && l.Contact.Email == "" && l.Contact.Phone == "" {
		return fmt.Errorf("%w: lead %s has no email or phone", ErrValidation, l.ID)
	}
	l.Status = to
	return nil
}

// HasIntent reports whether the lead carries the given intent signal.
func (l *Lead) HasIntent(tag string) bool {
	for _, t := range l.IntentSignals {
		if t == tag {
			return true
		}
	}
	return false
}
