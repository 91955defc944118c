package domain

import "time"

// OverrideKind discriminates the operator override variants.
type OverrideKind string

const (
	// OverrideSuspendOptimizations stops the optimization loop from
	// applying new recommendations while active.
	OverrideSuspendOptimizations OverrideKind = "suspend_optimizations"
	// OverrideRedirectAgent excludes one agent from optimization
	// targeting while active.
	OverrideRedirectAgent OverrideKind = "redirect_agent"
)

// Override is a typed, timestamped, reversible operator mutation. It
// is persisted so the optimization worker honors overrides applied
// through the API process.
type Override struct {
	ID         string         `json:"id"`
	Kind       OverrideKind   `json:"kind"`
	AgentID    string         `json:"agent_id,omitempty"`
	Reason     string         `json:"reason"`
	Data       map[string]any `json:"data,omitempty"`
	AppliedAt  time.Time      `json:"applied_at"`
	RevertedAt *time.Time     `json:"reverted_at,omitempty"`
}

// Active reports whether the override is still in force.
func (o *Override) Active() bool { return o.RevertedAt == nil }
