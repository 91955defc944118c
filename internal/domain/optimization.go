package domain

import "time"

// RecommendationType discriminates the tagged parameter variants below.
type RecommendationType string

const (
	RecommendationRouting RecommendationType = "routing_rule"
	RecommendationScript  RecommendationType = "script_update"
	RecommendationTiming  RecommendationType = "timing_adjustment"
)

// Priority orders recommendations for application.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank maps priority to its sort weight (high=3, medium=2, low=1).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	default:
		return 1
	}
}

// RecommendationParams is the tagged-variant interface: exactly one
// concrete params type exists per recommendation type, and the
// optimizer's apply dispatch is exhaustive over them.
type RecommendationParams interface {
	recommendationParams()
	Type() RecommendationType
}

// RoutingParams mutates the routing policy of a target agent.
type RoutingParams struct {
	AgentID          string         `json:"agent_id"`
	ConfigPatch      map[string]any `json:"config_patch,omitempty"`
	AddRule          *RoutingRule   `json:"add_rule,omitempty"`
	RemoveRuleID     string         `json:"remove_rule_id,omitempty"`
	UrgencyThreshold int            `json:"urgency_threshold,omitempty"`
}

func (RoutingParams) recommendationParams()    {}
func (RoutingParams) Type() RecommendationType { return RecommendationRouting }

// RoutingRule is one routing policy entry, idempotent by ID.
type RoutingRule struct {
	ID        string `json:"id"`
	Condition string `json:"condition"`
	Target    string `json:"target"`
	Priority  int    `json:"priority"`
}

// ScriptParams proposes a replacement conversation script.
type ScriptParams struct {
	ScriptID      string  `json:"script_id"`
	Change        string  `json:"change"`
	EstimatedLift float64 `json:"estimated_lift_pct"`
	TargetAgentID string  `json:"target_agent_id,omitempty"`
}

func (ScriptParams) recommendationParams()    {}
func (ScriptParams) Type() RecommendationType { return RecommendationScript }

// TimingParams adjusts contact schedules in response to a declining
// metric trend.
type TimingParams struct {
	Metric         string  `json:"metric"`
	DeclinePercent float64 `json:"decline_percent"`
	Adjustment     string  `json:"adjustment"`
}

func (TimingParams) recommendationParams()    {}
func (TimingParams) Type() RecommendationType { return RecommendationTiming }

// Implementation describes how a recommendation is carried out and
// undone. The rollback plan is stored with the applied mutation and
// must be idempotent.
type Implementation struct {
	Action       string               `json:"action"`
	Params       RecommendationParams `json:"-"`
	RollbackPlan string               `json:"rollback_plan"`
	TestingDays  int                  `json:"testing_days"`
}

// ValidationCriteria states what counts as success for an applied
// recommendation.
type ValidationCriteria struct {
	Metrics               []string `json:"metrics"`
	MinImprovementPct     float64  `json:"min_improvement_pct"`
	TestDays              int      `json:"test_days"`
	SignificanceThreshold float64  `json:"significance_threshold"`
}

// OptimizationRecommendation is a proposed parameter mutation.
type OptimizationRecommendation struct {
	ID                 string             `json:"id"`
	Type               RecommendationType `json:"type"`
	Priority           Priority           `json:"priority"`
	Description        string             `json:"description"`
	ExpectedImpactPct  float64            `json:"expected_impact_pct"`
	Implementation     Implementation     `json:"implementation"`
	ValidationCriteria ValidationCriteria `json:"validation_criteria"`
	CreatedAt          time.Time          `json:"created_at"`
}

// Improvement is the percentage delta vector vs a baseline.
type Improvement struct {
	ConversionRate float64 `json:"conversion_rate"`
	ResponseTime   float64 `json:"response_time"`
	Satisfaction   float64 `json:"satisfaction"`
	Overall        float64 `json:"overall"`
}

// OptimizationResult is the realized outcome of an applied
// recommendation. It transitions to validated or rollback_required
// exactly once and is then immutable.
type OptimizationResult struct {
	RecommendationID string       `json:"recommendation_id"`
	ImplementedAt    time.Time    `json:"implemented_at"`
	BaselineMetrics  Metrics      `json:"baseline_metrics"`
	CurrentMetrics   *Metrics     `json:"current_metrics,omitempty"`
	Improvement      *Improvement `json:"improvement,omitempty"`
	Validated        bool         `json:"validated"`
	ValidatedAt      *time.Time   `json:"validated_at,omitempty"`
	RollbackRequired bool         `json:"rollback_required"`
}

// Pending reports whether the result has not yet reached a terminal
// validated or rollback state.
func (r *OptimizationResult) Pending() bool {
	return !r.Validated && !r.RollbackRequired
}
