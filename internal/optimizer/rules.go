package optimizer

import (
	"fmt"
	"sort"

	"github.com/homereach/leadpilot/internal/domain"
)

// Metric thresholds the synthesis rules fire on.
const (
	lowConversionRate  = 0.60
	slowResponseMs     = 60000
	lowCSAT            = 4.0
	lowBookingRate     = 0.30
	scriptHighLiftPct  = 20
	scriptMedLiftPct   = 10
	loweredUrgencyGate = 7
)

// Synthesize turns one feedback bundle into an ordered recommendation
// list: priority descending, then expected impact descending, ties
// kept in insertion order.
func (l *Loop) Synthesize(fb OptimizationFeedback) []domain.OptimizationRecommendation {
	var recs []domain.OptimizationRecommendation

	agents := make([]string, 0, len(fb.AgentMetrics))
	for id := range fb.AgentMetrics {
		agents = append(agents, id)
	}
	sort.Strings(agents)

	for _, agentID := range agents {
		recs = append(recs, l.metricRules(agentID, fb.AgentMetrics[agentID])...)
	}
	recs = append(recs, l.scriptRules(fb)...)
	recs = append(recs, l.trendRules(fb)...)

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority.Rank() != recs[j].Priority.Rank() {
			return recs[i].Priority.Rank() > recs[j].Priority.Rank()
		}
		return recs[i].ExpectedImpactPct > recs[j].ExpectedImpactPct
	})
	return recs
}

func (l *Loop) metricRules(agentID string, m domain.Metrics) []domain.OptimizationRecommendation {
	var recs []domain.OptimizationRecommendation

	if m.ConversionRate < lowConversionRate {
		recs = append(recs, domain.OptimizationRecommendation{
			Type:              domain.RecommendationRouting,
			Priority:          domain.PriorityHigh,
			Description:       "Lower urgency threshold for high-priority routing",
			ExpectedImpactPct: 15,
			Implementation: domain.Implementation{
				Action: "update_config",
				Params: domain.RoutingParams{
					AgentID:          agentID,
					ConfigPatch:      map[string]any{"urgency_threshold": loweredUrgencyGate},
					UrgencyThreshold: loweredUrgencyGate,
				},
				RollbackPlan: "reset urgency_threshold to the routing default",
				TestingDays:  l.cfg.TestingDays,
			},
			ValidationCriteria: l.criteria("conversion_rate"),
		})
	}

	if m.AvgResponseMs > slowResponseMs {
		recs = append(recs, domain.OptimizationRecommendation{
			Type:              domain.RecommendationRouting,
			Priority:          domain.PriorityHigh,
			Description:       "Prioritize fast-responding agents",
			ExpectedImpactPct: 20,
			Implementation: domain.Implementation{
				Action: "add_routing_rule",
				Params: domain.RoutingParams{
					AgentID: agentID,
					AddRule: &domain.RoutingRule{
						ID:        "fast-response-" + agentID,
						Condition: "avg_response_ms < 60000",
						Target:    "fast_pool",
						Priority:  1,
					},
				},
				RollbackPlan: "remove routing rule fast-response-" + agentID,
				TestingDays:  l.cfg.TestingDays,
			},
			ValidationCriteria: l.criteria("avg_response_ms"),
		})
	}

	if m.CSAT < lowCSAT {
		recs = append(recs, domain.OptimizationRecommendation{
			Type:              domain.RecommendationScript,
			Priority:          domain.PriorityMedium,
			Description:       "Review qualification phrasing",
			ExpectedImpactPct: 8,
			Implementation: domain.Implementation{
				Action: "update_script",
				Params: domain.ScriptParams{
					ScriptID:      "qualification",
					Change:        "soften qualification questions, lead with open-ended prompts",
					TargetAgentID: agentID,
				},
				RollbackPlan: "revert script qualification to its previous version",
				TestingDays:  l.cfg.TestingDays,
			},
			ValidationCriteria: l.criteria("csat"),
		})
	}

	if m.AppointmentBookingRate < lowBookingRate {
		recs = append(recs, domain.OptimizationRecommendation{
			Type:              domain.RecommendationScript,
			Priority:          domain.PriorityMedium,
			Description:       "Enhance closing templates",
			ExpectedImpactPct: 10,
			Implementation: domain.Implementation{
				Action: "update_script",
				Params: domain.ScriptParams{
					ScriptID:      "closing",
					Change:        "offer two concrete appointment slots in the closing message",
					TargetAgentID: agentID,
				},
				RollbackPlan: "revert script closing to its previous version",
				TestingDays:  l.cfg.TestingDays,
			},
			ValidationCriteria: l.criteria("appointment_booking_rate"),
		})
	}

	return recs
}

func (l *Loop) scriptRules(fb OptimizationFeedback) []domain.OptimizationRecommendation {
	var recs []domain.OptimizationRecommendation
	for _, s := range fb.Scripts {
		lift := s.Estimated.ConversionImprovement
		if lift < scriptMedLiftPct {
			continue
		}
		priority := domain.PriorityMedium
		if lift >= scriptHighLiftPct {
			priority = domain.PriorityHigh
		}
		recs = append(recs, domain.OptimizationRecommendation{
			Type:              domain.RecommendationScript,
			Priority:          priority,
			Description:       fmt.Sprintf("Adopt top-performer phrasing in script %s", s.ScriptID),
			ExpectedImpactPct: lift,
			Implementation: domain.Implementation{
				Action: "update_script",
				Params: domain.ScriptParams{
					ScriptID:      s.ScriptID,
					Change:        "adopt phrasing from the top-converting script",
					EstimatedLift: lift,
				},
				RollbackPlan: fmt.Sprintf("revert script %s to its previous version", s.ScriptID),
				TestingDays:  l.cfg.TestingDays,
			},
			ValidationCriteria: l.criteria("conversion_rate"),
		})
	}
	return recs
}

func (l *Loop) trendRules(fb OptimizationFeedback) []domain.OptimizationRecommendation {
	var recs []domain.OptimizationRecommendation
	for _, t := range fb.Trends {
		if t.Trend != domain.TrendDecreasing {
			continue
		}
		if t.Significance != domain.SignificanceMedium && t.Significance != domain.SignificanceHigh {
			continue
		}
		decline := -t.ChangePercent
		recs = append(recs, domain.OptimizationRecommendation{
			Type:              domain.RecommendationTiming,
			Priority:          domain.PriorityMedium,
			Description:       fmt.Sprintf("Adjust contact timing, %s declined %.1f%%", t.Metric, decline),
			ExpectedImpactPct: decline,
			Implementation: domain.Implementation{
				Action: "adjust_timing",
				Params: domain.TimingParams{
					Metric:         t.Metric,
					DeclinePercent: decline,
					Adjustment:     "shift outreach to higher-engagement hours",
				},
				RollbackPlan: fmt.Sprintf("restore the previous contact schedule for %s", t.Metric),
				TestingDays:  l.cfg.TestingDays,
			},
			ValidationCriteria: l.criteria(t.Metric),
		})
	}
	return recs
}

func (l *Loop) criteria(metric string) domain.ValidationCriteria {
	return domain.ValidationCriteria{
		Metrics:               []string{metric},
		MinImprovementPct:     l.cfg.MinImprovementPct,
		TestDays:              l.cfg.TestingDays,
		SignificanceThreshold: 0.05,
	}
}
