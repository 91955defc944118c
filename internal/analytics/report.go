package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/homereach/leadpilot/internal/domain"
)

// ScriptOptimization pairs a script's observed metrics with the
// estimated gain from switching to the best performer.
type ScriptOptimization struct {
	ScriptID        string               `json:"script_id"`
	Current         domain.ScriptMetrics `json:"current"`
	Estimated       ScriptEstimate       `json:"estimated"`
	Recommendations []string             `json:"recommendations"`
}

// ScriptEstimate holds the projected improvement percentages.
type ScriptEstimate struct {
	ConversionImprovement float64 `json:"conversion_improvement"`
}

// AnalyzeScriptPerformance aggregates per-script metrics across the
// last week's snapshots and estimates each script's headroom against
// the best performer. Results are sorted by estimated improvement,
// descending.
func (e *Engine) AnalyzeScriptPerformance(ctx context.Context) ([]ScriptOptimization, error) {
	window := domain.Period{Start: e.clk.Now().Add(-7 * 24 * time.Hour), End: e.clk.Now()}
	snaps, err := e.listAllSnapshots(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("script performance: %w", err)
	}

	agg := map[string]*domain.ScriptMetrics{}
	for _, snap := range snaps {
		for _, sm := range snap.ScriptMetrics {
			a, ok := agg[sm.ScriptID]
			if !ok {
				a = &domain.ScriptMetrics{ScriptID: sm.ScriptID}
				agg[sm.ScriptID] = a
			}
			total := a.UsageCount + sm.UsageCount
			if total > 0 {
				a.ConversionRate = (a.ConversionRate*float64(a.UsageCount) + sm.ConversionRate*float64(sm.UsageCount)) / float64(total)
				a.AvgSentiment = (a.AvgSentiment*float64(a.UsageCount) + sm.AvgSentiment*float64(sm.UsageCount)) / float64(total)
			}
			a.UsageCount = total
		}
	}
	if len(agg) == 0 {
		return nil, nil
	}

	var best float64
	for _, a := range agg {
		if a.ConversionRate > best {
			best = a.ConversionRate
		}
	}

	var out []ScriptOptimization
	for _, a := range agg {
		opt := ScriptOptimization{ScriptID: a.ScriptID, Current: *a}
		if a.ConversionRate > 0 && best > a.ConversionRate {
			opt.Estimated.ConversionImprovement = (best - a.ConversionRate) / a.ConversionRate * 100
		}
		if opt.Estimated.ConversionImprovement > 0 {
			opt.Recommendations = append(opt.Recommendations,
				fmt.Sprintf("Adopt phrasing from the top-converting script (estimated +%.0f%% conversion)",
					opt.Estimated.ConversionImprovement))
		}
		if a.AvgSentiment < 0 {
			opt.Recommendations = append(opt.Recommendations, "Soften the opening, sentiment runs negative")
		}
		out = append(out, opt)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Estimated.ConversionImprovement > out[j].Estimated.ConversionImprovement
	})
	return out, nil
}

// GenerateIntelligenceReport produces insights of all four types. Every
// insight is actionable, carries at least one recommendation and a
// non-empty data payload, and is stamped with the current time.
func (e *Engine) GenerateIntelligenceReport(ctx context.Context) ([]domain.Insight, error) {
	now := e.clk.Now()
	window := domain.Period{Start: now.Add(-7 * 24 * time.Hour), End: now}
	var insights []domain.Insight

	snaps, err := e.listAllSnapshots(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("intelligence report: %w", err)
	}

	insights = append(insights, e.performanceInsight(snaps, now))

	scripts, err := e.AnalyzeScriptPerformance(ctx)
	if err == nil && len(scripts) > 0 {
		insights = append(insights, e.scriptInsight(scripts, now))
	}

	byAgent := map[string]bool{}
	for _, s := range snaps {
		byAgent[s.AgentID] = true
	}
	for agentID := range byAgent {
		trend, err := e.AnalyzeTrend(ctx, agentID, "conversion_rate", window)
		if err != nil || trend.Trend == domain.TrendStable {
			continue
		}
		insights = append(insights, e.trendInsight(agentID, trend, now))
		break
	}

	insights = append(insights, e.optimizationInsight(snaps, now))
	return insights, nil
}

func (e *Engine) listAllSnapshots(ctx context.Context, window domain.Period) ([]domain.PerformanceSnapshot, error) {
	return e.store.ListPerformance(ctx, "", window)
}

func (e *Engine) performanceInsight(snaps []domain.PerformanceSnapshot, now time.Time) domain.Insight {
	var conv, csat float64
	for _, s := range snaps {
		conv += s.Metrics.ConversionRate
		csat += s.Metrics.CSAT
	}
	if n := float64(len(snaps)); n > 0 {
		conv /= n
		csat /= n
	}
	rec := "Maintain current routing and scripts"
	if conv < 0.6 {
		rec = "Review routing thresholds, fleet conversion is below 60%"
	}
	return domain.Insight{
		ID:              uuid.New().String(),
		Type:            domain.InsightPerformance,
		Title:           "Fleet performance summary",
		Description:     fmt.Sprintf("Average conversion %.0f%%, csat %.1f across %d snapshots", conv*100, csat, len(snaps)),
		Actionable:      true,
		Recommendations: []string{rec},
		Data:            map[string]any{"avg_conversion": conv, "avg_csat": csat, "snapshots": len(snaps)},
		GeneratedAt:     now,
	}
}

func (e *Engine) scriptInsight(scripts []ScriptOptimization, now time.Time) domain.Insight {
	top := scripts[0]
	recs := top.Recommendations
	if len(recs) == 0 {
		recs = []string{"No script changes needed"}
	}
	return domain.Insight{
		ID:              uuid.New().String(),
		Type:            domain.InsightScript,
		Title:           fmt.Sprintf("Script %s has the most headroom", top.ScriptID),
		Description:     fmt.Sprintf("Estimated +%.0f%% conversion if updated", top.Estimated.ConversionImprovement),
		Actionable:      true,
		Recommendations: recs,
		Data:            map[string]any{"script_id": top.ScriptID, "estimated_improvement": top.Estimated.ConversionImprovement},
		GeneratedAt:     now,
	}
}

func (e *Engine) trendInsight(agentID string, trend *domain.PerformanceTrend, now time.Time) domain.Insight {
	verb := "rising"
	rec := "Reinforce whatever changed, the trend is positive"
	if trend.Trend == domain.TrendDecreasing {
		verb = "falling"
		rec = "Investigate recent changes for agent " + agentID
	}
	return domain.Insight{
		ID:              uuid.New().String(),
		Type:            domain.InsightTrend,
		Title:           fmt.Sprintf("Conversion %s for agent %s", verb, agentID),
		Description:     fmt.Sprintf("Change of %+.1f%% over the window (%s significance)", trend.ChangePercent, trend.Significance),
		Actionable:      true,
		Recommendations: []string{rec},
		Data:            map[string]any{"agent_id": agentID, "change_percent": trend.ChangePercent, "significance": string(trend.Significance)},
		GeneratedAt:     now,
	}
}

func (e *Engine) optimizationInsight(snaps []domain.PerformanceSnapshot, now time.Time) domain.Insight {
	slow := 0
	for _, s := range snaps {
		if s.Metrics.AvgResponseMs > 60000 {
			slow++
		}
	}
	rec := "No response-time action needed"
	if slow > 0 {
		rec = fmt.Sprintf("Prioritize fast-responding agents, %d snapshots exceed 60s average response", slow)
	}
	return domain.Insight{
		ID:              uuid.New().String(),
		Type:            domain.InsightOptimization,
		Title:           "Response-time optimization candidates",
		Description:     fmt.Sprintf("%d of %d snapshots exceed the 60s response threshold", slow, len(snaps)),
		Actionable:      true,
		Recommendations: []string{rec},
		Data:            map[string]any{"slow_snapshots": slow, "total_snapshots": len(snaps)},
		GeneratedAt:     now,
	}
}
