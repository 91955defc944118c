// Package analytics derives performance metrics, trends, and
// actionable insights from the interaction log.
package analytics

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/pkg/clock"
)

// Store is the slice of persistence the engine reads and writes.
type Store interface {
	ListInteractions(ctx context.Context, agentID string, period domain.Period) ([]domain.Interaction, error)
	UpsertPerformance(ctx context.Context, snap *domain.PerformanceSnapshot) error
	ListPerformance(ctx context.Context, agentID string, window domain.Period) ([]domain.PerformanceSnapshot, error)
	GetBaseline(ctx context.Context, agentID string) (*domain.Metrics, error)
	SetBaseline(ctx context.Context, agentID string, m domain.Metrics) error
}

// Engine computes metrics on demand. All methods are safe for
// concurrent use; state lives in the store.
type Engine struct {
	store Store
	clk   clock.Clock
}

// NewEngine creates an analytics engine.
func NewEngine(store Store, clk clock.Clock) *Engine {
	return &Engine{store: store, clk: clk}
}

// CollectPerformance aggregates an agent's interactions over the
// period into a snapshot and persists it. Empty interaction sets
// produce all-zero metrics rather than errors.
func (e *Engine) CollectPerformance(ctx context.Context, agentID string, period domain.Period) (*domain.PerformanceSnapshot, error) {
	interactions, err := e.store.ListInteractions(ctx, agentID, period)
	if err != nil {
		return nil, fmt.Errorf("collect performance: %w", err)
	}

	snap := &domain.PerformanceSnapshot{
		AgentID: agentID,
		Period:  period,
		Metrics: ComputeMetrics(interactions),
	}
	if err := e.store.UpsertPerformance(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// ComputeMetrics derives the metric tuple from an interaction set.
// Every division guards against an empty denominator and returns 0.
func ComputeMetrics(interactions []domain.Interaction) domain.Metrics {
	m := domain.Metrics{TotalInteractions: len(interactions)}
	if len(interactions) == 0 {
		return m
	}

	var successful, booked int
	var durationTotalMs float64
	var withDuration int
	var sentimentTotal float64
	var withSentiment int

	for _, in := range interactions {
		if in.Outcome.Status == domain.OutcomeSuccessful {
			successful++
		}
		if in.Outcome.AppointmentBooked {
			booked++
		}
		if in.DurationS > 0 {
			durationTotalMs += float64(in.DurationS) * 1000
			withDuration++
		}
		if in.Sentiment != nil {
			sentimentTotal += in.Sentiment.Score
			withSentiment++
		}
	}

	n := float64(len(interactions))
	m.ConversionRate = float64(successful) / n
	m.AppointmentBookingRate = float64(booked) / n
	if withDuration > 0 {
		// The denominator is the count of interactions that recorded a
		// duration, not the full set: an interaction without one
		// carries no latency signal.
		m.AvgResponseMs = durationTotalMs / float64(withDuration)
	}
	if withSentiment > 0 {
		// Remap average sentiment [-1,1] onto the [0,5] csat scale.
		m.CSAT = (sentimentTotal/float64(withSentiment) + 1) * 2.5
	}
	return m
}

// ImpactReport is the outcome of comparing current metrics against the
// stored baseline.
type ImpactReport struct {
	AgentID        string             `json:"agent_id"`
	OptimizationID string             `json:"optimization_id,omitempty"`
	Baseline       domain.Metrics     `json:"baseline"`
	Current        domain.Metrics     `json:"current"`
	Improvement    domain.Improvement `json:"improvement"`
	Validated      bool               `json:"validated"`
}

// SetBaseline captures the agent's current metrics over the period as
// the comparison baseline for future impact measurement.
func (e *Engine) SetBaseline(ctx context.Context, agentID string, period domain.Period) error {
	snap, err := e.CollectPerformance(ctx, agentID, period)
	if err != nil {
		return err
	}
	return e.store.SetBaseline(ctx, agentID, snap.Metrics)
}

// MeasureImpact compares current metrics for the period against the
// stored baseline. It fails with ErrNoBaseline if SetBaseline was
// never called. On validation (overall > 5) the baseline atomically
// rotates to the current metrics, so an immediate re-measure reads
// roughly zero.
func (e *Engine) MeasureImpact(ctx context.Context, agentID, optimizationID string, period domain.Period) (*ImpactReport, error) {
	baseline, err := e.store.GetBaseline(ctx, agentID)
	if err != nil {
		return nil, err
	}

	snap, err := e.CollectPerformance(ctx, agentID, period)
	if err != nil {
		return nil, err
	}

	imp := ComputeImprovement(*baseline, snap.Metrics)
	report := &ImpactReport{
		AgentID:        agentID,
		OptimizationID: optimizationID,
		Baseline:       *baseline,
		Current:        snap.Metrics,
		Improvement:    imp,
		Validated:      imp.Overall > 5,
	}

	if report.Validated {
		if err := e.store.SetBaseline(ctx, agentID, snap.Metrics); err != nil {
			return nil, fmt.Errorf("rotate baseline: %w", err)
		}
		log.Printf("[Analytics] impact validated for agent %s (overall %+.1f%%), baseline rotated", agentID, imp.Overall)
	}
	return report, nil
}

// ComputeImprovement derives the percentage delta vector. Response
// time is inverted since lower is better. Zero baseline components
// contribute 0 instead of dividing by zero.
func ComputeImprovement(b, c domain.Metrics) domain.Improvement {
	var imp domain.Improvement
	if b.ConversionRate != 0 {
		imp.ConversionRate = (c.ConversionRate - b.ConversionRate) / b.ConversionRate * 100
	}
	if b.AvgResponseMs != 0 {
		imp.ResponseTime = (b.AvgResponseMs - c.AvgResponseMs) / b.AvgResponseMs * 100
	}
	if b.CSAT != 0 {
		imp.Satisfaction = (c.CSAT - b.CSAT) / b.CSAT * 100
	}
	imp.Overall = 0.4*imp.ConversionRate + 0.3*imp.ResponseTime + 0.3*imp.Satisfaction
	return imp
}

// AnalyzeTrend builds the ordered data series for one metric over the
// period and classifies its direction and significance.
func (e *Engine) AnalyzeTrend(ctx context.Context, agentID, metric string, period domain.Period) (*domain.PerformanceTrend, error) {
	snaps, err := e.store.ListPerformance(ctx, agentID, period)
	if err != nil {
		return nil, fmt.Errorf("analyze trend: %w", err)
	}

	trend := &domain.PerformanceTrend{
		Metric: metric,
		Period: period,
		Trend:  domain.TrendStable,
	}
	for _, s := range snaps {
		trend.DataPoints = append(trend.DataPoints, domain.DataPoint{
			Timestamp: s.Period.Start,
			Value:     metricValue(s.Metrics, metric),
		})
	}
	sort.Slice(trend.DataPoints, func(i, j int) bool {
		return trend.DataPoints[i].Timestamp.Before(trend.DataPoints[j].Timestamp)
	})

	if len(trend.DataPoints) >= 2 {
		first := trend.DataPoints[0].Value
		last := trend.DataPoints[len(trend.DataPoints)-1].Value
		if first != 0 {
			trend.ChangePercent = (last - first) / first * 100
		}
	}

	trend.Trend = classifyDirection(trend.ChangePercent)
	trend.Significance = classifySignificance(trend.ChangePercent)
	return trend, nil
}

func classifyDirection(changePct float64) domain.TrendDirection {
	switch {
	case changePct >= 2:
		return domain.TrendIncreasing
	case changePct <= -2:
		return domain.TrendDecreasing
	default:
		return domain.TrendStable
	}
}

func classifySignificance(changePct float64) domain.Significance {
	abs := changePct
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 15:
		return domain.SignificanceHigh
	case abs >= 5:
		return domain.SignificanceMedium
	default:
		return domain.SignificanceLow
	}
}

func metricValue(m domain.Metrics, metric string) float64 {
	switch metric {
	case "conversion_rate":
		return m.ConversionRate
	case "avg_response_ms":
		return m.AvgResponseMs
	case "appointment_booking_rate":
		return m.AppointmentBookingRate
	case "csat":
		return m.CSAT
	default:
		return 0
	}
}
