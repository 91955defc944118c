package domain

import (
	"fmt"
	"time"
)

// Period is a closed time range [Start, End].
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the period (inclusive).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// Metrics is the per-agent metric tuple over a period.
type Metrics struct {
	TotalInteractions      int     `json:"total_interactions"`
	ConversionRate         float64 `json:"conversion_rate"`          // [0, 1]
	AvgResponseMs          float64 `json:"avg_response_ms"`          // >= 0
	AppointmentBookingRate float64 `json:"appointment_booking_rate"` // [0, 1]
	CSAT                   float64 `json:"csat"`                     // [0, 5]
}

// ScriptMetrics tracks how one conversation script performs.
type ScriptMetrics struct {
	ScriptID       string  `json:"script_id"`
	UsageCount     int     `json:"usage_count"`
	ConversionRate float64 `json:"conversion_rate"`
	AvgSentiment   float64 `json:"avg_sentiment"`
}

// PerformanceSnapshot is the stored per-agent metric record; unique on
// (agent_id, period).
type PerformanceSnapshot struct {
	AgentID       string          `json:"agent_id"`
	Period        Period          `json:"period"`
	Metrics       Metrics         `json:"metrics"`
	ScriptMetrics []ScriptMetrics `json:"script_metrics,omitempty"`
	Suggestions   []string        `json:"suggestions,omitempty"`
}

// Validate checks the snapshot's metric ranges and period ordering.
func (s *PerformanceSnapshot) Validate() error {
	if s.Period.Start.After(s.Period.End) {
		return fmt.Errorf("%w: period start after end", ErrValidation)
	}
	m := s.Metrics
	if m.ConversionRate < 0 || m.ConversionRate > 1 {
		return fmt.Errorf("%w: conversion rate %.2f out of range [0,1]", ErrValidation, m.ConversionRate)
	}
	if m.AppointmentBookingRate < 0 || m.AppointmentBookingRate > 1 {
		return fmt.Errorf("%w: booking rate %.2f out of range [0,1]", ErrValidation, m.AppointmentBookingRate)
	}
	if m.CSAT < 0 || m.CSAT > 5 {
		return fmt.Errorf("%w: csat %.2f out of range [0,5]", ErrValidation, m.CSAT)
	}
	if m.AvgResponseMs < 0 {
		return fmt.Errorf("%w: negative avg response time", ErrValidation)
	}
	return nil
}

// TrendDirection classifies how a metric moved over a period.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// Significance grades how large a trend's movement is.
type Significance string

const (
	SignificanceHigh   Significance = "high"
	SignificanceMedium Significance = "medium"
	SignificanceLow    Significance = "low"
)

// DataPoint is one observation in a trend series.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// PerformanceTrend is the result of trend analysis for one metric.
type PerformanceTrend struct {
	Metric        string         `json:"metric"`
	Period        Period         `json:"period"`
	DataPoints    []DataPoint    `json:"data_points"`
	Trend         TrendDirection `json:"trend"`
	ChangePercent float64        `json:"change_percent"`
	Significance  Significance   `json:"significance"`
}

// InsightType partitions what an insight is about.
type InsightType string

const (
	InsightPerformance  InsightType = "performance"
	InsightScript       InsightType = "script"
	InsightTrend        InsightType = "trend"
	InsightOptimization InsightType = "optimization"
)

// Insight is a structured, actionable finding from the analytics engine.
type Insight struct {
	ID              string         `json:"id"`
	Type            InsightType    `json:"type"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Actionable      bool           `json:"actionable"`
	Recommendations []string       `json:"recommendations"`
	Data            map[string]any `json:"data"`
	GeneratedAt     time.Time      `json:"generated_at"`
}
