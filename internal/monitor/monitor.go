// Package monitor classifies runtime errors, tracks them over a
// rolling window, gates failing resources with circuit breakers, and
// fans out threshold alerts to the configured channels.
package monitor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/pkg/clock"
)

// Severity buckets recorded errors.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category names the failing subsystem class.
type Category string

const (
	CategoryNetwork        Category = "network"
	CategoryValidation     Category = "validation"
	CategorySystem         Category = "system"
	CategoryBusinessLogic  Category = "business_logic"
	CategoryAuthentication Category = "authentication"
)

// ErrorRecord is one classified error in the rolling window.
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Category  Category  `json:"category"`
}

// SystemStatus is the derived health summary.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

const (
	retention    = 24 * time.Hour
	trimInterval = time.Hour
)

// Config holds the alert thresholds. Zero values take the defaults.
type Config struct {
	ErrorRatePerMinute  int           // default 10
	CriticalPerHour     int           // default 5
	BreakerTripsPerHour int           // default 3
	Cooldown            time.Duration // default 15m
}

func (c *Config) applyDefaults() {
	if c.ErrorRatePerMinute <= 0 {
		c.ErrorRatePerMinute = 10
	}
	if c.CriticalPerHour <= 0 {
		c.CriticalPerHour = 5
	}
	if c.BreakerTripsPerHour <= 0 {
		c.BreakerTripsPerHour = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 15 * time.Minute
	}
}

// Monitor is the process-wide error sink. All methods are safe for
// concurrent use.
type Monitor struct {
	cfg      Config
	clk      clock.Clock
	channels []Channel

	mu        sync.Mutex
	window    []ErrorRecord
	trips     []time.Time
	lastAlert map[string]time.Time

	breakerMu sync.Mutex
	breakers  map[string]*CircuitBreaker
}

// New creates a monitor with the given alert channels.
func New(cfg Config, clk clock.Clock, channels ...Channel) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		cfg:       cfg,
		clk:       clk,
		channels:  channels,
		lastAlert: map[string]time.Time{},
		breakers:  map[string]*CircuitBreaker{},
	}
}

// Record classifies and stores one error, then evaluates the alert
// thresholds.
func (m *Monitor) Record(component string, err error) {
	if err == nil {
		return
	}
	severity, category := Classify(err)
	m.record(ErrorRecord{
		Timestamp: m.clk.Now(),
		Component: component,
		Message:   err.Error(),
		Severity:  severity,
		Category:  category,
	})
}

// Escalate records a critical failure raised by another component and
// alerts immediately, bypassing the cooldown.
func (m *Monitor) Escalate(component, message string) {
	now := m.clk.Now()
	m.record(ErrorRecord{
		Timestamp: now,
		Component: component,
		Message:   message,
		Severity:  SeverityCritical,
		Category:  CategorySystem,
	})
	m.fanOut(context.Background(), Alert{
		Kind:      "escalation",
		Level:     "critical",
		Message:   component + ": " + message,
		Timestamp: now,
	})
}

func (m *Monitor) record(rec ErrorRecord) {
	m.mu.Lock()
	m.window = append(m.window, rec)
	m.mu.Unlock()
	m.checkThresholds()
}

// Classify maps an error to its severity and category from the stable
// sentinel set.
func Classify(err error) (Severity, Category) {
	switch {
	case errors.Is(err, domain.ErrIntegrity):
		return SeverityCritical, CategorySystem
	case errors.Is(err, domain.ErrExternalUnavailable):
		return SeverityHigh, CategoryNetwork
	case errors.Is(err, context.DeadlineExceeded):
		return SeverityHigh, CategoryNetwork
	case errors.Is(err, domain.ErrValidation):
		return SeverityMedium, CategoryValidation
	case errors.Is(err, domain.ErrInvalidTransition):
		return SeverityMedium, CategoryBusinessLogic
	case errors.Is(err, domain.ErrDuplicateConflict):
		return SeverityLow, CategoryBusinessLogic
	case errors.Is(err, domain.ErrNoBaseline):
		return SeverityLow, CategoryBusinessLogic
	default:
		return SeverityMedium, CategorySystem
	}
}

// Run trims the window hourly until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clk.NewTicker(trimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Trim()
		}
	}
}

// Trim drops window entries older than the retention period.
func (m *Monitor) Trim() {
	cutoff := m.clk.Now().Add(-retention)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = trimRecords(m.window, cutoff)
	m.trips = trimTimes(m.trips, cutoff)
}

func trimRecords(recs []ErrorRecord, cutoff time.Time) []ErrorRecord {
	i := 0
	for i < len(recs) && recs[i].Timestamp.Before(cutoff) {
		i++
	}
	return append(recs[:0:0], recs[i:]...)
}

func trimTimes(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return append(ts[:0:0], ts[i:]...)
}

// checkThresholds fires threshold alerts, each gated by a per-kind
// cooldown.
func (m *Monitor) checkThresholds() {
	now := m.clk.Now()
	rate := m.countSince(now.Add(-time.Minute), "")
	critical := m.countSince(now.Add(-time.Hour), SeverityCritical)
	trips := m.tripsSince(now.Add(-time.Hour))

	if rate >= m.cfg.ErrorRatePerMinute {
		m.alert(Alert{
			Kind: "error_rate", Level: "warning", Timestamp: now,
			Message: "error rate threshold exceeded",
			Data:    map[string]any{"errors_last_minute": rate, "threshold": m.cfg.ErrorRatePerMinute},
		})
	}
	if critical >= m.cfg.CriticalPerHour {
		m.alert(Alert{
			Kind: "critical_errors", Level: "critical", Timestamp: now,
			Message: "critical error threshold exceeded",
			Data:    map[string]any{"critical_last_hour": critical, "threshold": m.cfg.CriticalPerHour},
		})
	}
	if trips >= m.cfg.BreakerTripsPerHour {
		m.alert(Alert{
			Kind: "breaker_trips", Level: "error", Timestamp: now,
			Message: "circuit breaker trip threshold exceeded",
			Data:    map[string]any{"trips_last_hour": trips, "threshold": m.cfg.BreakerTripsPerHour},
		})
	}
}

func (m *Monitor) countSince(cutoff time.Time, severity Severity) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.window {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		if severity != "" && r.Severity != severity {
			continue
		}
		n++
	}
	return n
}

func (m *Monitor) tripsSince(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.trips {
		if !t.Before(cutoff) {
			n++
		}
	}
	return n
}

func (m *Monitor) alert(a Alert) {
	m.mu.Lock()
	last, seen := m.lastAlert[a.Kind]
	if seen && a.Timestamp.Sub(last) < m.cfg.Cooldown {
		m.mu.Unlock()
		return
	}
	m.lastAlert[a.Kind] = a.Timestamp
	m.mu.Unlock()
	m.fanOut(context.Background(), a)
}

// fanOut delivers the alert to every channel. A failing channel is
// logged and never blocks the others.
func (m *Monitor) fanOut(ctx context.Context, a Alert) {
	for _, ch := range m.channels {
		if err := ch.Notify(ctx, a); err != nil {
			log.Printf("[Monitor] alert channel %s failed: %v", ch.Name(), err)
		}
	}
}

// Breaker returns the named resource's circuit breaker, creating it on
// first use. Opening any breaker counts as a trip for the alert
// thresholds.
func (m *Monitor) Breaker(resource string) *CircuitBreaker {
	m.breakerMu.Lock()
	defer m.breakerMu.Unlock()
	cb, ok := m.breakers[resource]
	if !ok {
		cb = NewCircuitBreaker(resource, m.clk, 0, 0, m.breakerTripped)
		m.breakers[resource] = cb
	}
	return cb
}

func (m *Monitor) breakerTripped(resource string) {
	log.Printf("[Monitor] circuit breaker open: %s", resource)
	m.mu.Lock()
	m.trips = append(m.trips, m.clk.Now())
	m.mu.Unlock()
	m.checkThresholds()
}

func (m *Monitor) openBreakers() int {
	m.breakerMu.Lock()
	defer m.breakerMu.Unlock()
	n := 0
	for _, cb := range m.breakers {
		if cb.State() == BreakerOpen {
			n++
		}
	}
	return n
}

// Status derives the system health from the last hour of errors and
// the breaker states.
func (m *Monitor) Status() SystemStatus {
	now := m.clk.Now()
	critical := m.countSince(now.Add(-time.Hour), SeverityCritical)
	rate := m.countSince(now.Add(-time.Minute), "")
	open := m.openBreakers()

	switch {
	case critical >= m.cfg.CriticalPerHour || open >= 5:
		return StatusCritical
	case rate >= m.cfg.ErrorRatePerMinute || open >= 2:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// RecentErrors returns the newest records, most recent last.
func (m *Monitor) RecentErrors(limit int) []ErrorRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.window) {
		limit = len(m.window)
	}
	out := make([]ErrorRecord, limit)
	copy(out, m.window[len(m.window)-limit:])
	return out
}
