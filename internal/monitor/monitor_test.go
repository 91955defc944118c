package monitor_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/monitor"
	"github.com/homereach/leadpilot/internal/pkg/clock"
)

type captureChannel struct {
	mu     sync.Mutex
	name   string
	alerts []monitor.Alert
	fail   bool
}

func (c *captureChannel) Name() string { return c.name }

func (c *captureChannel) Notify(_ context.Context, a monitor.Alert) error {
	if c.fail {
		return errors.New("channel down")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *captureChannel) count(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, a := range c.alerts {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err      error
		severity monitor.Severity
		category monitor.Category
	}{
		{fmt.Errorf("%w: bad urgency", domain.ErrValidation), monitor.SeverityMedium, monitor.CategoryValidation},
		{fmt.Errorf("%w: new to converted", domain.ErrInvalidTransition), monitor.SeverityMedium, monitor.CategoryBusinessLogic},
		{fmt.Errorf("%w: gmail fetch", domain.ErrExternalUnavailable), monitor.SeverityHigh, monitor.CategoryNetwork},
		{context.DeadlineExceeded, monitor.SeverityHigh, monitor.CategoryNetwork},
		{fmt.Errorf("%w: terminal result", domain.ErrIntegrity), monitor.SeverityCritical, monitor.CategorySystem},
		{errors.New("something else"), monitor.SeverityMedium, monitor.CategorySystem},
	}
	for _, tc := range cases {
		sev, cat := monitor.Classify(tc.err)
		if sev != tc.severity || cat != tc.category {
			t.Errorf("Classify(%v) = %s/%s, want %s/%s", tc.err, sev, cat, tc.severity, tc.category)
		}
	}
}

func TestErrorRateAlertWithCooldown(t *testing.T) {
	clk := clock.NewFake(time.Now())
	ch := &captureChannel{name: "capture"}
	m := monitor.New(monitor.Config{ErrorRatePerMinute: 10, Cooldown: 15 * time.Minute}, clk, ch)

	for i := 0; i < 12; i++ {
		m.Record("pipeline", errors.New("boom"))
	}
	if got := ch.count("error_rate"); got != 1 {
		t.Fatalf("error_rate alerts = %d, want 1 (cooldown suppresses repeats)", got)
	}

	// Past the cooldown the alert may fire again.
	clk.Advance(16 * time.Minute)
	for i := 0; i < 12; i++ {
		m.Record("pipeline", errors.New("boom"))
	}
	if got := ch.count("error_rate"); got != 2 {
		t.Errorf("error_rate alerts after cooldown = %d, want 2", got)
	}
}

func TestCriticalThresholdAlert(t *testing.T) {
	clk := clock.NewFake(time.Now())
	ch := &captureChannel{name: "capture"}
	m := monitor.New(monitor.Config{CriticalPerHour: 5}, clk, ch)

	for i := 0; i < 5; i++ {
		m.Record("store", fmt.Errorf("%w: commit failed", domain.ErrIntegrity))
		clk.Advance(5 * time.Minute)
	}
	if got := ch.count("critical_errors"); got != 1 {
		t.Errorf("critical alerts = %d, want 1", got)
	}
	if m.Status() != monitor.StatusCritical {
		t.Errorf("status = %s, want critical", m.Status())
	}
}

func TestEscalateBypassesCooldown(t *testing.T) {
	clk := clock.NewFake(time.Now())
	ch := &captureChannel{name: "capture"}
	m := monitor.New(monitor.Config{}, clk, ch)

	m.Escalate("optimizer", "rollback of rec-1 failed")
	m.Escalate("optimizer", "rollback of rec-2 failed")
	if got := ch.count("escalation"); got != 2 {
		t.Errorf("escalations delivered = %d, want 2", got)
	}
}

func TestChannelFailureDoesNotBlockOthers(t *testing.T) {
	clk := clock.NewFake(time.Now())
	broken := &captureChannel{name: "broken", fail: true}
	working := &captureChannel{name: "working"}
	m := monitor.New(monitor.Config{}, clk, broken, working)

	m.Escalate("store", "unreachable")
	if got := working.count("escalation"); got != 1 {
		t.Errorf("working channel alerts = %d, want 1", got)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clk := clock.NewFake(time.Now())
	cb := monitor.NewCircuitBreaker("gmail.poll", clk, 3, 30*time.Second, nil)

	for i := 0; i < 2; i++ {
		if !cb.Allow() {
			t.Fatalf("closed breaker blocked call %d", i)
		}
		cb.RecordFailure()
	}
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != monitor.BreakerClosed {
		t.Fatal("success did not reset the consecutive failure run")
	}
	cb.RecordFailure()
	if cb.State() != monitor.BreakerOpen {
		t.Fatal("three consecutive failures did not open the breaker")
	}
	if cb.Allow() {
		t.Error("open breaker admitted a call before backoff")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	clk := clock.NewFake(time.Now())
	cb := monitor.NewCircuitBreaker("store.write", clk, 2, 30*time.Second, nil)
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != monitor.BreakerOpen {
		t.Fatal("breaker not open")
	}

	clk.Advance(31 * time.Second)
	if !cb.Allow() {
		t.Fatal("backoff elapsed but probe denied")
	}
	if cb.Allow() {
		t.Error("second caller admitted during half-open probe")
	}

	// Probe failure reopens; probe success closes.
	cb.RecordFailure()
	if cb.State() != monitor.BreakerOpen {
		t.Error("failed probe did not reopen the breaker")
	}
	clk.Advance(31 * time.Second)
	if !cb.Allow() {
		t.Fatal("second probe denied")
	}
	cb.RecordSuccess()
	if cb.State() != monitor.BreakerClosed {
		t.Error("successful probe did not close the breaker")
	}
	if !cb.Allow() {
		t.Error("closed breaker blocked")
	}
}

func TestBreakerTripsFeedAlertThreshold(t *testing.T) {
	clk := clock.NewFake(time.Now())
	ch := &captureChannel{name: "capture"}
	m := monitor.New(monitor.Config{BreakerTripsPerHour: 3}, clk, ch)

	for _, resource := range []string{"gmail.poll", "store.write", "message_sender.email"} {
		cb := m.Breaker(resource)
		for i := 0; i < 5; i++ {
			cb.RecordFailure()
		}
	}
	if got := ch.count("breaker_trips"); got != 1 {
		t.Errorf("breaker_trips alerts = %d, want 1", got)
	}
}

func TestStatusDegradedOnOpenBreakers(t *testing.T) {
	clk := clock.NewFake(time.Now())
	m := monitor.New(monitor.Config{}, clk, &captureChannel{name: "capture"})

	if m.Status() != monitor.StatusHealthy {
		t.Fatalf("fresh monitor status = %s", m.Status())
	}
	for _, resource := range []string{"a", "b"} {
		cb := m.Breaker(resource)
		for i := 0; i < 5; i++ {
			cb.RecordFailure()
		}
	}
	if m.Status() != monitor.StatusDegraded {
		t.Errorf("status with 2 open breakers = %s, want degraded", m.Status())
	}
	for _, resource := range []string{"c", "d", "e"} {
		cb := m.Breaker(resource)
		for i := 0; i < 5; i++ {
			cb.RecordFailure()
		}
	}
	if m.Status() != monitor.StatusCritical {
		t.Errorf("status with 5 open breakers = %s, want critical", m.Status())
	}
}

func TestTrimDropsEntriesPastRetention(t *testing.T) {
	clk := clock.NewFake(time.Now())
	m := monitor.New(monitor.Config{}, clk, &captureChannel{name: "capture"})

	m.Record("pipeline", errors.New("old"))
	clk.Advance(25 * time.Hour)
	m.Record("pipeline", errors.New("fresh"))
	m.Trim()

	recent := m.RecentErrors(0)
	if len(recent) != 1 || recent[0].Message != "fresh" {
		t.Errorf("window after trim = %+v, want only the fresh entry", recent)
	}
}
