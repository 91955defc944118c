package optimizer_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/homereach/leadpilot/internal/analytics"
	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/optimizer"
	"github.com/homereach/leadpilot/internal/pkg/clock"
)

type fakeStore struct {
	recs         map[string]*domain.OptimizationRecommendation
	results      map[string]*domain.OptimizationResult
	quarantined  map[string]string
	snapshots    []domain.PerformanceSnapshot
	terminalErrs int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		recs:        map[string]*domain.OptimizationRecommendation{},
		results:     map[string]*domain.OptimizationResult{},
		quarantined: map[string]string{},
	}
}

func (f *fakeStore) SaveRecommendation(_ context.Context, rec *domain.OptimizationRecommendation) error {
	cp := *rec
	f.recs[rec.ID] = &cp
	return nil
}

func (f *fakeStore) SaveOptimizationResult(_ context.Context, r *domain.OptimizationResult) error {
	if prev, ok := f.results[r.RecommendationID]; ok && !prev.Pending() {
		f.terminalErrs++
		return fmt.Errorf("%w: result %s already terminal", domain.ErrIntegrity, r.RecommendationID)
	}
	cp := *r
	f.results[r.RecommendationID] = &cp
	return nil
}

func (f *fakeStore) ListPendingOptimizations(context.Context) ([]domain.OptimizationResult, []domain.OptimizationRecommendation, error) {
	var results []domain.OptimizationResult
	var recs []domain.OptimizationRecommendation
	for id, r := range f.results {
		if r.Pending() {
			results = append(results, *r)
			recs = append(recs, *f.recs[id])
		}
	}
	return results, recs, nil
}

func (f *fakeStore) QuarantineRecommendation(_ context.Context, id, reason string) error {
	f.quarantined[id] = reason
	return nil
}

func (f *fakeStore) ListPerformance(_ context.Context, _ string, _ domain.Period) ([]domain.PerformanceSnapshot, error) {
	return f.snapshots, nil
}

func (f *fakeStore) RegisterWorker(context.Context, string, string, string) error { return nil }
func (f *fakeStore) HeartbeatWorker(context.Context, string, int64) error         { return nil }
func (f *fakeStore) DeregisterWorker(context.Context, string) error               { return nil }

type fakeAnalytics struct {
	current map[string]domain.Metrics
	scripts []analytics.ScriptOptimization
	trends  map[string]*domain.PerformanceTrend
}

func (f *fakeAnalytics) CollectPerformance(_ context.Context, agentID string, period domain.Period) (*domain.PerformanceSnapshot, error) {
	return &domain.PerformanceSnapshot{AgentID: agentID, Period: period, Metrics: f.current[agentID]}, nil
}

func (f *fakeAnalytics) AnalyzeScriptPerformance(context.Context) ([]analytics.ScriptOptimization, error) {
	return f.scripts, nil
}

func (f *fakeAnalytics) AnalyzeTrend(_ context.Context, agentID, metric string, _ domain.Period) (*domain.PerformanceTrend, error) {
	if t, ok := f.trends[agentID+"/"+metric]; ok {
		return t, nil
	}
	return &domain.PerformanceTrend{Metric: metric, Trend: domain.TrendStable}, nil
}

func (f *fakeAnalytics) GenerateIntelligenceReport(context.Context) ([]domain.Insight, error) {
	return nil, nil
}

type fakeRouting struct {
	configCalls  []string
	addedRules   []string
	removedRules []string
	failRemove   bool
}

func (f *fakeRouting) UpdateConfig(_ context.Context, agentID string, _ map[string]any) error {
	f.configCalls = append(f.configCalls, agentID)
	return nil
}

func (f *fakeRouting) AddRoutingRule(_ context.Context, _ string, rule domain.RoutingRule) error {
	f.addedRules = append(f.addedRules, rule.ID)
	return nil
}

func (f *fakeRouting) RemoveRoutingRule(_ context.Context, _ string, ruleID string) error {
	if f.failRemove {
		return errors.New("routing agent unreachable")
	}
	f.removedRules = append(f.removedRules, ruleID)
	return nil
}

type fakeScripts struct {
	updated  []string
	reverted []string
}

func (f *fakeScripts) UpdateScript(_ context.Context, scriptID, _ string) error {
	f.updated = append(f.updated, scriptID)
	return nil
}

func (f *fakeScripts) RevertScript(_ context.Context, scriptID string) error {
	f.reverted = append(f.reverted, scriptID)
	return nil
}

type fakePlanner struct {
	adjusted []string
	reverted []string
}

func (f *fakePlanner) AdjustTiming(_ context.Context, metric, _ string) error {
	f.adjusted = append(f.adjusted, metric)
	return nil
}

func (f *fakePlanner) RevertTiming(_ context.Context, metric string) error {
	f.reverted = append(f.reverted, metric)
	return nil
}

type fakeEscalator struct{ messages []string }

func (f *fakeEscalator) Escalate(component, message string) {
	f.messages = append(f.messages, component+": "+message)
}

type loopFixture struct {
	loop     *optimizer.Loop
	store    *fakeStore
	eng      *fakeAnalytics
	routing  *fakeRouting
	scripts  *fakeScripts
	planner  *fakePlanner
	escalate *fakeEscalator
	clk      *clock.Fake
}

func newFixture() *loopFixture {
	f := &loopFixture{
		store:    newFakeStore(),
		eng:      &fakeAnalytics{current: map[string]domain.Metrics{}, trends: map[string]*domain.PerformanceTrend{}},
		routing:  &fakeRouting{},
		scripts:  &fakeScripts{},
		planner:  &fakePlanner{},
		escalate: &fakeEscalator{},
		clk:      clock.NewFake(time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)),
	}
	f.loop = optimizer.NewLoop(f.store, f.eng, f.routing, f.scripts, f.planner, f.escalate, f.clk,
		optimizer.Config{TestingDays: 7, MinImprovementPct: 5})
	return f
}

func feedbackWith(metrics map[string]domain.Metrics) optimizer.OptimizationFeedback {
	return optimizer.OptimizationFeedback{AgentMetrics: metrics}
}

func TestSynthesizePriorityOrdering(t *testing.T) {
	f := newFixture()
	fb := feedbackWith(map[string]domain.Metrics{
		"agent-1": {ConversionRate: 0.45, AvgResponseMs: 85000, CSAT: 4.5, AppointmentBookingRate: 0.5},
	})
	fb.Scripts = []analytics.ScriptOptimization{
		{ScriptID: "s-low", Estimated: analytics.ScriptEstimate{ConversionImprovement: 12}},
		{ScriptID: "s-skip", Estimated: analytics.ScriptEstimate{ConversionImprovement: 4}},
	}

	recs := f.loop.Synthesize(fb)
	if len(recs) != 3 {
		t.Fatalf("recs = %d, want conversion + response + one script", len(recs))
	}
	lastRank := 4
	for i, r := range recs {
		if r.Priority.Rank() > lastRank {
			t.Errorf("rec %d (%s) out of priority order", i, r.Description)
		}
		lastRank = r.Priority.Rank()
	}
	// Both high-priority rules fire; the +20% response rule sorts first.
	if recs[0].Description != "Prioritize fast-responding agents" {
		t.Errorf("first rec = %q", recs[0].Description)
	}
	if recs[1].Description != "Lower urgency threshold for high-priority routing" {
		t.Errorf("second rec = %q", recs[1].Description)
	}
	for _, r := range recs {
		if r.Description == "s-skip" {
			t.Error("sub-10%% script lift not discarded")
		}
	}
}

func TestSynthesizeTrendRule(t *testing.T) {
	f := newFixture()
	fb := optimizer.OptimizationFeedback{
		AgentMetrics: map[string]domain.Metrics{"agent-1": {ConversionRate: 0.9, CSAT: 4.8, AppointmentBookingRate: 0.5, AvgResponseMs: 1000}},
		Trends: []domain.PerformanceTrend{
			{Metric: "csat", Trend: domain.TrendDecreasing, Significance: domain.SignificanceHigh, ChangePercent: -18},
			{Metric: "conversion_rate", Trend: domain.TrendDecreasing, Significance: domain.SignificanceLow, ChangePercent: -3},
			{Metric: "avg_response_ms", Trend: domain.TrendIncreasing, Significance: domain.SignificanceHigh, ChangePercent: 20},
		},
	}
	recs := f.loop.Synthesize(fb)
	if len(recs) != 1 {
		t.Fatalf("recs = %d, want only the significant decline", len(recs))
	}
	if recs[0].Type != domain.RecommendationTiming {
		t.Errorf("type = %s", recs[0].Type)
	}
	p, ok := recs[0].Implementation.Params.(domain.TimingParams)
	if !ok || p.Metric != "csat" || p.DeclinePercent != 18 {
		t.Errorf("params = %+v", recs[0].Implementation.Params)
	}
}

func TestApplyRecordsBaselineAndActivates(t *testing.T) {
	f := newFixture()
	metrics := map[string]domain.Metrics{"agent-1": {ConversionRate: 0.45, CSAT: 4.5, AppointmentBookingRate: 0.5, AvgResponseMs: 1000}}
	recs := f.loop.Synthesize(feedbackWith(metrics))

	if err := f.loop.Apply(context.Background(), &recs[0], metrics); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(f.routing.configCalls) != 1 {
		t.Fatalf("routing config calls = %d", len(f.routing.configCalls))
	}
	res := f.store.results[recs[0].ID]
	if res == nil {
		t.Fatal("result not persisted")
	}
	if res.BaselineMetrics.ConversionRate != 0.45 {
		t.Errorf("baseline conversion = %v", res.BaselineMetrics.ConversionRate)
	}
	if !res.Pending() {
		t.Error("fresh result not pending")
	}
	if _, ok := f.loop.ActiveOptimizations()[recs[0].ID]; !ok {
		t.Error("recommendation not in active set")
	}

	// Re-applying the same change while active is a no-op.
	dup := recs[0]
	dup.ID = ""
	if err := f.loop.Apply(context.Background(), &dup, metrics); err != nil {
		t.Fatalf("duplicate apply: %v", err)
	}
	if len(f.routing.configCalls) != 1 {
		t.Errorf("duplicate apply mutated routing again")
	}
}

func TestValidateImprovementMarksValidated(t *testing.T) {
	f := newFixture()
	metrics := map[string]domain.Metrics{"agent-1": {ConversionRate: 0.45, AvgResponseMs: 50000, CSAT: 4.0, AppointmentBookingRate: 0.5}}
	recs := f.loop.Synthesize(feedbackWith(metrics))
	if err := f.loop.Apply(context.Background(), &recs[0], metrics); err != nil {
		t.Fatalf("apply: %v", err)
	}

	f.eng.current["agent-1"] = domain.Metrics{ConversionRate: 0.54, AvgResponseMs: 40000, CSAT: 4.4}
	f.clk.Advance(8 * 24 * time.Hour)

	if err := f.loop.Validate(context.Background()); err != nil {
		t.Fatalf("validate: %v", err)
	}
	res := f.store.results[recs[0].ID]
	if !res.Validated || res.RollbackRequired {
		t.Errorf("result = %+v, want validated", res)
	}
	if res.ValidatedAt == nil {
		t.Error("validated_at not stamped")
	}
	if len(f.loop.ActiveOptimizations()) != 0 {
		t.Error("validated optimization still active")
	}
}

func TestValidateRegressionExecutesRollback(t *testing.T) {
	f := newFixture()
	metrics := map[string]domain.Metrics{"agent-1": {ConversionRate: 0.60, AvgResponseMs: 85000, CSAT: 4.5, AppointmentBookingRate: 0.5}}
	recs := f.loop.Synthesize(feedbackWith(metrics))
	if len(recs) == 0 || recs[0].Implementation.Action != "add_routing_rule" {
		t.Fatalf("recs = %+v", recs)
	}
	if err := f.loop.Apply(context.Background(), &recs[0], metrics); err != nil {
		t.Fatalf("apply: %v", err)
	}

	f.eng.current["agent-1"] = domain.Metrics{ConversionRate: 0.45, AvgResponseMs: 95000, CSAT: 3.5}
	f.clk.Advance(8 * 24 * time.Hour)

	if err := f.loop.Validate(context.Background()); err != nil {
		t.Fatalf("validate: %v", err)
	}
	res := f.store.results[recs[0].ID]
	if !res.RollbackRequired || res.Validated {
		t.Errorf("result = %+v, want rollback_required", res)
	}
	if len(f.routing.removedRules) != 1 || f.routing.removedRules[0] != "fast-response-agent-1" {
		t.Errorf("rollback removed rules = %v", f.routing.removedRules)
	}
	if len(f.loop.ActiveOptimizations()) != 0 {
		t.Error("rolled-back optimization still active")
	}
}

func TestValidateNeitherThresholdStaysActive(t *testing.T) {
	f := newFixture()
	metrics := map[string]domain.Metrics{"agent-1": {ConversionRate: 0.45, AvgResponseMs: 50000, CSAT: 4.0, AppointmentBookingRate: 0.5}}
	recs := f.loop.Synthesize(feedbackWith(metrics))
	if err := f.loop.Apply(context.Background(), &recs[0], metrics); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// ~+1.3% overall: above -5, below +5.
	f.eng.current["agent-1"] = domain.Metrics{ConversionRate: 0.46, AvgResponseMs: 50000, CSAT: 4.0}
	f.clk.Advance(8 * 24 * time.Hour)

	if err := f.loop.Validate(context.Background()); err != nil {
		t.Fatalf("validate: %v", err)
	}
	res := f.store.results[recs[0].ID]
	if !res.Pending() {
		t.Errorf("result = %+v, want still pending", res)
	}
	if len(f.loop.ActiveOptimizations()) != 1 {
		t.Error("undecided optimization dropped from active set")
	}
}

func TestValidateBeforeTestingWindowDoesNothing(t *testing.T) {
	f := newFixture()
	metrics := map[string]domain.Metrics{"agent-1": {ConversionRate: 0.45, AvgResponseMs: 50000, CSAT: 4.0, AppointmentBookingRate: 0.5}}
	recs := f.loop.Synthesize(feedbackWith(metrics))
	if err := f.loop.Apply(context.Background(), &recs[0], metrics); err != nil {
		t.Fatalf("apply: %v", err)
	}

	f.eng.current["agent-1"] = domain.Metrics{ConversionRate: 0.9, AvgResponseMs: 1000, CSAT: 5.0}
	f.clk.Advance(2 * 24 * time.Hour)

	if err := f.loop.Validate(context.Background()); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !f.store.results[recs[0].ID].Pending() {
		t.Error("optimization judged before its testing window elapsed")
	}
}

func TestRollbackFailureQuarantinesAndEscalates(t *testing.T) {
	f := newFixture()
	f.routing.failRemove = true
	metrics := map[string]domain.Metrics{"agent-1": {ConversionRate: 0.60, AvgResponseMs: 85000, CSAT: 4.5, AppointmentBookingRate: 0.5}}
	recs := f.loop.Synthesize(feedbackWith(metrics))
	if err := f.loop.Apply(context.Background(), &recs[0], metrics); err != nil {
		t.Fatalf("apply: %v", err)
	}

	f.eng.current["agent-1"] = domain.Metrics{ConversionRate: 0.40, AvgResponseMs: 99000, CSAT: 3.0}
	f.clk.Advance(8 * 24 * time.Hour)

	if err := f.loop.Validate(context.Background()); err == nil {
		t.Fatal("expected rollback failure to surface")
	}
	if _, ok := f.store.quarantined[recs[0].ID]; !ok {
		t.Error("failed rollback not quarantined")
	}
	if len(f.escalate.messages) == 0 {
		t.Error("failed rollback not escalated")
	}
	if !f.store.results[recs[0].ID].RollbackRequired {
		t.Error("result lost rollback_required after failed rollback")
	}
}

func TestTerminalResultIsImmutable(t *testing.T) {
	f := newFixture()
	metrics := map[string]domain.Metrics{"agent-1": {ConversionRate: 0.45, AvgResponseMs: 50000, CSAT: 4.0, AppointmentBookingRate: 0.5}}
	recs := f.loop.Synthesize(feedbackWith(metrics))
	if err := f.loop.Apply(context.Background(), &recs[0], metrics); err != nil {
		t.Fatalf("apply: %v", err)
	}
	f.eng.current["agent-1"] = domain.Metrics{ConversionRate: 0.60, AvgResponseMs: 40000, CSAT: 4.5}
	f.clk.Advance(8 * 24 * time.Hour)
	if err := f.loop.Validate(context.Background()); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !f.store.results[recs[0].ID].Validated {
		t.Fatal("expected validation")
	}

	// A second validate pass must not touch the terminal result.
	f.clk.Advance(24 * time.Hour)
	if err := f.loop.Validate(context.Background()); err != nil {
		t.Fatalf("second validate: %v", err)
	}
	if f.store.terminalErrs != 0 {
		t.Errorf("terminal result rewritten %d times", f.store.terminalErrs)
	}
}

func TestRestoreRebuildsActiveSet(t *testing.T) {
	f := newFixture()
	metrics := map[string]domain.Metrics{"agent-1": {ConversionRate: 0.45, AvgResponseMs: 50000, CSAT: 4.0, AppointmentBookingRate: 0.5}}
	recs := f.loop.Synthesize(feedbackWith(metrics))
	if err := f.loop.Apply(context.Background(), &recs[0], metrics); err != nil {
		t.Fatalf("apply: %v", err)
	}

	restarted := optimizer.NewLoop(f.store, f.eng, f.routing, f.scripts, f.planner, f.escalate, f.clk,
		optimizer.Config{TestingDays: 7, MinImprovementPct: 5})
	if err := restarted.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, ok := restarted.ActiveOptimizations()[recs[0].ID]; !ok {
		t.Error("pending optimization not restored")
	}
}
