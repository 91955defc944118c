// Package optimizer runs the continuous optimization cycle: collect
// analytics feedback, synthesize threshold-based recommendations,
// apply them through the external collaborators, and validate or roll
// back after the testing window.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/homereach/leadpilot/internal/analytics"
	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/pkg/clock"
)

// Analytics is the read side of the feedback collection step.
type Analytics interface {
	CollectPerformance(ctx context.Context, agentID string, period domain.Period) (*domain.PerformanceSnapshot, error)
	AnalyzeScriptPerformance(ctx context.Context) ([]analytics.ScriptOptimization, error)
	AnalyzeTrend(ctx context.Context, agentID, metric string, period domain.Period) (*domain.PerformanceTrend, error)
	GenerateIntelligenceReport(ctx context.Context) ([]domain.Insight, error)
}

// Store is the durable half of the loop's state. active_optimizations
// is rebuilt from ListPendingOptimizations on restart.
type Store interface {
	SaveRecommendation(ctx context.Context, rec *domain.OptimizationRecommendation) error
	SaveOptimizationResult(ctx context.Context, r *domain.OptimizationResult) error
	ListPendingOptimizations(ctx context.Context) ([]domain.OptimizationResult, []domain.OptimizationRecommendation, error)
	QuarantineRecommendation(ctx context.Context, id, reason string) error
	ListPerformance(ctx context.Context, agentID string, window domain.Period) ([]domain.PerformanceSnapshot, error)
	RegisterWorker(ctx context.Context, workerID, kind, hostname string) error
	HeartbeatWorker(ctx context.Context, workerID string, processed int64) error
	DeregisterWorker(ctx context.Context, workerID string) error
}

// RoutingAgent is the external collaborator whose policy the loop
// mutates. All three mutations are idempotent.
type RoutingAgent interface {
	UpdateConfig(ctx context.Context, agentID string, patch map[string]any) error
	AddRoutingRule(ctx context.Context, agentID string, rule domain.RoutingRule) error
	RemoveRoutingRule(ctx context.Context, agentID, ruleID string) error
}

// ScriptManager applies and reverts conversation script changes.
type ScriptManager interface {
	UpdateScript(ctx context.Context, scriptID, change string) error
	RevertScript(ctx context.Context, scriptID string) error
}

// SchedulePlanner applies and reverts contact timing adjustments.
type SchedulePlanner interface {
	AdjustTiming(ctx context.Context, metric, adjustment string) error
	RevertTiming(ctx context.Context, metric string) error
}

// Escalator receives failures the loop cannot resolve itself,
// typically the error monitor.
type Escalator interface {
	Escalate(component, message string)
}

// Gate lets operator overrides suspend or redirect loop decisions.
// Satisfied by the control plane.
type Gate interface {
	AllowApply(agentID string) bool
}

// OptimizationFeedback is one collected bundle of analytics inputs.
type OptimizationFeedback struct {
	Insights     []domain.Insight
	AgentMetrics map[string]domain.Metrics
	Scripts      []analytics.ScriptOptimization
	Trends       []domain.PerformanceTrend
	CollectedAt  time.Time
}

const feedbackQueueCap = 10

// Config tunes the loop. Zero values fall back to the defaults below.
type Config struct {
	CycleInterval     time.Duration // default 6h
	TestingDays       int           // default 7
	MinImprovementPct float64       // default 5
}

func (c *Config) applyDefaults() {
	if c.CycleInterval <= 0 {
		c.CycleInterval = 6 * time.Hour
	}
	if c.TestingDays <= 0 {
		c.TestingDays = 7
	}
	if c.MinImprovementPct <= 0 {
		c.MinImprovementPct = 5
	}
}

// Loop is the cycle driver. active and results are owned by the loop;
// readers get snapshot copies.
type Loop struct {
	store     Store
	analytics Analytics
	routing   RoutingAgent
	scripts   ScriptManager
	planner   SchedulePlanner
	escalate  Escalator
	gate      Gate
	clk       clock.Clock
	cfg       Config
	workerID  string

	mu       sync.Mutex
	feedback []OptimizationFeedback
	active   map[string]domain.OptimizationRecommendation
	results  map[string]domain.OptimizationResult
	cycles   int64
}

// NewLoop wires the controller. escalate may be nil.
func NewLoop(store Store, eng Analytics, routing RoutingAgent, scripts ScriptManager, planner SchedulePlanner, escalate Escalator, clk clock.Clock, cfg Config) *Loop {
	cfg.applyDefaults()
	return &Loop{
		store: store, analytics: eng, routing: routing, scripts: scripts,
		planner: planner, escalate: escalate, clk: clk, cfg: cfg,
		workerID: "opt-" + uuid.New().String()[:8],
		active:   map[string]domain.OptimizationRecommendation{},
		results:  map[string]domain.OptimizationResult{},
	}
}

// SetGate installs the operator-override gate. Call before Run.
func (l *Loop) SetGate(g Gate) { l.gate = g }

// Restore rebuilds active_optimizations from the store so deployed
// optimizations survive a process restart.
func (l *Loop) Restore(ctx context.Context) error {
	results, recs, err := l.store.ListPendingOptimizations(ctx)
	if err != nil {
		return fmt.Errorf("restore active optimizations: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range results {
		l.active[recs[i].ID] = recs[i]
		l.results[results[i].RecommendationID] = results[i]
	}
	if len(results) > 0 {
		log.Printf("[Optimizer] restored %d pending optimizations", len(results))
	}
	return nil
}

// Run drives cycles until the context is cancelled.
func (l *Loop) Run(ctx context.Context) {
	hostname, _ := os.Hostname()
	if err := l.store.RegisterWorker(ctx, l.workerID, "optimization_loop", hostname); err != nil {
		log.Printf("[Optimizer] register worker: %v", err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l.store.DeregisterWorker(dctx, l.workerID)
	}()

	if err := l.Restore(ctx); err != nil {
		log.Printf("[Optimizer] %v", err)
	}

	log.Printf("[Optimizer] %s starting, cycle interval %s", l.workerID, l.cfg.CycleInterval)
	ticker := l.clk.NewTicker(l.cfg.CycleInterval)
	defer ticker.Stop()

	l.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Optimizer] stopping after %d cycles", l.cycleCount())
			return
		case <-ticker.C:
			l.Cycle(ctx)
			if err := l.store.HeartbeatWorker(ctx, l.workerID, l.cycleCount()); err != nil {
				log.Printf("[Optimizer] heartbeat: %v", err)
			}
		}
	}
}

func (l *Loop) cycleCount() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cycles
}

// Cycle executes one optimization iteration. Sub-step failures are
// logged and the cycle continues.
func (l *Loop) Cycle(ctx context.Context) {
	fb := l.CollectFeedback(ctx)
	recs := l.Synthesize(fb)
	for i := range recs {
		if err := l.Apply(ctx, &recs[i], fb.AgentMetrics); err != nil {
			log.Printf("[Optimizer] apply %s: %v", recs[i].Description, err)
		}
	}
	if err := l.Validate(ctx); err != nil {
		log.Printf("[Optimizer] validate: %v", err)
	}
	l.mu.Lock()
	l.cycles++
	l.mu.Unlock()
}

// CollectFeedback pulls the analytics inputs. Each sub-collection that
// fails is logged and skipped, never aborting the bundle.
func (l *Loop) CollectFeedback(ctx context.Context) OptimizationFeedback {
	now := l.clk.Now()
	window := domain.Period{Start: now.Add(-24 * time.Hour), End: now}
	fb := OptimizationFeedback{
		AgentMetrics: map[string]domain.Metrics{},
		CollectedAt:  now,
	}

	insights, err := l.analytics.GenerateIntelligenceReport(ctx)
	if err != nil {
		log.Printf("[Optimizer] collect insights: %v", err)
	} else {
		fb.Insights = insights
	}

	snaps, err := l.store.ListPerformance(ctx, "", window)
	if err != nil {
		log.Printf("[Optimizer] collect agent metrics: %v", err)
	} else {
		for _, s := range snaps {
			fb.AgentMetrics[s.AgentID] = s.Metrics
		}
	}

	scripts, err := l.analytics.AnalyzeScriptPerformance(ctx)
	if err != nil {
		log.Printf("[Optimizer] collect script analyses: %v", err)
	} else {
		fb.Scripts = scripts
	}

	for agentID := range fb.AgentMetrics {
		for _, metric := range []string{"conversion_rate", "avg_response_ms", "csat"} {
			trend, err := l.analytics.AnalyzeTrend(ctx, agentID, metric, window)
			if err != nil {
				log.Printf("[Optimizer] collect trend %s/%s: %v", agentID, metric, err)
				continue
			}
			fb.Trends = append(fb.Trends, *trend)
		}
	}

	l.mu.Lock()
	l.feedback = append(l.feedback, fb)
	if len(l.feedback) > feedbackQueueCap {
		l.feedback = l.feedback[len(l.feedback)-feedbackQueueCap:]
	}
	l.mu.Unlock()
	return fb
}

// Apply deploys one recommendation: persist it, mutate the external
// collaborator, record the result with the baseline snapshot, and add
// it to the active set. Duplicate deployments of the same change are
// skipped while the first is still active.
func (l *Loop) Apply(ctx context.Context, rec *domain.OptimizationRecommendation, metrics map[string]domain.Metrics) error {
	if l.gate != nil && !l.gate.AllowApply(targetAgent(rec)) {
		log.Printf("[Optimizer] apply of %q suspended by operator override", rec.Description)
		return nil
	}
	if l.isDuplicate(rec) {
		return nil
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = l.clk.Now()

	if err := l.store.SaveRecommendation(ctx, rec); err != nil {
		return err
	}
	if err := l.mutate(ctx, rec); err != nil {
		return fmt.Errorf("apply %s: %w", rec.Type, err)
	}

	baseline := metrics[targetAgent(rec)]
	result := domain.OptimizationResult{
		RecommendationID: rec.ID,
		ImplementedAt:    l.clk.Now(),
		BaselineMetrics:  baseline,
	}
	if err := l.store.SaveOptimizationResult(ctx, &result); err != nil {
		return err
	}

	l.mu.Lock()
	l.active[rec.ID] = *rec
	l.results[rec.ID] = result
	l.mu.Unlock()
	log.Printf("[Optimizer] applied %s (%s priority): %s", rec.Type, rec.Priority, rec.Description)
	return nil
}

func (l *Loop) isDuplicate(rec *domain.OptimizationRecommendation) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range l.active {
		if a.Description == rec.Description && targetAgent(&a) == targetAgent(rec) {
			return true
		}
	}
	return false
}

func (l *Loop) mutate(ctx context.Context, rec *domain.OptimizationRecommendation) error {
	switch p := rec.Implementation.Params.(type) {
	case domain.RoutingParams:
		if p.AddRule != nil {
			return l.routing.AddRoutingRule(ctx, p.AgentID, *p.AddRule)
		}
		if p.RemoveRuleID != "" {
			return l.routing.RemoveRoutingRule(ctx, p.AgentID, p.RemoveRuleID)
		}
		return l.routing.UpdateConfig(ctx, p.AgentID, p.ConfigPatch)
	case domain.ScriptParams:
		return l.scripts.UpdateScript(ctx, p.ScriptID, p.Change)
	case domain.TimingParams:
		return l.planner.AdjustTiming(ctx, p.Metric, p.Adjustment)
	default:
		return fmt.Errorf("%w: recommendation %s has no params", domain.ErrValidation, rec.ID)
	}
}

// Validate examines every active optimization whose testing window has
// elapsed. Overall improvement above the threshold validates; below
// the negative threshold rolls back; in between it stays active for
// another cycle.
func (l *Loop) Validate(ctx context.Context) error {
	now := l.clk.Now()

	l.mu.Lock()
	due := make([]domain.OptimizationRecommendation, 0, len(l.active))
	for id, rec := range l.active {
		res := l.results[id]
		elapsed := res.ImplementedAt.Add(time.Duration(rec.Implementation.TestingDays) * 24 * time.Hour)
		if !elapsed.After(now) {
			due = append(due, rec)
		}
	}
	l.mu.Unlock()

	var firstErr error
	for i := range due {
		if err := l.validateOne(ctx, &due[i], now); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Loop) validateOne(ctx context.Context, rec *domain.OptimizationRecommendation, now time.Time) error {
	l.mu.Lock()
	result := l.results[rec.ID]
	l.mu.Unlock()

	window := domain.Period{
		Start: result.ImplementedAt,
		End:   now,
	}
	current, err := l.currentMetrics(ctx, rec, window)
	if err != nil {
		return fmt.Errorf("validate %s: %w", rec.ID, err)
	}

	imp := analytics.ComputeImprovement(result.BaselineMetrics, current)
	result.CurrentMetrics = &current
	result.Improvement = &imp

	switch {
	case imp.Overall > l.cfg.MinImprovementPct:
		result.Validated = true
		result.ValidatedAt = &now
		if err := l.store.SaveOptimizationResult(ctx, &result); err != nil {
			return err
		}
		l.deactivate(rec.ID, result)
		log.Printf("[Optimizer] validated %s (overall %+.1f%%)", rec.Description, imp.Overall)

	case imp.Overall < -l.cfg.MinImprovementPct:
		result.RollbackRequired = true
		if err := l.store.SaveOptimizationResult(ctx, &result); err != nil {
			return err
		}
		l.deactivate(rec.ID, result)
		log.Printf("[Optimizer] rolling back %s (overall %+.1f%%)", rec.Description, imp.Overall)
		if err := l.executeRollback(ctx, rec); err != nil {
			reason := fmt.Sprintf("rollback failed: %v", err)
			if qerr := l.store.QuarantineRecommendation(ctx, rec.ID, reason); qerr != nil {
				log.Printf("[Optimizer] quarantine %s: %v", rec.ID, qerr)
			}
			if l.escalate != nil {
				l.escalate.Escalate("optimizer", fmt.Sprintf("rollback of %s failed: %v", rec.ID, err))
			}
			return fmt.Errorf("rollback %s: %w", rec.ID, err)
		}

	default:
		// Neither validated nor regressed: keep testing.
		l.mu.Lock()
		l.results[rec.ID] = result
		l.mu.Unlock()
	}
	return nil
}

func (l *Loop) deactivate(id string, result domain.OptimizationResult) {
	l.mu.Lock()
	delete(l.active, id)
	l.results[id] = result
	l.mu.Unlock()
}

// currentMetrics measures the target agent over the testing window,
// or the fleet average when the recommendation has no single target.
func (l *Loop) currentMetrics(ctx context.Context, rec *domain.OptimizationRecommendation, window domain.Period) (domain.Metrics, error) {
	if agent := targetAgent(rec); agent != "" {
		snap, err := l.analytics.CollectPerformance(ctx, agent, window)
		if err != nil {
			return domain.Metrics{}, err
		}
		return snap.Metrics, nil
	}

	snaps, err := l.store.ListPerformance(ctx, "", window)
	if err != nil {
		return domain.Metrics{}, err
	}
	var m domain.Metrics
	if len(snaps) == 0 {
		return m, nil
	}
	for _, s := range snaps {
		m.TotalInteractions += s.Metrics.TotalInteractions
		m.ConversionRate += s.Metrics.ConversionRate
		m.AppointmentBookingRate += s.Metrics.AppointmentBookingRate
		m.AvgResponseMs += s.Metrics.AvgResponseMs
		m.CSAT += s.Metrics.CSAT
	}
	n := float64(len(snaps))
	m.ConversionRate /= n
	m.AppointmentBookingRate /= n
	m.AvgResponseMs /= n
	m.CSAT /= n
	return m, nil
}

func targetAgent(rec *domain.OptimizationRecommendation) string {
	switch p := rec.Implementation.Params.(type) {
	case domain.RoutingParams:
		return p.AgentID
	case domain.ScriptParams:
		return p.TargetAgentID
	default:
		return ""
	}
}

// executeRollback performs the stored inverse mutation. Every branch
// is idempotent so a crashed rollback can be replayed.
func (l *Loop) executeRollback(ctx context.Context, rec *domain.OptimizationRecommendation) error {
	switch p := rec.Implementation.Params.(type) {
	case domain.RoutingParams:
		if p.AddRule != nil {
			return l.routing.RemoveRoutingRule(ctx, p.AgentID, p.AddRule.ID)
		}
		if len(p.ConfigPatch) > 0 {
			reset := make(map[string]any, len(p.ConfigPatch))
			for k := range p.ConfigPatch {
				reset[k] = nil
			}
			return l.routing.UpdateConfig(ctx, p.AgentID, reset)
		}
		return nil
	case domain.ScriptParams:
		return l.scripts.RevertScript(ctx, p.ScriptID)
	case domain.TimingParams:
		return l.planner.RevertTiming(ctx, p.Metric)
	default:
		return errors.New("no rollback plan for recommendation without params")
	}
}

// ActiveOptimizations returns a snapshot copy for dashboard readers.
func (l *Loop) ActiveOptimizations() map[string]domain.OptimizationRecommendation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]domain.OptimizationRecommendation, len(l.active))
	for id, rec := range l.active {
		out[id] = rec
	}
	return out
}
