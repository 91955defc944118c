// Package control holds the operator-facing plane: the agent
// registry, strategic directives, operator overrides, and read-only
// dashboard snapshots.
package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/monitor"
	"github.com/homereach/leadpilot/internal/pkg/clock"
)

// Agent is one registered autonomous agent.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Kind         string    `json:"kind"` // routing, conversation, scheduling
	Status       string    `json:"status"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// DirectiveStatus is the strategic directive lifecycle position.
type DirectiveStatus string

const (
	DirectiveDraft     DirectiveStatus = "draft"
	DirectiveActive    DirectiveStatus = "active"
	DirectiveCompleted DirectiveStatus = "completed"
	DirectiveCancelled DirectiveStatus = "cancelled"
)

var directiveEdges = map[DirectiveStatus][]DirectiveStatus{
	DirectiveDraft:  {DirectiveActive, DirectiveCancelled},
	DirectiveActive: {DirectiveCompleted, DirectiveCancelled},
}

// Directive is a strategic plan targeting one or more agents.
type Directive struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	TargetAgents []string        `json:"target_agents"`
	Priority     domain.Priority `json:"priority"`
	Status       DirectiveStatus `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// OverrideStore persists overrides so the optimization worker sees
// what operators apply through the API process.
type OverrideStore interface {
	SaveOverride(ctx context.Context, o *domain.Override) error
	ListActiveOverrides(ctx context.Context) ([]domain.Override, error)
}

// OptimizerView is the loop's read-only surface for dashboards.
type OptimizerView interface {
	ActiveOptimizations() map[string]domain.OptimizationRecommendation
}

// HealthView is the monitor's read-only surface for dashboards.
type HealthView interface {
	Status() monitor.SystemStatus
	RecentErrors(limit int) []monitor.ErrorRecord
}

// MetricsView supplies the fleet metric snapshots.
type MetricsView interface {
	ListPerformance(ctx context.Context, agentID string, window domain.Period) ([]domain.PerformanceSnapshot, error)
}

// Plane is the control plane. Agents and directives are in-memory;
// overrides additionally write through to the store when one is set.
type Plane struct {
	clk       clock.Clock
	startedAt time.Time
	optimizer OptimizerView
	health    HealthView
	metrics   MetricsView
	store     OverrideStore

	mu         sync.Mutex
	agents     map[string]*Agent
	directives map[string]*Directive
	overrides  map[string]*domain.Override
}

// New creates a control plane. optimizer, health, and metrics may be
// nil; the dashboard sections they feed come back empty.
func New(clk clock.Clock, optimizer OptimizerView, health HealthView, metrics MetricsView) *Plane {
	return &Plane{
		clk:        clk,
		startedAt:  clk.Now(),
		optimizer:  optimizer,
		health:     health,
		metrics:    metrics,
		agents:     map[string]*Agent{},
		directives: map[string]*Directive{},
		overrides:  map[string]*domain.Override{},
	}
}

// SetOverrideStore makes overrides durable: applies and reverts write
// through, and LoadOverrides hydrates after a restart.
func (p *Plane) SetOverrideStore(store OverrideStore) {
	p.store = store
}

// LoadOverrides rehydrates the active overrides from the store.
func (p *Plane) LoadOverrides(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	active, err := p.store.ListActiveOverrides(ctx)
	if err != nil {
		return fmt.Errorf("load overrides: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range active {
		o := active[i]
		p.overrides[o.ID] = &o
	}
	return nil
}

// RegisterAgent adds or refreshes an agent registry entry.
func (p *Plane) RegisterAgent(id, name, kind string) *Agent {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clk.Now()
	a, ok := p.agents[id]
	if !ok {
		a = &Agent{ID: id, Name: name, Kind: kind, RegisteredAt: now}
		p.agents[id] = a
	}
	a.Status = "active"
	a.LastSeenAt = now
	cp := *a
	return &cp
}

// TouchAgent refreshes an agent's last-seen timestamp.
func (p *Plane) TouchAgent(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.agents[id]; ok {
		a.LastSeenAt = p.clk.Now()
	}
}

// Agents returns a snapshot of the registry.
func (p *Plane) Agents() []Agent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Agent, 0, len(p.agents))
	for _, a := range p.agents {
		out = append(out, *a)
	}
	return out
}

// CreateDirective drafts a new strategic directive.
func (p *Plane) CreateDirective(title, description string, targets []string, priority domain.Priority) *Directive {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clk.Now()
	d := &Directive{
		ID:           uuid.New().String(),
		Title:        title,
		Description:  description,
		TargetAgents: targets,
		Priority:     priority,
		Status:       DirectiveDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	p.directives[d.ID] = d
	cp := *d
	return &cp
}

// TransitionDirective moves a directive along its lifecycle. Only the
// draft→active and active→{completed,cancelled} edges (plus
// draft→cancelled) are legal.
func (p *Plane) TransitionDirective(id string, to DirectiveStatus) (*Directive, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.directives[id]
	if !ok {
		return nil, fmt.Errorf("%w: directive %s", domain.ErrNotFound, id)
	}
	allowed := false
	for _, next := range directiveEdges[d.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: directive %s to %s", domain.ErrInvalidTransition, d.Status, to)
	}
	d.Status = to
	d.UpdatedAt = p.clk.Now()
	cp := *d
	return &cp, nil
}

// Directives returns a snapshot, optionally filtered by status.
func (p *Plane) Directives(status DirectiveStatus) []Directive {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Directive
	for _, d := range p.directives {
		if status == "" || d.Status == status {
			out = append(out, *d)
		}
	}
	return out
}

// ApplyOverride activates an operator override and persists it when a
// store is configured. The override is not applied if persistence
// fails: the worker gate reads the store, so an unpersisted override
// would silently not be in force.
func (p *Plane) ApplyOverride(ctx context.Context, kind domain.OverrideKind, agentID, reason string, data map[string]any) (*domain.Override, error) {
	o := &domain.Override{
		ID:        uuid.New().String(),
		Kind:      kind,
		AgentID:   agentID,
		Reason:    reason,
		Data:      data,
		AppliedAt: p.clk.Now(),
	}
	if p.store != nil {
		if err := p.store.SaveOverride(ctx, o); err != nil {
			return nil, fmt.Errorf("persist override: %w", err)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides[o.ID] = o
	cp := *o
	return &cp, nil
}

// RevertOverride ends an override. Reverting twice is an error.
func (p *Plane) RevertOverride(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.overrides[id]
	if !ok {
		return fmt.Errorf("%w: override %s", domain.ErrNotFound, id)
	}
	if !o.Active() {
		return fmt.Errorf("%w: override %s already reverted", domain.ErrInvalidTransition, id)
	}
	now := p.clk.Now()
	o.RevertedAt = &now
	if p.store != nil {
		if err := p.store.SaveOverride(ctx, o); err != nil {
			o.RevertedAt = nil
			return fmt.Errorf("persist revert: %w", err)
		}
	}
	return nil
}

// ActiveOverrides returns the overrides currently in force.
func (p *Plane) ActiveOverrides() []domain.Override {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Override
	for _, o := range p.overrides {
		if o.Active() {
			out = append(out, *o)
		}
	}
	return out
}

// AllowApply implements the optimizer's gate: a global suspension
// blocks every apply, a redirect blocks applies targeting that agent.
func (p *Plane) AllowApply(agentID string) bool {
	return overridesAllow(p.ActiveOverrides(), agentID)
}

func overridesAllow(overrides []domain.Override, agentID string) bool {
	for i := range overrides {
		switch overrides[i].Kind {
		case domain.OverrideSuspendOptimizations:
			return false
		case domain.OverrideRedirectAgent:
			if overrides[i].AgentID == agentID {
				return false
			}
		}
	}
	return true
}

// Dashboard is one read-only snapshot of the whole system.
type Dashboard struct {
	GeneratedAt         time.Time                               `json:"generated_at"`
	UptimeSeconds       float64                                 `json:"uptime_seconds"`
	SystemStatus        monitor.SystemStatus                    `json:"system_status"`
	AgentMetrics        map[string]domain.Metrics               `json:"agent_metrics"`
	ActiveOptimizations []domain.OptimizationRecommendation     `json:"active_optimizations"`
	RecentAlerts        []monitor.ErrorRecord                   `json:"recent_alerts"`
	Agents              []Agent                                 `json:"agents"`
	ActiveOverrides     []domain.Override                       `json:"active_overrides"`
	Partial             []string                                `json:"partial,omitempty"`
}

// Snapshot composes the dashboard. Failed sections are annotated in
// Partial rather than failing the whole snapshot.
func (p *Plane) Snapshot(ctx context.Context) *Dashboard {
	now := p.clk.Now()
	d := &Dashboard{
		GeneratedAt:     now,
		UptimeSeconds:   now.Sub(p.startedAt).Seconds(),
		SystemStatus:    monitor.StatusHealthy,
		AgentMetrics:    map[string]domain.Metrics{},
		Agents:          p.Agents(),
		ActiveOverrides: p.ActiveOverrides(),
	}

	if p.health != nil {
		d.SystemStatus = p.health.Status()
		d.RecentAlerts = p.health.RecentErrors(20)
	}
	if p.optimizer != nil {
		for _, rec := range p.optimizer.ActiveOptimizations() {
			d.ActiveOptimizations = append(d.ActiveOptimizations, rec)
		}
	}
	if p.metrics != nil {
		window := domain.Period{Start: now.Add(-24 * time.Hour), End: now}
		snaps, err := p.metrics.ListPerformance(ctx, "", window)
		if err != nil {
			d.Partial = append(d.Partial, "agent_metrics")
		} else {
			for _, s := range snaps {
				d.AgentMetrics[s.AgentID] = s.Metrics
			}
		}
	}
	return d
}
