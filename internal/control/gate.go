package control

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/pkg/clock"
)

// OverrideReader is the worker-side view of persisted overrides.
type OverrideReader interface {
	ListActiveOverrides(ctx context.Context) ([]domain.Override, error)
}

// StoreGate gates optimizer applies on overrides persisted by the API
// process. It refreshes from the store at most once per interval and
// keeps serving the last good read when a refresh fails, so a store
// blip never flips an active suspension off.
type StoreGate struct {
	store   OverrideReader
	clk     clock.Clock
	refresh time.Duration

	mu        sync.Mutex
	cached    []domain.Override
	fetchedAt time.Time
}

// NewStoreGate builds a gate refreshing at the given interval.
func NewStoreGate(store OverrideReader, clk clock.Clock, refresh time.Duration) *StoreGate {
	if refresh <= 0 {
		refresh = 30 * time.Second
	}
	return &StoreGate{store: store, clk: clk, refresh: refresh}
}

// AllowApply reports whether the optimizer may apply a recommendation
// targeting the agent, honoring global suspensions and per-agent
// redirects.
func (g *StoreGate) AllowApply(agentID string) bool {
	return overridesAllow(g.snapshot(), agentID)
}

func (g *StoreGate) snapshot() []domain.Override {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clk.Now()
	if !g.fetchedAt.IsZero() && now.Sub(g.fetchedAt) < g.refresh {
		return g.cached
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	active, err := g.store.ListActiveOverrides(ctx)
	if err != nil {
		log.Printf("[ControlPlane] refresh overrides: %v", err)
		return g.cached
	}
	g.cached = active
	g.fetchedAt = now
	return g.cached
}
