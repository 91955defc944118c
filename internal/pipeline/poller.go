package pipeline

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/homereach/leadpilot/internal/ingest"
	"github.com/homereach/leadpilot/internal/pkg/clock"
)

// Source is one pollable lead origin (Gmail inbox, Meta lead forms,
// listing feeds).
type Source interface {
	Name() string
	// Fetch returns raw leads created in (since, until].
	Fetch(ctx context.Context, since, until time.Time) ([]ingest.RawLead, error)
}

// WatermarkStore persists per-source poll progress and processed ids.
type WatermarkStore interface {
	GetWatermark(ctx context.Context, source string) (time.Time, error)
	SetWatermark(ctx context.Context, source string, t time.Time) error
	MarkProcessed(ctx context.Context, source, externalID string) (bool, error)
}

// Breaker gates polling of a failing source. Satisfied by the error
// monitor's per-resource circuit breakers.
type Breaker interface {
	Allow() bool
	RecordSuccess()
	RecordFailure()
}

// Poller drives one source on a fixed interval with watermark-based
// incremental fetches and breaker-gated exponential backoff.
type Poller struct {
	source    Source
	pipeline  *Pipeline
	marks     WatermarkStore
	breaker   Breaker
	clk       clock.Clock
	interval  time.Duration
	lookback  time.Duration

	consecutiveFailures int
	backoffUntil        time.Time
	polls               atomic.Int64
	ingested            atomic.Int64
}

// NewPoller creates a poller for one source. lookback is the window
// used on the very first poll, before any watermark exists.
func NewPoller(source Source, p *Pipeline, marks WatermarkStore, breaker Breaker, clk clock.Clock, interval, lookback time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if lookback <= 0 {
		lookback = time.Hour
	}
	return &Poller{
		source: source, pipeline: p, marks: marks, breaker: breaker,
		clk: clk, interval: interval, lookback: lookback,
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	log.Printf("[Poller:%s] starting, interval %s", p.source.Name(), p.interval)
	ticker := p.clk.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Poller:%s] stopping: %d polls, %d leads", p.source.Name(), p.polls.Load(), p.ingested.Load())
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs a single poll iteration. It is a no-op while the
// source's breaker is open or a backoff window is pending.
func (p *Poller) PollOnce(ctx context.Context) {
	now := p.clk.Now()
	if now.Before(p.backoffUntil) {
		return
	}
	if p.breaker != nil && !p.breaker.Allow() {
		log.Printf("[Poller:%s] breaker open, skipping poll", p.source.Name())
		return
	}
	p.polls.Add(1)

	since, err := p.marks.GetWatermark(ctx, p.source.Name())
	if err != nil {
		p.fail(now, err)
		return
	}
	if since.IsZero() {
		since = now.Add(-p.lookback)
	}

	raws, err := p.source.Fetch(ctx, since, now)
	if err != nil {
		p.fail(now, err)
		return
	}

	fresh := raws[:0]
	for _, raw := range raws {
		if raw.ExternalID != "" {
			isNew, err := p.marks.MarkProcessed(ctx, p.source.Name(), raw.ExternalID)
			if err != nil {
				p.fail(now, err)
				return
			}
			if !isNew {
				continue
			}
		}
		fresh = append(fresh, raw)
	}

	if len(fresh) > 0 {
		results := p.pipeline.ProcessBatch(ctx, fresh)
		for _, r := range results {
			if r.Success {
				p.ingested.Add(1)
			}
		}
		log.Printf("[Poller:%s] ingested %d of %d fetched", p.source.Name(), len(results), len(raws))
	}

	if err := p.marks.SetWatermark(ctx, p.source.Name(), now); err != nil {
		p.fail(now, err)
		return
	}

	p.consecutiveFailures = 0
	p.backoffUntil = time.Time{}
	if p.breaker != nil {
		p.breaker.RecordSuccess()
	}
}

// fail records the error and schedules exponential backoff, doubling
// per consecutive failure up to 8x the poll interval.
func (p *Poller) fail(now time.Time, err error) {
	p.consecutiveFailures++
	backoff := p.interval
	for i := 1; i < p.consecutiveFailures && backoff < 8*p.interval; i++ {
		backoff *= 2
	}
	if backoff > 8*p.interval {
		backoff = 8 * p.interval
	}
	p.backoffUntil = now.Add(backoff)
	if p.breaker != nil {
		p.breaker.RecordFailure()
	}
	log.Printf("[Poller:%s] poll failed (attempt %d, next in %s): %v",
		p.source.Name(), p.consecutiveFailures, backoff, err)
}

// Stats reports poll and ingest counters for the dashboard.
func (p *Poller) Stats() (polls, ingested int64) {
	return p.polls.Load(), p.ingested.Load()
}
