// Package sequence runs step-wise outbound contact sequences with
// progressive delays and per-campaign A/B bookkeeping.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/pkg/clock"
	"github.com/homereach/leadpilot/internal/pkg/distlock"
)

// SendResult reports one delivery attempt.
type SendResult struct {
	Delivered     bool
	MessageID     string
	FailureReason string
}

// Sender is the abstract channel driver. One call per channel; the
// concrete email/sms/voice adapters live outside the core.
type Sender interface {
	Send(ctx context.Context, channel domain.InteractionType, destination, payload string) (SendResult, error)
}

// Store is the slice of persistence the scheduler needs.
type Store interface {
	ClaimDueSequences(ctx context.Context, workerID string, now time.Time, limit int) ([]domain.OutboundSequence, error)
	UpdateSequence(ctx context.Context, seq *domain.OutboundSequence) error
	CreateSequence(ctx context.Context, seq *domain.OutboundSequence) error
	GetSequence(ctx context.Context, id string) (*domain.OutboundSequence, error)
	GetLead(ctx context.Context, id string) (*domain.Lead, error)
	AppendInteraction(ctx context.Context, in *domain.Interaction) error
	SaveABTest(ctx context.Context, t *domain.ABTest) error
	GetABTest(ctx context.Context, campaignID string) (*domain.ABTest, error)
	RegisterWorker(ctx context.Context, workerID, kind, hostname string) error
	HeartbeatWorker(ctx context.Context, workerID string, processed int64) error
	DeregisterWorker(ctx context.Context, workerID string) error
}

// LockFactory builds a distributed claim lock for one sequence so two
// worker processes never double-fire a step.
type LockFactory func(key string) distlock.DistLock

// Scheduler is the tick-driven sequence dispatcher.
type Scheduler struct {
	store     Store
	sender    Sender
	persona   *Personalizer
	clk       clock.Clock
	locks     LockFactory
	workerID  string
	interval  time.Duration
	batchSize int

	abMu        sync.Mutex
	experiments map[string]*ABRecorder

	fired     atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewScheduler creates the dispatcher. locks may be nil when running a
// single worker process.
func NewScheduler(store Store, sender Sender, persona *Personalizer, clk clock.Clock, locks LockFactory, interval time.Duration, batchSize int) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Scheduler{
		store: store, sender: sender, persona: persona, clk: clk, locks: locks,
		workerID:    "seq-" + uuid.New().String()[:8],
		interval:    interval,
		batchSize:   batchSize,
		experiments: make(map[string]*ABRecorder),
	}
}

// Run dispatches due sequences until the context is cancelled,
// heartbeating the worker registry between ticks.
func (s *Scheduler) Run(ctx context.Context) {
	hostname, _ := os.Hostname()
	if err := s.store.RegisterWorker(ctx, s.workerID, "sequence_scheduler", hostname); err != nil {
		log.Printf("[SequenceScheduler] register worker: %v", err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.store.DeregisterWorker(dctx, s.workerID)
	}()

	log.Printf("[SequenceScheduler] %s starting, tick %s", s.workerID, s.interval)
	ticker := s.clk.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[SequenceScheduler] stopping: fired=%d completed=%d failed=%d",
				s.fired.Load(), s.completed.Load(), s.failed.Load())
			return
		case <-ticker.C:
			s.Tick(ctx)
			if err := s.store.HeartbeatWorker(ctx, s.workerID, s.fired.Load()); err != nil {
				log.Printf("[SequenceScheduler] heartbeat: %v", err)
			}
		}
	}
}

// Tick claims due sequences and fires each one. Safe to call directly
// in tests.
func (s *Scheduler) Tick(ctx context.Context) {
	due, err := s.store.ClaimDueSequences(ctx, s.workerID, s.clk.Now(), s.batchSize)
	if err != nil {
		log.Printf("[SequenceScheduler] claim: %v", err)
		return
	}
	for i := range due {
		if err := s.Fire(ctx, &due[i]); err != nil {
			log.Printf("[SequenceScheduler] fire %s: %v", due[i].ID, err)
		}
	}
}

// Fire executes one step of one sequence. Any send or persistence
// failure transitions the sequence to failed.
func (s *Scheduler) Fire(ctx context.Context, seq *domain.OutboundSequence) error {
	if s.locks != nil {
		lock := s.locks("sequence:" + seq.ID)
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire sequence lock: %w", err)
		}
		if !acquired {
			return nil
		}
		defer lock.Release(ctx)

		// The claimed snapshot can be stale by the time the lock is
		// held: another worker may have fired this step between the
		// claim and the acquire. Reload and skip if no longer due.
		fresh, err := s.store.GetSequence(ctx, seq.ID)
		if err != nil {
			return fmt.Errorf("reload sequence: %w", err)
		}
		if fresh.Status != domain.SequenceActive ||
			fresh.NextFireAt == nil || fresh.NextFireAt.After(s.clk.Now()) {
			return nil
		}
		*seq = *fresh
	}

	if seq.CurrentStep >= seq.TotalSteps {
		seq.Status = domain.SequenceCompleted
		seq.NextFireAt = nil
		s.completed.Add(1)
		return s.store.UpdateSequence(ctx, seq)
	}

	if err := s.fireStep(ctx, seq); err != nil {
		seq.Status = domain.SequenceFailed
		seq.NextFireAt = nil
		if uerr := s.store.UpdateSequence(ctx, seq); uerr != nil {
			log.Printf("[SequenceScheduler] persist failed status for %s: %v", seq.ID, uerr)
		}
		s.failed.Add(1)
		return err
	}

	s.fired.Add(1)
	if seq.CurrentStep >= seq.TotalSteps {
		seq.Status = domain.SequenceCompleted
		seq.NextFireAt = nil
		s.completed.Add(1)
	} else {
		next := s.clk.Now().Add(DelayForStep(seq.CurrentStep))
		seq.NextFireAt = &next
	}
	return s.store.UpdateSequence(ctx, seq)
}

func (s *Scheduler) fireStep(ctx context.Context, seq *domain.OutboundSequence) error {
	lead, err := s.store.GetLead(ctx, seq.LeadID)
	if err != nil {
		return fmt.Errorf("load lead: %w", err)
	}

	tpl, err := TemplateForStep(seq.Kind, seq.CurrentStep)
	if err != nil {
		return err
	}
	message, err := s.persona.Render(tpl, s.persona.Bindings(lead, nil, nil))
	if err != nil {
		return err
	}

	channel, destination := resolveChannel(lead)
	if destination == "" {
		return fmt.Errorf("%w: lead %s has no destination for channel %s", domain.ErrValidation, lead.ID, channel)
	}

	// Campaign sequences pin each lead to an experiment arm before the
	// message goes out; the counter is bumped only after delivery.
	var rec *ABRecorder
	var variant string
	if seq.Kind == domain.SequenceCampaign && seq.CampaignID != "" {
		if rec = s.experiment(ctx, seq.CampaignID); rec != nil {
			variant = rec.AssignVariant(seq.LeadID)
		}
	}

	result, err := s.sender.Send(ctx, channel, destination, message)
	if err != nil {
		return fmt.Errorf("%w: send step %d: %v", domain.ErrExternalUnavailable, seq.CurrentStep, err)
	}
	if !result.Delivered {
		return fmt.Errorf("%w: send step %d rejected: %s", domain.ErrExternalUnavailable, seq.CurrentStep, result.FailureReason)
	}

	interaction := &domain.Interaction{
		LeadID:    lead.ID,
		AgentID:   s.workerID,
		Type:      channel,
		Direction: domain.DirectionOutbound,
		Content:   message,
		Outcome:   domain.Outcome{Status: domain.OutcomeSuccessful},
		Timestamp: s.clk.Now(),
	}
	if err := s.store.AppendInteraction(ctx, interaction); err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}

	seq.InteractionIDs = append(seq.InteractionIDs, interaction.ID)
	seq.CurrentStep++

	if rec != nil {
		rec.RecordSent(variant)
		snap := rec.Snapshot()
		// The message is already out, so a failed counter write is
		// logged rather than failing the step.
		if err := s.store.SaveABTest(ctx, &snap); err != nil {
			log.Printf("[SequenceScheduler] persist experiment %s: %v", seq.CampaignID, err)
		}
	}
	return nil
}

// experiment returns the recorder for a campaign, loading persisted
// counters on first use and starting a fresh even-split test when none
// exist yet. A transient load failure returns nil so stored counters
// are never overwritten from a zeroed recorder.
func (s *Scheduler) experiment(ctx context.Context, campaignID string) *ABRecorder {
	s.abMu.Lock()
	defer s.abMu.Unlock()
	if rec, ok := s.experiments[campaignID]; ok {
		return rec
	}
	stored, err := s.store.GetABTest(ctx, campaignID)
	var rec *ABRecorder
	switch {
	case err == nil:
		rec = RestoreABRecorder(stored)
	case errors.Is(err, domain.ErrNotFound):
		rec = NewABRecorder(campaignID, 0, 0)
	default:
		log.Printf("[SequenceScheduler] load experiment %s: %v", campaignID, err)
		return nil
	}
	s.experiments[campaignID] = rec
	return rec
}

// StartColdFollowUp creates a five-step cold follow-up sequence for a
// lead, first step firing after the day-one delay.
func (s *Scheduler) StartColdFollowUp(ctx context.Context, leadID string) (*domain.OutboundSequence, error) {
	first := s.clk.Now().Add(DelayForStep(0))
	seq := &domain.OutboundSequence{
		LeadID:     leadID,
		Kind:       domain.SequenceColdFollowUp,
		TotalSteps: len(stepDelays),
		NextFireAt: &first,
		Status:     domain.SequenceActive,
		CreatedAt:  s.clk.Now(),
		UpdatedAt:  s.clk.Now(),
	}
	if err := s.store.CreateSequence(ctx, seq); err != nil {
		return nil, err
	}
	return seq, nil
}

// StartWarmReengagement creates a warm chain whose length depends on
// the lead's sentiment history.
func (s *Scheduler) StartWarmReengagement(ctx context.Context, leadID string, history []domain.Interaction) (*domain.OutboundSequence, error) {
	first := s.clk.Now().Add(DelayForStep(0))
	seq := &domain.OutboundSequence{
		LeadID:     leadID,
		Kind:       domain.SequenceWarmReengagement,
		TotalSteps: WarmStepCount(history),
		NextFireAt: &first,
		Status:     domain.SequenceActive,
		CreatedAt:  s.clk.Now(),
		UpdatedAt:  s.clk.Now(),
	}
	if err := s.store.CreateSequence(ctx, seq); err != nil {
		return nil, err
	}
	return seq, nil
}

// Pause moves an active sequence to paused.
func (s *Scheduler) Pause(ctx context.Context, id string) error {
	seq, err := s.store.GetSequence(ctx, id)
	if err != nil {
		return err
	}
	if err := seq.Pause(); err != nil {
		return err
	}
	return s.store.UpdateSequence(ctx, seq)
}

// Resume moves a paused sequence back to active.
func (s *Scheduler) Resume(ctx context.Context, id string) error {
	seq, err := s.store.GetSequence(ctx, id)
	if err != nil {
		return err
	}
	if err := seq.Resume(); err != nil {
		return err
	}
	if seq.NextFireAt == nil || seq.NextFireAt.Before(s.clk.Now()) {
		next := s.clk.Now().Add(time.Minute)
		seq.NextFireAt = &next
	}
	return s.store.UpdateSequence(ctx, seq)
}

// resolveChannel picks the outbound channel and destination from the
// lead's contact preferences.
func resolveChannel(lead *domain.Lead) (domain.InteractionType, string) {
	switch lead.Contact.PreferredChannel {
	case "sms":
		return domain.InteractionSMS, lead.Contact.Phone
	case "whatsapp":
		return domain.InteractionWhatsApp, lead.Contact.Phone
	case "email":
		return domain.InteractionEmail, lead.Contact.Email
	}
	if lead.Contact.Email != "" {
		return domain.InteractionEmail, lead.Contact.Email
	}
	return domain.InteractionSMS, lead.Contact.Phone
}
