package sequence

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/pkg/clock"
)

// FeedbackStore is the slice of persistence the review collector needs.
type FeedbackStore interface {
	SaveFeedbackSession(ctx context.Context, fs *domain.FeedbackSession) error
	GetFeedbackSession(ctx context.Context, id string) (*domain.FeedbackSession, error)
	ListFeedbackSessions(ctx context.Context, status domain.FeedbackSessionStatus, limit int) ([]domain.FeedbackSession, error)
	CreateSequence(ctx context.Context, seq *domain.OutboundSequence) error
}

const (
	// ReviewCampaignID tags the one-step review-request sequences so
	// A/B bookkeeping can track them per campaign.
	ReviewCampaignID = "review_request"

	reviewDelay      = time.Hour
	feedbackTTL      = 14 * 24 * time.Hour
	feedbackSweepGap = time.Hour
)

// FeedbackCollector opens review-collection sessions for converted
// leads and expires the ones that never got a response.
type FeedbackCollector struct {
	store FeedbackStore
	clk   clock.Clock
}

// NewFeedbackCollector builds the review collector.
func NewFeedbackCollector(store FeedbackStore, clk clock.Clock) *FeedbackCollector {
	return &FeedbackCollector{store: store, clk: clk}
}

// RequestReview opens a session for a converted lead and schedules the
// review-request message as a one-step campaign sequence.
func (c *FeedbackCollector) RequestReview(ctx context.Context, lead *domain.Lead) (*domain.FeedbackSession, error) {
	if lead.Status != domain.StatusConverted {
		return nil, fmt.Errorf("%w: lead %s is %s, reviews are requested from converted leads only",
			domain.ErrValidation, lead.ID, lead.Status)
	}
	channel, destination := resolveChannel(lead)
	if destination == "" {
		return nil, fmt.Errorf("%w: lead %s has no destination for channel %s",
			domain.ErrValidation, lead.ID, channel)
	}

	now := c.clk.Now()
	session := &domain.FeedbackSession{
		ID:          uuid.New().String(),
		LeadID:      lead.ID,
		AgentID:     lead.AssignedAgent,
		Channel:     channel,
		Status:      domain.FeedbackRequested,
		RequestedAt: now,
	}
	if err := c.store.SaveFeedbackSession(ctx, session); err != nil {
		return nil, err
	}

	first := now.Add(reviewDelay)
	seq := &domain.OutboundSequence{
		LeadID:     lead.ID,
		CampaignID: ReviewCampaignID,
		Kind:       domain.SequenceCampaign,
		TotalSteps: 1,
		NextFireAt: &first,
		Status:     domain.SequenceActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.store.CreateSequence(ctx, seq); err != nil {
		return nil, fmt.Errorf("schedule review request: %w", err)
	}

	session.Status = domain.FeedbackSent
	if err := c.store.SaveFeedbackSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// RecordResponse closes a session with the customer's rating.
func (c *FeedbackCollector) RecordResponse(ctx context.Context, sessionID string, rating int, comment string) (*domain.FeedbackSession, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating %d out of range [1,5]", domain.ErrValidation, rating)
	}
	session, err := c.store.GetFeedbackSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.FeedbackReceived || session.Status == domain.FeedbackExpired {
		return nil, fmt.Errorf("%w: feedback session %s is already %s",
			domain.ErrInvalidTransition, sessionID, session.Status)
	}

	now := c.clk.Now()
	session.Status = domain.FeedbackReceived
	session.Rating = &rating
	session.Comment = comment
	session.RespondedAt = &now
	if err := c.store.SaveFeedbackSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// ExpireStale marks sessions past the response window as expired and
// returns how many were closed.
func (c *FeedbackCollector) ExpireStale(ctx context.Context) (int, error) {
	cutoff := c.clk.Now().Add(-feedbackTTL)
	expired := 0
	for _, status := range []domain.FeedbackSessionStatus{domain.FeedbackRequested, domain.FeedbackSent} {
		sessions, err := c.store.ListFeedbackSessions(ctx, status, 0)
		if err != nil {
			return expired, err
		}
		for i := range sessions {
			if sessions[i].RequestedAt.After(cutoff) {
				continue
			}
			sessions[i].Status = domain.FeedbackExpired
			if err := c.store.SaveFeedbackSession(ctx, &sessions[i]); err != nil {
				return expired, err
			}
			expired++
		}
	}
	return expired, nil
}

// Run sweeps for stale sessions until the context is cancelled.
func (c *FeedbackCollector) Run(ctx context.Context) {
	ticker := c.clk.NewTicker(feedbackSweepGap)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.ExpireStale(ctx)
			if err != nil {
				log.Printf("[FeedbackCollector] expire sweep: %v", err)
			} else if n > 0 {
				log.Printf("[FeedbackCollector] expired %d stale sessions", n)
			}
		}
	}
}
