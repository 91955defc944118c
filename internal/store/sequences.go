package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/homereach/leadpilot/internal/domain"
)

const sequenceColumns = `
	id, lead_id, COALESCE(campaign_id,''), kind, current_step, total_steps,
	next_fire_at, status, interaction_ids, created_at, updated_at`

func scanSequence(row interface{ Scan(...any) error }) (*domain.OutboundSequence, error) {
	seq := &domain.OutboundSequence{}
	var nextFire sql.NullTime
	var ids []byte
	err := row.Scan(&seq.ID, &seq.LeadID, &seq.CampaignID, &seq.Kind,
		&seq.CurrentStep, &seq.TotalSteps, &nextFire, &seq.Status,
		&ids, &seq.CreatedAt, &seq.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if nextFire.Valid {
		seq.NextFireAt = &nextFire.Time
	}
	if err := unmarshalJSON(ids, &seq.InteractionIDs); err != nil {
		return nil, fmt.Errorf("decode interaction ids: %w", err)
	}
	return seq, nil
}

// CreateSequence persists a new outbound sequence.
func (s *Store) CreateSequence(ctx context.Context, seq *domain.OutboundSequence) error {
	if seq.ID == "" {
		seq.ID = uuid.New().String()
	}
	if err := seq.Validate(); err != nil {
		return err
	}
	ids, err := marshalJSON(seq.InteractionIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sequences
			(id, lead_id, campaign_id, kind, current_step, total_steps,
			 next_fire_at, status, interaction_ids, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW())
	`, seq.ID, seq.LeadID, nullIfEmpty(seq.CampaignID), seq.Kind,
		seq.CurrentStep, seq.TotalSteps, seq.NextFireAt, seq.Status, ids)
	if err != nil {
		return fmt.Errorf("create sequence: %w", err)
	}
	return nil
}

// GetSequence loads one sequence by id.
func (s *Store) GetSequence(ctx context.Context, id string) (*domain.OutboundSequence, error) {
	seq, err := scanSequence(s.db.QueryRowContext(ctx,
		`SELECT `+sequenceColumns+` FROM sequences WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: sequence %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	return seq, nil
}

// UpdateSequence persists step progress and status changes.
func (s *Store) UpdateSequence(ctx context.Context, seq *domain.OutboundSequence) error {
	if err := seq.Validate(); err != nil {
		return err
	}
	ids, err := marshalJSON(seq.InteractionIDs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sequences SET
			current_step = $1, total_steps = $2, next_fire_at = $3,
			status = $4, interaction_ids = $5, updated_at = NOW()
		WHERE id = $6
	`, seq.CurrentStep, seq.TotalSteps, seq.NextFireAt, seq.Status, ids, seq.ID)
	if err != nil {
		return fmt.Errorf("update sequence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: sequence %s", domain.ErrNotFound, seq.ID)
	}
	return nil
}

// claimGrace is how long a stamped claim keeps a row out of other
// workers' batches. A claim older than this belongs to a worker that
// died mid-batch, so the row becomes claimable again.
const claimGrace = 2 * time.Minute

// ClaimDueSequences selects active sequences whose fire time has passed
// and that carry no live claim, using FOR UPDATE SKIP LOCKED so
// overlapping transactions never pick the same row, and stamps each one
// with the worker id inside the transaction. The claimed_at filter
// keeps back-to-back claim calls from re-handing out rows a previous
// batch already took.
func (s *Store) ClaimDueSequences(ctx context.Context, workerID string, now time.Time, limit int) ([]domain.OutboundSequence, error) {
	if limit <= 0 {
		limit = 50
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+sequenceColumns+`
		FROM sequences
		WHERE status = 'active' AND next_fire_at <= $1
		  AND (claimed_at IS NULL OR claimed_at < $2)
		ORDER BY next_fire_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, now, now.Add(-claimGrace), limit)
	if err != nil {
		return nil, fmt.Errorf("select due sequences: %w", err)
	}

	var out []domain.OutboundSequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan sequence: %w", err)
		}
		out = append(out, *seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, seq := range out {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sequences SET claimed_by = $1, claimed_at = NOW() WHERE id = $2
		`, workerID, seq.ID); err != nil {
			return nil, fmt.Errorf("stamp claim: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return out, nil
}

// ListSequencesByStatus returns sequences in the given status, used to
// rebuild in-memory working sets after a restart.
func (s *Store) ListSequencesByStatus(ctx context.Context, status domain.SequenceStatus, limit int) ([]domain.OutboundSequence, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sequenceColumns+` FROM sequences WHERE status = $1
		ORDER BY updated_at DESC LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list sequences: %w", err)
	}
	defer rows.Close()

	var out []domain.OutboundSequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sequence: %w", err)
		}
		out = append(out, *seq)
	}
	return out, rows.Err()
}

// SaveABTest upserts the per-campaign experiment counters.
func (s *Store) SaveABTest(ctx context.Context, t *domain.ABTest) error {
	a, err := marshalJSON(t.VariantA)
	if err != nil {
		return err
	}
	b, err := marshalJSON(t.VariantB)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ab_tests (campaign_id, variant_a, variant_b, split_ratio, min_sample_size, updated_at)
		VALUES ($1,$2,$3,$4,$5,NOW())
		ON CONFLICT (campaign_id) DO UPDATE SET
			variant_a = EXCLUDED.variant_a,
			variant_b = EXCLUDED.variant_b,
			split_ratio = EXCLUDED.split_ratio,
			min_sample_size = EXCLUDED.min_sample_size,
			updated_at = NOW()
	`, t.CampaignID, a, b, t.SplitRatio, t.MinSampleSize)
	if err != nil {
		return fmt.Errorf("save ab test: %w", err)
	}
	return nil
}

// GetABTest loads one campaign's experiment record.
func (s *Store) GetABTest(ctx context.Context, campaignID string) (*domain.ABTest, error) {
	t := &domain.ABTest{CampaignID: campaignID}
	var a, b []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT variant_a, variant_b, split_ratio, min_sample_size
		FROM ab_tests WHERE campaign_id = $1
	`, campaignID).Scan(&a, &b, &t.SplitRatio, &t.MinSampleSize)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: ab test %s", domain.ErrNotFound, campaignID)
	}
	if err != nil {
		return nil, fmt.Errorf("get ab test: %w", err)
	}
	if err := unmarshalJSON(a, &t.VariantA); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(b, &t.VariantB); err != nil {
		return nil, err
	}
	return t, nil
}
