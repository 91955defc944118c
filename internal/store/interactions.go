package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/homereach/leadpilot/internal/domain"
)

// AppendInteraction writes the interaction and its audit row in one
// transaction. The parent lead row is locked first so per-lead write
// ordering is preserved.
func (s *Store) AppendInteraction(ctx context.Context, in *domain.Interaction) error {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}
	if err := in.Validate(in.Timestamp); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append interaction: %w", err)
	}
	defer tx.Rollback()

	var leadID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM leads WHERE id = $1 FOR UPDATE`, in.LeadID).Scan(&leadID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: lead %s", domain.ErrNotFound, in.LeadID)
	}
	if err != nil {
		return fmt.Errorf("lock lead: %w", err)
	}

	var sentScore, sentConf any
	if in.Sentiment != nil {
		sentScore, sentConf = in.Sentiment.Score, in.Sentiment.Confidence
	}
	var naAction, naDesc any
	var naAt any
	if in.NextAction != nil {
		naAction, naAt, naDesc = in.NextAction.Action, in.NextAction.ScheduledAt, in.NextAction.Description
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO interactions
			(id, lead_id, agent_id, type, direction, content,
			 outcome_status, appointment_booked, qualification_updated, escalation_required,
			 duration_s, sentiment_score, sentiment_confidence,
			 next_action, next_action_at, next_action_desc, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, in.ID, in.LeadID, in.AgentID, in.Type, in.Direction, in.Content,
		in.Outcome.Status, in.Outcome.AppointmentBooked,
		in.Outcome.QualificationUpdated, in.Outcome.EscalationRequired,
		nullIfZero(in.DurationS), sentScore, sentConf,
		naAction, naAt, naDesc, in.Timestamp)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}

	changes := map[string]any{"interaction_id": in.ID, "type": string(in.Type), "outcome": string(in.Outcome.Status)}
	if err := appendAuditTx(ctx, tx, "interaction", in.ID, "create", in.AgentID, changes, nil); err != nil {
		return err
	}

	return tx.Commit()
}

// ListInteractions returns interactions for an agent within the period,
// ordered by timestamp ascending. Empty agentID matches all agents.
func (s *Store) ListInteractions(ctx context.Context, agentID string, period domain.Period) ([]domain.Interaction, error) {
	q := `
		SELECT id, lead_id, agent_id, type, direction, COALESCE(content,''),
		       outcome_status, appointment_booked, qualification_updated, escalation_required,
		       COALESCE(duration_s, 0), sentiment_score, sentiment_confidence, created_at
		FROM interactions
		WHERE created_at >= $1 AND created_at <= $2`
	args := []any{period.Start, period.End}
	if agentID != "" {
		q += ` AND agent_id = $3`
		args = append(args, agentID)
	}
	q += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Interaction
	for rows.Next() {
		var in domain.Interaction
		var score, conf sql.NullFloat64
		if err := rows.Scan(
			&in.ID, &in.LeadID, &in.AgentID, &in.Type, &in.Direction, &in.Content,
			&in.Outcome.Status, &in.Outcome.AppointmentBooked,
			&in.Outcome.QualificationUpdated, &in.Outcome.EscalationRequired,
			&in.DurationS, &score, &conf, &in.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		if score.Valid {
			in.Sentiment = &domain.Sentiment{Score: score.Float64, Confidence: conf.Float64}
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func nullIfZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
