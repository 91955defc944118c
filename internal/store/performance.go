package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/homereach/leadpilot/internal/domain"
)

// UpsertPerformance stores a snapshot, unique on (agent_id, period).
func (s *Store) UpsertPerformance(ctx context.Context, snap *domain.PerformanceSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	scripts, err := marshalJSON(snap.ScriptMetrics)
	if err != nil {
		return err
	}
	suggestions, err := marshalJSON(snap.Suggestions)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO performance_snapshots
			(agent_id, period_start, period_end, total_interactions,
			 conversion_rate, avg_response_ms, appointment_booking_rate, csat,
			 script_metrics, suggestions, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
		ON CONFLICT (agent_id, period_start, period_end) DO UPDATE SET
			total_interactions = EXCLUDED.total_interactions,
			conversion_rate = EXCLUDED.conversion_rate,
			avg_response_ms = EXCLUDED.avg_response_ms,
			appointment_booking_rate = EXCLUDED.appointment_booking_rate,
			csat = EXCLUDED.csat,
			script_metrics = EXCLUDED.script_metrics,
			suggestions = EXCLUDED.suggestions
	`, snap.AgentID, snap.Period.Start, snap.Period.End, snap.Metrics.TotalInteractions,
		snap.Metrics.ConversionRate, snap.Metrics.AvgResponseMs,
		snap.Metrics.AppointmentBookingRate, snap.Metrics.CSAT,
		scripts, suggestions)
	if err != nil {
		return fmt.Errorf("upsert performance: %w", err)
	}
	return nil
}

// ListPerformance returns stored snapshots within the window, oldest
// first. Empty agentID matches all agents. Used by trend analysis and
// intelligence reports.
func (s *Store) ListPerformance(ctx context.Context, agentID string, window domain.Period) ([]domain.PerformanceSnapshot, error) {
	q := `
		SELECT agent_id, period_start, period_end, total_interactions,
		       conversion_rate, avg_response_ms, appointment_booking_rate, csat
		FROM performance_snapshots
		WHERE period_start >= $1 AND period_end <= $2`
	args := []any{window.Start, window.End}
	if agentID != "" {
		q += ` AND agent_id = $3`
		args = append(args, agentID)
	}
	q += ` ORDER BY period_start ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list performance: %w", err)
	}
	defer rows.Close()

	var out []domain.PerformanceSnapshot
	for rows.Next() {
		var p domain.PerformanceSnapshot
		if err := rows.Scan(&p.AgentID, &p.Period.Start, &p.Period.End,
			&p.Metrics.TotalInteractions, &p.Metrics.ConversionRate,
			&p.Metrics.AvgResponseMs, &p.Metrics.AppointmentBookingRate,
			&p.Metrics.CSAT); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetBaseline loads the stored baseline metrics for an agent.
func (s *Store) GetBaseline(ctx context.Context, agentID string) (*domain.Metrics, error) {
	m := &domain.Metrics{}
	err := s.db.QueryRowContext(ctx, `
		SELECT total_interactions, conversion_rate, avg_response_ms,
		       appointment_booking_rate, csat
		FROM baselines WHERE agent_id = $1
	`, agentID).Scan(&m.TotalInteractions, &m.ConversionRate, &m.AvgResponseMs,
		&m.AppointmentBookingRate, &m.CSAT)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNoBaseline
	}
	if err != nil {
		return nil, fmt.Errorf("get baseline: %w", err)
	}
	return m, nil
}

// SetBaseline stores or replaces the baseline for an agent. The single
// upsert makes baseline rotation atomic.
func (s *Store) SetBaseline(ctx context.Context, agentID string, m domain.Metrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO baselines
			(agent_id, total_interactions, conversion_rate, avg_response_ms,
			 appointment_booking_rate, csat, set_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())
		ON CONFLICT (agent_id) DO UPDATE SET
			total_interactions = EXCLUDED.total_interactions,
			conversion_rate = EXCLUDED.conversion_rate,
			avg_response_ms = EXCLUDED.avg_response_ms,
			appointment_booking_rate = EXCLUDED.appointment_booking_rate,
			csat = EXCLUDED.csat,
			set_at = NOW()
	`, agentID, m.TotalInteractions, m.ConversionRate, m.AvgResponseMs,
		m.AppointmentBookingRate, m.CSAT)
	if err != nil {
		return fmt.Errorf("set baseline: %w", err)
	}
	return nil
}
