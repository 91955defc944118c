package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/homereach/leadpilot/internal/domain"
)

// SaveRecommendation persists a recommendation alongside its typed
// parameters and rollback plan.
func (s *Store) SaveRecommendation(ctx context.Context, rec *domain.OptimizationRecommendation) error {
	var params any
	var err error
	if rec.Implementation.Params != nil {
		params, err = marshalJSON(rec.Implementation.Params)
		if err != nil {
			return err
		}
	}
	criteria, err := marshalJSON(rec.ValidationCriteria)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO recommendations
			(id, type, priority, description, expected_impact_pct,
			 action, params, rollback_plan, testing_days, validation_criteria, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.Type, rec.Priority, rec.Description, rec.ExpectedImpactPct,
		rec.Implementation.Action, params, rec.Implementation.RollbackPlan,
		rec.Implementation.TestingDays, criteria)
	if err != nil {
		return fmt.Errorf("save recommendation: %w", err)
	}
	return nil
}

// GetRecommendation loads one recommendation and reconstructs its typed
// params from the stored type discriminator.
func (s *Store) GetRecommendation(ctx context.Context, id string) (*domain.OptimizationRecommendation, error) {
	rec := &domain.OptimizationRecommendation{ID: id}
	var params, criteria []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT type, priority, description, expected_impact_pct,
		       action, params, COALESCE(rollback_plan,''), testing_days,
		       validation_criteria, created_at
		FROM recommendations WHERE id = $1
	`, id).Scan(&rec.Type, &rec.Priority, &rec.Description, &rec.ExpectedImpactPct,
		&rec.Implementation.Action, &params, &rec.Implementation.RollbackPlan,
		&rec.Implementation.TestingDays, &criteria, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: recommendation %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get recommendation: %w", err)
	}
	if err := unmarshalJSON(criteria, &rec.ValidationCriteria); err != nil {
		return nil, err
	}
	rec.Implementation.Params, err = decodeParams(rec.Type, params)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func decodeParams(typ domain.RecommendationType, data []byte) (domain.RecommendationParams, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch typ {
	case domain.RecommendationRouting:
		var p domain.RoutingParams
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode routing params: %w", err)
		}
		return p, nil
	case domain.RecommendationScript:
		var p domain.ScriptParams
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode script params: %w", err)
		}
		return p, nil
	case domain.RecommendationTiming:
		var p domain.TimingParams
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode timing params: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown recommendation type %q", domain.ErrValidation, typ)
	}
}

// SaveOptimizationResult inserts or updates the result row. Once a
// result is terminal (validated or rollback_required) the row refuses
// further updates, keeping terminal results immutable.
func (s *Store) SaveOptimizationResult(ctx context.Context, r *domain.OptimizationResult) error {
	baseline, err := marshalJSON(r.BaselineMetrics)
	if err != nil {
		return err
	}
	var current, improvement any
	if r.CurrentMetrics != nil {
		current, err = marshalJSON(r.CurrentMetrics)
		if err != nil {
			return err
		}
	}
	if r.Improvement != nil {
		improvement, err = marshalJSON(r.Improvement)
		if err != nil {
			return err
		}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO optimization_results
			(recommendation_id, implemented_at, baseline_metrics, current_metrics,
			 improvement, validated, validated_at, rollback_required)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (recommendation_id) DO UPDATE SET
			current_metrics = EXCLUDED.current_metrics,
			improvement = EXCLUDED.improvement,
			validated = EXCLUDED.validated,
			validated_at = EXCLUDED.validated_at,
			rollback_required = EXCLUDED.rollback_required
		WHERE optimization_results.validated = false
		  AND optimization_results.rollback_required = false
	`, r.RecommendationID, r.ImplementedAt, baseline, current,
		improvement, r.Validated, r.ValidatedAt, r.RollbackRequired)
	if err != nil {
		return fmt.Errorf("save optimization result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: result %s already terminal", domain.ErrIntegrity, r.RecommendationID)
	}
	return nil
}

// GetOptimizationResult loads one result by recommendation id.
func (s *Store) GetOptimizationResult(ctx context.Context, recommendationID string) (*domain.OptimizationResult, error) {
	r := &domain.OptimizationResult{RecommendationID: recommendationID}
	var baseline, current, improvement []byte
	var validatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT implemented_at, baseline_metrics, current_metrics, improvement,
		       validated, validated_at, rollback_required
		FROM optimization_results WHERE recommendation_id = $1
	`, recommendationID).Scan(&r.ImplementedAt, &baseline, &current, &improvement,
		&r.Validated, &validatedAt, &r.RollbackRequired)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: result %s", domain.ErrNotFound, recommendationID)
	}
	if err != nil {
		return nil, fmt.Errorf("get optimization result: %w", err)
	}
	if err := unmarshalJSON(baseline, &r.BaselineMetrics); err != nil {
		return nil, err
	}
	if len(current) > 0 {
		r.CurrentMetrics = &domain.Metrics{}
		if err := unmarshalJSON(current, r.CurrentMetrics); err != nil {
			return nil, err
		}
	}
	if len(improvement) > 0 {
		r.Improvement = &domain.Improvement{}
		if err := unmarshalJSON(improvement, r.Improvement); err != nil {
			return nil, err
		}
	}
	if validatedAt.Valid {
		r.ValidatedAt = &validatedAt.Time
	}
	return r, nil
}

// ListPendingOptimizations returns results still awaiting validation,
// joined with their recommendations. The optimizer rebuilds its
// active_optimizations map from this on restart.
func (s *Store) ListPendingOptimizations(ctx context.Context) ([]domain.OptimizationResult, []domain.OptimizationRecommendation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.recommendation_id, r.implemented_at, r.baseline_metrics,
		       c.type, c.priority, c.description, c.expected_impact_pct,
		       c.action, c.params, COALESCE(c.rollback_plan,''), c.testing_days, c.created_at
		FROM optimization_results r
		JOIN recommendations c ON c.id = r.recommendation_id
		WHERE r.validated = false AND r.rollback_required = false
		ORDER BY r.implemented_at ASC
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("list pending optimizations: %w", err)
	}
	defer rows.Close()

	var results []domain.OptimizationResult
	var recs []domain.OptimizationRecommendation
	for rows.Next() {
		var r domain.OptimizationResult
		var rec domain.OptimizationRecommendation
		var baseline, params []byte
		if err := rows.Scan(&r.RecommendationID, &r.ImplementedAt, &baseline,
			&rec.Type, &rec.Priority, &rec.Description, &rec.ExpectedImpactPct,
			&rec.Implementation.Action, &params, &rec.Implementation.RollbackPlan,
			&rec.Implementation.TestingDays, &rec.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan pending optimization: %w", err)
		}
		rec.ID = r.RecommendationID
		if err := unmarshalJSON(baseline, &r.BaselineMetrics); err != nil {
			return nil, nil, err
		}
		rec.Implementation.Params, err = decodeParams(rec.Type, params)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, r)
		recs = append(recs, rec)
	}
	return results, recs, rows.Err()
}

// QuarantineRecommendation marks a recommendation as never-retry after
// a failed rollback.
func (s *Store) QuarantineRecommendation(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE recommendations SET quarantined = true, quarantine_reason = $2 WHERE id = $1
	`, id, reason)
	if err != nil {
		return fmt.Errorf("quarantine recommendation: %w", err)
	}
	return nil
}
