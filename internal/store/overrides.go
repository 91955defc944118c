package store

import (
	"context"
	"fmt"

	"github.com/homereach/leadpilot/internal/domain"
)

// SaveOverride upserts an operator override. Applies insert the row;
// reverts update reverted_at on the existing one.
func (s *Store) SaveOverride(ctx context.Context, o *domain.Override) error {
	data, err := marshalJSON(o.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO overrides (id, kind, agent_id, reason, data, applied_at, reverted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET reverted_at = EXCLUDED.reverted_at
	`, o.ID, o.Kind, nullIfEmpty(o.AgentID), o.Reason, data, o.AppliedAt, o.RevertedAt)
	if err != nil {
		return fmt.Errorf("save override: %w", err)
	}
	return nil
}

// ListActiveOverrides returns the overrides not yet reverted, oldest
// first. Both the API plane (on startup) and the worker gate read this.
func (s *Store) ListActiveOverrides(ctx context.Context) ([]domain.Override, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, COALESCE(agent_id,''), reason, data, applied_at
		FROM overrides WHERE reverted_at IS NULL
		ORDER BY applied_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	var out []domain.Override
	for rows.Next() {
		var o domain.Override
		var data []byte
		if err := rows.Scan(&o.ID, &o.Kind, &o.AgentID, &o.Reason, &data, &o.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		if err := unmarshalJSON(data, &o.Data); err != nil {
			return nil, fmt.Errorf("decode override data: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
