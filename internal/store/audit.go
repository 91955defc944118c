package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/homereach/leadpilot/internal/domain"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func appendAuditTx(ctx context.Context, tx execer, entityType, entityID, action, actor string, changes, metadata map[string]any) error {
	changesJSON, err := marshalJSON(changes)
	if err != nil {
		return err
	}
	metaJSON, err := marshalJSON(metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, action, changes, actor, created_at, metadata)
		VALUES ($1,$2,$3,$4,$5,NOW(),$6)
	`, entityType, entityID, action, changesJSON, actor, metaJSON)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// AppendAudit writes one append-only audit entry outside any caller
// transaction.
func (s *Store) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	return appendAuditTx(ctx, s.db, e.EntityType, e.EntityID, e.Action, e.Actor, e.Changes, e.Metadata)
}

// ListAudit returns recent audit entries for one entity, newest first.
func (s *Store) ListAudit(ctx context.Context, entityType, entityID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, action, changes, actor, created_at, metadata
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC LIMIT $3
	`, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var changes, meta []byte
		var ts time.Time
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &changes, &e.Actor, &ts, &meta); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.Timestamp = ts
		if err := unmarshalJSON(changes, &e.Changes); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(meta, &e.Metadata); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
