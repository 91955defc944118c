package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/homereach/leadpilot/internal/domain"
)

// RegisterWorker records a worker process in the registry so the
// dashboard can show which workers are alive.
func (s *Store) RegisterWorker(ctx context.Context, workerID, kind, hostname string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (id, kind, hostname, started_at, last_heartbeat)
		VALUES ($1,$2,$3,NOW(),NOW())
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind, hostname = EXCLUDED.hostname,
			started_at = NOW(), last_heartbeat = NOW()
	`, workerID, kind, hostname)
	if err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	return nil
}

// HeartbeatWorker bumps the worker's liveness timestamp.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID string, processed int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workers SET last_heartbeat = NOW(), processed_count = $2 WHERE id = $1
	`, workerID, processed)
	if err != nil {
		return fmt.Errorf("heartbeat worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the registry on clean shutdown.
func (s *Store) DeregisterWorker(ctx context.Context, workerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workers WHERE id = $1`, workerID)
	if err != nil {
		return fmt.Errorf("deregister worker: %w", err)
	}
	return nil
}

// GetWatermark returns the last successful poll time for a source.
// Returns zero time with no error when the source has never been polled.
func (s *Store) GetWatermark(ctx context.Context, source string) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT polled_at FROM poll_watermarks WHERE source = $1`, source).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get watermark: %w", err)
	}
	return t, nil
}

// SetWatermark records the high-water mark after a successful poll.
func (s *Store) SetWatermark(ctx context.Context, source string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO poll_watermarks (source, polled_at) VALUES ($1,$2)
		ON CONFLICT (source) DO UPDATE SET polled_at = EXCLUDED.polled_at
	`, source, t)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

// MarkProcessed records an external message id so subsequent polls
// skip it. Returns true if the id was new.
func (s *Store) MarkProcessed(ctx context.Context, source, externalID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_messages (source, external_id, processed_at)
		VALUES ($1,$2,NOW())
		ON CONFLICT (source, external_id) DO NOTHING
	`, source, externalID)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SaveFeedbackSession upserts a review-collection workflow record.
func (s *Store) SaveFeedbackSession(ctx context.Context, fs *domain.FeedbackSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_sessions
			(id, lead_id, agent_id, channel, status, rating, comment, requested_at, responded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, rating = EXCLUDED.rating,
			comment = EXCLUDED.comment, responded_at = EXCLUDED.responded_at
	`, fs.ID, fs.LeadID, fs.AgentID, fs.Channel, fs.Status,
		fs.Rating, nullIfEmpty(fs.Comment), fs.RequestedAt, fs.RespondedAt)
	if err != nil {
		return fmt.Errorf("save feedback session: %w", err)
	}
	return nil
}

// GetFeedbackSession loads one session by id.
func (s *Store) GetFeedbackSession(ctx context.Context, id string) (*domain.FeedbackSession, error) {
	fs := &domain.FeedbackSession{}
	var rating sql.NullInt64
	var responded sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, lead_id, agent_id, channel, status, rating, COALESCE(comment,''),
		       requested_at, responded_at
		FROM feedback_sessions WHERE id = $1
	`, id).Scan(&fs.ID, &fs.LeadID, &fs.AgentID, &fs.Channel, &fs.Status,
		&rating, &fs.Comment, &fs.RequestedAt, &responded)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: feedback session %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get feedback session: %w", err)
	}
	if rating.Valid {
		r := int(rating.Int64)
		fs.Rating = &r
	}
	if responded.Valid {
		fs.RespondedAt = &responded.Time
	}
	return fs, nil
}

// ListFeedbackSessions returns sessions in the given status, oldest first.
func (s *Store) ListFeedbackSessions(ctx context.Context, status domain.FeedbackSessionStatus, limit int) ([]domain.FeedbackSession, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_id, agent_id, channel, status, rating, COALESCE(comment,''),
		       requested_at, responded_at
		FROM feedback_sessions WHERE status = $1
		ORDER BY requested_at ASC LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list feedback sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.FeedbackSession
	for rows.Next() {
		var fs domain.FeedbackSession
		var rating sql.NullInt64
		var responded sql.NullTime
		if err := rows.Scan(&fs.ID, &fs.LeadID, &fs.AgentID, &fs.Channel, &fs.Status,
			&rating, &fs.Comment, &fs.RequestedAt, &responded); err != nil {
			return nil, fmt.Errorf("scan feedback session: %w", err)
		}
		if rating.Valid {
			r := int(rating.Int64)
			fs.Rating = &r
		}
		if responded.Valid {
			fs.RespondedAt = &responded.Time
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}
