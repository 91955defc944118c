package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/homereach/leadpilot/internal/domain"
)

// LeadFilter narrows QueryLeads. Zero-valued fields are ignored.
type LeadFilter struct {
	Email       string
	PhoneLast10 string
	Source      domain.LeadSource
	Status      domain.LeadStatus
	AssignedTo  string
	Limit       int
}

const leadColumns = `
	id, source, name, COALESCE(email,''), COALESCE(phone,''),
	COALESCE(preferred_channel,''), COALESCE(timezone,''),
	lead_type, urgency, intent_signals,
	budget_min, budget_max, COALESCE(location,''), COALESCE(property_type,''),
	COALESCE(timeline,''), qualification_score,
	status, COALESCE(assigned_agent,''), created_at, updated_at`

func scanLead(row interface{ Scan(...any) error }) (*domain.Lead, error) {
	l := &domain.Lead{}
	var signals []byte
	err := row.Scan(
		&l.ID, &l.Source, &l.Contact.Name, &l.Contact.Email, &l.Contact.Phone,
		&l.Contact.PreferredChannel, &l.Contact.Timezone,
		&l.LeadType, &l.Urgency, &signals,
		&l.Qualification.BudgetMin, &l.Qualification.BudgetMax,
		&l.Qualification.Location, &l.Qualification.PropertyType,
		&l.Qualification.Timeline, &l.Qualification.Score,
		&l.Status, &l.AssignedAgent, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(signals, &l.IntentSignals); err != nil {
		return nil, fmt.Errorf("decode intent signals: %w", err)
	}
	return l, nil
}

// GetLead loads one lead by id.
func (s *Store) GetLead(ctx context.Context, id string) (*domain.Lead, error) {
	l, err := scanLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: lead %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

// upsertLeadAttempts bounds retries after serialization conflicts.
const upsertLeadAttempts = 3

// UpsertLead inserts or updates a lead and writes the audit row in the
// same serializable transaction, so the lead row and its audit entry
// commit atomically even under concurrent writers. A new lead gets a
// generated id and action=create; an existing lead gets action=update
// with the supplied change diff. Serialization conflicts are retried.
func (s *Store) UpsertLead(ctx context.Context, lead *domain.Lead, actor string, changes map[string]any) error {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	if err := lead.Validate(); err != nil {
		return err
	}

	signals, err := marshalJSON(lead.IntentSignals)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < upsertLeadAttempts; attempt++ {
		if err = s.upsertLeadTx(ctx, lead, actor, changes, signals); !retryableTxError(err) {
			return err
		}
	}
	return err
}

// retryableTxError reports a postgres transaction-rollback error that
// is safe to retry: 40001 serialization_failure, 40P01 deadlock.
func retryableTxError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

func (s *Store) upsertLeadTx(ctx context.Context, lead *domain.Lead, actor string, changes map[string]any, signals any) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin upsert lead: %w", err)
	}
	defer tx.Rollback()

	var inserted bool
	err = tx.QueryRowContext(ctx, `
		INSERT INTO leads
			(id, source, name, email, phone, preferred_channel, timezone,
			 lead_type, urgency, intent_signals,
			 budget_min, budget_max, location, property_type, timeline,
			 qualification_score, status, assigned_agent, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,NOW(),NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone,
			preferred_channel = EXCLUDED.preferred_channel, timezone = EXCLUDED.timezone,
			lead_type = EXCLUDED.lead_type, urgency = EXCLUDED.urgency,
			intent_signals = EXCLUDED.intent_signals,
			budget_min = EXCLUDED.budget_min, budget_max = EXCLUDED.budget_max,
			location = EXCLUDED.location, property_type = EXCLUDED.property_type,
			timeline = EXCLUDED.timeline, qualification_score = EXCLUDED.qualification_score,
			status = EXCLUDED.status, assigned_agent = EXCLUDED.assigned_agent,
			updated_at = NOW()
		RETURNING (xmax = 0)
	`, lead.ID, lead.Source, lead.Contact.Name,
		nullIfEmpty(lead.Contact.Email), nullIfEmpty(lead.Contact.Phone),
		nullIfEmpty(lead.Contact.PreferredChannel), nullIfEmpty(lead.Contact.Timezone),
		lead.LeadType, lead.Urgency, signals,
		lead.Qualification.BudgetMin, lead.Qualification.BudgetMax,
		nullIfEmpty(lead.Qualification.Location), nullIfEmpty(lead.Qualification.PropertyType),
		nullIfEmpty(lead.Qualification.Timeline), lead.Qualification.Score,
		lead.Status, nullIfEmpty(lead.AssignedAgent),
	).Scan(&inserted)
	if err != nil {
		return fmt.Errorf("upsert lead: %w", err)
	}

	action := "update"
	if inserted {
		action = "create"
	}
	if err := appendAuditTx(ctx, tx, "lead", lead.ID, action, actor, changes, nil); err != nil {
		return err
	}

	return tx.Commit()
}

// TransitionLead moves a lead to a new status with row-level locking so
// per-lead write ordering holds, and audits the edge. Illegal edges
// fail with ErrInvalidTransition and leave the row and audit log
// untouched.
func (s *Store) TransitionLead(ctx context.Context, id string, to domain.LeadStatus, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	lead, err := scanLead(tx.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: lead %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("lock lead: %w", err)
	}

	from := lead.Status
	if err := lead.Transition(to); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE leads SET status = $1, updated_at = NOW() WHERE id = $2`, to, id); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	changes := map[string]any{"status": map[string]any{"from": string(from), "to": string(to)}}
	if err := appendAuditTx(ctx, tx, "lead", id, "transition", actor, changes, nil); err != nil {
		return err
	}

	return tx.Commit()
}

// QueryLeads returns leads matching the filter, newest first.
func (s *Store) QueryLeads(ctx context.Context, f LeadFilter) ([]domain.Lead, error) {
	q := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	args := []any{}
	idx := 1
	add := func(clause string, val any) {
		q += fmt.Sprintf(clause, idx)
		args = append(args, val)
		idx++
	}

	if f.Email != "" {
		add(" AND LOWER(email) = LOWER($%d)", f.Email)
	}
	if f.PhoneLast10 != "" {
		add(" AND RIGHT(regexp_replace(phone, '\\D', '', 'g'), 10) = $%d", f.PhoneLast10)
	}
	if f.Source != "" {
		add(" AND source = $%d", f.Source)
	}
	if f.Status != "" {
		add(" AND status = $%d", f.Status)
	}
	if f.AssignedTo != "" {
		add(" AND assigned_agent = $%d", f.AssignedTo)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()

	var out []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
