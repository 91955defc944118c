package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/store"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.New(db), mock
}

func leadRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "source", "name", "email", "phone",
		"preferred_channel", "timezone",
		"lead_type", "urgency", "intent_signals",
		"budget_min", "budget_max", "location", "property_type",
		"timeline", "qualification_score",
		"status", "assigned_agent", "created_at", "updated_at",
	})
}

func TestGetLeadNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .+ FROM leads WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(leadRows())

	_, err := s.GetLead(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetLead(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT .+ FROM leads WHERE id = \$1`).
		WithArgs("L1").
		WillReturnRows(leadRows().AddRow(
			"L1", "website", "Jane", "jane@example.com", "555-123-4567",
			"email", "America/Chicago",
			"hot", 8, []byte(`["buying_intent"]`),
			200000.0, 300000.0, "austin", "condo",
			"3 months", 0.7,
			"new", "", now, now,
		))

	lead, err := s.GetLead(context.Background(), "L1")
	if err != nil {
		t.Fatalf("get lead: %v", err)
	}
	if lead.Contact.Name != "Jane" || lead.Urgency != 8 || lead.LeadType != domain.LeadHot {
		t.Errorf("unexpected lead: %+v", lead)
	}
	if len(lead.IntentSignals) != 1 || lead.IntentSignals[0] != "buying_intent" {
		t.Errorf("intent signals = %v", lead.IntentSignals)
	}
}

func TestUpsertLeadInsertsAuditRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO leads`).
		WillReturnRows(sqlmock.NewRows([]string{"xmax"}).AddRow(true))
	mock.ExpectExec(`INSERT INTO audit_log`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	lead := &domain.Lead{
		Source:   domain.SourceWebsite,
		Contact:  domain.Contact{Name: "Jane", Email: "jane@example.com"},
		LeadType: domain.LeadHot,
		Urgency:  8,
		Status:   domain.StatusNew,
	}
	if err := s.UpsertLead(context.Background(), lead, "pipeline", nil); err != nil {
		t.Fatalf("upsert lead: %v", err)
	}
	if lead.ID == "" {
		t.Error("expected generated lead id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpsertLeadRetriesSerializationConflict(t *testing.T) {
	s, mock := newMockStore(t)

	// First serializable attempt loses the race; the retry commits.
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO leads`).
		WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO leads`).
		WillReturnRows(sqlmock.NewRows([]string{"xmax"}).AddRow(true))
	mock.ExpectExec(`INSERT INTO audit_log`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	lead := &domain.Lead{
		Source:   domain.SourceWebsite,
		Contact:  domain.Contact{Name: "Jane", Email: "jane@example.com"},
		LeadType: domain.LeadHot,
		Urgency:  8,
		Status:   domain.StatusNew,
	}
	if err := s.UpsertLead(context.Background(), lead, "pipeline", nil); err != nil {
		t.Fatalf("upsert lead after retry: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestClaimDueSequencesSkipsLiveClaims(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`claimed_at IS NULL OR claimed_at < \$2`).
		WithArgs(now, now.Add(-2*time.Minute), 50).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "lead_id", "campaign_id", "kind", "current_step", "total_steps",
			"next_fire_at", "status", "interaction_ids", "created_at", "updated_at",
		}))
	mock.ExpectCommit()

	due, err := s.ClaimDueSequences(context.Background(), "worker-a", now, 50)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("claimed %d sequences, want 0", len(due))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpsertLeadRejectsInvalidUrgency(t *testing.T) {
	s, _ := newMockStore(t)

	lead := &domain.Lead{Contact: domain.Contact{Name: "X"}, Urgency: 0, Status: domain.StatusNew}
	err := s.UpsertLead(context.Background(), lead, "pipeline", nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestTransitionLeadIllegalEdgeRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM leads WHERE id = \$1 FOR UPDATE`).
		WithArgs("L1").
		WillReturnRows(leadRows().AddRow(
			"L1", "website", "Jane", "jane@example.com", "",
			"", "", "hot", 8, nil,
			0.0, 0.0, "", "", "", 0.0,
			"new", "", now, now,
		))
	mock.ExpectRollback()

	err := s.TransitionLead(context.Background(), "L1", domain.StatusConverted, "agent-1")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSaveAndListOverrides(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`INSERT INTO overrides`).
		WithArgs("o1", "suspend_optimizations", nil, "incident", nil, now, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`FROM overrides WHERE reverted_at IS NULL`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "kind", "agent_id", "reason", "data", "applied_at",
		}).AddRow("o1", "suspend_optimizations", "", "incident", nil, now))

	o := &domain.Override{
		ID:        "o1",
		Kind:      domain.OverrideSuspendOptimizations,
		Reason:    "incident",
		AppliedAt: now,
	}
	if err := s.SaveOverride(context.Background(), o); err != nil {
		t.Fatalf("save override: %v", err)
	}
	active, err := s.ListActiveOverrides(context.Background())
	if err != nil {
		t.Fatalf("list overrides: %v", err)
	}
	if len(active) != 1 || active[0].Kind != domain.OverrideSuspendOptimizations {
		t.Errorf("active overrides = %+v", active)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetBaselineMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .+ FROM baselines WHERE agent_id = \$1`).
		WithArgs("agent-1").
		WillReturnRows(sqlmock.NewRows([]string{"total_interactions", "conversion_rate", "avg_response_ms", "appointment_booking_rate", "csat"}))

	_, err := s.GetBaseline(context.Background(), "agent-1")
	if !errors.Is(err, domain.ErrNoBaseline) {
		t.Fatalf("expected ErrNoBaseline, got %v", err)
	}
}

func TestSaveOptimizationResultTerminalIsImmutable(t *testing.T) {
	s, mock := newMockStore(t)

	// Conditional upsert touches zero rows once the result is terminal.
	mock.ExpectExec(`INSERT INTO optimization_results`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	r := &domain.OptimizationResult{
		RecommendationID: "R1",
		ImplementedAt:    time.Now(),
		Validated:        true,
	}
	err := s.SaveOptimizationResult(context.Background(), r)
	if !errors.Is(err, domain.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity on terminal update, got %v", err)
	}
}

func TestMarkProcessedIdempotent(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO processed_messages`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO processed_messages`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	fresh, err := s.MarkProcessed(context.Background(), "gmail", "msg-1")
	if err != nil || !fresh {
		t.Fatalf("first mark: fresh=%v err=%v", fresh, err)
	}
	fresh, err = s.MarkProcessed(context.Background(), "gmail", "msg-1")
	if err != nil || fresh {
		t.Fatalf("second mark: fresh=%v err=%v", fresh, err)
	}
}
