// Package api exposes the inbound webhook boundary and the operator
// dashboard over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/homereach/leadpilot/internal/control"
	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/ingest"
	"github.com/homereach/leadpilot/internal/monitor"
	"github.com/homereach/leadpilot/internal/pipeline"
	"github.com/homereach/leadpilot/internal/pkg/clock"
	"github.com/homereach/leadpilot/internal/pkg/httputil"
)

// Ingestor accepts raw leads from the webhook boundary.
type Ingestor interface {
	ProcessBatch(ctx context.Context, raws []ingest.RawLead) []pipeline.IngestionResult
}

// Health reports the derived system status for /healthz.
type Health interface {
	Status() monitor.SystemStatus
}

// MetaCredentials holds the webhook verification secrets.
type MetaCredentials struct {
	AppSecret   string
	VerifyToken string
}

// Feedback drives the review-collection workflow.
type Feedback interface {
	RequestReview(ctx context.Context, lead *domain.Lead) (*domain.FeedbackSession, error)
	RecordResponse(ctx context.Context, sessionID string, rating int, comment string) (*domain.FeedbackSession, error)
}

// LeadReader loads leads for the feedback endpoints.
type LeadReader interface {
	GetLead(ctx context.Context, id string) (*domain.Lead, error)
}

// Server is the HTTP boundary.
type Server struct {
	ingestor      Ingestor
	plane         *control.Plane
	health        Health
	meta          MetaCredentials
	webhookSecret string
	clk           clock.Clock
	feedback      Feedback
	leads         LeadReader
}

// NewServer wires the HTTP boundary. plane and health may be nil when
// running ingestion-only.
func NewServer(ingestor Ingestor, plane *control.Plane, health Health, meta MetaCredentials, clk clock.Clock) *Server {
	return &Server{ingestor: ingestor, plane: plane, health: health, meta: meta, clk: clk}
}

// SetWebhookSecret requires the shared secret on generic source
// webhooks. Empty leaves them open (local development).
func (s *Server) SetWebhookSecret(secret string) {
	s.webhookSecret = secret
}

// SetFeedback enables the review-collection endpoints.
func (s *Server) SetFeedback(collector Feedback, leads LeadReader) {
	s.feedback = collector
	s.leads = leads
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Hub-Signature-256", "X-Webhook-Secret"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/webhook", func(r chi.Router) {
		r.Get("/meta", s.handleMetaVerify)
		r.Post("/meta", s.handleMetaWebhook)
		r.Post("/{source}", s.handleSourceWebhook)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/directives", s.handleListDirectives)
		r.Post("/directives", s.handleCreateDirective)
		r.Post("/directives/{id}/transition", s.handleTransitionDirective)
		r.Get("/overrides", s.handleListOverrides)
		r.Post("/overrides", s.handleApplyOverride)
		r.Delete("/overrides/{id}", s.handleRevertOverride)
		r.Post("/feedback", s.handleRequestReview)
		r.Post("/feedback/{id}/response", s.handleFeedbackResponse)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := monitor.StatusHealthy
	if s.health != nil {
		status = s.health.Status()
	}
	code := http.StatusOK
	if status == monitor.StatusCritical {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, map[string]any{"status": status, "time": s.clk.Now()})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.plane == nil {
		httputil.NotFound(w, "dashboard not available")
		return
	}
	httputil.OK(w, s.plane.Snapshot(r.Context()))
}

type createDirectiveRequest struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	TargetAgents []string `json:"target_agents"`
	Priority     string   `json:"priority"`
}

func (s *Server) handleCreateDirective(w http.ResponseWriter, r *http.Request) {
	if s.plane == nil {
		httputil.NotFound(w, "control plane not available")
		return
	}
	var req createDirectiveRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Title == "" {
		httputil.BadRequest(w, "title is required")
		return
	}
	priority := domain.Priority(req.Priority)
	if priority == "" {
		priority = domain.PriorityMedium
	}
	d := s.plane.CreateDirective(req.Title, req.Description, req.TargetAgents, priority)
	httputil.JSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDirectives(w http.ResponseWriter, r *http.Request) {
	if s.plane == nil {
		httputil.NotFound(w, "control plane not available")
		return
	}
	status := control.DirectiveStatus(r.URL.Query().Get("status"))
	httputil.OK(w, map[string]any{"directives": s.plane.Directives(status)})
}

func (s *Server) handleTransitionDirective(w http.ResponseWriter, r *http.Request) {
	if s.plane == nil {
		httputil.NotFound(w, "control plane not available")
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	d, err := s.plane.TransitionDirective(chi.URLParam(r, "id"), control.DirectiveStatus(req.Status))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.OK(w, d)
}

type applyOverrideRequest struct {
	Kind    string         `json:"kind"`
	AgentID string         `json:"agent_id"`
	Reason  string         `json:"reason"`
	Data    map[string]any `json:"data"`
}

func (s *Server) handleApplyOverride(w http.ResponseWriter, r *http.Request) {
	if s.plane == nil {
		httputil.NotFound(w, "control plane not available")
		return
	}
	var req applyOverrideRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	kind := domain.OverrideKind(req.Kind)
	if kind != domain.OverrideSuspendOptimizations && kind != domain.OverrideRedirectAgent {
		httputil.BadRequest(w, fmt.Sprintf("unknown override kind %q", req.Kind))
		return
	}
	o, err := s.plane.ApplyOverride(r.Context(), kind, req.AgentID, req.Reason, req.Data)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, o)
}

func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	if s.plane == nil {
		httputil.NotFound(w, "control plane not available")
		return
	}
	httputil.OK(w, map[string]any{"overrides": s.plane.ActiveOverrides()})
}

func (s *Server) handleRevertOverride(w http.ResponseWriter, r *http.Request) {
	if s.plane == nil {
		httputil.NotFound(w, "control plane not available")
		return
	}
	if err := s.plane.RevertOverride(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (s *Server) handleRequestReview(w http.ResponseWriter, r *http.Request) {
	if s.feedback == nil || s.leads == nil {
		httputil.NotFound(w, "feedback collection not available")
		return
	}
	var req struct {
		LeadID string `json:"lead_id"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.LeadID == "" {
		httputil.BadRequest(w, "lead_id is required")
		return
	}
	lead, err := s.leads.GetLead(r.Context(), req.LeadID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	session, err := s.feedback.RequestReview(r.Context(), lead)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, session)
}

func (s *Server) handleFeedbackResponse(w http.ResponseWriter, r *http.Request) {
	if s.feedback == nil {
		httputil.NotFound(w, "feedback collection not available")
		return
	}
	var req struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	session, err := s.feedback.RecordResponse(r.Context(), chi.URLParam(r, "id"), req.Rating, req.Comment)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.OK(w, session)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrValidation):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
