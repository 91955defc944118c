package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/ingest"
	"github.com/homereach/leadpilot/internal/pipeline"
	"github.com/homereach/leadpilot/internal/pkg/httputil"
)

// sourceTokens maps webhook path tokens to lead sources. Unknown
// tokens get a 404.
var sourceTokens = map[string]domain.LeadSource{
	"website":    domain.SourceWebsite,
	"zapier":     domain.SourceThirdParty,
	"integromat": domain.SourceThirdParty,
	"generic":    domain.SourceOther,
	"slack":      domain.SourceSlack,
	"referral":   domain.SourceReferral,
}

const maxWebhookBody = 1 << 20

// handleMetaVerify answers Meta's subscription handshake: echo
// hub.challenge when the mode and verify token match.
func (s *Server) handleMetaVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == s.meta.VerifyToken {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	httputil.Forbidden(w, "verification failed")
}

// handleMetaWebhook verifies X-Hub-Signature-256 over the raw body and
// feeds each leadgen change into the pipeline.
func (s *Server) handleMetaWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	if !verifySignature(body, r.Header.Get("X-Hub-Signature-256"), s.meta.AppSecret) {
		httputil.Forbidden(w, "invalid signature")
		return
	}

	var payload struct {
		Entry []struct {
			Changes []struct {
				Field string         `json:"field"`
				Value map[string]any `json:"value"`
			} `json:"changes"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		httputil.BadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	var raws []ingest.RawLead
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "leadgen" {
				continue
			}
			raw := ingest.RawLead{
				Source:     domain.SourceMetaAds,
				Payload:    change.Value,
				ReceivedAt: s.clk.Now(),
			}
			if id, ok := change.Value["leadgen_id"].(string); ok {
				raw.ExternalID = id
			}
			raws = append(raws, raw)
		}
	}
	if len(raws) == 0 {
		httputil.Accepted(w, map[string]any{"processed": 0})
		return
	}

	results := s.ingestor.ProcessBatch(r.Context(), raws)
	s.writeBatchResult(w, results)
}

// verifySignature checks the sha256= HMAC of the raw body against the
// app secret using a constant-time compare.
func verifySignature(body []byte, header, secret string) bool {
	if secret == "" || !strings.HasPrefix(header, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(header, "sha256=")))
}

// handleSourceWebhook accepts one raw-lead record for a known source
// token. When a shared secret is configured the caller must present it
// in X-Webhook-Secret.
func (s *Server) handleSourceWebhook(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "source")
	source, ok := sourceTokens[token]
	if !ok {
		httputil.NotFound(w, "unknown webhook source: "+token)
		return
	}

	if s.webhookSecret != "" &&
		!hmac.Equal([]byte(r.Header.Get("X-Webhook-Secret")), []byte(s.webhookSecret)) {
		httputil.Forbidden(w, "invalid webhook secret")
		return
	}

	var payload map[string]any
	if !httputil.Decode(w, r, &payload) {
		return
	}

	raw := ingest.RawLead{
		Source:     source,
		Payload:    payload,
		ReceivedAt: s.clk.Now(),
	}
	if id, ok := payload["external_id"].(string); ok {
		raw.ExternalID = id
	}

	results := s.ingestor.ProcessBatch(r.Context(), []ingest.RawLead{raw})
	s.writeBatchResult(w, results)
}

// writeBatchResult maps pipeline results to the webhook response
// contract: 200 when everything was accepted or merged, 500 when any
// item failed processing.
func (s *Server) writeBatchResult(w http.ResponseWriter, results []pipeline.IngestionResult) {
	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
		}
	}
	if failed > 0 {
		httputil.JSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   fmt.Sprintf("%d of %d records failed processing", failed, len(results)),
			"results": results,
		})
		return
	}
	httputil.Accepted(w, map[string]any{"processed": len(results), "results": results})
}
