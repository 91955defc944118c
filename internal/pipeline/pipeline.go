// Package pipeline orchestrates ingestion: normalize, dedup-check,
// then insert or merge, with per-item isolation so one bad payload
// never aborts a batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/ingest"
)

// IngestionResult reports the outcome of processing one raw lead.
type IngestionResult struct {
	Success     bool   `json:"success"`
	IsDuplicate bool   `json:"is_duplicate"`
	LeadID      string `json:"lead_id,omitempty"`
	ExistingID  string `json:"existing_id,omitempty"`
	Source      string `json:"source,omitempty"`
	Error       string `json:"error,omitempty"`
}

// LeadWriter is the slice of the store the pipeline writes through.
type LeadWriter interface {
	UpsertLead(ctx context.Context, lead *domain.Lead, actor string, changes map[string]any) error
}

// Deduper is the duplicate-detection contract.
type Deduper interface {
	Check(ctx context.Context, incoming *domain.Lead) (ingest.DupResult, error)
	Merge(ctx context.Context, existingID string, incoming *domain.Lead) error
}

// Pipeline wires the normalizer, deduplicator, and store together.
type Pipeline struct {
	writer LeadWriter
	dedup  Deduper
	events chan<- IngestionResult
}

// New creates a pipeline. events may be nil; when set, every result is
// offered to it without blocking.
func New(writer LeadWriter, dedup Deduper, events chan<- IngestionResult) *Pipeline {
	return &Pipeline{writer: writer, dedup: dedup, events: events}
}

// ProcessBatch runs each raw lead through the pipeline in isolation.
// The returned slice is index-aligned with the input.
func (p *Pipeline) ProcessBatch(ctx context.Context, raws []ingest.RawLead) []IngestionResult {
	results := make([]IngestionResult, 0, len(raws))
	for _, raw := range raws {
		res := p.processOne(ctx, raw)
		if !res.Success {
			log.Printf("[Pipeline] ingest failed source=%s: %s", raw.Source, res.Error)
		}
		p.emit(res)
		results = append(results, res)
	}
	return results
}

func (p *Pipeline) processOne(ctx context.Context, raw ingest.RawLead) IngestionResult {
	res := IngestionResult{Source: string(raw.Source)}

	lead, err := ingest.Normalize(raw)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	dup, err := p.dedup.Check(ctx, lead)
	if err != nil {
		res.Error = fmt.Sprintf("dedup check: %v", err)
		return res
	}

	if dup.IsDuplicate {
		err := p.dedup.Merge(ctx, dup.ExistingID, lead)
		if errors.Is(err, domain.ErrDuplicateConflict) {
			// Target vanished between check and merge; retry the pair once.
			dup, err = p.dedup.Check(ctx, lead)
			if err == nil && dup.IsDuplicate {
				err = p.dedup.Merge(ctx, dup.ExistingID, lead)
			} else if err == nil {
				return p.insert(ctx, lead, res)
			}
		}
		if err != nil {
			res.Error = fmt.Sprintf("merge into %s: %v", dup.ExistingID, err)
			return res
		}
		res.Success = true
		res.IsDuplicate = true
		res.ExistingID = dup.ExistingID
		return res
	}

	return p.insert(ctx, lead, res)
}

func (p *Pipeline) insert(ctx context.Context, lead *domain.Lead, res IngestionResult) IngestionResult {
	if err := p.writer.UpsertLead(ctx, lead, "pipeline", nil); err != nil {
		res.Error = fmt.Sprintf("insert lead: %v", err)
		return res
	}
	res.Success = true
	res.LeadID = lead.ID
	return res
}

func (p *Pipeline) emit(res IngestionResult) {
	if p.events == nil {
		return
	}
	select {
	case p.events <- res:
	default:
		// Slow consumer; drop rather than stall ingestion.
	}
}
