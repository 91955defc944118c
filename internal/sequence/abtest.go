package sequence

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/homereach/leadpilot/internal/domain"
)

// ABStore persists experiment counters between worker restarts.
type ABStore interface {
	SaveABTest(ctx context.Context, t *domain.ABTest) error
	GetABTest(ctx context.Context, campaignID string) (*domain.ABTest, error)
}

// ABResult is the experiment read-out.
type ABResult struct {
	CampaignID  string  `json:"campaign_id"`
	ChiSquare   float64 `json:"chi_square"`
	PValue      float64 `json:"p_value"`
	Significant bool    `json:"significant"`
	Winner      string  `json:"winner"` // variant name or "inconclusive"
	SampleA     int     `json:"sample_a"`
	SampleB     int     `json:"sample_b"`
}

// ABRecorder tracks one campaign's two-variant split. Counter updates
// are serialized; the analysis reads a consistent snapshot.
type ABRecorder struct {
	mu   sync.Mutex
	test domain.ABTest
}

// NewABRecorder creates a recorder. splitRatio is the fraction of
// traffic routed to variant A; minSample gates the analysis.
func NewABRecorder(campaignID string, splitRatio float64, minSample int) *ABRecorder {
	if splitRatio <= 0 || splitRatio >= 1 {
		splitRatio = 0.5
	}
	if minSample <= 0 {
		minSample = 100
	}
	return &ABRecorder{test: domain.ABTest{
		CampaignID:    campaignID,
		VariantA:      domain.ABVariant{Name: "A"},
		VariantB:      domain.ABVariant{Name: "B"},
		SplitRatio:    splitRatio,
		MinSampleSize: minSample,
	}}
}

// RestoreABRecorder rebuilds a recorder from a stored experiment.
func RestoreABRecorder(t *domain.ABTest) *ABRecorder {
	return &ABRecorder{test: *t}
}

// AssignVariant deterministically routes a lead to a variant so the
// same lead always sees the same arm.
func (r *ABRecorder) AssignVariant(leadID string) string {
	h := fnv.New32a()
	h.Write([]byte(leadID))
	r.mu.Lock()
	defer r.mu.Unlock()
	if float64(h.Sum32()%1000)/1000.0 < r.test.SplitRatio {
		return r.test.VariantA.Name
	}
	return r.test.VariantB.Name
}

// RecordSent increments the send counter for a variant.
func (r *ABRecorder) RecordSent(variant string) { r.bump(variant, func(v *domain.ABVariant) { v.Sent++ }) }

// RecordOpened increments the open counter for a variant.
func (r *ABRecorder) RecordOpened(variant string) {
	r.bump(variant, func(v *domain.ABVariant) { v.Opened++ })
}

// RecordResponded increments the response counter for a variant.
func (r *ABRecorder) RecordResponded(variant string) {
	r.bump(variant, func(v *domain.ABVariant) { v.Responded++ })
}

// RecordConverted increments the conversion counter for a variant.
func (r *ABRecorder) RecordConverted(variant string) {
	r.bump(variant, func(v *domain.ABVariant) { v.Converted++ })
}

func (r *ABRecorder) bump(variant string, f func(*domain.ABVariant)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if variant == r.test.VariantA.Name {
		f(&r.test.VariantA)
	} else {
		f(&r.test.VariantB)
	}
}

// Snapshot returns a copy of the experiment state for persistence.
func (r *ABRecorder) Snapshot() domain.ABTest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.test
}

// Analyze runs the chi-square approximation against the pooled
// conversion rate. Until both variants reach the minimum sample size
// the result is inconclusive and not significant. The p-value uses the
// exp(-chi2/2) approximation; winner selection matches a proper
// two-proportion z-test for large samples.
func (r *ABRecorder) Analyze() ABResult {
	r.mu.Lock()
	a, b := r.test.VariantA, r.test.VariantB
	minSample := r.test.MinSampleSize
	r.mu.Unlock()

	res := ABResult{
		CampaignID: r.test.CampaignID,
		Winner:     "inconclusive",
		SampleA:    a.Sent,
		SampleB:    b.Sent,
	}
	if a.Sent < minSample || b.Sent < minSample {
		return res
	}

	res.ChiSquare = chiSquare(a, b)
	res.PValue = math.Exp(-res.ChiSquare / 2)
	res.Significant = res.PValue < 0.05

	if res.Significant {
		if a.ConversionRate() >= b.ConversionRate() {
			res.Winner = a.Name
		} else {
			res.Winner = b.Name
		}
	}
	return res
}

// chiSquare computes the statistic for a 2x2 converted/not-converted
// table against the pooled rate.
func chiSquare(a, b domain.ABVariant) float64 {
	na, nb := float64(a.Sent), float64(b.Sent)
	ca, cb := float64(a.Converted), float64(b.Converted)
	pooled := (ca + cb) / (na + nb)
	if pooled == 0 || pooled == 1 {
		return 0
	}

	chi := 0.0
	for _, cell := range []struct{ obs, exp float64 }{
		{ca, na * pooled},
		{na - ca, na * (1 - pooled)},
		{cb, nb * pooled},
		{nb - cb, nb * (1 - pooled)},
	} {
		diff := cell.obs - cell.exp
		chi += diff * diff / cell.exp
	}
	return chi
}
