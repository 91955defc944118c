package domain

import "errors"

// Stable error kinds shared across the platform. Callers classify with
// errors.Is; wrapping with fmt.Errorf("%w: ...") adds context.
var (
	// ErrValidation indicates input that violates schema or invariants.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition indicates a disallowed lead status edge.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotFound indicates an entity that does not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrNoBaseline indicates measure_impact was called before set_baseline.
	ErrNoBaseline = errors.New("no baseline set: call SetBaseline before MeasureImpact")

	// ErrDuplicateConflict indicates a merge target that vanished between
	// the duplicate check and the merge. The pipeline retries once.
	ErrDuplicateConflict = errors.New("merge target no longer exists")

	// ErrExternalUnavailable indicates a failed store, sender, or
	// routing-agent call. Retried with backoff, then breaker-gated.
	ErrExternalUnavailable = errors.New("external collaborator unavailable")

	// ErrIntegrity indicates an invariant violation detected at
	// persistence time. The transaction is aborted and escalated.
	ErrIntegrity = errors.New("integrity violation")
)
