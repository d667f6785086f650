package common

import "errors"

// Error kinds shared across the engine. Call sites wrap these with
// fmt.Errorf("...: %w", err) so callers can classify with errors.Is.
var (
	// ErrMissingTenant is returned by the storage layer when an operation
	// arrives without a tenant id. This is a structural error and is never
	// retried.
	ErrMissingTenant = errors.New("missing tenant context")

	// ErrEmptyResult marks a legitimate "not found", distinct from failure.
	// Retrievers translate it into an explicit no-information answer.
	ErrEmptyResult = errors.New("no matching data")

	// ErrMalformedExtraction is returned when structured model output stays
	// unparseable after the relaxed retry. The affected record is dropped
	// with a logged warning, never silently fabricated.
	ErrMalformedExtraction = errors.New("malformed extraction output")

	// ErrConvergenceFailure indicates an iterative algorithm exhausted its
	// iteration budget. The partial result is still usable and is flagged
	// low-confidence.
	ErrConvergenceFailure = errors.New("iteration budget exceeded")
)
