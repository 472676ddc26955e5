package repository

import "errors"

var (
	// ErrGateBusy is returned by Submit while another signal is pending.
	// Expected contention, not a fault: callers queue or drop the candidate.
	ErrGateBusy = errors.New("approval gate busy")

	// ErrSignalMismatch is returned by Resolve when the signal id does not
	// match the pending signal. Indicates a logic fault or a stale caller;
	// logged loudly, never retried.
	ErrSignalMismatch = errors.New("signal id does not match pending signal")

	// ErrReferenceUnavailable is returned when no reference series exists
	// and the remote fetch failed. Fusion degrades to local-only mode.
	ErrReferenceUnavailable = errors.New("reference series unavailable")

	// ErrInferenceMalformed is returned when the inference reply fails
	// schema validation. Malformed replies are rejected, never coerced.
	ErrInferenceMalformed = errors.New("inference reply malformed")

	// ErrInferenceUnavailable is returned after retry exhaustion against
	// the inference service. The current cycle is skipped, not crashed.
	ErrInferenceUnavailable = errors.New("inference service unavailable")

	// ErrGateClosed is returned by Submit after shutdown has begun. Any
	// signal pending at close time is flushed as EXPIRED first.
	ErrGateClosed = errors.New("approval gate closed")
)
