package engine

import (
	"errors"

	"github.com/devflow-labs/devflow-go/internal/repo"
)

// Error taxonomy surfaced to the API layer. Handlers map these to HTTP
// statuses; everything else is an internal error.
var (
	// ErrNotFound mirrors the store sentinel so callers only need one.
	ErrNotFound = repo.ErrNotFound

	// ErrInvalidState rejects operations the run's current state does
	// not allow, such as executing a step while a decision is pending.
	ErrInvalidState = errors.New("invalid run state")

	// ErrValidation rejects malformed input before any state changes.
	ErrValidation = errors.New("validation failed")

	// ErrUpstreamTimeout marks a step whose agent produced no artifact
	// within the wait deadline.
	ErrUpstreamTimeout = errors.New("agent timed out")

	// ErrUpstreamError marks a failed agent call.
	ErrUpstreamError = errors.New("agent call failed")
)
