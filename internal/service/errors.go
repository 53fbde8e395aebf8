package service

import "errors"

// Common service-level errors. Handlers map these onto HTTP status codes;
// anything not in this list is treated as an internal error.
var (
	// ErrNoInputs indicates a batch submission carried no URLs at all.
	ErrNoInputs = errors.New("no source URLs provided")

	// ErrGenerationInProgress indicates a generation job is already active
	// for the deliverable.
	ErrGenerationInProgress = errors.New("generation already in progress")

	// ErrCannotRecover indicates reconciliation was requested for an entity
	// that never recorded an external run identifier, so there is nothing
	// to look up.
	ErrCannotRecover = errors.New("no run identifier recorded, cannot recover")

	// ErrUnknownEntity indicates a callback payload referenced an entity
	// this service has no record of.
	ErrUnknownEntity = errors.New("callback references unknown entity")

	// ErrMalformedPayload indicates a callback payload was structurally
	// unusable before any entity lookup (missing identifiers, unrecognized
	// declared status).
	ErrMalformedPayload = errors.New("malformed callback payload")
)
