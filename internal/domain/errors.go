package domain

import (
	"errors"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
// Implementing this interface enables extensible error handling (OCP compliance).
type HTTPError interface {
	error
	StatusCode() int
}

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrUnknownProvider indicates no provider could be resolved for a model name
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrProviderRejected indicates a non-recoverable provider refusal
	// (invalid API key, content policy rejection). Never retried; the assistant
	// message is finalized with a fixed apology string instead.
	ErrProviderRejected = errors.New("provider rejected request")

	// ErrNoActiveBranch indicates a chat whose active_branch_id resolves to
	// nothing. This is a consistency violation, never expected in correct
	// operation; callers treat it as fatal.
	ErrNoActiveBranch = errors.New("chat has no active branch")

	// ErrVersionNotFound indicates a message version id that does not exist
	ErrVersionNotFound = errors.New("message version not found")

	// ErrInvalidModelCount indicates a multi-model request outside the 2..8 range
	ErrInvalidModelCount = errors.New("multi-model requests require between 2 and 8 models")

	// ErrMinimumResponses indicates a deletion that would leave fewer than
	// 2 non-deleted responses on a multi-model message
	ErrMinimumResponses = errors.New("at least 2 responses must remain")

	// ErrResponseNotFound indicates a missing or deleted multi-model response slot
	ErrResponseNotFound = errors.New("response not found")

	// ErrImageGeneration indicates every provider in the image fallback chain failed
	ErrImageGeneration = errors.New("image generation failed")

	// ErrResumeUnsupported is returned by providers that expose no resume primitive
	ErrResumeUnsupported = errors.New("provider does not support stream resumption")
)

// TransportError represents a recoverable provider transport failure.
// The streaming orchestrator reacts by resuming (when the provider supports it
// and a resume token exists) or restarting generation from the full history.
// It is never surfaced to users directly.
type TransportError struct {
	Provider string
	Err      error
}

func (e TransportError) Error() string {
	return "provider transport error (" + e.Provider + "): " + e.Err.Error()
}

func (e TransportError) Unwrap() error { return e.Err }

// ConflictError represents a resource conflict with details about the existing resource
// Implements HTTPError interface for extensible error handling
type ConflictError struct {
	Message      string // Human-readable error message
	ResourceType string // Type of resource (chat, branch, message)
	ResourceID   string // ID of the existing/conflicting resource
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	return e.Message
}

// StatusCode implements the HTTPError interface
func (e *ConflictError) StatusCode() int {
	return http.StatusConflict
}

// Is allows errors.Is() to match against ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
