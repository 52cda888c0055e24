package models

import "errors"

// ErrorKind is the canonical taxonomy of pipeline failures. The HTTP
// boundary maps kinds to status codes; nodes never throw across boundaries.
type ErrorKind string

const (
	ErrKindValidationEmpty         ErrorKind = "validation_empty"
	ErrKindValidationTooLong       ErrorKind = "validation_too_long"
	ErrKindValidationSQLRejected   ErrorKind = "validation_sql_rejected"
	ErrKindInjectionBlocked        ErrorKind = "injection_blocked"
	ErrKindSchemaUnavailable       ErrorKind = "schema_unavailable"
	ErrKindLLMUnavailable          ErrorKind = "llm_unavailable"
	ErrKindLLMEmpty                ErrorKind = "llm_empty"
	ErrKindClarificationNeeded     ErrorKind = "clarification_needed"
	ErrKindInvalidIdentifiers      ErrorKind = "invalid_identifiers"
	ErrKindDialectConversionFailed ErrorKind = "dialect_conversion_failed"
	ErrKindCostBlocked             ErrorKind = "cost_blocked"
	ErrKindQuotaExceeded           ErrorKind = "quota_exceeded"
	ErrKindApprovalRequired        ErrorKind = "approval_required"
	ErrKindApprovalDuplicate       ErrorKind = "approval_duplicate"
	ErrKindApprovalForbidden       ErrorKind = "approval_forbidden"
	ErrKindExecutionTimeout        ErrorKind = "execution_timeout"
	ErrKindExecutionError          ErrorKind = "execution_error"
	ErrKindBreakerOpen             ErrorKind = "breaker_open"
	ErrKindCancelled               ErrorKind = "cancelled"
	ErrKindIterationLimit          ErrorKind = "iteration_limit"
	ErrKindUnauthorized            ErrorKind = "unauthorized"
	ErrKindNotFound                ErrorKind = "not_found"
)

// PipelineError is the terminal error record carried on a ticket and exposed
// through llm_metadata.error_details. Driver-specific strings and secrets
// must be sanitized before they reach Message.
type PipelineError struct {
	Kind         ErrorKind `json:"error_taxonomy"`
	Message      string    `json:"message"`
	FailedAt     string    `json:"failed_at,omitempty"`
	SQLAttempted string    `json:"sql_attempted,omitempty"`
	// Actionable recommendations, at most 3, for cost/scope failures.
	Recommendations []string `json:"recommendations,omitempty"`
	// Invalid identifiers, when applicable.
	InvalidIdentifiers []string `json:"invalid_identifiers,omitempty"`
}

func (e *PipelineError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Sentinel errors shared across services.
var (
	// ErrValidation marks malformed client input (HTTP 400).
	ErrValidation = errors.New("invalid input")
	// ErrNotFound is returned when a ticket is unknown (HTTP 404).
	ErrNotFound = errors.New("ticket not found")
	// ErrDuplicateApproval is returned on a second decision for the same
	// ticket and SQL hash (HTTP 409).
	ErrDuplicateApproval = errors.New("approval already decided")
	// ErrForbidden is returned when the caller does not own the ticket and
	// is not an admin (HTTP 403).
	ErrForbidden = errors.New("forbidden")
	// ErrBreakerOpen is returned while a backend's circuit breaker is open
	// (HTTP 503).
	ErrBreakerOpen = errors.New("backend temporarily unavailable")
)
