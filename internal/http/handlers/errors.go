// Package handlers defines HTTP-layer error codes used across all API
// endpoints.
//
// Codes are lowercase snake_case and stable: clients and runbooks branch on
// them, so renaming one is a breaking change. Generic codes mirror common
// HTTP status semantics; domain-specific codes cover business failures a
// status alone cannot convey.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeEnqueueFailed    = "enqueue_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeResolveFailed    = "resolve_failed"
	ErrCodeRequeueFailed    = "requeue_failed"
	ErrCodeRepairFailed     = "repair_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
