// Package services defines the business logic for webhook ingestion, the
// retry queue, and attachment maintenance. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// Translation into HTTP status codes or provider acknowledgements happens at
// the handler layer, never here.
package services

import "errors"

var (
	// ErrContactNotFound indicates the event references a phone number with
	// no matching contact. The contact may be imported later, so events
	// failing on this are deferred, not dropped.
	ErrContactNotFound = errors.New("contact not found for phone number")

	// ErrActivityNotFound indicates an update event arrived before the
	// creation event for the same external ID. Deferral lets the retry
	// queue replay it after the creation lands.
	ErrActivityNotFound = errors.New("activity not found for external id")

	// ErrFailedEventNotFound indicates the requested retry-queue entry does
	// not exist.
	ErrFailedEventNotFound = errors.New("failed event not found")
)
