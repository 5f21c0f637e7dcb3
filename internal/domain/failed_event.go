// Package domain defines the core persistence models for the application.
// This file holds the retry-queue entry for webhook events whose domain
// effects could not be applied synchronously.
package domain

import "time"

// FailedEvent is a durable record of a webhook event whose processing failed
// transiently, plus the backoff state needed to replay it.
//
// Lifecycle: created when applying an event raises a recoverable error;
// mutated by the retry scheduler on every attempt; terminally marked
// Resolved either by a successful replay or by explicit manual resolution.
// Once RetryCount reaches MaxRetries the entry is dead-lettered: it stays
// unresolved with no NextRetryAt and waits for an operator.
//
// Backoff policy (BaseDelaySeconds, BackoffMultiplier, MaxRetries) is stored
// per entry so it can vary by event type without a schema change.
type FailedEvent struct {
	ID        string `json:"id"         gorm:"type:char(36);primaryKey"`
	EventID   string `json:"event_id"   gorm:"type:varchar(64);not null;index"`
	EventType string `json:"event_type" gorm:"type:varchar(64);not null;index"`

	// Payload is the original request body, verbatim, for safe replay.
	Payload   string `json:"payload"    gorm:"type:text;not null"`
	LastError string `json:"last_error" gorm:"type:text;not null;default:''"`

	RetryCount        int     `json:"retry_count"        gorm:"not null;default:0"`
	MaxRetries        int     `json:"max_retries"        gorm:"not null;default:5"`
	BaseDelaySeconds  int     `json:"base_delay_seconds" gorm:"not null;default:60"`
	BackoffMultiplier float64 `json:"backoff_multiplier" gorm:"not null;default:2"`

	NextRetryAt *time.Time `json:"next_retry_at,omitempty" gorm:"index"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`

	// ClaimedAt is the scheduler's claim marker; a conditional update on it
	// keeps concurrent sweeps from replaying the same entry twice.
	ClaimedAt *time.Time `json:"-"`

	Resolved       bool       `json:"resolved"                  gorm:"not null;default:false;index"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty" gorm:"type:text;not null;default:''"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for FailedEvent.
func (FailedEvent) TableName() string { return "failed_events" }

// Exhausted reports whether the entry has used its full retry budget and is
// dead-lettered pending manual intervention.
func (f *FailedEvent) Exhausted() bool {
	return !f.Resolved && f.RetryCount >= f.MaxRetries
}
