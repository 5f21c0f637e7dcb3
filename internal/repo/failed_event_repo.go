// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the failed-event queue: durable
// records of webhook events whose processing failed transiently, with the
// backoff state the retry scheduler needs to replay them.
package repo

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fieldlane/go-crm-webhooks/internal/domain"
)

// staleClaimAfter bounds how long a claim blocks other scheduler instances.
// A sweeper that dies mid-replay releases its entries implicitly once the
// claim goes stale.
const staleClaimAfter = 10 * time.Minute

// RetryPolicy carries the per-entry backoff parameters stamped onto new
// queue entries. Defaults follow the provider integration's operational
// settings: 5 attempts starting at 60s with a 2x multiplier.
type RetryPolicy struct {
	MaxRetries        int
	BaseDelaySeconds  int
	BackoffMultiplier float64
}

// DefaultRetryPolicy returns the standard queue policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, BaseDelaySeconds: 60, BackoffMultiplier: 2.0}
}

// backoffDelay computes base × multiplier^retryCount.
func backoffDelay(baseSeconds int, multiplier float64, retryCount int) time.Duration {
	secs := float64(baseSeconds) * math.Pow(multiplier, float64(retryCount))
	return time.Duration(secs * float64(time.Second))
}

// EnqueueFailedEvent records an event whose domain effects could not be
// applied. The first retry is scheduled one base delay after enqueue
// (base × multiplier^0).
func EnqueueFailedEvent(ctx context.Context, db *gorm.DB, eventID, eventType string, payload []byte, lastErr string, pol RetryPolicy) (*domain.FailedEvent, error) {
	if pol.MaxRetries <= 0 || pol.BaseDelaySeconds <= 0 || pol.BackoffMultiplier < 1 {
		pol = DefaultRetryPolicy()
	}
	now := time.Now().UTC()
	next := now.Add(backoffDelay(pol.BaseDelaySeconds, pol.BackoffMultiplier, 0))
	fe := &domain.FailedEvent{
		ID:                uuid.NewString(),
		EventID:           eventID,
		EventType:         eventType,
		Payload:           string(payload),
		LastError:         lastErr,
		RetryCount:        0,
		MaxRetries:        pol.MaxRetries,
		BaseDelaySeconds:  pol.BaseDelaySeconds,
		BackoffMultiplier: pol.BackoffMultiplier,
		NextRetryAt:       &next,
		CreatedAt:         now,
	}
	if err := db.WithContext(ctx).Create(fe).Error; err != nil {
		return nil, err
	}
	return fe, nil
}

// GetFailedEvent fetches a queue entry by ID.
func GetFailedEvent(ctx context.Context, db *gorm.DB, id string) (*domain.FailedEvent, error) {
	var fe domain.FailedEvent
	err := db.WithContext(ctx).Where("id = ?", id).First(&fe).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &fe, nil
}

// DueFailedEvents selects unresolved entries whose next retry is due,
// oldest-due-first, skipping exhausted entries (no NextRetryAt) and entries
// under a live claim.
func DueFailedEvents(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.FailedEvent, error) {
	stale := now.Add(-staleClaimAfter)
	var out []domain.FailedEvent
	q := db.WithContext(ctx).
		Where("resolved = ?", false).
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", now).
		Where("claimed_at IS NULL OR claimed_at < ?", stale).
		Order("next_retry_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ClaimFailedEvent atomically claims an entry for replay. The conditional
// update only succeeds while the entry is unclaimed (or the previous claim
// is stale), so two concurrent scheduler instances can never both replay
// the same entry. Returns false when another instance holds the claim.
func ClaimFailedEvent(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	stale := now.Add(-staleClaimAfter)
	res := db.WithContext(ctx).
		Model(&domain.FailedEvent{}).
		Where("id = ? AND resolved = ? AND (claimed_at IS NULL OR claimed_at < ?)", id, false, stale).
		Update("claimed_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseFailedEventClaim clears the claim marker after an attempt.
func ReleaseFailedEventClaim(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.FailedEvent{}).
		Where("id = ?", id).
		Update("claimed_at", nil).Error
}

// RecordRetryFailure registers another failed attempt: it increments
// retry_count, stores the error, and schedules the next attempt at
// now + base × multiplier^retry_count. When the incremented count reaches
// max_retries the entry is dead-lettered instead: it stays unresolved with
// no next_retry_at, surfaced for manual audit rather than retried forever.
func RecordRetryFailure(ctx context.Context, db *gorm.DB, fe *domain.FailedEvent, lastErr string, now time.Time) error {
	fe.RetryCount++
	fe.LastError = lastErr
	fe.LastRetryAt = &now
	if fe.RetryCount >= fe.MaxRetries {
		fe.NextRetryAt = nil
	} else {
		next := now.Add(backoffDelay(fe.BaseDelaySeconds, fe.BackoffMultiplier, fe.RetryCount))
		fe.NextRetryAt = &next
	}
	return db.WithContext(ctx).
		Model(&domain.FailedEvent{}).
		Where("id = ?", fe.ID).
		Updates(map[string]any{
			"retry_count":   fe.RetryCount,
			"last_error":    fe.LastError,
			"last_retry_at": fe.LastRetryAt,
			"next_retry_at": fe.NextRetryAt,
			"claimed_at":    nil,
		}).Error
}

// ResolveFailedEvent terminally marks an entry resolved, either after a
// successful replay or by operator action.
func ResolveFailedEvent(ctx context.Context, db *gorm.DB, id, note string, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.FailedEvent{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]any{
			"resolved":        true,
			"resolved_at":     now,
			"resolution_note": note,
			"next_retry_at":   nil,
			"claimed_at":      nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RequeueFailedEvent puts an entry back in rotation, due immediately. An
// exhausted entry gets its retry budget back; an operator requeues after
// deploying a fix, so the stale attempt history should not count against
// the fresh run.
func RequeueFailedEvent(ctx context.Context, db *gorm.DB, id string, now time.Time) (*domain.FailedEvent, error) {
	fe, err := GetFailedEvent(ctx, db, id)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{
		"resolved":      false,
		"resolved_at":   nil,
		"next_retry_at": now,
		"claimed_at":    nil,
	}
	if fe.RetryCount >= fe.MaxRetries {
		fields["retry_count"] = 0
	}
	if err := db.WithContext(ctx).
		Model(&domain.FailedEvent{}).
		Where("id = ?", id).
		Updates(fields).Error; err != nil {
		return nil, err
	}
	return GetFailedEvent(ctx, db, id)
}

// CountFailedEvents counts queue entries, optionally only unresolved ones.
func CountFailedEvents(ctx context.Context, db *gorm.DB, unresolvedOnly bool) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.FailedEvent{})
	if unresolvedOnly {
		q = q.Where("resolved = ?", false)
	}
	err := q.Count(&total).Error
	return total, err
}

// ListFailedEventsPage returns a page of queue entries ordered
// oldest-first, the order an operator audits them in.
func ListFailedEventsPage(ctx context.Context, db *gorm.DB, unresolvedOnly bool, offset, limit int) ([]domain.FailedEvent, error) {
	var out []domain.FailedEvent
	q := db.WithContext(ctx).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit)
	if unresolvedOnly {
		q = q.Where("resolved = ?", false)
	}
	err := q.Find(&out).Error
	return out, err
}
