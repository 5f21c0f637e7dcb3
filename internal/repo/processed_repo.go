// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the
// ProcessedEvent marker used to make webhook deliveries idempotent.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fieldlane/go-crm-webhooks/internal/domain"
)

// EventProcessed reports whether a marker already exists for the external
// event ID.
func EventProcessed(ctx context.Context, db *gorm.DB, externalID string) (bool, error) {
	var rec domain.ProcessedEvent
	err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkEventProcessed inserts the idempotency marker for an external event
// ID. ErrDuplicate means another delivery of the same event won the race;
// callers treat that as already applied. The marker is inserted in the same
// transaction as the event's domain effects, so correctness holds across
// process restarts and concurrent handlers.
func MarkEventProcessed(ctx context.Context, db *gorm.DB, externalID, eventType string) error {
	rec := &domain.ProcessedEvent{
		ID:         uuid.NewString(),
		ExternalID: externalID,
		EventType:  eventType,
		Processed:  true,
		FirstSeen:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}
