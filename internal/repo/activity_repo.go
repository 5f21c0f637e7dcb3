// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Activity
// model, the collaborator surface consumed by the domain mutator.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fieldlane/go-crm-webhooks/internal/domain"
)

// FindActivityByExternalID returns the activity carrying the given provider
// ID or ErrNotFound.
func FindActivityByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Activity, error) {
	var a domain.Activity
	err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateActivity inserts a new activity row. The unique index on
// external_id is the creation-dedup authority: a second insert for the same
// provider ID returns ErrDuplicate, which callers treat as already applied.
func CreateActivity(ctx context.Context, db *gorm.DB, a *domain.Activity) (*domain.Activity, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return a, nil
}

// UpdateActivity applies a field map to the activity row identified by id.
// Repeated application of the same update is naturally idempotent: it sets
// the same fields to the same values.
func UpdateActivity(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	res := db.WithContext(ctx).Model(&domain.Activity{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActivitiesWithLegacyAttachments pages through activities whose
// attachment lists still carry untyped (legacy bare-URL) entries. The JSON
// filter is coarse; the caller re-checks NeedsRepair per row.
func ListActivitiesWithLegacyAttachments(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Activity, error) {
	var out []domain.Activity
	err := db.WithContext(ctx).
		Where("attachments IS NOT NULL AND attachments != '' AND attachments != 'null'").
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SaveActivityAttachments persists a repaired attachment list.
func SaveActivityAttachments(ctx context.Context, db *gorm.DB, id string, list domain.AttachmentList) error {
	return db.WithContext(ctx).
		Model(&domain.Activity{}).
		Where("id = ?", id).
		Update("attachments", list).Error
}
