// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fieldlane/go-crm-webhooks/internal/domain"
)

// FindConversationByExternalID returns the conversation with the given
// provider ID or ErrNotFound.
func FindConversationByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// FindOrCreateConversation returns the conversation for externalID, creating
// it lazily for contactID on first reference. A concurrent insert losing the
// unique-index race falls back to re-reading the winner's row.
func FindOrCreateConversation(ctx context.Context, db *gorm.DB, externalID, contactID string) (*domain.Conversation, error) {
	conv, err := FindConversationByExternalID(ctx, db, externalID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	created := &domain.Conversation{
		ID:         uuid.NewString(),
		ExternalID: externalID,
		ContactID:  contactID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(created).Error; err != nil {
		if isUniqueViolation(err) {
			return FindConversationByExternalID(ctx, db, externalID)
		}
		return nil, err
	}
	return created, nil
}

// TouchConversation refreshes a conversation's last-activity markers when a
// newer activity attaches to it. Older (out-of-order) activity timestamps
// never move the markers backwards.
func TouchConversation(ctx context.Context, db *gorm.DB, conversationID, activityType string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND (last_activity_at IS NULL OR last_activity_at <= ?)", conversationID, at).
		Updates(map[string]any{
			"last_activity_at":   at,
			"last_activity_type": activityType,
		}).Error
}
