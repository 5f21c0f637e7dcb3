// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Contact
// model. Contacts are written by the surrounding CRUD layer; ingestion only
// resolves them.
package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/fieldlane/go-crm-webhooks/internal/domain"
)

// FindContactByPhone resolves a contact by phone number. Lookup is exact
// after trimming; normalization to E.164 happens upstream at import time.
func FindContactByPhone(ctx context.Context, db *gorm.DB, phone string) (*domain.Contact, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, ErrNotFound
	}
	var c domain.Contact
	err := db.WithContext(ctx).Where("phone_number = ?", phone).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
