// Package services – FailedEventService
//
// This file implements the operator-facing surface over the retry queue:
// listing entries for audit, resolving them manually, and putting them back
// in rotation.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/fieldlane/go-crm-webhooks/internal/domain"
	"github.com/fieldlane/go-crm-webhooks/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FailedEventService exposes the retry queue to the operator API.
type FailedEventService struct {
	DB *gorm.DB
}

// ListPage returns paginated retry-queue entries, oldest first.
func (s *FailedEventService) ListPage(ctx context.Context, unresolvedOnly bool, page, pageSize int) ([]domain.FailedEvent, int64, error) {
	tr := otel.Tracer("services/FailedEventService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Bool("unresolved_only", unresolvedOnly),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountFailedEvents(ctx, s.DB, unresolvedOnly)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.FailedEvent{}, 0, nil
	}
	items, err := repo.ListFailedEventsPage(ctx, s.DB, unresolvedOnly, offset, pageSize)
	return items, total, err
}

// Resolve manually marks an entry resolved with an operator note.
func (s *FailedEventService) Resolve(ctx context.Context, id, note string) error {
	tr := otel.Tracer("services/FailedEventService")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(attribute.String("failed_event.id", id)),
	)
	defer span.End()

	note = strings.TrimSpace(note)
	if note == "" {
		note = "resolved manually"
	}
	err := repo.ResolveFailedEvent(ctx, s.DB, id, note, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return ErrFailedEventNotFound
	}
	return err
}

// Requeue puts an entry back in rotation, due immediately. Exhausted entries
// get a fresh retry budget.
func (s *FailedEventService) Requeue(ctx context.Context, id string) (*domain.FailedEvent, error) {
	tr := otel.Tracer("services/FailedEventService")
	ctx, span := tr.Start(ctx, "Requeue",
		trace.WithAttributes(attribute.String("failed_event.id", id)),
	)
	defer span.End()

	fe, err := repo.RequeueFailedEvent(ctx, s.DB, id, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrFailedEventNotFound
	}
	return fe, err
}
