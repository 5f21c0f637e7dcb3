// Package services – MaintenanceService
//
// This file implements the attachment repair pass: activities persisted
// before MIME classification carry bare-URL attachments with an empty type,
// and this pass upgrades them in place to the canonical {url, type} shape.
package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/fieldlane/go-crm-webhooks/internal/media"
	"github.com/fieldlane/go-crm-webhooks/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// MaintenanceService runs operator-triggered data repairs.
type MaintenanceService struct {
	DB    *gorm.DB
	Media *media.Resolver
}

// repairPageSize bounds how many activities are scanned per page.
const repairPageSize = 100

// RepairLegacyAttachments scans activities for untyped attachments and
// classifies them through the media resolver. It returns how many activities
// were repaired. Already-canonical rows are left untouched, so the pass is
// idempotent and safe to re-run.
func (s *MaintenanceService) RepairLegacyAttachments(ctx context.Context) (int, error) {
	tr := otel.Tracer("services/MaintenanceService")
	ctx, span := tr.Start(ctx, "RepairLegacyAttachments")
	defer span.End()

	repaired := 0
	for offset := 0; ; offset += repairPageSize {
		batch, err := repo.ListActivitiesWithLegacyAttachments(ctx, s.DB, offset, repairPageSize)
		if err != nil {
			return repaired, err
		}
		if len(batch) == 0 {
			break
		}
		for i := range batch {
			act := &batch[i]
			if !act.Attachments.NeedsRepair() {
				continue
			}
			list := act.Attachments
			for j := range list {
				if list[j].Type != "" {
					continue
				}
				t := media.TypeGenericBinary
				if s.Media != nil {
					t = s.Media.Resolve(ctx, list[j].URL)
				}
				list[j].Type = t
			}
			if err := repo.SaveActivityAttachments(ctx, s.DB, act.ID, list); err != nil {
				return repaired, err
			}
			repaired++
		}
		if len(batch) < repairPageSize {
			break
		}
	}
	span.SetAttributes(attribute.Int("attachments.repaired", repaired))
	return repaired, nil
}
