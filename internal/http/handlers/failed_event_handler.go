// Operator API HTTP handlers.
//
// This file exposes REST endpoints over the retry queue and maintenance
// passes:
//   - GET  /failed-events                        (list, paginated)
//   - POST /failed-events/{id}/resolve           (manual resolution)
//   - POST /failed-events/{id}/requeue           (put back in rotation)
//   - POST /maintenance/attachments/repair       (legacy attachment repair)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fieldlane/go-crm-webhooks/internal/domain"
	"github.com/fieldlane/go-crm-webhooks/internal/services"
	"github.com/fieldlane/go-crm-webhooks/internal/utils"
	"github.com/fieldlane/go-crm-webhooks/internal/webhook"
)

//
// Service contracts (context-aware)
//

// FailedEventService defines the operator operations over the retry queue.
// Implementations must be safe for concurrent use and honor the context.
type FailedEventService interface {
	// ListPage returns a page of retry-queue entries and the total count.
	ListPage(ctx context.Context, unresolvedOnly bool, page, pageSize int) ([]domain.FailedEvent, int64, error)
	// Resolve manually marks an entry resolved with a note.
	Resolve(ctx context.Context, id, note string) error
	// Requeue puts an entry back in rotation, due immediately.
	Requeue(ctx context.Context, id string) (*domain.FailedEvent, error)
}

// MaintenanceService defines operator-triggered data repairs.
type MaintenanceService interface {
	// RepairLegacyAttachments upgrades bare-URL attachments in place and
	// returns how many activities were repaired.
	RepairLegacyAttachments(ctx context.Context) (int, error)
}

//
// Handler wiring
//

// Handlers groups the webhook ingestion endpoint and the operator API. It
// depends on abstract service interfaces to keep transport concerns separate
// from business logic.
type Handlers struct {
	verifier *webhook.Verifier
	ingest   IngestService
	failed   FailedEventService
	maint    MaintenanceService
}

// New constructs a Handlers instance bound to the given verifier and services.
func New(verifier *webhook.Verifier, ingest IngestService, failed FailedEventService, maint MaintenanceService) *Handlers {
	return &Handlers{verifier: verifier, ingest: ingest, failed: failed, maint: maint}
}

//
// DTOs
//

// ResolveFailedEventRequest is the JSON payload for manual resolution.
type ResolveFailedEventRequest struct {
	// Note records why the operator resolved the entry.
	Note string `json:"note" example:"contact imported manually, event no longer needed"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListFailedEventsResponse wraps a page of retry-queue entries.
type ListFailedEventsResponse struct {
	FailedEvents []domain.FailedEvent `json:"failed_events"`
	Pagination   Pagination           `json:"pagination"`
}

// RepairAttachmentsResponse reports the result of a repair pass.
type RepairAttachmentsResponse struct {
	Repaired int `json:"repaired"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// ListFailedEvents godoc
// @ID          listFailedEvents
// @Summary     List retry-queue entries (paginated)
// @Description Returns retry-queue entries oldest first. By default only unresolved entries (including dead-lettered ones) are returned; pass unresolved=false for full history.
// @Tags        FailedEvents
// @Produce     json
//
// @Param       unresolved  query  bool  false "Only unresolved entries"  default(true)
// @Param       page        query  int   false "Page number"              minimum(1) default(1)
// @Param       page_size   query  int   false "Items per page"           minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListFailedEventsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /failed-events [get]
func (h *Handlers) ListFailedEvents(c *gin.Context) {
	page, pageSize := clampPagination(c)
	unresolvedOnly := c.DefaultQuery("unresolved", "true") != "false"

	items, total, err := h.failed.ListPage(c.Request.Context(), unresolvedOnly, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListFailedEventsResponse{
		FailedEvents: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// ResolveFailedEvent godoc
// @ID          resolveFailedEvent
// @Summary     Manually resolve a retry-queue entry
// @Description Terminally marks an entry resolved with an operator note. The entry will never be replayed again.
// @Tags        FailedEvents
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Failed event ID (UUID)"  format(uuid)
// @Param       body  body  handlers.ResolveFailedEventRequest  false  "Resolution note"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Entry not found or already resolved"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /failed-events/{id}/resolve [post]
func (h *Handlers) ResolveFailedEvent(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "failed event id must be a UUID")
		return
	}

	var req ResolveFailedEventRequest
	// Body is optional; a missing note gets a default server-side.
	_ = c.ShouldBindJSON(&req)

	if err := h.failed.Resolve(c.Request.Context(), id, req.Note); err != nil {
		if errors.Is(err, services.ErrFailedEventNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "failed event not found or already resolved")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeResolveFailed, err.Error())
		return
	}
	noContent(c)
}

// RequeueFailedEvent godoc
// @ID          requeueFailedEvent
// @Summary     Requeue a retry-queue entry
// @Description Puts an entry back in rotation, due immediately. Dead-lettered entries get a fresh retry budget.
// @Tags        FailedEvents
// @Produce     json
//
// @Param       id  path  string  true  "Failed event ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.FailedEvent
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Entry not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /failed-events/{id}/requeue [post]
func (h *Handlers) RequeueFailedEvent(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "failed event id must be a UUID")
		return
	}

	fe, err := h.failed.Requeue(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrFailedEventNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "failed event not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeRequeueFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, fe)
}

// RepairAttachments godoc
// @ID          repairAttachments
// @Summary     Repair legacy attachment records
// @Description Upgrades bare-URL attachments to the canonical {url, type} shape, classifying MIME types on the way. Idempotent.
// @Tags        Maintenance
// @Produce     json
//
// @Success     200  {object} handlers.RepairAttachmentsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /maintenance/attachments/repair [post]
func (h *Handlers) RepairAttachments(c *gin.Context) {
	n, err := h.maint.RepairLegacyAttachments(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeRepairFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, RepairAttachmentsResponse{Repaired: n})
}
