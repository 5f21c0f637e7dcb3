package services

import (
	"context"
	"errors"
	"testing"

	"github.com/fieldlane/go-crm-webhooks/internal/repo"
)

func TestFailedEventService_ListPage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := &FailedEventService{DB: db}

	items, total, err := svc.ListPage(ctx, true, 1, 20)
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if total != 0 || len(items) != 0 {
		t.Fatalf("expected empty page, got total=%d items=%+v", total, items)
	}

	for _, id := range []string{"evt_a", "evt_b", "evt_c"} {
		if _, err := repo.EnqueueFailedEvent(ctx, db, id, "message.received", []byte("{}"), "", repo.DefaultRetryPolicy()); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	items, total, err = svc.ListPage(ctx, true, 1, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("expected total 3 with 2 items, got %d/%d", total, len(items))
	}
	items, _, err = svc.ListPage(ctx, true, 2, 2)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item on page 2, got %d", len(items))
	}

	// Out-of-range paging inputs are clamped, not errors.
	if _, _, err := svc.ListPage(ctx, true, 0, -5); err != nil {
		t.Fatalf("clamped paging: %v", err)
	}
}

func TestFailedEventService_Resolve(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := &FailedEventService{DB: db}

	fe, err := repo.EnqueueFailedEvent(ctx, db, "evt_1", "message.received", []byte("{}"), "", repo.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := svc.Resolve(ctx, fe.ID, ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got, err := repo.GetFailedEvent(ctx, db, fe.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Resolved || got.ResolutionNote != "resolved manually" {
		t.Fatalf("expected default note, got %+v", got)
	}

	if err := svc.Resolve(ctx, "missing", "x"); !errors.Is(err, ErrFailedEventNotFound) {
		t.Fatalf("expected ErrFailedEventNotFound, got %v", err)
	}
}

func TestFailedEventService_Requeue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := &FailedEventService{DB: db}

	fe, err := repo.EnqueueFailedEvent(ctx, db, "evt_1", "message.received", []byte("{}"), "", repo.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, err := svc.Requeue(ctx, fe.ID)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if got.Resolved || got.NextRetryAt == nil {
		t.Fatalf("requeued entry must be scheduled: %+v", got)
	}

	if _, err := svc.Requeue(ctx, "missing"); !errors.Is(err, ErrFailedEventNotFound) {
		t.Fatalf("expected ErrFailedEventNotFound, got %v", err)
	}
}
