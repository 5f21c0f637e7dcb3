// Package services – RetryScheduler
//
// This file implements the background sweep that replays deferred webhook
// events. Each tick claims due retry-queue entries, re-applies their stored
// payloads through IngestService, and either resolves them or reschedules
// them with exponential backoff.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/fieldlane/go-crm-webhooks/internal/domain"
	"github.com/fieldlane/go-crm-webhooks/internal/repo"
	"github.com/fieldlane/go-crm-webhooks/internal/webhook"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// RetryScheduler periodically replays due retry-queue entries. Multiple
// instances may run against the same database; the per-entry claim keeps
// them from replaying the same entry twice.
type RetryScheduler struct {
	DB     *gorm.DB
	Ingest *IngestService

	Interval time.Duration // sweep cadence
	Batch    int           // max due entries per sweep
	Log      zerolog.Logger

	cron *cron.Cron
}

// Start launches the periodic sweep. It returns after scheduling; sweeps run
// on the cron's own goroutine until Stop is called.
func (s *RetryScheduler) Start() error {
	if s.Interval <= 0 {
		s.Interval = 2 * time.Minute
	}
	if s.Batch <= 0 {
		s.Batch = 50
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.Interval), func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.Log.Error().Err(err).Msg("retry sweep failed")
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.Log.Info().Dur("interval", s.Interval).Int("batch", s.Batch).Msg("retry scheduler started")
	return nil
}

// Stop halts the sweep and waits for an in-flight tick to finish or the
// context to expire.
func (s *RetryScheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Sweep replays one batch of due entries and returns how many attempts were
// made. It is safe to call directly; the operator repair endpoint and tests
// do so.
func (s *RetryScheduler) Sweep(ctx context.Context) (int, error) {
	tr := otel.Tracer("services/RetryScheduler")
	ctx, span := tr.Start(ctx, "Sweep")
	defer span.End()

	now := time.Now().UTC()
	due, err := repo.DueFailedEvents(ctx, s.DB, now, s.Batch)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("retry.due", len(due)))

	attempts := 0
	for i := range due {
		fe := due[i]
		claimed, err := repo.ClaimFailedEvent(ctx, s.DB, fe.ID, time.Now().UTC())
		if err != nil {
			return attempts, err
		}
		if !claimed {
			retryAttemptsTotal.WithLabelValues("skipped").Inc()
			continue
		}
		attempts++
		s.replay(ctx, &fe)
	}
	return attempts, nil
}

// replay re-applies one claimed entry and records the result. Every path
// clears the claim: resolve and failure-recording do so as part of their
// update, and the fallback release covers bookkeeping errors.
func (s *RetryScheduler) replay(ctx context.Context, fe *domain.FailedEvent) {
	now := time.Now().UTC()

	ev, err := webhook.Decode([]byte(fe.Payload))
	if err != nil {
		// Undecodable payloads are never enqueued, so a decode failure here
		// means the stored entry is corrupt. Retrying cannot fix it.
		retryAttemptsTotal.WithLabelValues("failed").Inc()
		s.Log.Error().Str("failed_event_id", fe.ID).Str("event_id", fe.EventID).
			Msg("stored payload undecodable, resolving entry")
		if rerr := repo.ResolveFailedEvent(ctx, s.DB, fe.ID, "stored payload undecodable", now); rerr != nil {
			s.release(ctx, fe.ID, rerr)
		}
		return
	}

	outcome, applyErr := s.Ingest.Apply(ctx, ev)
	if outcome != OutcomeDeferred {
		retryAttemptsTotal.WithLabelValues("resolved").Inc()
		s.Log.Info().Str("event_id", fe.EventID).Str("event_type", fe.EventType).
			Str("outcome", outcome.String()).Int("retry_count", fe.RetryCount).
			Msg("deferred event replayed")
		note := "replayed: " + outcome.String()
		if err := repo.ResolveFailedEvent(ctx, s.DB, fe.ID, note, now); err != nil {
			s.release(ctx, fe.ID, err)
		}
		return
	}

	retryAttemptsTotal.WithLabelValues("failed").Inc()
	reason := "deferred"
	if applyErr != nil {
		reason = applyErr.Error()
	}
	if err := repo.RecordRetryFailure(ctx, s.DB, fe, reason, now); err != nil {
		s.release(ctx, fe.ID, err)
		return
	}
	if fe.Exhausted() {
		retryExhaustedTotal.Inc()
		s.Log.Warn().Str("event_id", fe.EventID).Str("event_type", fe.EventType).
			Int("retry_count", fe.RetryCount).Str("last_error", reason).
			Msg("retry budget exhausted, entry dead-lettered")
		return
	}
	s.Log.Info().Str("event_id", fe.EventID).Int("retry_count", fe.RetryCount).
		Time("next_retry_at", *fe.NextRetryAt).Str("last_error", reason).
		Msg("deferred event rescheduled")
}

func (s *RetryScheduler) release(ctx context.Context, id string, cause error) {
	s.Log.Error().Err(cause).Str("failed_event_id", id).Msg("retry bookkeeping failed")
	if err := repo.ReleaseFailedEventClaim(ctx, s.DB, id); err != nil {
		s.Log.Error().Err(err).Str("failed_event_id", id).Msg("claim release failed")
	}
}
