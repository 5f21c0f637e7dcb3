// Package services – IngestService
//
// This file implements IngestService, the application-level component that
// turns decoded provider events into domain state. It resolves the contact,
// lazily creates the conversation, creates or amends the activity, and marks
// the delivery processed, all in one transaction so idempotency holds across
// crashes and concurrent deliveries.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the event identity and outcome.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/fieldlane/go-crm-webhooks/internal/domain"
	"github.com/fieldlane/go-crm-webhooks/internal/media"
	"github.com/fieldlane/go-crm-webhooks/internal/repo"
	"github.com/fieldlane/go-crm-webhooks/internal/webhook"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Outcome classifies what applying an event did to domain state. Retry
// policy belongs to callers: only Deferred is worth enqueueing, everything
// else is final.
type Outcome int

const (
	// OutcomeIgnored: acknowledged without domain effects (unknown types,
	// provider housekeeping, undecodable payloads).
	OutcomeIgnored Outcome = iota
	// OutcomeApplied: domain effects performed now.
	OutcomeApplied
	// OutcomeAlreadyApplied: an earlier delivery already performed them.
	OutcomeAlreadyApplied
	// OutcomeDeferred: effects could not be applied yet; replay later.
	OutcomeDeferred
)

// String returns the metric/log label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeAlreadyApplied:
		return "already_applied"
	case OutcomeDeferred:
		return "deferred"
	default:
		return "ignored"
	}
}

// errAlreadyApplied aborts a transaction whose work a concurrent delivery
// already committed.
var errAlreadyApplied = errors.New("already applied")

// IngestService applies provider events to the CRM domain model.
type IngestService struct {
	DB    *gorm.DB
	Media *media.Resolver

	// Retry is the backoff policy stamped onto entries this service
	// enqueues for deferred events.
	Retry repo.RetryPolicy
}

// ProcessDelivery decodes and applies one authenticated delivery body, then
// enqueues it for retry when the outcome is Deferred.
//
// Malformed payloads come back as Ignored with no error: a redelivery would
// be byte-identical and equally malformed, so asking the provider to retry
// is pointless. The only error return is a failure to persist the retry
// entry, the one case where the caller must NOT acknowledge the delivery.
func (s *IngestService) ProcessDelivery(ctx context.Context, raw []byte) (Outcome, error) {
	tr := otel.Tracer("services/IngestService")
	ctx, span := tr.Start(ctx, "ProcessDelivery")
	defer span.End()

	ev, err := webhook.Decode(raw)
	if err != nil {
		malformedTotal.Inc()
		span.SetAttributes(attribute.Bool("event.malformed", true))
		return OutcomeIgnored, nil
	}
	span.SetAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", string(ev.Type)),
	)

	outcome, applyErr := s.Apply(ctx, ev)
	eventsTotal.WithLabelValues(string(ev.Type), outcome.String()).Inc()
	span.SetAttributes(attribute.String("event.outcome", outcome.String()))

	if outcome != OutcomeDeferred {
		return outcome, nil
	}

	reason := "deferred"
	if applyErr != nil {
		reason = applyErr.Error()
	}
	if _, err := repo.EnqueueFailedEvent(ctx, s.DB, ev.ID, string(ev.Type), ev.Raw, reason, s.Retry); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// Apply performs the domain effects for a decoded event. When the outcome is
// Deferred the returned error carries the reason (for the retry entry's
// last_error); for every other outcome the error is nil.
func (s *IngestService) Apply(ctx context.Context, ev *webhook.Event) (Outcome, error) {
	tr := otel.Tracer("services/IngestService")
	ctx, span := tr.Start(ctx, "Apply",
		trace.WithAttributes(
			attribute.String("event.id", ev.ID),
			attribute.String("event.type", string(ev.Type)),
		),
	)
	defer span.End()

	switch ev.Type.Kind() {
	case webhook.KindAck, webhook.KindUnknown:
		return OutcomeIgnored, nil
	}

	processed, err := repo.EventProcessed(ctx, s.DB, ev.ID)
	if err != nil {
		return OutcomeDeferred, err
	}
	if processed {
		return OutcomeAlreadyApplied, nil
	}

	if ev.Type.Kind() == webhook.KindCreation {
		return s.applyCreation(ctx, ev)
	}
	return s.applyUpdate(ctx, ev)
}

// applyCreation handles message.received and call.started: resolve the
// contact, find or create the conversation, insert the activity, refresh the
// conversation recency markers, and record the idempotency marker.
func (s *IngestService) applyCreation(ctx context.Context, ev *webhook.Event) (Outcome, error) {
	obj := ev.Object
	direction := normalizeDirection(obj.Direction)

	phone := obj.From
	if direction == domain.DirectionOutgoing {
		phone = obj.To
	}

	contact, err := repo.FindContactByPhone(ctx, s.DB, phone)
	if errors.Is(err, repo.ErrNotFound) {
		return OutcomeDeferred, ErrContactNotFound
	}
	if err != nil {
		return OutcomeDeferred, err
	}

	// MIME probing does network I/O; resolve before the transaction opens.
	attachments := s.resolveAttachments(ctx, obj.Media)

	subject := obj.SubjectID()
	convExternal := obj.ConversationID
	if convExternal == "" {
		// Calls arrive without a conversation ID; thread them per contact.
		convExternal = contact.PhoneNumber
	}

	at := activityTime(ev)
	act := &domain.Activity{
		ExternalID:     &subject,
		ContactID:      contact.ID,
		Kind:           activityKind(ev.Type),
		Direction:      direction,
		Status:         creationStatus(ev.Type, obj.Status),
		Body:           obj.Body,
		Attachments:    attachments,
		CreatedAt:      at,
	}

	outcome := OutcomeApplied
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkEventProcessed(ctx, tx, ev.ID, string(ev.Type)); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return errAlreadyApplied
			}
			return err
		}

		conv, err := repo.FindOrCreateConversation(ctx, tx, convExternal, contact.ID)
		if err != nil {
			return err
		}
		act.ConversationID = conv.ID

		if _, err := repo.CreateActivity(ctx, tx, act); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				// Another event already created this activity; keep the
				// marker for this delivery and stop.
				outcome = OutcomeAlreadyApplied
				return nil
			}
			return err
		}
		return repo.TouchConversation(ctx, tx, conv.ID, act.Kind, at)
	})
	if errors.Is(err, errAlreadyApplied) {
		return OutcomeAlreadyApplied, nil
	}
	if err != nil {
		return OutcomeDeferred, err
	}
	return outcome, nil
}

// applyUpdate handles every update-type event: locate the activity by the
// event's subject ID and amend the fields the event type implies. A missing
// activity means the creation event has not landed yet, so the update is
// deferred rather than dropped.
func (s *IngestService) applyUpdate(ctx context.Context, ev *webhook.Event) (Outcome, error) {
	act, err := repo.FindActivityByExternalID(ctx, s.DB, ev.Object.SubjectID())
	if errors.Is(err, repo.ErrNotFound) {
		return OutcomeDeferred, ErrActivityNotFound
	}
	if err != nil {
		return OutcomeDeferred, err
	}

	fields := updateFields(ev)
	at := activityTime(ev)

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkEventProcessed(ctx, tx, ev.ID, string(ev.Type)); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return errAlreadyApplied
			}
			return err
		}
		if err := repo.UpdateActivity(ctx, tx, act.ID, fields); err != nil {
			return err
		}
		return repo.TouchConversation(ctx, tx, act.ConversationID, act.Kind, at)
	})
	if errors.Is(err, errAlreadyApplied) {
		return OutcomeAlreadyApplied, nil
	}
	if err != nil {
		return OutcomeDeferred, err
	}
	return OutcomeApplied, nil
}

// resolveAttachments converts payload media references into the persisted
// attachment shape, classifying MIME types for references that arrived
// without one.
func (s *IngestService) resolveAttachments(ctx context.Context, refs []webhook.MediaRef) domain.AttachmentList {
	if len(refs) == 0 {
		return nil
	}
	out := make(domain.AttachmentList, 0, len(refs))
	for _, ref := range refs {
		if strings.TrimSpace(ref.URL) == "" {
			continue
		}
		t := ref.Type
		if t == "" && s.Media != nil {
			t = s.Media.Resolve(ctx, ref.URL)
		}
		if t == "" {
			t = media.TypeGenericBinary
		}
		out = append(out, domain.Attachment{URL: ref.URL, Type: t})
	}
	return out
}

// updateFields maps an update-type event onto the activity columns it amends.
func updateFields(ev *webhook.Event) map[string]any {
	obj := ev.Object
	fields := map[string]any{}
	switch ev.Type {
	case webhook.EventMessageDelivered:
		fields["status"] = "delivered"
	case webhook.EventMessageFailed:
		fields["status"] = "failed"
	case webhook.EventCallAnswered:
		fields["status"] = "answered"
		if obj.AnsweredAt != nil {
			fields["answered_at"] = obj.AnsweredAt
		}
	case webhook.EventCallCompleted:
		fields["status"] = "completed"
		if obj.CompletedAt != nil {
			fields["completed_at"] = obj.CompletedAt
		}
		if obj.DurationSeconds > 0 {
			fields["duration_seconds"] = obj.DurationSeconds
		}
	case webhook.EventCallMissed:
		fields["status"] = "missed"
	case webhook.EventCallForwarded:
		fields["status"] = "forwarded"
	case webhook.EventCallRecordingCompleted:
		if u := firstMediaURL(obj.Media); u != "" {
			fields["recording_url"] = u
		}
	case webhook.EventCallSummaryCompleted, webhook.EventCallSummaryUpdated:
		fields["summary"] = strings.Join(obj.Summary, "\n")
		fields["next_steps"] = strings.Join(obj.NextSteps, "\n")
	case webhook.EventCallTranscriptCompleted, webhook.EventCallTranscriptUpdated:
		fields["transcript"] = renderDialogue(obj.Dialogue)
	}
	return fields
}

// renderDialogue flattens transcript segments into "speaker: content" lines.
func renderDialogue(segments []webhook.DialogueSegment) string {
	if len(segments) == 0 {
		return ""
	}
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		content := strings.TrimSpace(seg.Content)
		if content == "" {
			continue
		}
		if seg.Identifier != "" {
			lines = append(lines, seg.Identifier+": "+content)
		} else {
			lines = append(lines, content)
		}
	}
	return strings.Join(lines, "\n")
}

func firstMediaURL(refs []webhook.MediaRef) string {
	for _, ref := range refs {
		if u := strings.TrimSpace(ref.URL); u != "" {
			return u
		}
	}
	return ""
}

// normalizeDirection maps provider direction tags onto the domain constants,
// defaulting to incoming.
func normalizeDirection(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "outgoing", "outbound":
		return domain.DirectionOutgoing
	default:
		return domain.DirectionIncoming
	}
}

// activityKind maps an event type onto the activity kind it concerns.
func activityKind(t webhook.EventType) string {
	if strings.HasPrefix(string(t), "message.") {
		return domain.ActivityKindMessage
	}
	return domain.ActivityKindCall
}

// creationStatus picks the initial status for a new activity, preferring the
// provider's own status field.
func creationStatus(t webhook.EventType, provided string) string {
	if s := strings.TrimSpace(provided); s != "" {
		return s
	}
	if t == webhook.EventCallStarted {
		return "started"
	}
	return "received"
}

// activityTime picks the domain timestamp for an event: the object's own
// creation time when present, otherwise the envelope time, otherwise now.
func activityTime(ev *webhook.Event) time.Time {
	if ev.Object != nil && ev.Object.CreatedAt != nil && !ev.Object.CreatedAt.IsZero() {
		return ev.Object.CreatedAt.UTC()
	}
	if !ev.CreatedAt.IsZero() {
		return ev.CreatedAt.UTC()
	}
	return time.Now().UTC()
}
