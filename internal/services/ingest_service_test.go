package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fieldlane/go-crm-webhooks/internal/domain"
	"github.com/fieldlane/go-crm-webhooks/internal/repo"
	"github.com/fieldlane/go-crm-webhooks/internal/webhook"
)

const testPhone = "+15550001111"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newIngest builds an IngestService over a fresh database seeded with one
// contact. Media is nil so untyped attachments classify without network I/O.
func newIngest(t *testing.T) (*IngestService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	if err := db.Create(&domain.Contact{
		ID:          "contact_1",
		PhoneNumber: testPhone,
		Name:        "Ada",
	}).Error; err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	return &IngestService{DB: db, Retry: repo.DefaultRetryPolicy()}, db
}

func messageReceived(eventID, messageID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "message.received",
		"apiVersion": "v4",
		"createdAt": "2026-08-30T10:00:00Z",
		"data": {"object": {
			"id": %q,
			"conversationId": "conv_ext_1",
			"from": %q,
			"to": "+15550009999",
			"direction": "incoming",
			"body": "hello there",
			"media": ["https://files.invalid/a.bin", {"url": "https://files.invalid/b.jpg", "type": "image/jpeg"}]
		}}
	}`, eventID, messageID, testPhone))
}

func TestProcessDelivery_MessageReceivedApplied(t *testing.T) {
	svc, db := newIngest(t)
	ctx := context.Background()

	outcome, err := svc.ProcessDelivery(ctx, messageReceived("evt_1", "msg_1"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %v", outcome)
	}

	act, err := repo.FindActivityByExternalID(ctx, db, "msg_1")
	if err != nil {
		t.Fatalf("find activity: %v", err)
	}
	if act.Kind != domain.ActivityKindMessage || act.Direction != domain.DirectionIncoming {
		t.Fatalf("unexpected activity: %+v", act)
	}
	if act.Status != "received" || act.Body != "hello there" {
		t.Fatalf("unexpected activity: %+v", act)
	}
	if len(act.Attachments) != 2 {
		t.Fatalf("expected 2 attachments, got %+v", act.Attachments)
	}
	// Bare URL without a resolver falls back to the generic type; the typed
	// reference keeps its declared type.
	if act.Attachments[0].Type != "application/octet-stream" || act.Attachments[1].Type != "image/jpeg" {
		t.Fatalf("unexpected attachment types: %+v", act.Attachments)
	}

	conv, err := repo.FindConversationByExternalID(ctx, db, "conv_ext_1")
	if err != nil {
		t.Fatalf("find conversation: %v", err)
	}
	if conv.ContactID != "contact_1" {
		t.Fatalf("conversation bound to wrong contact: %+v", conv)
	}
	if conv.LastActivityAt == nil || conv.LastActivityType != domain.ActivityKindMessage {
		t.Fatalf("conversation recency not touched: %+v", conv)
	}
}

func TestProcessDelivery_RedeliveryIsAlreadyApplied(t *testing.T) {
	svc, db := newIngest(t)
	ctx := context.Background()

	if outcome, err := svc.ProcessDelivery(ctx, messageReceived("evt_1", "msg_1")); err != nil || outcome != OutcomeApplied {
		t.Fatalf("first delivery: outcome=%v err=%v", outcome, err)
	}
	outcome, err := svc.ProcessDelivery(ctx, messageReceived("evt_1", "msg_1"))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if outcome != OutcomeAlreadyApplied {
		t.Fatalf("expected already_applied, got %v", outcome)
	}

	var count int64
	if err := db.Model(&domain.Activity{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("redelivery must not duplicate activities, got %d", count)
	}
}

func TestProcessDelivery_DistinctEventSameObject(t *testing.T) {
	svc, db := newIngest(t)
	ctx := context.Background()

	if outcome, err := svc.ProcessDelivery(ctx, messageReceived("evt_1", "msg_1")); err != nil || outcome != OutcomeApplied {
		t.Fatalf("first delivery: outcome=%v err=%v", outcome, err)
	}
	// A different event ID carrying the same object must not create a second
	// activity.
	outcome, err := svc.ProcessDelivery(ctx, messageReceived("evt_2", "msg_1"))
	if err != nil {
		t.Fatalf("second event: %v", err)
	}
	if outcome != OutcomeAlreadyApplied {
		t.Fatalf("expected already_applied, got %v", outcome)
	}

	var count int64
	if err := db.Model(&domain.Activity{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single activity, got %d", count)
	}
}

func TestProcessDelivery_UnknownContactDefers(t *testing.T) {
	svc, db := newIngest(t)
	ctx := context.Background()

	payload := []byte(`{
		"id": "evt_1",
		"type": "message.received",
		"data": {"object": {"id": "msg_1", "from": "+15550007777", "direction": "incoming"}}
	}`)
	outcome, err := svc.ProcessDelivery(ctx, payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeDeferred {
		t.Fatalf("expected deferred, got %v", outcome)
	}

	fe, err := repo.ListFailedEventsPage(ctx, db, true, 0, 10)
	if err != nil {
		t.Fatalf("list failed events: %v", err)
	}
	if len(fe) != 1 || fe[0].EventID != "evt_1" {
		t.Fatalf("expected one retry entry for evt_1, got %+v", fe)
	}
	if fe[0].LastError != ErrContactNotFound.Error() {
		t.Fatalf("unexpected last_error %q", fe[0].LastError)
	}
	if fe[0].Payload != string(payload) {
		t.Fatalf("payload must be stored verbatim")
	}
}

func TestApply_UpdateBeforeCreationDefers(t *testing.T) {
	svc, db := newIngest(t)
	ctx := context.Background()

	payload := []byte(`{
		"id": "evt_1",
		"type": "call.completed",
		"data": {"object": {"id": "call_1", "duration": 42}}
	}`)
	ev, err := webhook.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	outcome, applyErr := svc.Apply(ctx, ev)
	if outcome != OutcomeDeferred || !errors.Is(applyErr, ErrActivityNotFound) {
		t.Fatalf("expected deferred with ErrActivityNotFound, got %v / %v", outcome, applyErr)
	}

	// Through ProcessDelivery the deferral lands in the retry queue.
	if outcome, err := svc.ProcessDelivery(ctx, payload); err != nil || outcome != OutcomeDeferred {
		t.Fatalf("process: outcome=%v err=%v", outcome, err)
	}
	n, err := repo.CountFailedEvents(ctx, db, true)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one retry entry, got %d", n)
	}
}

func TestProcessDelivery_AckAndUnknownIgnored(t *testing.T) {
	svc, db := newIngest(t)
	ctx := context.Background()

	for _, payload := range []string{
		`{"id": "evt_1", "type": "token.validated"}`,
		`{"id": "evt_2", "type": "workflow.shiny.new"}`,
	} {
		outcome, err := svc.ProcessDelivery(ctx, []byte(payload))
		if err != nil {
			t.Fatalf("process %s: %v", payload, err)
		}
		if outcome != OutcomeIgnored {
			t.Fatalf("expected ignored for %s, got %v", payload, outcome)
		}
	}

	var count int64
	if err := db.Model(&domain.ProcessedEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("ignored events must not leave idempotency markers, got %d", count)
	}
}

func TestProcessDelivery_MalformedIgnoredWithoutRows(t *testing.T) {
	svc, db := newIngest(t)
	ctx := context.Background()

	for _, payload := range []string{
		`not json`,
		`{"type": "message.received"}`,
		`{"id": "evt_1", "type": "message.received"}`,
	} {
		outcome, err := svc.ProcessDelivery(ctx, []byte(payload))
		if err != nil {
			t.Fatalf("process %s: %v", payload, err)
		}
		if outcome != OutcomeIgnored {
			t.Fatalf("expected ignored for %s, got %v", payload, outcome)
		}
	}

	for _, model := range []any{&domain.Activity{}, &domain.ProcessedEvent{}, &domain.FailedEvent{}} {
		var count int64
		if err := db.Model(model).Count(&count).Error; err != nil {
			t.Fatalf("count %T: %v", model, err)
		}
		if count != 0 {
			t.Fatalf("malformed payloads must not write %T rows, got %d", model, count)
		}
	}
}

func TestProcessDelivery_CallLifecycle(t *testing.T) {
	svc, db := newIngest(t)
	ctx := context.Background()

	started := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "call.started",
		"data": {"object": {"id": "call_1", "from": %q, "direction": "incoming"}}
	}`, testPhone))
	if outcome, err := svc.ProcessDelivery(ctx, started); err != nil || outcome != OutcomeApplied {
		t.Fatalf("call.started: outcome=%v err=%v", outcome, err)
	}

	act, err := repo.FindActivityByExternalID(ctx, db, "call_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if act.Kind != domain.ActivityKindCall || act.Status != "started" {
		t.Fatalf("unexpected activity: %+v", act)
	}
	// No conversation ID on call events; threading falls back to the phone
	// number.
	if _, err := repo.FindConversationByExternalID(ctx, db, testPhone); err != nil {
		t.Fatalf("expected per-contact conversation thread: %v", err)
	}

	completed := []byte(`{
		"id": "evt_2",
		"type": "call.completed",
		"data": {"object": {"id": "call_1", "duration": 42, "completedAt": "2026-08-30T10:05:00Z"}}
	}`)
	if outcome, err := svc.ProcessDelivery(ctx, completed); err != nil || outcome != OutcomeApplied {
		t.Fatalf("call.completed: outcome=%v err=%v", outcome, err)
	}

	act, err = repo.FindActivityByExternalID(ctx, db, "call_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if act.Status != "completed" || act.DurationSeconds != 42 || act.CompletedAt == nil {
		t.Fatalf("unexpected activity after completion: %+v", act)
	}
}

func TestProcessDelivery_SummaryAndTranscript(t *testing.T) {
	svc, db := newIngest(t)
	ctx := context.Background()

	started := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "call.started",
		"data": {"object": {"id": "call_1", "from": %q}}
	}`, testPhone))
	if outcome, err := svc.ProcessDelivery(ctx, started); err != nil || outcome != OutcomeApplied {
		t.Fatalf("call.started: outcome=%v err=%v", outcome, err)
	}

	// Follow-up artifacts address the call through callId.
	summary := []byte(`{
		"id": "evt_2",
		"type": "call.summary.completed",
		"data": {"object": {"id": "sum_1", "callId": "call_1",
			"summary": ["Discussed pricing", "Agreed on follow-up"],
			"nextSteps": ["Send quote"]}}
	}`)
	if outcome, err := svc.ProcessDelivery(ctx, summary); err != nil || outcome != OutcomeApplied {
		t.Fatalf("summary: outcome=%v err=%v", outcome, err)
	}

	transcript := []byte(`{
		"id": "evt_3",
		"type": "call.transcript.completed",
		"data": {"object": {"id": "tr_1", "callId": "call_1",
			"dialogue": [
				{"identifier": "agent", "content": "Hello"},
				{"identifier": "customer", "content": "Hi there"},
				{"identifier": "agent", "content": "   "}
			]}}
	}`)
	if outcome, err := svc.ProcessDelivery(ctx, transcript); err != nil || outcome != OutcomeApplied {
		t.Fatalf("transcript: outcome=%v err=%v", outcome, err)
	}

	act, err := repo.FindActivityByExternalID(ctx, db, "call_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if act.Summary != "Discussed pricing\nAgreed on follow-up" || act.NextSteps != "Send quote" {
		t.Fatalf("unexpected summary fields: %q / %q", act.Summary, act.NextSteps)
	}
	want := "agent: Hello\ncustomer: Hi there"
	if act.Transcript != want {
		t.Fatalf("expected transcript %q, got %q", want, act.Transcript)
	}
}

func TestProcessDelivery_RecordingURL(t *testing.T) {
	svc, db := newIngest(t)
	ctx := context.Background()

	started := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "call.started",
		"data": {"object": {"id": "call_1", "from": %q}}
	}`, testPhone))
	if outcome, err := svc.ProcessDelivery(ctx, started); err != nil || outcome != OutcomeApplied {
		t.Fatalf("call.started: outcome=%v err=%v", outcome, err)
	}

	recording := []byte(`{
		"id": "evt_2",
		"type": "call.recording.completed",
		"data": {"object": {"id": "rec_1", "callId": "call_1",
			"media": ["https://storage.invalid/recordings/call_1.mp3"]}}
	}`)
	if outcome, err := svc.ProcessDelivery(ctx, recording); err != nil || outcome != OutcomeApplied {
		t.Fatalf("recording: outcome=%v err=%v", outcome, err)
	}

	act, err := repo.FindActivityByExternalID(ctx, db, "call_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if act.RecordingURL != "https://storage.invalid/recordings/call_1.mp3" {
		t.Fatalf("unexpected recording url %q", act.RecordingURL)
	}
}

func TestProcessDelivery_OutgoingMessageResolvesByRecipient(t *testing.T) {
	svc, db := newIngest(t)
	ctx := context.Background()

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "message.received",
		"data": {"object": {"id": "msg_1", "from": "+15550009999", "to": %q,
			"direction": "outgoing", "body": "re: your inquiry"}}
	}`, testPhone))
	if outcome, err := svc.ProcessDelivery(ctx, payload); err != nil || outcome != OutcomeApplied {
		t.Fatalf("process: outcome=%v err=%v", outcome, err)
	}

	act, err := repo.FindActivityByExternalID(ctx, db, "msg_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if act.Direction != domain.DirectionOutgoing || act.ContactID != "contact_1" {
		t.Fatalf("unexpected activity: %+v", act)
	}
}

func TestTouchConversation_Monotonic(t *testing.T) {
	svc, db := newIngest(t)
	ctx := context.Background()

	newer := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "message.received",
		"createdAt": "2026-08-30T12:00:00Z",
		"data": {"object": {"id": "msg_1", "conversationId": "conv_ext_1", "from": %q,
			"createdAt": "2026-08-30T12:00:00Z"}}
	}`, testPhone))
	older := []byte(fmt.Sprintf(`{
		"id": "evt_2",
		"type": "message.received",
		"createdAt": "2026-08-30T09:00:00Z",
		"data": {"object": {"id": "msg_2", "conversationId": "conv_ext_1", "from": %q,
			"createdAt": "2026-08-30T09:00:00Z"}}
	}`, testPhone))

	if outcome, err := svc.ProcessDelivery(ctx, newer); err != nil || outcome != OutcomeApplied {
		t.Fatalf("newer: outcome=%v err=%v", outcome, err)
	}
	if outcome, err := svc.ProcessDelivery(ctx, older); err != nil || outcome != OutcomeApplied {
		t.Fatalf("older: outcome=%v err=%v", outcome, err)
	}

	conv, err := repo.FindConversationByExternalID(ctx, db, "conv_ext_1")
	if err != nil {
		t.Fatalf("find conversation: %v", err)
	}
	want := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if conv.LastActivityAt == nil || !conv.LastActivityAt.Equal(want) {
		t.Fatalf("out-of-order delivery moved recency backwards: %v", conv.LastActivityAt)
	}
}

func TestRenderDialogue(t *testing.T) {
	got := renderDialogue([]webhook.DialogueSegment{
		{Identifier: "agent", Content: "Hello"},
		{Content: "unattributed"},
		{Identifier: "customer", Content: ""},
	})
	if got != "agent: Hello\nunattributed" {
		t.Fatalf("unexpected transcript: %q", got)
	}
	if renderDialogue(nil) != "" {
		t.Fatalf("empty dialogue must render empty")
	}
}

func TestOutcomeString(t *testing.T) {
	cases := map[Outcome]string{
		OutcomeIgnored:        "ignored",
		OutcomeApplied:        "applied",
		OutcomeAlreadyApplied: "already_applied",
		OutcomeDeferred:       "deferred",
	}
	for o, want := range cases {
		if o.String() != want {
			t.Fatalf("outcome %d: expected %q, got %q", o, want, o.String())
		}
	}
}

func TestNormalizeDirection(t *testing.T) {
	for raw, want := range map[string]string{
		"outgoing": domain.DirectionOutgoing,
		"OUTBOUND": domain.DirectionOutgoing,
		"incoming": domain.DirectionIncoming,
		"inbound":  domain.DirectionIncoming,
		"":         domain.DirectionIncoming,
	} {
		if got := normalizeDirection(raw); got != want {
			t.Fatalf("%q: expected %q, got %q", raw, want, got)
		}
	}
}

func TestUpdateFields_StatusTable(t *testing.T) {
	for eventType, wantStatus := range map[webhook.EventType]string{
		webhook.EventMessageDelivered: "delivered",
		webhook.EventMessageFailed:    "failed",
		webhook.EventCallAnswered:     "answered",
		webhook.EventCallMissed:       "missed",
		webhook.EventCallForwarded:    "forwarded",
	} {
		fields := updateFields(&webhook.Event{Type: eventType, Object: &webhook.EventObject{}})
		if fields["status"] != wantStatus {
			t.Fatalf("%s: expected status %q, got %v", eventType, wantStatus, fields["status"])
		}
	}
}

func TestResolveAttachments_SkipsBlankURLs(t *testing.T) {
	svc := &IngestService{}
	got := svc.resolveAttachments(context.Background(), []webhook.MediaRef{
		{URL: "  "},
		{URL: "https://x.invalid/a", Type: "audio/mpeg"},
	})
	if len(got) != 1 || got[0].Type != "audio/mpeg" {
		t.Fatalf("unexpected attachments: %+v", got)
	}
	if svc.resolveAttachments(context.Background(), nil) != nil {
		t.Fatalf("no refs must yield nil")
	}
}
