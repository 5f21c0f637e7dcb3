package webhook

import (
	"errors"
	"testing"
)

func TestDecode_MessageReceived(t *testing.T) {
	raw := []byte(`{
		"id": "evt_1",
		"type": "message.received",
		"apiVersion": "v4",
		"createdAt": "2025-06-01T12:00:00Z",
		"data": {"object": {
			"id": "msg_1",
			"conversationId": "conv_1",
			"from": "+15550001111",
			"to": "+15550002222",
			"direction": "incoming",
			"body": "hello",
			"media": ["https://files.example.com/a.jpg", {"url": "https://files.example.com/b.bin", "type": "application/pdf"}]
		}}
	}`)

	ev, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if ev.ID != "evt_1" || ev.Type != EventMessageReceived || ev.APIVersion != "v4" {
		t.Fatalf("unexpected envelope: %+v", ev)
	}
	if ev.Object == nil || ev.Object.SubjectID() != "msg_1" {
		t.Fatalf("unexpected object: %+v", ev.Object)
	}
	if len(ev.Object.Media) != 2 {
		t.Fatalf("expected 2 media refs, got %d", len(ev.Object.Media))
	}
	// Bare string and object forms both decode.
	if ev.Object.Media[0].URL != "https://files.example.com/a.jpg" || ev.Object.Media[0].Type != "" {
		t.Fatalf("unexpected bare media ref: %+v", ev.Object.Media[0])
	}
	if ev.Object.Media[1].Type != "application/pdf" {
		t.Fatalf("unexpected typed media ref: %+v", ev.Object.Media[1])
	}
	if string(ev.Raw) != string(raw) {
		t.Fatalf("Raw must retain the body verbatim")
	}
}

func TestDecode_UnknownTypeIsNotAnError(t *testing.T) {
	ev, err := Decode([]byte(`{"id":"evt_2","type":"contact.updated","data":{"object":{"id":"x"}}}`))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if ev.Type != EventUnknown || ev.RawType != "contact.updated" {
		t.Fatalf("expected unknown type preserving raw tag, got %+v", ev)
	}
	if ev.Type.Kind() != KindUnknown {
		t.Fatalf("unknown type must classify as KindUnknown")
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":             `{"id":`,
		"missing id":           `{"type":"message.received","data":{"object":{"id":"m"}}}`,
		"missing type":         `{"id":"evt_3","data":{"object":{"id":"m"}}}`,
		"creation no object":   `{"id":"evt_4","type":"message.received"}`,
		"creation no subject":  `{"id":"evt_5","type":"message.received","data":{"object":{"body":"hi"}}}`,
		"update no subject":    `{"id":"evt_6","type":"call.completed","data":{"object":{}}}`,
	}
	for name, raw := range cases {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("%s: expected ErrMalformedPayload, got %v", name, err)
		}
	}
}

func TestDecode_AckNeedsNoObject(t *testing.T) {
	ev, err := Decode([]byte(`{"id":"evt_7","type":"token.validated"}`))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if ev.Type.Kind() != KindAck {
		t.Fatalf("expected KindAck, got %v", ev.Type.Kind())
	}
}

func TestSubjectID_PrefersCallID(t *testing.T) {
	ev, err := Decode([]byte(`{
		"id": "evt_8",
		"type": "call.summary.completed",
		"data": {"object": {"id": "sum_1", "callId": "call_1", "summary": ["a"], "nextSteps": ["b"]}}
	}`))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if got := ev.Object.SubjectID(); got != "call_1" {
		t.Fatalf("expected subject call_1, got %q", got)
	}
}

func TestEventTypeKind(t *testing.T) {
	creations := []EventType{EventMessageReceived, EventCallStarted}
	for _, et := range creations {
		if et.Kind() != KindCreation {
			t.Fatalf("%s: expected KindCreation", et)
		}
	}

	updates := []EventType{
		EventMessageDelivered, EventMessageFailed,
		EventCallAnswered, EventCallCompleted, EventCallMissed, EventCallForwarded,
		EventCallRecordingCompleted,
		EventCallSummaryCompleted, EventCallSummaryUpdated,
		EventCallTranscriptCompleted, EventCallTranscriptUpdated,
	}
	for _, et := range updates {
		if et.Kind() != KindUpdate {
			t.Fatalf("%s: expected KindUpdate", et)
		}
	}

	if EventTokenValidated.Kind() != KindAck {
		t.Fatalf("token.validated: expected KindAck")
	}
	if EventType("whatever.else").Kind() != KindUnknown {
		t.Fatalf("unrecognized tag: expected KindUnknown")
	}
}
