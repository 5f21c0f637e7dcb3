// Package webhook implements authentication and decoding for inbound
// telephony-provider event deliveries. This file defines the typed event
// model and the envelope decoder.
package webhook

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrMalformedPayload is returned when a delivery body is not a valid event
// envelope. Malformed payloads are never retried: they will not become
// parseable on a second delivery.
var ErrMalformedPayload = errors.New("malformed event payload")

// EventType is the closed set of provider event tags. Unknown tags decode
// to EventUnknown rather than failing, so a new server-side event type never
// causes the provider to retry.
type EventType string

// Known provider event types.
const (
	EventMessageReceived  EventType = "message.received"
	EventMessageDelivered EventType = "message.delivered"
	EventMessageFailed    EventType = "message.failed"

	EventCallStarted   EventType = "call.started"
	EventCallAnswered  EventType = "call.answered"
	EventCallCompleted EventType = "call.completed"
	EventCallMissed    EventType = "call.missed"
	EventCallForwarded EventType = "call.forwarded"

	EventCallRecordingCompleted  EventType = "call.recording.completed"
	EventCallSummaryCompleted    EventType = "call.summary.completed"
	EventCallSummaryUpdated      EventType = "call_summary.updated"
	EventCallTranscriptCompleted EventType = "call.transcript.completed"
	EventCallTranscriptUpdated   EventType = "call_transcript.updated"

	EventTokenValidated EventType = "token.validated"

	// EventUnknown tags any event type outside the known set.
	EventUnknown EventType = "unknown"
)

// Kind classifies how an event type affects domain state.
type Kind int

const (
	// KindUnknown: acknowledge without domain mutation.
	KindUnknown Kind = iota
	// KindCreation: introduces a new Activity (and lazily its Conversation).
	KindCreation
	// KindUpdate: amends an existing Activity located by external ID.
	KindUpdate
	// KindAck: provider housekeeping (e.g. key validation); no domain state.
	KindAck
)

// Kind returns the domain-effect classification for the event type. The
// switch is exhaustive over the known constants so a newly added type must
// be classified here before it can reach the mutator.
func (t EventType) Kind() Kind {
	switch t {
	case EventMessageReceived, EventCallStarted:
		return KindCreation
	case EventMessageDelivered, EventMessageFailed,
		EventCallAnswered, EventCallCompleted, EventCallMissed, EventCallForwarded,
		EventCallRecordingCompleted,
		EventCallSummaryCompleted, EventCallSummaryUpdated,
		EventCallTranscriptCompleted, EventCallTranscriptUpdated:
		return KindUpdate
	case EventTokenValidated:
		return KindAck
	default:
		return KindUnknown
	}
}

// parseEventType maps a raw tag onto the closed set, tagging anything
// unrecognized as EventUnknown.
func parseEventType(raw string) EventType {
	t := EventType(raw)
	if t.Kind() == KindUnknown {
		return EventUnknown
	}
	return t
}

// MediaRef is a single attachment reference in an event payload. The
// provider sometimes sends bare URL strings and sometimes {url, type}
// objects; both decode into this shape (Type may be empty).
type MediaRef struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

// UnmarshalJSON accepts either a JSON string (bare URL) or an object.
func (m *MediaRef) UnmarshalJSON(data []byte) error {
	var u string
	if err := json.Unmarshal(data, &u); err == nil {
		m.URL = u
		m.Type = ""
		return nil
	}
	type alias MediaRef
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*m = MediaRef(a)
	return nil
}

// DialogueSegment is one utterance in a call transcript payload.
type DialogueSegment struct {
	Identifier string  `json:"identifier"`
	Content    string  `json:"content"`
	UserID     string  `json:"userId,omitempty"`
	Start      float64 `json:"start,omitempty"`
	End        float64 `json:"end,omitempty"`
}

// EventObject is the nested payload object carried by every domain event.
// Field presence depends on the event type; the mutator reads only what the
// type implies.
type EventObject struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId,omitempty"`
	CallID         string    `json:"callId,omitempty"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to,omitempty"`
	Direction      string    `json:"direction,omitempty"`
	Body           string    `json:"body,omitempty"`
	Status         string    `json:"status,omitempty"`
	Media          []MediaRef `json:"media,omitempty"`

	DurationSeconds int        `json:"duration,omitempty"`
	AnsweredAt      *time.Time `json:"answeredAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	CreatedAt       *time.Time `json:"createdAt,omitempty"`

	Summary   []string          `json:"summary,omitempty"`
	NextSteps []string          `json:"nextSteps,omitempty"`
	Dialogue  []DialogueSegment `json:"dialogue,omitempty"`
}

// SubjectID returns the external ID the event's domain effect targets: the
// referenced call ID for follow-up artifacts (recording, summary,
// transcript), otherwise the object's own ID.
func (o *EventObject) SubjectID() string {
	if o.CallID != "" {
		return o.CallID
	}
	return o.ID
}

// Event is a decoded inbound delivery: the envelope identity plus the typed
// nested object. Raw retains the body verbatim so a deferred event can be
// enqueued and replayed byte-for-byte.
type Event struct {
	ID         string
	Type       EventType
	RawType    string // the tag as delivered, preserved for unknown types
	APIVersion string
	CreatedAt  time.Time
	Object     *EventObject
	Raw        []byte
}

// envelope mirrors the provider's outer JSON structure.
type envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	APIVersion string    `json:"apiVersion"`
	CreatedAt  time.Time `json:"createdAt"`
	Data       struct {
		Object *EventObject `json:"object"`
	} `json:"data"`
}

// Decode parses a raw delivery body into a typed Event.
//
// The envelope must carry `id` and `type`; for creation and update event
// types the nested object and its subject ID are also required. Anything
// else is ErrMalformedPayload. An unrecognized `type` is NOT an error: the
// event decodes with Type == EventUnknown and the dispatcher acknowledges
// it without domain mutation.
func Decode(raw []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrMalformedPayload
	}
	if strings.TrimSpace(env.ID) == "" || strings.TrimSpace(env.Type) == "" {
		return nil, ErrMalformedPayload
	}

	ev := &Event{
		ID:         env.ID,
		Type:       parseEventType(env.Type),
		RawType:    env.Type,
		APIVersion: env.APIVersion,
		CreatedAt:  env.CreatedAt,
		Object:     env.Data.Object,
		Raw:        raw,
	}

	switch ev.Type.Kind() {
	case KindCreation, KindUpdate:
		if ev.Object == nil || strings.TrimSpace(ev.Object.SubjectID()) == "" {
			return nil, ErrMalformedPayload
		}
	}
	return ev, nil
}
