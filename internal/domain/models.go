// Package domain defines the persistence models for contacts, conversations,
// and activities produced from provider webhook events. These types are
// mapped with GORM and form the core data layer of the CRM ingestion
// pipeline.
package domain

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Activity kinds produced by the ingestion pipeline.
const (
	ActivityKindMessage = "message"
	ActivityKindCall    = "call"
	ActivityKindEmail   = "email"
)

// Activity directions as reported by the provider.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Contact represents a CRM contact. Contacts are written by the surrounding
// CRUD layer; the ingestion core only resolves them by phone number when
// attaching activities.
type Contact struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	PhoneNumber string         `json:"phone_number" gorm:"type:varchar(32);not null;uniqueIndex:ux_contact_phone"`
	Name        string         `json:"name"         gorm:"type:varchar(255);not null;default:''"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"            gorm:"index"`
}

// TableName returns the database table name for Contact.
func (Contact) TableName() string { return "contacts" }

// Conversation groups activities exchanged with one contact under the
// provider's conversation ID. Conversations are created lazily the first
// time an activity references an unknown conversation ID and their
// last-activity fields are refreshed whenever a newer activity attaches.
//
// Fields:
//   - ExternalID: provider-assigned conversation ID; unique.
//   - ContactID: owning contact.
//   - LastActivityAt / LastActivityType: denormalized recency markers used
//     by the (out-of-scope) inbox UI.
type Conversation struct {
	ID               string         `json:"id"                 gorm:"type:char(36);primaryKey"`
	ExternalID       string         `json:"external_id"        gorm:"type:varchar(64);not null;uniqueIndex:ux_conversation_external"`
	ContactID        string         `json:"contact_id"         gorm:"type:char(36);not null;index"`
	LastActivityAt   *time.Time     `json:"last_activity_at,omitempty"`
	LastActivityType string         `json:"last_activity_type" gorm:"type:varchar(32);not null;default:''"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-"                  gorm:"index"`

	Contact Contact `json:"-" gorm:"foreignKey:ContactID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Attachment is the stable persisted shape for a single activity attachment.
// Attachments are always stored as {url, type} pairs, never as bare URLs,
// so downstream consumers have a single shape to rely on.
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// AttachmentList is a JSON-encoded list of attachments. Its decoder also
// accepts the legacy bare-URL form (`["https://..."]`) that predates MIME
// classification; those entries come back with an empty Type and are
// repaired by the maintenance pass.
type AttachmentList []Attachment

// UnmarshalJSON accepts both the canonical `[{"url":..,"type":..}]` shape
// and the legacy bare string list.
func (l *AttachmentList) UnmarshalJSON(data []byte) error {
	var canonical []Attachment
	if err := json.Unmarshal(data, &canonical); err == nil {
		*l = canonical
		return nil
	}
	var legacy []string
	if err := json.Unmarshal(data, &legacy); err != nil {
		return err
	}
	out := make(AttachmentList, 0, len(legacy))
	for _, u := range legacy {
		out = append(out, Attachment{URL: u})
	}
	*l = out
	return nil
}

// NeedsRepair reports whether any attachment is missing a MIME type
// (i.e. it was persisted in the legacy bare-URL form).
func (l AttachmentList) NeedsRepair() bool {
	for _, a := range l {
		if a.Type == "" {
			return true
		}
	}
	return false
}

// Activity is the domain record produced by the ingestion pipeline for each
// provider message, call, or follow-up artifact. The provider-assigned
// ExternalID uniquely identifies at most one Activity; update-type events
// (delivery confirmation, call completion, recording/summary/transcript)
// mutate the existing row located by ExternalID rather than creating a new
// one.
type Activity struct {
	ID             string  `json:"id"              gorm:"type:char(36);primaryKey"`
	ExternalID     *string `json:"external_id"     gorm:"type:varchar(64);uniqueIndex:ux_activity_external"`
	ConversationID string  `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conversation_activities"`
	ContactID      string  `json:"contact_id"      gorm:"type:char(36);not null;index"`

	Kind      string `json:"kind"      gorm:"type:varchar(16);not null;check:kind IN ('message','call','email')"`
	Direction string `json:"direction" gorm:"type:varchar(16);not null;check:direction IN ('incoming','outgoing')"`
	Status    string `json:"status"    gorm:"type:varchar(32);not null;default:''"`
	Body      string `json:"body"      gorm:"type:text;not null;default:''"`

	Attachments AttachmentList `json:"attachments,omitempty" gorm:"serializer:json"`

	// Call lifecycle fields, set by update events referencing the call ID.
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	AnsweredAt      *time.Time `json:"answered_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	RecordingURL    string     `json:"recording_url,omitempty" gorm:"type:text;not null;default:''"`

	// AI-derived fields attached by later events for the same call ID.
	Summary    string `json:"summary,omitempty"    gorm:"type:text;not null;default:''"`
	NextSteps  string `json:"next_steps,omitempty" gorm:"type:text;not null;default:''"`
	Transcript string `json:"transcript,omitempty" gorm:"type:text;not null;default:''"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Activity.
func (Activity) TableName() string { return "activities" }

// ProcessedEvent is the durable idempotency marker for provider deliveries.
// At most one marker exists per external event ID; its presence means the
// domain effects for that delivery have been applied (or are being applied
// in the same transaction), so a second delivery must be a no-op.
type ProcessedEvent struct {
	ID         string    `gorm:"type:char(36);primaryKey"`
	ExternalID string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_processed_external"`
	EventType  string    `gorm:"type:varchar(64);not null"`
	Processed  bool      `gorm:"not null;default:true"`
	FirstSeen  time.Time `gorm:"type:DATETIME NOT NULL"`
}

// TableName returns the database table name for ProcessedEvent.
func (ProcessedEvent) TableName() string { return "processed_events" }
