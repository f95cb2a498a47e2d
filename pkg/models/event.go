// Package models defines the event records, payload schemas and request
// types shared by the outbox, stream and API layers.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Recognized event types. "connected" is reserved for the transport layer
// and is never sequenced through the outbox.
const (
	EventTypeMessage      = "message"
	EventTypeNotification = "notification"
	EventTypeDataUpdate   = "dataUpdate"
	EventTypeAlert        = "alert"
	EventTypeHeartbeat    = "heartbeat"
	EventTypeConnected    = "connected"
)

// Notification and alert severity values.
const (
	NotificationSeverityInfo    = "info"
	NotificationSeverityWarning = "warning"
	NotificationSeverityError   = "error"

	AlertSeverityCritical = "critical"
	AlertSeverityHigh     = "high"
	AlertSeverityMedium   = "medium"
	AlertSeverityLow      = "low"
)

// PayloadVersion is stamped into every typed payload envelope.
const PayloadVersion = "1.0"

// Event is the in-flight event record. Seq is assigned by the sequence
// allocator at publish time and defines the global delivery order. Target
// is empty for broadcast events; when set, the event is point-to-point.
type Event struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Data   string `json:"data"`
	Seq    int64  `json:"seq"`
	Target string `json:"target,omitempty"`
}

// Targeted reports whether the event is addressed to a single client.
func (e Event) Targeted() bool { return e.Target != "" }

// OutboxEntry is the persisted form of an event. Entries are immutable
// once written; expired entries (TTL < now) may be reaped at any time.
// ProcessedAt/ProcessedBy exist for operator debugging only; delivery
// progress is tracked in poller memory, never in these columns.
type OutboxEntry struct {
	Event
	CreatedAt   time.Time  `json:"createdAt"`
	TTL         time.Time  `json:"ttl"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	ProcessedBy string     `json:"processedBy,omitempty"`
}

// Checkpoint is the per-client persistent record of the highest seq that
// has been written to that client's byte stream. LastSeq is monotonic
// non-decreasing per client id.
type Checkpoint struct {
	ClientID    string    `json:"clientId"`
	LastSeq     int64     `json:"lastSeq"`
	LastEventID string    `json:"lastEventId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PayloadEnvelope carries the fields common to every typed payload.
type PayloadEnvelope struct {
	MessageID string `json:"messageId"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Type      string `json:"type"`
}

// NewPayloadEnvelope stamps a fresh envelope for the given event type.
func NewPayloadEnvelope(eventType string) PayloadEnvelope {
	return PayloadEnvelope{
		MessageID: uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   PayloadVersion,
		Type:      eventType,
	}
}

// NotificationPayload is the payload schema for "notification" events.
type NotificationPayload struct {
	PayloadEnvelope
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// DataUpdatePayload is the payload schema for "dataUpdate" events.
type DataUpdatePayload struct {
	PayloadEnvelope
	EntityID   string         `json:"entityId"`
	EntityType string         `json:"entityType"`
	Changes    map[string]any `json:"changes"`
}

// AlertPayload is the payload schema for "alert" events.
type AlertPayload struct {
	PayloadEnvelope
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Category string `json:"category"`
}

// HeartbeatPayload is the payload schema for "heartbeat" events. It has
// no fields beyond the envelope.
type HeartbeatPayload struct {
	PayloadEnvelope
}

// ValidNotificationSeverity reports whether s is an accepted notification
// severity.
func ValidNotificationSeverity(s string) bool {
	switch s {
	case NotificationSeverityInfo, NotificationSeverityWarning, NotificationSeverityError:
		return true
	}
	return false
}

// ValidAlertSeverity reports whether s is an accepted alert severity.
func ValidAlertSeverity(s string) bool {
	switch s {
	case AlertSeverityCritical, AlertSeverityHigh, AlertSeverityMedium, AlertSeverityLow:
		return true
	}
	return false
}
