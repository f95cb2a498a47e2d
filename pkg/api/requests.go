package api

// BroadcastRequest is the body of POST /api/sse/broadcast and
// POST /api/sse/send/:clientId.
type BroadcastRequest struct {
	EventType string `json:"eventType"`
	Data      string `json:"data"`
}

// NotificationRequest is the body of the notification endpoints.
type NotificationRequest struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// AlertRequest is the body of the alert endpoints.
type AlertRequest struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Category string `json:"category"`
}

// DataUpdateRequest is the body of the data-update endpoints.
type DataUpdateRequest struct {
	EntityID   string         `json:"entityId"`
	EntityType string         `json:"entityType"`
	Changes    map[string]any `json:"changes"`
}
