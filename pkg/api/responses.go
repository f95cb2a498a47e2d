package api

// PublishResponse is returned by every publish endpoint once the event
// is durable. Seq is the event's position in the global order.
type PublishResponse struct {
	EventID string `json:"eventId"`
	Type    string `json:"type"`
	Seq     int64  `json:"seq"`
	Target  string `json:"target,omitempty"`
}

// HealthCheck is a single component's health entry.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version"`
	ActiveClients int                    `json:"active_clients"`
	Checks        map[string]HealthCheck `json:"checks,omitempty"`
}
