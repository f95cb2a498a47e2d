package api

import (
	"encoding/json"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/beacon/pkg/models"
)

// publishableTypes are the event types accepted on the raw publish
// endpoints. "connected" is reserved for the transport and "heartbeat"
// is synthesized internally.
var publishableTypes = map[string]bool{
	models.EventTypeMessage:      true,
	models.EventTypeNotification: true,
	models.EventTypeDataUpdate:   true,
	models.EventTypeAlert:        true,
}

// broadcastHandler handles POST /api/sse/broadcast.
func (s *Server) broadcastHandler(c *echo.Context) error {
	return s.publishRaw(c, "")
}

// sendHandler handles POST /api/sse/send/:clientId.
func (s *Server) sendHandler(c *echo.Context) error {
	target := c.Param("clientId")
	if target == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "clientId is required")
	}
	return s.publishRaw(c, target)
}

func (s *Server) publishRaw(c *echo.Context, target string) error {
	var req BroadcastRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.EventType == "" {
		req.EventType = models.EventTypeMessage
	}
	if !publishableTypes[req.EventType] {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported event type: "+req.EventType)
	}
	if req.Data == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "data is required")
	}
	return s.publish(c, req.EventType, req.Data, target)
}

// notificationHandler handles POST /api/sse/notification and its
// targeted variant POST /api/sse/notification/:clientId.
func (s *Server) notificationHandler(c *echo.Context) error {
	var req NotificationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	if req.Severity == "" {
		req.Severity = models.NotificationSeverityInfo
	}
	if !models.ValidNotificationSeverity(req.Severity) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid severity: must be info, warning, or error")
	}

	payload := models.NotificationPayload{
		PayloadEnvelope: models.NewPayloadEnvelope(models.EventTypeNotification),
		Message:         req.Message,
		Severity:        req.Severity,
	}
	return s.publishPayload(c, models.EventTypeNotification, payload)
}

// alertHandler handles POST /api/sse/alert and its targeted variant.
func (s *Server) alertHandler(c *echo.Context) error {
	var req AlertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	if req.Severity == "" {
		req.Severity = models.AlertSeverityMedium
	}
	if !models.ValidAlertSeverity(req.Severity) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid severity: must be critical, high, medium, or low")
	}
	if req.Category == "" {
		req.Category = "general"
	}

	payload := models.AlertPayload{
		PayloadEnvelope: models.NewPayloadEnvelope(models.EventTypeAlert),
		Message:         req.Message,
		Severity:        req.Severity,
		Category:        req.Category,
	}
	return s.publishPayload(c, models.EventTypeAlert, payload)
}

// dataUpdateHandler handles POST /api/sse/data-update and its targeted
// variant.
func (s *Server) dataUpdateHandler(c *echo.Context) error {
	var req DataUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.EntityID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "entityId is required")
	}
	if req.EntityType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "entityType is required")
	}

	payload := models.DataUpdatePayload{
		PayloadEnvelope: models.NewPayloadEnvelope(models.EventTypeDataUpdate),
		EntityID:        req.EntityID,
		EntityType:      req.EntityType,
		Changes:         req.Changes,
	}
	return s.publishPayload(c, models.EventTypeDataUpdate, payload)
}

func (s *Server) publishPayload(c *echo.Context, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "payload marshal failed")
	}
	return s.publish(c, eventType, string(data), c.Param("clientId"))
}

func (s *Server) publish(c *echo.Context, eventType, data, target string) error {
	ev, err := s.publisher.Publish(c.Request().Context(), eventType, data, target)
	if err != nil {
		return mapPublishError(err)
	}
	return c.JSON(http.StatusOK, &PublishResponse{
		EventID: ev.ID,
		Type:    ev.Type,
		Seq:     ev.Seq,
		Target:  ev.Target,
	})
}
