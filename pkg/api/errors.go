package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/beacon/pkg/outbox"
)

// mapPublishError maps outbox-layer errors to HTTP error responses.
func mapPublishError(err error) *echo.HTTPError {
	if errors.Is(err, outbox.ErrPublishFailed) {
		slog.Error("Publish failed", "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event could not be persisted")
	}

	// Unexpected error
	slog.Error("Unexpected publish error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
