package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/courier/internal/auth"
	"github.com/memohai/courier/internal/healthcheck"
)

// HealthHandler serves the detailed readiness report. The bare liveness check stays on
// PingHandler.
type HealthHandler struct {
	logger   *slog.Logger
	checkers []healthcheck.Checker
}

func NewHealthHandler(log *slog.Logger, checkers ...healthcheck.Checker) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{
		logger:   log.With(slog.String("handler", "health")),
		checkers: checkers,
	}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health/checks", h.ListChecks, auth.RequireAdmin)
}

// ListChecks runs every checker. Any failing check turns the response into 503.
func (h *HealthHandler) ListChecks(c echo.Context) error {
	report := healthcheck.Run(c.Request().Context(), h.checkers...)
	status := http.StatusOK
	if report.Status == healthcheck.StatusError {
		h.logger.Warn("health check failed", slog.Int("checks", len(report.Checks)))
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, report)
}
