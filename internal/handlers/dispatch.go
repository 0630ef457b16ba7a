package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/courier/internal/auth"
	"github.com/memohai/courier/internal/channel"
	"github.com/memohai/courier/internal/conversation"
)

type statsSource interface {
	Stats() conversation.Stats
}

type connectionSource interface {
	Statuses() []channel.ConnectionStatus
}

// DispatchHandler exposes dispatcher and receiver state to operators.
type DispatchHandler struct {
	logger      *slog.Logger
	dispatcher  statsSource
	connections connectionSource
}

func NewDispatchHandler(log *slog.Logger, dispatcher statsSource, connections connectionSource) *DispatchHandler {
	if log == nil {
		log = slog.Default()
	}
	return &DispatchHandler{
		logger:      log.With(slog.String("handler", "dispatch")),
		dispatcher:  dispatcher,
		connections: connections,
	}
}

func (h *DispatchHandler) Register(e *echo.Echo) {
	e.GET("/dispatch/stats", h.GetStats, auth.RequireAdmin)
	e.GET("/channels/connections", h.ListConnections, auth.RequireAdmin)
}

// ListConnectionsResponse wraps the receiver status list.
type ListConnectionsResponse struct {
	Items []channel.ConnectionStatus `json:"items"`
}

func (h *DispatchHandler) GetStats(c echo.Context) error {
	if h.dispatcher == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "dispatcher not configured")
	}
	return c.JSON(http.StatusOK, h.dispatcher.Stats())
}

func (h *DispatchHandler) ListConnections(c echo.Context) error {
	items := []channel.ConnectionStatus{}
	if h.connections != nil {
		items = append(items, h.connections.Statuses()...)
	}
	return c.JSON(http.StatusOK, ListConnectionsResponse{Items: items})
}
