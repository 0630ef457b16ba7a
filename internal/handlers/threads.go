package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/courier/internal/auth"
	"github.com/memohai/courier/internal/channel"
	"github.com/memohai/courier/internal/conversation"
	"github.com/memohai/courier/internal/threads"
)

type ThreadsHandler struct {
	logger *slog.Logger
	store  threads.Store
}

func NewThreadsHandler(log *slog.Logger, store threads.Store) *ThreadsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ThreadsHandler{
		logger: log.With(slog.String("handler", "threads")),
		store:  store,
	}
}

func (h *ThreadsHandler) Register(e *echo.Echo) {
	e.GET("/threads/:platform/:owner/:sender", h.GetThread, auth.RequireAdmin)
}

// ThreadResponse is the stored thread of one conversation.
type ThreadResponse struct {
	Platform    string    `json:"platform"`
	OwnerID     string    `json:"owner_id"`
	SenderID    string    `json:"sender_id"`
	AssistantID string    `json:"assistant_id"`
	ThreadID    string    `json:"thread_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// GetThread returns the assistant thread bound to platform/owner/sender.
func (h *ThreadsHandler) GetThread(c echo.Context) error {
	platform, _ := channel.ParseChannelType(c.Param("platform"))
	key := conversation.Key{
		Platform: platform,
		OwnerID:  strings.TrimSpace(c.Param("owner")),
		SenderID: strings.TrimSpace(c.Param("sender")),
	}
	if err := key.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	thread, err := h.store.GetThread(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, threads.ErrThreadNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		h.logger.Error("get thread failed", slog.String("key", key.String()), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ThreadResponse{
		Platform:    string(thread.Key.Platform),
		OwnerID:     thread.Key.OwnerID,
		SenderID:    thread.Key.SenderID,
		AssistantID: thread.AssistantID,
		ThreadID:    thread.ThreadID,
		CreatedAt:   thread.CreatedAt,
	})
}
