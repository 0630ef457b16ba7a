package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/courier/internal/accounts"
	"github.com/memohai/courier/internal/auth"
	"github.com/memohai/courier/internal/channel"
)

const (
	defaultAssistantTemperature  = 0.7
	defaultAssistantInstructions = "Be polite"
)

// AssistantCreator creates hosted assistants. openai.Client implements it.
type AssistantCreator interface {
	CreateAssistant(ctx context.Context, name, instructions string, temperature float64) (string, error)
}

// AccountsHandler assigns newly created assistants to owner accounts.
type AccountsHandler struct {
	logger  *slog.Logger
	store   accounts.Store
	writer  accounts.Writer
	creator AssistantCreator
}

// NewAccountsHandler creates the handler. A nil writer means accounts are read-only and every
// assignment answers 503.
func NewAccountsHandler(log *slog.Logger, store accounts.Store, writer accounts.Writer, creator AssistantCreator) *AccountsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AccountsHandler{
		logger:  log.With(slog.String("handler", "accounts")),
		store:   store,
		writer:  writer,
		creator: creator,
	}
}

func (h *AccountsHandler) Register(e *echo.Echo) {
	e.POST("/accounts/:platform/:owner/assistant", h.CreateAssistant, auth.RequireAdmin)
}

// CreateAssistantRequest configures the assistant created for an account. Temperature
// defaults to 0.7 and must lie within [0, 1].
type CreateAssistantRequest struct {
	Name         string   `json:"name"`
	Instructions string   `json:"instructions"`
	Temperature  *float64 `json:"temperature"`
}

// CreateAssistantResponse reports the assistant now assigned to the account.
type CreateAssistantResponse struct {
	Platform     string  `json:"platform"`
	OwnerID      string  `json:"owner_id"`
	AssistantID  string  `json:"assistant_id"`
	Temperature  float64 `json:"temperature"`
	Instructions string  `json:"instructions"`
}

// CreateAssistant creates an assistant and stores it as the account's assigned assistant.
func (h *AccountsHandler) CreateAssistant(c echo.Context) error {
	platform, ok := channel.ParseChannelType(c.Param("platform"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unsupported platform %q", c.Param("platform")))
	}
	ownerID := strings.TrimSpace(c.Param("owner"))
	if ownerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner id is required")
	}
	var req CreateAssistantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	temperature := defaultAssistantTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if temperature < 0 || temperature > 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "temperature must be between 0 and 1")
	}
	instructions := strings.TrimSpace(req.Instructions)
	if instructions == "" {
		instructions = defaultAssistantInstructions
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("My %s Bot", platform)
	}
	if h.writer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "accounts are read-only")
	}

	ctx := c.Request().Context()
	account, err := h.store.Resolve(ctx, platform, ownerID)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		h.logger.Error("resolve account failed", slog.String("platform", platform.String()), slog.String("owner_id", ownerID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	assistantID, err := h.creator.CreateAssistant(ctx, name, instructions, temperature)
	if err != nil {
		h.logger.Error("create assistant failed", slog.String("platform", platform.String()), slog.String("owner_id", ownerID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadGateway, "failed to create assistant")
	}
	account.AssistantID = assistantID
	if _, err := h.writer.Upsert(ctx, account); err != nil {
		h.logger.Error("assign assistant failed",
			slog.String("platform", platform.String()),
			slog.String("owner_id", ownerID),
			slog.String("assistant_id", assistantID),
			slog.Any("error", err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.logger.Info("assistant assigned",
		slog.String("platform", platform.String()),
		slog.String("owner_id", ownerID),
		slog.String("assistant_id", assistantID),
	)
	return c.JSON(http.StatusCreated, CreateAssistantResponse{
		Platform:     platform.String(),
		OwnerID:      ownerID,
		AssistantID:  assistantID,
		Temperature:  temperature,
		Instructions: instructions,
	})
}
