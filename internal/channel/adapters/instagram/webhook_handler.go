package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/courier/internal/channel"
	"github.com/memohai/courier/internal/channel/adapters/common"
)

type webhookPayload struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []messagingEvent `json:"messaging"`
}

type messagingEvent struct {
	Sender    participant     `json:"sender"`
	Recipient participant     `json:"recipient"`
	Timestamp int64           `json:"timestamp"`
	Message   *webhookMessage `json:"message"`
}

type participant struct {
	ID string `json:"id"`
}

type webhookMessage struct {
	MID    string `json:"mid"`
	Text   string `json:"text"`
	IsEcho bool   `json:"is_echo"`
}

// WebhookHandler receives Instagram messaging webhooks from Meta.
type WebhookHandler struct {
	logger      *slog.Logger
	submitter   common.Submitter
	seen        common.Deduper
	verifyToken string
}

// NewWebhookHandler creates the public Instagram webhook handler. verifyToken answers Meta's
// subscription handshake; an empty token rejects every handshake.
func NewWebhookHandler(log *slog.Logger, submitter common.Submitter, seen common.Deduper, verifyToken string) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		logger:      log.With(slog.String("handler", "instagram_webhook")),
		submitter:   submitter,
		seen:        seen,
		verifyToken: strings.TrimSpace(verifyToken),
	}
}

// Register registers webhook callback routes.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/channels/instagram/webhook", h.HandleVerify)
	e.POST("/channels/instagram/webhook", h.Handle)
}

// HandleVerify answers the hub.challenge subscription handshake.
func (h *WebhookHandler) HandleVerify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		h.logger.Warn("webhook verification rejected", slog.String("mode", mode))
		return echo.NewHTTPError(http.StatusForbidden, "verification token mismatch")
	}
	return c.String(http.StatusOK, c.QueryParam("hub.challenge"))
}

// Handle processes Instagram messaging webhook requests.
func (h *WebhookHandler) Handle(c echo.Context) error {
	if h.submitter == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "instagram webhook dependencies not configured")
	}
	body, err := common.ReadWebhookBody(c)
	if err != nil {
		return err
	}
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid instagram webhook payload: %v", err))
	}
	if payload.Object != "" && payload.Object != "instagram" {
		h.logger.Warn("non-instagram webhook object", slog.String("object", payload.Object))
	}
	msgs := extractInbound(payload, time.Now().UTC())
	if err := common.SubmitAll(context.WithoutCancel(c.Request().Context()), h.logger, h.submitter, h.seen, msgs); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "success"})
}

// extractInbound flattens a webhook payload into conversation events. Echoes of the page's own
// replies, messages the page sent itself and non-text messages are dropped.
func extractInbound(payload webhookPayload, receivedAt time.Time) []channel.InboundMessage {
	msgs := make([]channel.InboundMessage, 0)
	for _, entry := range payload.Entry {
		owner := strings.TrimSpace(entry.ID)
		for _, event := range entry.Messaging {
			if event.Message == nil || event.Message.IsEcho {
				continue
			}
			sender := strings.TrimSpace(event.Sender.ID)
			if sender == "" || sender == owner {
				continue
			}
			text := strings.TrimSpace(event.Message.Text)
			if text == "" {
				continue
			}
			msgs = append(msgs, channel.InboundMessage{
				Channel:     Type,
				OwnerID:     owner,
				Message:     channel.Message{ID: event.Message.MID, Text: text},
				ReplyTarget: sender,
				Sender:      channel.Identity{SubjectID: sender},
				ReceivedAt:  receivedAt,
				Source:      "webhook",
				Metadata: map[string]any{
					"timestamp": event.Timestamp,
				},
			})
		}
	}
	return msgs
}
