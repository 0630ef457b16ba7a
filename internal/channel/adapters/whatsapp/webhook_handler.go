package whatsapp

import (
	"context"
	"crypto/subtle"
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

const typeIncomingMessage = "incomingMessageReceived"

type webhookPayload struct {
	TypeWebhook  string        `json:"typeWebhook"`
	InstanceData *instanceData `json:"instanceData"`
	Timestamp    int64         `json:"timestamp"`
	IDMessage    string        `json:"idMessage"`
	SenderData   senderData    `json:"senderData"`
	MessageData  messageData   `json:"messageData"`
}

type instanceData struct {
	IDInstance json.Number `json:"idInstance"`
	WID        string      `json:"wid"`
}

type senderData struct {
	ChatID     string `json:"chatId"`
	Sender     string `json:"sender"`
	SenderName string `json:"senderName"`
}

type messageData struct {
	TypeMessage             string                   `json:"typeMessage"`
	TextMessageData         *textMessageData         `json:"textMessageData"`
	ExtendedTextMessageData *extendedTextMessageData `json:"extendedTextMessageData"`
}

type textMessageData struct {
	TextMessage string `json:"textMessage"`
}

type extendedTextMessageData struct {
	Text string `json:"text"`
}

func (m messageData) text() string {
	if m.TextMessageData != nil {
		if text := strings.TrimSpace(m.TextMessageData.TextMessage); text != "" {
			return text
		}
	}
	if m.ExtendedTextMessageData != nil {
		return strings.TrimSpace(m.ExtendedTextMessageData.Text)
	}
	return ""
}

// WebhookHandler receives Green API notifications.
type WebhookHandler struct {
	logger    *slog.Logger
	submitter common.Submitter
	seen      common.Deduper
	token     string
}

// NewWebhookHandler creates the public WhatsApp webhook handler. When token is non-empty,
// requests must carry "Authorization: Bearer <token>" as configured in the Green API console.
func NewWebhookHandler(log *slog.Logger, submitter common.Submitter, seen common.Deduper, token string) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		logger:    log.With(slog.String("handler", "whatsapp_webhook")),
		submitter: submitter,
		seen:      seen,
		token:     strings.TrimSpace(token),
	}
}

// Register registers webhook callback routes.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/channels/whatsapp/webhook", h.Handle)
}

// Handle processes Green API webhook requests.
func (h *WebhookHandler) Handle(c echo.Context) error {
	if h.submitter == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "whatsapp webhook dependencies not configured")
	}
	if h.token != "" {
		got := strings.TrimSpace(strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer "))
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook token")
		}
	}
	body, err := common.ReadWebhookBody(c)
	if err != nil {
		return err
	}
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid whatsapp webhook payload: %v", err))
	}
	if payload.InstanceData == nil || payload.InstanceData.IDInstance.String() == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "idInstance not found in payload")
	}
	if payload.TypeWebhook != typeIncomingMessage {
		h.logger.Debug("webhook ignored", slog.String("type", payload.TypeWebhook))
		return c.String(http.StatusOK, "Webhook ignored.")
	}
	if strings.TrimSpace(payload.SenderData.ChatID) == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "sender chatId missing")
	}
	msg, ok := extractInbound(payload, time.Now().UTC())
	if !ok {
		return c.String(http.StatusOK, "No text message to process.")
	}
	if err := common.SubmitAll(context.WithoutCancel(c.Request().Context()), h.logger, h.submitter, h.seen, []channel.InboundMessage{msg}); err != nil {
		return err
	}
	return c.String(http.StatusOK, "Webhook accepted.")
}

// extractInbound converts an incoming-message notification. Only incoming notifications reach
// it; outgoing* types (messages the instance sent itself) are filtered by the caller.
func extractInbound(payload webhookPayload, receivedAt time.Time) (channel.InboundMessage, bool) {
	text := payload.MessageData.text()
	if text == "" {
		return channel.InboundMessage{}, false
	}
	owner := ""
	instance := ""
	if payload.InstanceData != nil {
		owner = strings.TrimSpace(payload.InstanceData.WID)
		instance = payload.InstanceData.IDInstance.String()
	}
	sender := strings.TrimSpace(payload.SenderData.Sender)
	if sender == "" {
		sender = strings.TrimSpace(payload.SenderData.ChatID)
	}
	if sender == owner {
		return channel.InboundMessage{}, false
	}
	return channel.InboundMessage{
		Channel:     Type,
		OwnerID:     owner,
		Message:     channel.Message{ID: payload.IDMessage, Text: text},
		ReplyTarget: strings.TrimSpace(payload.SenderData.ChatID),
		Sender: channel.Identity{
			SubjectID:   sender,
			DisplayName: payload.SenderData.SenderName,
		},
		ReceivedAt: receivedAt,
		Source:     "webhook",
		Metadata: map[string]any{
			"id_instance": instance,
			"timestamp":   payload.Timestamp,
		},
	}, true
}
