package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/courier/internal/channel"
)

// WebhookMaxBodyBytes caps the size of a webhook request body.
const WebhookMaxBodyBytes int64 = 1 << 20 // 1 MiB

// Submitter accepts normalized conversation events. conversation.Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, msg channel.InboundMessage) error
}

// Deduper reports whether a platform message id has been seen before, marking it as seen.
// Forget drops the mark again.
type Deduper interface {
	Seen(key string) bool
	Forget(key string)
}

// ReadWebhookBody reads the request body, answering 413 when it exceeds WebhookMaxBodyBytes.
func ReadWebhookBody(c echo.Context) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, WebhookMaxBodyBytes+1))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(payload)) > WebhookMaxBodyBytes {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", WebhookMaxBodyBytes))
	}
	return payload, nil
}

// SubmitAll hands each message to the submitter, skipping redelivered message ids.
// Invalid events are logged and dropped. Any other submit failure answers 503 so the
// platform redelivers, and the failed id is unmarked so that redelivery is accepted.
func SubmitAll(ctx context.Context, log *slog.Logger, submitter Submitter, seen Deduper, msgs []channel.InboundMessage) error {
	for _, msg := range msgs {
		var dedupeKey string
		if id := strings.TrimSpace(msg.Message.ID); id != "" && seen != nil {
			dedupeKey = msg.Channel.String() + ":" + id
			if seen.Seen(dedupeKey) {
				log.Debug("duplicate webhook delivery skipped", slog.String("message_id", id))
				continue
			}
		}
		if err := submitter.Submit(ctx, msg); err != nil {
			if errors.Is(err, channel.ErrInvalidConversationEvent) {
				continue
			}
			if dedupeKey != "" {
				seen.Forget(dedupeKey)
			}
			log.Error("submit inbound failed",
				slog.String("owner_id", msg.OwnerID),
				slog.String("sender_id", msg.Sender.SubjectID),
				slog.Any("error", err),
			)
			return echo.NewHTTPError(http.StatusServiceUnavailable, "message not accepted")
		}
	}
	return nil
}
