// Package flow runs one conversational turn for a dispatched message: resolve the owner's
// assistant, invoke it on the conversation's thread and deliver the reply.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/courier/internal/accounts"
	"github.com/memohai/courier/internal/assistant"
	"github.com/memohai/courier/internal/channel"
	"github.com/memohai/courier/internal/channel/adapters/common"
	"github.com/memohai/courier/internal/conversation"
)

// FallbackReply is sent when the assistant completes without any text.
const FallbackReply = "No response provided"

type accountResolver interface {
	Resolve(ctx context.Context, platform channel.ChannelType, ownerID string) (channel.ChannelConfig, error)
}

type assistantInvoker interface {
	Invoke(ctx context.Context, key conversation.Key, assistantID, text string) (assistant.Reply, error)
}

type replySender interface {
	Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error
}

// Processor is the dispatcher's conversation.Handler.
type Processor struct {
	accounts  accountResolver
	assistant assistantInvoker
	transport replySender
	logger    *slog.Logger
}

var _ conversation.Handler = (*Processor)(nil)

// NewProcessor creates a Processor.
func NewProcessor(log *slog.Logger, accountStore accountResolver, invoker assistantInvoker, transport replySender) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		accounts:  accountStore,
		assistant: invoker,
		transport: transport,
		logger:    log.With(slog.String("service", "conversation_flow")),
	}
}

// Handle processes one message to completion. Messages for unknown or disabled owners are
// logged and dropped without error.
func (p *Processor) Handle(ctx context.Context, msg conversation.PendingMessage) error {
	start := time.Now()
	key := msg.Key
	account, err := p.accounts.Resolve(ctx, key.Platform, key.OwnerID)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			p.logger.Warn("drop message for unknown account",
				slog.String("key", key.String()),
				slog.String("dispatch_id", msg.ID),
			)
			return nil
		}
		return fmt.Errorf("resolve account: %w", err)
	}

	reply, err := p.assistant.Invoke(ctx, key, account.AssistantID, msg.Event.Message.PlainText())
	if err != nil {
		return fmt.Errorf("invoke assistant %s: %w", account.AssistantID, err)
	}
	text := strings.TrimSpace(reply.Text)
	if text == "" {
		p.logger.Warn("assistant returned no text, sending fallback",
			slog.String("key", key.String()),
			slog.String("thread_id", reply.ThreadID),
			slog.String("run_id", reply.RunID),
		)
		text = FallbackReply
	}

	out := channel.OutboundMessage{
		Target:  msg.Event.ReplyTarget,
		Message: channel.Message{Text: text},
	}
	if err := p.transport.Send(ctx, account, out); err != nil {
		if errors.Is(err, channel.ErrDeliveryFailed) {
			// Operators replay from this line; nothing is re-queued.
			p.logger.Error("reply delivery failed",
				slog.String("key", key.String()),
				slog.String("target", out.Target),
				slog.String("thread_id", reply.ThreadID),
				slog.String("reply", text),
				slog.Any("error", err),
			)
		}
		return err
	}
	p.logger.Info("reply delivered",
		slog.String("key", key.String()),
		slog.String("thread_id", reply.ThreadID),
		slog.String("text", common.SummarizeText(text)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}
