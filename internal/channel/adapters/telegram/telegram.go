// Package telegram implements the Telegram adapter: a long-polling receiver per bot account
// and Bot API sends.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/courier/internal/channel"
	"github.com/memohai/courier/internal/channel/adapters/common"
)

// Type is the Telegram channel type.
const Type = channel.ChannelTypeTelegram

const (
	telegramMaxMessageLength = 4096
	pollTimeoutSeconds       = 30
)

// The library logger is process-global.
var setLoggerOnce sync.Once

// TelegramAdapter implements the channel.Adapter, channel.Sender, and channel.Receiver interfaces for Telegram.
type TelegramAdapter struct {
	logger      *slog.Logger
	client      *http.Client
	apiEndpoint string
	mu          sync.RWMutex
	bots        map[string]*tgbotapi.BotAPI // keyed by bot token
}

// NewTelegramAdapter creates a TelegramAdapter with the given logger.
func NewTelegramAdapter(log *slog.Logger) *TelegramAdapter {
	if log == nil {
		log = slog.Default()
	}
	adapter := &TelegramAdapter{
		logger: log.With(slog.String("adapter", "telegram")),
		// getUpdates holds the request open for pollTimeoutSeconds.
		client:      common.NewHTTPClient((pollTimeoutSeconds + 15) * time.Second),
		apiEndpoint: tgbotapi.APIEndpoint,
		bots:        make(map[string]*tgbotapi.BotAPI),
	}
	setLoggerOnce.Do(func() {
		_ = tgbotapi.SetLogger(&slogBotLogger{log: adapter.logger})
	})
	return adapter
}

func (a *TelegramAdapter) getOrCreateBot(token, configID string) (*tgbotapi.BotAPI, error) {
	a.mu.RLock()
	bot, ok := a.bots[token]
	a.mu.RUnlock()
	if ok {
		return bot, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.bots[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, a.apiEndpoint, a.client)
	if err != nil {
		a.logger.Error("create bot failed", slog.String("config_id", configID), slog.Any("error", err))
		return nil, mapTelegramError(err)
	}
	a.bots[token] = bot
	return bot, nil
}

func (a *TelegramAdapter) forgetBot(token string, bot *tgbotapi.BotAPI) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bots[token] == bot {
		delete(a.bots, token)
	}
}

// Type returns the Telegram channel type.
func (a *TelegramAdapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the Telegram channel metadata.
func (a *TelegramAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Telegram",
		Capabilities: channel.Capabilities{
			Text:    true,
			Polling: true,
		},
		OutboundPolicy: channel.OutboundPolicy{
			TextChunkLimit: telegramMaxMessageLength,
		},
	}
}

// Config holds the credentials of one Telegram bot account.
type Config struct {
	BotToken string
}

func parseConfig(credentials map[string]any) (Config, error) {
	token := channel.ReadString(credentials, "bot_token", "botToken")
	if token == "" {
		return Config{}, fmt.Errorf("telegram bot_token is required")
	}
	return Config{BotToken: token}, nil
}

// Connect starts long polling for the bot account. The account's owner id must be the bot's
// own user id, since inbound events are routed by it.
func (a *TelegramAdapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	a.logger.Info("start", slog.String("config_id", cfg.ID))
	telegramCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		a.logger.Error("decode config failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		return nil, err
	}
	bot, err := a.getOrCreateBot(telegramCfg.BotToken, cfg.ID)
	if err != nil {
		return nil, err
	}
	botID := strconv.FormatInt(bot.Self.ID, 10)
	if owner := strings.TrimSpace(cfg.OwnerID); owner != "" && owner != botID {
		return nil, fmt.Errorf("telegram bot id %s does not match account owner_id %s", botID, owner)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = pollTimeoutSeconds
	updateConfig.AllowedUpdates = []string{"message"}
	updates := bot.GetUpdatesChan(updateConfig)
	connCtx, cancel := context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					a.logger.Info("updates channel closed", slog.String("config_id", cfg.ID))
					return
				}
				msg, ok := toInbound(bot.Self, update)
				if !ok {
					continue
				}
				a.logger.Info(
					"inbound received",
					slog.String("config_id", cfg.ID),
					slog.String("chat_id", msg.ReplyTarget),
					slog.String("user_id", msg.Sender.SubjectID),
					slog.String("text", common.SummarizeText(msg.Message.Text)),
				)
				// The handler only enqueues; calling it inline keeps per-chat order.
				if err := handler(connCtx, cfg, msg); err != nil {
					a.logger.Error("handle inbound failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
				}
			}
		}
	}()

	stop := func(_ context.Context) error {
		a.logger.Info("stop", slog.String("config_id", cfg.ID))
		bot.StopReceivingUpdates()
		cancel()
		// Drain remaining updates so the library's polling goroutine can
		// finish writing and exit. Without this, the in-flight long-poll
		// HTTP request keeps the old getUpdates session alive, causing
		// "Conflict: terminated by other getUpdates request" when a new
		// connection starts with the same bot token.
		for range updates {
		}
		// A stopped BotAPI cannot poll again.
		a.forgetBot(telegramCfg.BotToken, bot)
		return nil
	}
	return channel.NewConnection(cfg, stop), nil
}

// toInbound keeps private-chat text messages from humans. Messages from bots, including
// this bot, are dropped.
func toInbound(self tgbotapi.User, update tgbotapi.Update) (channel.InboundMessage, bool) {
	m := update.Message
	if m == nil || m.Chat == nil || !m.Chat.IsPrivate() {
		return channel.InboundMessage{}, false
	}
	if m.From == nil || m.From.IsBot || m.From.ID == self.ID {
		return channel.InboundMessage{}, false
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		text = strings.TrimSpace(m.Caption)
	}
	if text == "" {
		return channel.InboundMessage{}, false
	}
	subjectID, displayName, attrs := resolveTelegramSender(m)
	return channel.InboundMessage{
		Channel: Type,
		OwnerID: strconv.FormatInt(self.ID, 10),
		Message: channel.Message{
			ID:   strconv.Itoa(m.MessageID),
			Text: text,
		},
		ReplyTarget: strconv.FormatInt(m.Chat.ID, 10),
		Sender: channel.Identity{
			SubjectID:   subjectID,
			DisplayName: displayName,
			Attributes:  attrs,
		},
		ReceivedAt: time.Unix(int64(m.Date), 0).UTC(),
		Source:     "telegram",
	}, true
}

func resolveTelegramSender(msg *tgbotapi.Message) (string, string, map[string]string) {
	attrs := map[string]string{}
	if msg == nil || msg.From == nil {
		return "", "", attrs
	}
	userID := strconv.FormatInt(msg.From.ID, 10)
	attrs["user_id"] = userID
	username := strings.TrimSpace(msg.From.UserName)
	if username != "" {
		attrs["username"] = username
	}
	displayName := username
	if displayName == "" {
		displayName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	}
	return userID, displayName, attrs
}

// Send delivers one text message to the chat in msg.Target.
func (a *TelegramAdapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	telegramCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		a.logger.Error("decode config failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		return err
	}
	to := strings.TrimSpace(msg.Target)
	if to == "" {
		return fmt.Errorf("telegram target is required")
	}
	if msg.Message.IsEmpty() {
		return fmt.Errorf("message is required")
	}
	bot, err := a.getOrCreateBot(telegramCfg.BotToken, cfg.ID)
	if err != nil {
		return err
	}
	return mapTelegramError(sendTelegramText(bot, to, msg.Message.PlainText()))
}

func sendTelegramText(bot *tgbotapi.BotAPI, target string, text string) error {
	text = truncateTelegramText(sanitizeTelegramText(text))
	if strings.HasPrefix(target, "@") {
		_, err := bot.Send(tgbotapi.NewMessageToChannel(target, text))
		return err
	}
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram target must be @username or chat_id")
	}
	_, err = bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// mapTelegramError turns Bot API failures into the shared delivery taxonomy: API errors carry
// their error_code as an HTTP status, undecodable responses become ErrInvalidResponse.
func mapTelegramError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return telegramStatusError(apiErr.Code, apiErr.Message, err)
	}
	var apiValErr tgbotapi.Error
	if errors.As(err, &apiValErr) {
		return telegramStatusError(apiValErr.Code, apiValErr.Message, err)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %v", channel.ErrInvalidResponse, err)
	}
	return err
}

func telegramStatusError(code int, message string, cause error) error {
	if code == 0 {
		return cause
	}
	return &channel.HTTPStatusError{StatusCode: code, URL: "https://api.telegram.org", Body: message}
}

// sanitizeTelegramText ensures text is valid UTF-8 for the Telegram API.
func sanitizeTelegramText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateTelegramText caps text at telegramMaxMessageLength runes, appending "..." when
// truncation occurs.
func truncateTelegramText(text string) string {
	if utf8.RuneCountInString(text) <= telegramMaxMessageLength {
		return text
	}
	const suffix = "..."
	runes := []rune(text)
	return string(runes[:telegramMaxMessageLength-len(suffix)]) + suffix
}

type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *slogBotLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
