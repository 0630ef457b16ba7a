// Package whatsapp implements the WhatsApp adapter on top of Green API.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/memohai/courier/internal/channel"
	"github.com/memohai/courier/internal/channel/adapters/common"
)

// Type is the WhatsApp channel type.
const Type = channel.ChannelTypeWhatsApp

const whatsappMaxMessageLength = 4096

// WhatsAppAdapter implements channel.Adapter and channel.Sender for Green API instances.
type WhatsAppAdapter struct {
	logger *slog.Logger
	client *http.Client
}

// NewWhatsAppAdapter creates the adapter. A nil client falls back to the pooled default.
func NewWhatsAppAdapter(log *slog.Logger, client *http.Client) *WhatsAppAdapter {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		client = common.NewHTTPClient(0)
	}
	return &WhatsAppAdapter{
		logger: log.With(slog.String("adapter", "whatsapp")),
		client: client,
	}
}

// Type returns the WhatsApp channel type.
func (a *WhatsAppAdapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the WhatsApp channel metadata.
func (a *WhatsAppAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "WhatsApp",
		Capabilities: channel.Capabilities{
			Text:    true,
			Webhook: true,
		},
		OutboundPolicy: channel.OutboundPolicy{
			TextChunkLimit: whatsappMaxMessageLength,
		},
	}
}

// Config is the Green API instance an account sends through.
type Config struct {
	APIURL     string
	IDInstance string
	APIToken   string
}

func parseConfig(credentials map[string]any) (Config, error) {
	cfg := Config{
		APIURL:     strings.TrimRight(channel.ReadString(credentials, "api_url"), "/"),
		IDInstance: channel.ReadString(credentials, "id_instance"),
		APIToken:   channel.ReadString(credentials, "api_token"),
	}
	if cfg.APIURL == "" || cfg.IDInstance == "" || cfg.APIToken == "" {
		return Config{}, fmt.Errorf("whatsapp credentials need api_url, id_instance and api_token")
	}
	return cfg, nil
}

type sendRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

type sendResponse struct {
	IDMessage string `json:"idMessage"`
}

// Send delivers one text message to the chat in msg.Target.
func (a *WhatsAppAdapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	waCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/waInstance%s/sendMessage/%s",
		waCfg.APIURL, url.PathEscape(waCfg.IDInstance), url.PathEscape(waCfg.APIToken))
	var resp sendResponse
	req := sendRequest{ChatID: msg.Target, Message: msg.Message.PlainText()}
	if err := common.PostJSON(ctx, a.client, endpoint, nil, req, &resp); err != nil {
		return err
	}
	a.logger.Debug("whatsapp message sent",
		slog.String("owner_id", cfg.OwnerID),
		slog.String("chat_id", msg.Target),
		slog.String("message_id", resp.IDMessage),
	)
	return nil
}
