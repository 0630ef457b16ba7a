// Package instagram implements the Instagram messaging adapter: Graph API sends and the
// Meta webhook receiver.
package instagram

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

// Type is the Instagram channel type.
const Type = channel.ChannelTypeInstagram

const (
	// DefaultGraphURL is the Instagram Graph API host.
	DefaultGraphURL = "https://graph.instagram.com"
	graphVersion    = "v21.0"

	instagramMaxMessageLength = 1000
)

// InstagramAdapter implements channel.Adapter and channel.Sender for Instagram.
type InstagramAdapter struct {
	logger   *slog.Logger
	client   *http.Client
	graphURL string
}

// NewInstagramAdapter creates an adapter that sends through graphURL. A nil client falls
// back to the pooled default.
func NewInstagramAdapter(log *slog.Logger, client *http.Client, graphURL string) *InstagramAdapter {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		client = common.NewHTTPClient(0)
	}
	graphURL = strings.TrimRight(strings.TrimSpace(graphURL), "/")
	if graphURL == "" {
		graphURL = DefaultGraphURL
	}
	return &InstagramAdapter{
		logger:   log.With(slog.String("adapter", "instagram")),
		client:   client,
		graphURL: graphURL,
	}
}

// Type returns the Instagram channel type.
func (a *InstagramAdapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the Instagram channel metadata.
func (a *InstagramAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Instagram",
		Capabilities: channel.Capabilities{
			Text:    true,
			Webhook: true,
		},
		OutboundPolicy: channel.OutboundPolicy{
			TextChunkLimit: instagramMaxMessageLength,
		},
	}
}

type sendRequest struct {
	Recipient recipient   `json:"recipient"`
	Message   sendMessage `json:"message"`
}

type recipient struct {
	ID string `json:"id"`
}

type sendMessage struct {
	Text string `json:"text"`
}

type sendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// Send delivers one text message from the account's page to msg.Target.
func (a *InstagramAdapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	token := cfg.Credential("access_token")
	if token == "" {
		return fmt.Errorf("instagram account %s has no access_token", cfg.ID)
	}
	owner := strings.TrimSpace(cfg.OwnerID)
	if owner == "" {
		return fmt.Errorf("instagram owner id is required")
	}
	endpoint := fmt.Sprintf("%s/%s/%s/messages", a.graphURL, graphVersion, url.PathEscape(owner))
	req := sendRequest{
		Recipient: recipient{ID: msg.Target},
		Message:   sendMessage{Text: msg.Message.PlainText()},
	}
	var resp sendResponse
	headers := map[string]string{"Authorization": "Bearer " + token}
	if err := common.PostJSON(ctx, a.client, endpoint, headers, req, &resp); err != nil {
		return err
	}
	a.logger.Debug("instagram message sent",
		slog.String("owner_id", owner),
		slog.String("recipient_id", resp.RecipientID),
		slog.String("message_id", resp.MessageID),
	)
	return nil
}
