// Package channel provides a unified abstraction for the messaging platforms courier serves.
// It defines the inbound/outbound message types, adapter interfaces, a registry for adapters,
// and the retrying outbound transport shared by every platform.
package channel

import (
	"strings"
	"time"
)

// ChannelType identifies a messaging platform.
type ChannelType string

// Supported platforms. The set is closed: adapters exist for exactly these.
const (
	ChannelTypeInstagram ChannelType = "instagram"
	ChannelTypeWhatsApp  ChannelType = "whatsapp"
	ChannelTypeTelegram  ChannelType = "telegram"
)

// KnownChannelTypes lists every supported platform.
var KnownChannelTypes = []ChannelType{ChannelTypeInstagram, ChannelTypeWhatsApp, ChannelTypeTelegram}

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// Valid reports whether c is one of the supported platforms.
func (c ChannelType) Valid() bool {
	for _, known := range KnownChannelTypes {
		if c == known {
			return true
		}
	}
	return false
}

// ParseChannelType normalizes raw and checks it against the supported platforms.
func ParseChannelType(raw string) (ChannelType, bool) {
	ct := normalizeChannelType(raw)
	return ct, ct.Valid()
}

func normalizeChannelType(raw string) ChannelType {
	return ChannelType(strings.ToLower(strings.TrimSpace(raw)))
}

// Identity represents a sender's identity on a channel.
type Identity struct {
	SubjectID   string `validate:"required"`
	DisplayName string
	Attributes  map[string]string
}

// Attribute returns the trimmed value for the given key, or empty string if absent.
func (i Identity) Attribute(key string) string {
	if i.Attributes == nil {
		return ""
	}
	return strings.TrimSpace(i.Attributes[key])
}

// Message is the text payload of a conversation event or a reply.
type Message struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

// PlainText returns the trimmed text content.
func (m Message) PlainText() string {
	return strings.TrimSpace(m.Text)
}

// IsEmpty reports whether the message carries no text.
func (m Message) IsEmpty() bool {
	return m.PlainText() == ""
}

// InboundMessage is a conversation event received from a platform and normalized by its adapter.
// OwnerID is the receiving account (Instagram page, WhatsApp number, Telegram bot); the sender
// is the end user talking to it.
type InboundMessage struct {
	Channel     ChannelType `validate:"required"`
	OwnerID     string      `validate:"required"`
	Message     Message
	ReplyTarget string `validate:"required"`
	Sender      Identity
	ReceivedAt  time.Time
	Source      string
	Metadata    map[string]any
}

// OutboundMessage pairs a delivery target with the message content.
type OutboundMessage struct {
	Target  string  `json:"target"`
	Message Message `json:"message"`
}

// ChannelConfig is one connected owner account on a platform, together with the assistant
// assigned to answer on its behalf and the credentials its adapter needs to send replies.
type ChannelConfig struct {
	ID          string         `json:"id"`
	ChannelType ChannelType    `json:"channel_type"`
	OwnerID     string         `json:"owner_id"`
	AssistantID string         `json:"assistant_id"`
	Credentials map[string]any `json:"credentials"`
	Disabled    bool           `json:"disabled"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Credential returns the trimmed string credential stored under key.
func (c ChannelConfig) Credential(key string) string {
	return ReadString(c.Credentials, key)
}
