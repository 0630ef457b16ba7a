package conversation

import (
	"fmt"
	"strings"

	"github.com/memohai/courier/internal/channel"
)

// Key identifies one conversation: a sender talking to an owner account on a platform.
// It is comparable and used as a map key for queue affinity and thread lookup.
type Key struct {
	Platform channel.ChannelType
	OwnerID  string
	SenderID string
}

// KeyFor builds the conversation key of an inbound event.
func KeyFor(msg channel.InboundMessage) Key {
	return Key{
		Platform: msg.Channel,
		OwnerID:  strings.TrimSpace(msg.OwnerID),
		SenderID: strings.TrimSpace(msg.Sender.SubjectID),
	}
}

// String renders the key as platform:owner:sender.
func (k Key) String() string {
	return string(k.Platform) + ":" + k.OwnerID + ":" + k.SenderID
}

// Validate rejects unknown platforms and blank identifiers.
func (k Key) Validate() error {
	if !k.Platform.Valid() {
		return fmt.Errorf("%w: unsupported platform %q", channel.ErrInvalidConversationEvent, k.Platform)
	}
	if strings.TrimSpace(k.OwnerID) == "" {
		return fmt.Errorf("%w: owner id is required", channel.ErrInvalidConversationEvent)
	}
	if strings.TrimSpace(k.SenderID) == "" {
		return fmt.Errorf("%w: sender id is required", channel.ErrInvalidConversationEvent)
	}
	return nil
}
