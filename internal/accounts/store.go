// Package accounts resolves which assistant answers for an owner account and with which
// platform credentials replies are sent.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/memohai/courier/internal/channel"
)

// ErrAccountNotFound is returned when no enabled account matches the platform and owner.
var ErrAccountNotFound = errors.New("account not found")

// Store looks up owner accounts. An account is a channel.ChannelConfig: the owner on a
// platform, its assigned assistant and its send credentials.
type Store interface {
	Resolve(ctx context.Context, platform channel.ChannelType, ownerID string) (channel.ChannelConfig, error)
	List(ctx context.Context, platform channel.ChannelType) ([]channel.ChannelConfig, error)
}

// Writer is implemented by database-backed stores that accept imported accounts.
type Writer interface {
	Upsert(ctx context.Context, account channel.ChannelConfig) (channel.ChannelConfig, error)
}

func validateAccount(account channel.ChannelConfig) error {
	if !account.ChannelType.Valid() {
		return fmt.Errorf("account %q: unsupported platform %q", account.OwnerID, account.ChannelType)
	}
	if strings.TrimSpace(account.OwnerID) == "" {
		return fmt.Errorf("account owner id is required")
	}
	if strings.TrimSpace(account.AssistantID) == "" {
		return fmt.Errorf("account %s:%s: assistant id is required", account.ChannelType, account.OwnerID)
	}
	return nil
}

func notFound(platform channel.ChannelType, ownerID string) error {
	return fmt.Errorf("%w: %s:%s", ErrAccountNotFound, platform, ownerID)
}
