package channel

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrStopNotSupported is returned when a connection does not support graceful shutdown.
var ErrStopNotSupported = errors.New("channel connection stop not supported")

// InboundHandler is a callback invoked when a message arrives from a channel.
type InboundHandler func(ctx context.Context, cfg ChannelConfig, msg InboundMessage) error

// Capabilities describes what a platform can deliver.
type Capabilities struct {
	Text    bool `json:"text"`
	Webhook bool `json:"webhook"`
	Polling bool `json:"polling"`
}

// Descriptor holds static metadata for a channel adapter.
type Descriptor struct {
	Type           ChannelType    `json:"type"`
	DisplayName    string         `json:"display_name"`
	Capabilities   Capabilities   `json:"capabilities"`
	OutboundPolicy OutboundPolicy `json:"outbound_policy"`
}

// Adapter is the base interface every channel adapter implements.
type Adapter interface {
	Type() ChannelType
	Descriptor() Descriptor
}

// Sender is the platform send-message API. Implementations make exactly one attempt;
// retries belong to Transport.
type Sender interface {
	Send(ctx context.Context, cfg ChannelConfig, msg OutboundMessage) error
}

// Receiver is implemented by adapters that hold a persistent client session (long polling)
// instead of receiving webhooks.
type Receiver interface {
	Connect(ctx context.Context, cfg ChannelConfig, handler InboundHandler) (Connection, error)
}

// Connection represents an active receiver session for one account.
type Connection interface {
	ConfigID() string
	ChannelType() ChannelType
	Stop(ctx context.Context) error
	Running() bool
}

// BaseConnection is a default Connection implementation backed by a stop function.
type BaseConnection struct {
	configID    string
	channelType ChannelType
	stop        func(ctx context.Context) error
	running     atomic.Bool
}

// NewConnection creates a BaseConnection for the given config and stop function.
func NewConnection(cfg ChannelConfig, stop func(ctx context.Context) error) *BaseConnection {
	conn := &BaseConnection{
		configID:    cfg.ID,
		channelType: cfg.ChannelType,
		stop:        stop,
	}
	conn.running.Store(true)
	return conn
}

// ConfigID returns the account identifier.
func (c *BaseConnection) ConfigID() string {
	return c.configID
}

// ChannelType returns the type of channel this connection serves.
func (c *BaseConnection) ChannelType() ChannelType {
	return c.channelType
}

// Stop gracefully shuts down the connection.
func (c *BaseConnection) Stop(ctx context.Context) error {
	if c.stop == nil {
		return ErrStopNotSupported
	}
	c.running.Store(false)
	return c.stop(ctx)
}

// Running reports whether the connection is still active.
func (c *BaseConnection) Running() bool {
	return c.running.Load()
}
