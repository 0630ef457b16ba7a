package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeLister struct {
	mu      sync.Mutex
	configs map[ChannelType][]ChannelConfig
	err     error
}

func (f *fakeLister) List(_ context.Context, channelType ChannelType) ([]ChannelConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]ChannelConfig(nil), f.configs[channelType]...), nil
}

func (f *fakeLister) set(channelType ChannelType, configs ...ChannelConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.configs == nil {
		f.configs = map[ChannelType][]ChannelConfig{}
	}
	f.configs[channelType] = configs
}

type fakeReceiverAdapter struct {
	channelType ChannelType
	connectErr  error

	mu       sync.Mutex
	started  []ChannelConfig
	stops    int
	handlers []InboundHandler
}

func (f *fakeReceiverAdapter) Type() ChannelType { return f.channelType }

func (f *fakeReceiverAdapter) Descriptor() Descriptor {
	return Descriptor{Type: f.channelType, Capabilities: Capabilities{Text: true, Polling: true}}
}

func (f *fakeReceiverAdapter) Connect(_ context.Context, cfg ChannelConfig, handler InboundHandler) (Connection, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	f.mu.Lock()
	f.started = append(f.started, cfg)
	f.handlers = append(f.handlers, handler)
	f.mu.Unlock()
	return NewConnection(cfg, func(context.Context) error {
		f.mu.Lock()
		f.stops++
		f.mu.Unlock()
		return nil
	}), nil
}

func (f *fakeReceiverAdapter) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started), f.stops
}

func newTestManager(adapter Adapter, lister ConfigLister, handler InboundHandler) *Manager {
	registry := NewRegistry()
	registry.MustRegister(adapter)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(log, registry, lister, handler, ManagerOptions{RefreshSchedule: "@every 1h"})
}

func telegramAccount(id string, updated time.Time) ChannelConfig {
	return ChannelConfig{
		ID:          id,
		ChannelType: ChannelTypeTelegram,
		OwnerID:     "bot-" + id,
		AssistantID: "asst",
		Credentials: map[string]any{"bot_token": "token-" + id},
		UpdatedAt:   updated,
	}
}

func TestManagerStartConnectsEnabledAccounts(t *testing.T) {
	t.Parallel()

	adapter := &fakeReceiverAdapter{channelType: ChannelTypeTelegram}
	lister := &fakeLister{}
	now := time.Now()
	disabled := telegramAccount("b", now)
	disabled.Disabled = true
	lister.set(ChannelTypeTelegram, telegramAccount("a", now), disabled)

	m := newTestManager(adapter, lister, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	started, _ := adapter.counts()
	if started != 1 {
		t.Fatalf("expected 1 connection, got %d", started)
	}
	statuses := m.Statuses()
	if len(statuses) != 1 || statuses[0].ConfigID != "a" || !statuses[0].Running {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("expected second start to fail")
	}
}

func TestManagerRefreshRestartsUpdatedAndStopsRemoved(t *testing.T) {
	t.Parallel()

	adapter := &fakeReceiverAdapter{channelType: ChannelTypeTelegram}
	lister := &fakeLister{}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lister.set(ChannelTypeTelegram, telegramAccount("a", base), telegramAccount("b", base))

	m := newTestManager(adapter, lister, nil)
	ctx := context.Background()
	m.Refresh(ctx)
	if started, stops := adapter.counts(); started != 2 || stops != 0 {
		t.Fatalf("after first refresh: started=%d stops=%d", started, stops)
	}

	// Unchanged accounts are left alone.
	m.Refresh(ctx)
	if started, _ := adapter.counts(); started != 2 {
		t.Fatalf("unchanged refresh reconnected: started=%d", started)
	}

	lister.set(ChannelTypeTelegram, telegramAccount("a", base.Add(time.Minute)))
	m.Refresh(ctx)
	started, stops := adapter.counts()
	if started != 3 || stops != 2 {
		t.Fatalf("after update: started=%d stops=%d", started, stops)
	}
	statuses := m.Statuses()
	if len(statuses) != 1 || statuses[0].ConfigID != "a" {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, stops := adapter.counts(); stops != 3 {
		t.Fatalf("expected all connections stopped, stops=%d", stops)
	}
	if len(m.Statuses()) != 0 {
		t.Fatalf("expected statuses cleared")
	}
}

func TestManagerKeepsConnectionsWhenListingFails(t *testing.T) {
	t.Parallel()

	adapter := &fakeReceiverAdapter{channelType: ChannelTypeTelegram}
	lister := &fakeLister{}
	lister.set(ChannelTypeTelegram, telegramAccount("a", time.Now()))

	m := newTestManager(adapter, lister, nil)
	m.Refresh(context.Background())

	lister.mu.Lock()
	lister.err = errors.New("database unavailable")
	lister.mu.Unlock()
	m.Refresh(context.Background())

	if _, stops := adapter.counts(); stops != 0 {
		t.Fatalf("listing failure must not stop connections, stops=%d", stops)
	}
}

func TestManagerRecordsConnectFailure(t *testing.T) {
	t.Parallel()

	adapter := &fakeReceiverAdapter{channelType: ChannelTypeTelegram, connectErr: errors.New("unauthorized")}
	lister := &fakeLister{}
	lister.set(ChannelTypeTelegram, telegramAccount("a", time.Now()))

	m := newTestManager(adapter, lister, nil)
	m.Refresh(context.Background())

	statuses := m.Statuses()
	if len(statuses) != 1 || statuses[0].Running || statuses[0].LastError != "unauthorized" {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
}

func TestManagerForwardsInbound(t *testing.T) {
	t.Parallel()

	adapter := &fakeReceiverAdapter{channelType: ChannelTypeTelegram}
	lister := &fakeLister{}
	lister.set(ChannelTypeTelegram, telegramAccount("a", time.Now()))

	var got InboundMessage
	m := newTestManager(adapter, lister, func(_ context.Context, _ ChannelConfig, msg InboundMessage) error {
		got = msg
		return nil
	})
	m.Refresh(context.Background())

	adapter.mu.Lock()
	handler := adapter.handlers[0]
	adapter.mu.Unlock()
	msg := InboundMessage{Channel: ChannelTypeTelegram, OwnerID: "bot-a", ReplyTarget: "42", Message: Message{Text: "hi"}}
	if err := handler(context.Background(), telegramAccount("a", time.Now()), msg); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got.Message.Text != "hi" {
		t.Fatalf("message not forwarded: %+v", got)
	}
}

func TestManagerRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	m := NewManager(nil, registry, &fakeLister{}, nil, ManagerOptions{RefreshSchedule: "not a schedule"})
	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("expected schedule error")
	}
}
