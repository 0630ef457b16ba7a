package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/courier/internal/accounts"
	"github.com/memohai/courier/internal/assistant"
	"github.com/memohai/courier/internal/channel"
	"github.com/memohai/courier/internal/conversation"
	"github.com/memohai/courier/internal/threads"
)

type fakeAccounts struct {
	accounts map[string]channel.ChannelConfig
	err      error
}

func (f *fakeAccounts) Resolve(_ context.Context, platform channel.ChannelType, ownerID string) (channel.ChannelConfig, error) {
	if f.err != nil {
		return channel.ChannelConfig{}, f.err
	}
	account, ok := f.accounts[platform.String()+":"+ownerID]
	if !ok {
		return channel.ChannelConfig{}, accounts.ErrAccountNotFound
	}
	return account, nil
}

type fakeInvoker struct {
	mu     sync.Mutex
	calls  []string
	invoke func(key conversation.Key, assistantID, text string) (assistant.Reply, error)
}

func (f *fakeInvoker) Invoke(_ context.Context, key conversation.Key, assistantID, text string) (assistant.Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()
	return f.invoke(key, assistantID, text)
}

type fakeSender struct {
	mu   sync.Mutex
	sent []channel.OutboundMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, _ channel.ChannelConfig, msg channel.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, msg := range f.sent {
		out = append(out, msg.Target+"|"+msg.Message.Text)
	}
	return out
}

var igAccount = channel.ChannelConfig{
	ID:          "acc-ig",
	ChannelType: channel.ChannelTypeInstagram,
	OwnerID:     "42",
	AssistantID: "asst_1",
}

func pending(text string) conversation.PendingMessage {
	event := channel.InboundMessage{
		Channel:     channel.ChannelTypeInstagram,
		OwnerID:     "42",
		ReplyTarget: "7",
		Sender:      channel.Identity{SubjectID: "7"},
		Message:     channel.Message{Text: text},
	}
	return conversation.PendingMessage{ID: "d-1", Key: conversation.KeyFor(event), Event: event}
}

func TestProcessorDeliversReply(t *testing.T) {
	t.Parallel()

	invoker := &fakeInvoker{invoke: func(key conversation.Key, assistantID, text string) (assistant.Reply, error) {
		assert.Equal(t, "instagram:42:7", key.String())
		assert.Equal(t, "asst_1", assistantID)
		return assistant.Reply{ThreadID: "thread_1", Text: "echo: " + text}, nil
	}}
	sender := &fakeSender{}
	p := NewProcessor(nil, &fakeAccounts{accounts: map[string]channel.ChannelConfig{"instagram:42": igAccount}}, invoker, sender)

	require.NoError(t, p.Handle(context.Background(), pending(" hi ")))
	assert.Equal(t, []string{"7|echo: hi"}, sender.texts())
}

func TestProcessorFallsBackOnEmptyReply(t *testing.T) {
	t.Parallel()

	invoker := &fakeInvoker{invoke: func(conversation.Key, string, string) (assistant.Reply, error) {
		return assistant.Reply{Text: "  "}, nil
	}}
	sender := &fakeSender{}
	p := NewProcessor(nil, &fakeAccounts{accounts: map[string]channel.ChannelConfig{"instagram:42": igAccount}}, invoker, sender)

	require.NoError(t, p.Handle(context.Background(), pending("hi")))
	assert.Equal(t, []string{"7|" + FallbackReply}, sender.texts())
}

func TestProcessorDropsUnknownAccount(t *testing.T) {
	t.Parallel()

	invoker := &fakeInvoker{invoke: func(conversation.Key, string, string) (assistant.Reply, error) {
		t.Fatal("assistant must not be invoked")
		return assistant.Reply{}, nil
	}}
	sender := &fakeSender{}
	p := NewProcessor(nil, &fakeAccounts{}, invoker, sender)

	require.NoError(t, p.Handle(context.Background(), pending("hi")))
	assert.Empty(t, sender.texts())
}

func TestProcessorPropagatesFailures(t *testing.T) {
	t.Parallel()

	accts := &fakeAccounts{accounts: map[string]channel.ChannelConfig{"instagram:42": igAccount}}

	t.Run("account store", func(t *testing.T) {
		p := NewProcessor(nil, &fakeAccounts{err: errors.New("db down")}, &fakeInvoker{}, &fakeSender{})
		assert.Error(t, p.Handle(context.Background(), pending("hi")))
	})
	t.Run("assistant", func(t *testing.T) {
		invoker := &fakeInvoker{invoke: func(conversation.Key, string, string) (assistant.Reply, error) {
			return assistant.Reply{}, &assistant.RunError{RunID: "run_1", Status: assistant.RunStatusFailed}
		}}
		sender := &fakeSender{}
		err := NewProcessor(nil, accts, invoker, sender).Handle(context.Background(), pending("hi"))
		assert.ErrorIs(t, err, assistant.ErrAssistantRunFailed)
		assert.Empty(t, sender.texts())
	})
	t.Run("delivery", func(t *testing.T) {
		invoker := &fakeInvoker{invoke: func(conversation.Key, string, string) (assistant.Reply, error) {
			return assistant.Reply{Text: "ok"}, nil
		}}
		sender := &fakeSender{err: &channel.DeliveryError{Channel: channel.ChannelTypeInstagram, Target: "7", Attempts: 3}}
		err := NewProcessor(nil, accts, invoker, sender).Handle(context.Background(), pending("hi"))
		assert.ErrorIs(t, err, channel.ErrDeliveryFailed)
	})
}

// scriptedBackend completes every run immediately and answers with the last user message.
type scriptedBackend struct {
	mu      sync.Mutex
	threads int
	last    map[string]string
}

func (b *scriptedBackend) CreateThread(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.threads++
	return "thread_" + string(rune('0'+b.threads)), nil
}

func (b *scriptedBackend) AddMessage(_ context.Context, threadID, _, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		b.last = map[string]string{}
	}
	b.last[threadID] = text
	return nil
}

func (b *scriptedBackend) CreateRun(context.Context, string, string, string) (assistant.RunState, error) {
	return assistant.RunState{ID: "run", Status: assistant.RunStatusCompleted}, nil
}

func (b *scriptedBackend) GetRun(context.Context, string, string) (assistant.RunState, error) {
	return assistant.RunState{ID: "run", Status: assistant.RunStatusCompleted}, nil
}

func (b *scriptedBackend) ListMessages(_ context.Context, threadID string) ([]assistant.ThreadMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return []assistant.ThreadMessage{{RunID: "run", Role: assistant.RoleAssistant, Text: "re: " + b.last[threadID]}}, nil
}

func TestScenarioInstagramHiThenBye(t *testing.T) {
	t.Parallel()

	backend := &scriptedBackend{}
	store := threads.NewMemoryStore()
	session := assistant.NewSession(nil, backend, store, assistant.SessionConfig{})
	sender := &fakeSender{}
	p := NewProcessor(nil, &fakeAccounts{accounts: map[string]channel.ChannelConfig{"instagram:42": igAccount}}, session, sender)
	d := conversation.NewDispatcher(nil, p, conversation.Options{})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	}()

	for _, text := range []string{"hi", "bye"} {
		require.NoError(t, d.Submit(context.Background(), pending(text).Event))
	}
	require.Eventually(t, func() bool { return len(sender.texts()) == 2 }, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"7|re: hi", "7|re: bye"}, sender.texts())
	assert.Equal(t, 1, backend.threads, "both turns share one thread")
	thread, err := store.GetThread(context.Background(), conversation.Key{Platform: channel.ChannelTypeInstagram, OwnerID: "42", SenderID: "7"})
	require.NoError(t, err)
	assert.Equal(t, "thread_1", thread.ThreadID)
}
