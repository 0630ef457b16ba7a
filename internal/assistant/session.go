package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/courier/internal/conversation"
	"github.com/memohai/courier/internal/threads"
)

const (
	DefaultInstructions    = "Generate a response based on the conversation context."
	DefaultPollInterval    = time.Second
	DefaultMaxPollDuration = 2 * time.Minute
)

// SessionConfig tunes run polling. Zero fields take the defaults above.
type SessionConfig struct {
	Instructions    string
	PollInterval    time.Duration
	MaxPollDuration time.Duration
}

// Session binds conversations to assistant threads and runs the assistant on them.
// It is safe for concurrent use across conversations.
type Session struct {
	backend Backend
	threads threads.Store
	cfg     SessionConfig
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// NewSession creates a Session.
func NewSession(log *slog.Logger, backend Backend, store threads.Store, cfg SessionConfig) *Session {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(cfg.Instructions) == "" {
		cfg.Instructions = DefaultInstructions
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPollDuration <= 0 {
		cfg.MaxPollDuration = DefaultMaxPollDuration
	}
	return &Session{
		backend: backend,
		threads: store,
		cfg:     cfg,
		logger:  log.With(slog.String("service", "assistant")),
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// ResolveThread returns the thread bound to key, creating and recording one on first contact.
// When a concurrent writer records a thread first, the stored thread wins.
func (s *Session) ResolveThread(ctx context.Context, key conversation.Key, assistantID string) (string, error) {
	existing, err := s.threads.GetThread(ctx, key)
	if err == nil {
		return existing.ThreadID, nil
	}
	if !errors.Is(err, threads.ErrThreadNotFound) {
		return "", fmt.Errorf("lookup thread: %w", err)
	}

	threadID, err := s.backend.CreateThread(ctx)
	if err != nil {
		return "", backendErr("create thread", err)
	}
	err = s.threads.SaveThread(ctx, threads.Thread{
		Key:         key,
		AssistantID: assistantID,
		ThreadID:    threadID,
		CreatedAt:   s.now().UTC(),
	})
	switch {
	case err == nil:
		s.logger.Info("thread created", slog.String("key", key.String()), slog.String("thread_id", threadID))
		return threadID, nil
	case errors.Is(err, threads.ErrThreadExists):
		stored, getErr := s.threads.GetThread(ctx, key)
		if getErr != nil {
			return "", fmt.Errorf("reload thread after conflict: %w", getErr)
		}
		s.logger.Warn("thread created concurrently, using stored thread",
			slog.String("key", key.String()),
			slog.String("thread_id", stored.ThreadID),
			slog.String("discarded_thread_id", threadID),
		)
		return stored.ThreadID, nil
	default:
		return "", fmt.Errorf("save thread: %w", err)
	}
}

// AppendMessage adds a message to the thread.
func (s *Session) AppendMessage(ctx context.Context, threadID, role, text string) error {
	return backendErr("add message", s.backend.AddMessage(ctx, threadID, role, text))
}

// RunAndAwait starts a run and polls it until it reaches a terminal status, returning the
// newest assistant message written by that run on completion. The reply is empty when the
// run produced no text.
func (s *Session) RunAndAwait(ctx context.Context, threadID, assistantID, instructions string) (Reply, error) {
	if strings.TrimSpace(instructions) == "" {
		instructions = s.cfg.Instructions
	}
	run, err := s.backend.CreateRun(ctx, threadID, assistantID, instructions)
	if err != nil {
		return Reply{}, backendErr("create run", err)
	}
	deadline := s.now().Add(s.cfg.MaxPollDuration)
	for polls := 0; ; polls++ {
		switch {
		case run.Status.Pending():
		case run.Status == RunStatusCompleted:
			text, err := s.runReplyText(ctx, threadID, run.ID)
			if err != nil {
				return Reply{}, err
			}
			s.logger.Debug("run completed", slog.String("thread_id", threadID), slog.String("run_id", run.ID), slog.Int("polls", polls))
			return Reply{ThreadID: threadID, RunID: run.ID, Text: text}, nil
		case run.Status == RunStatusRequiresAction:
			return Reply{}, fmt.Errorf("%w: run %s", ErrAssistantActionRequired, run.ID)
		default:
			runErr := &RunError{RunID: run.ID, Status: run.Status}
			if run.LastError != nil {
				runErr.Code = run.LastError.Code
				runErr.Message = run.LastError.Message
			}
			return Reply{}, runErr
		}

		if !s.now().Before(deadline) {
			return Reply{}, fmt.Errorf("%w: run %s still %s after %s", ErrAssistantTimeout, run.ID, run.Status, s.cfg.MaxPollDuration)
		}
		if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
			return Reply{}, err
		}
		next, err := s.backend.GetRun(ctx, threadID, run.ID)
		if err != nil {
			return Reply{}, backendErr("get run", err)
		}
		if next.ID == "" {
			next.ID = run.ID
		}
		run = next
	}
}

// runReplyText returns the newest assistant message produced by runID. Earlier turns' replies
// are never returned.
func (s *Session) runReplyText(ctx context.Context, threadID, runID string) (string, error) {
	messages, err := s.backend.ListMessages(ctx, threadID)
	if err != nil {
		return "", backendErr("list messages", err)
	}
	for _, msg := range messages {
		if msg.Role == RoleAssistant && msg.RunID == runID {
			return strings.TrimSpace(msg.Text), nil
		}
	}
	return "", nil
}

// Invoke runs one conversational turn: resolve the thread, append the user's text and wait
// for the assistant's reply.
func (s *Session) Invoke(ctx context.Context, key conversation.Key, assistantID, text string) (Reply, error) {
	threadID, err := s.ResolveThread(ctx, key, assistantID)
	if err != nil {
		return Reply{}, err
	}
	if err := s.AppendMessage(ctx, threadID, RoleUser, text); err != nil {
		return Reply{}, err
	}
	return s.RunAndAwait(ctx, threadID, assistantID, s.cfg.Instructions)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
