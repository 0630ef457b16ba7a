// Package threads persists the mapping from a conversation to its assistant thread.
package threads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/memohai/courier/internal/conversation"
)

var (
	// ErrThreadNotFound is returned by GetThread when the conversation has no thread yet.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrThreadExists is returned by SaveThread when the conversation already has a thread.
	// The stored record is left untouched.
	ErrThreadExists = errors.New("thread already exists")
)

// Thread ties a conversation to the assistant thread that carries its history.
type Thread struct {
	Key         conversation.Key `json:"key"`
	AssistantID string           `json:"assistant_id"`
	ThreadID    string           `json:"thread_id"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Store looks up and records threads. Implementations must be safe for concurrent use and
// SaveThread must be insert-if-absent.
type Store interface {
	GetThread(ctx context.Context, key conversation.Key) (Thread, error)
	SaveThread(ctx context.Context, thread Thread) error
}

func validateThread(thread Thread) error {
	if err := thread.Key.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(thread.ThreadID) == "" {
		return fmt.Errorf("thread id is required")
	}
	if strings.TrimSpace(thread.AssistantID) == "" {
		return fmt.Errorf("assistant id is required")
	}
	return nil
}

// MemoryStore keeps threads in process memory. Threads are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[conversation.Key]Thread
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: map[conversation.Key]Thread{}, now: time.Now}
}

func (s *MemoryStore) GetThread(_ context.Context, key conversation.Key) (Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread, ok := s.threads[key]
	if !ok {
		return Thread{}, ErrThreadNotFound
	}
	return thread, nil
}

func (s *MemoryStore) SaveThread(_ context.Context, thread Thread) error {
	if err := validateThread(thread); err != nil {
		return err
	}
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.threads[thread.Key]; exists {
		return ErrThreadExists
	}
	s.threads[thread.Key] = thread
	return nil
}
