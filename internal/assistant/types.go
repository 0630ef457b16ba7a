// Package assistant drives a hosted assistant: it resolves the durable thread of a
// conversation, appends the user's message, starts a run and polls it to a terminal state.
package assistant

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state reported by the backend for a run.
type RunStatus string

const (
	RunStatusCreated        RunStatus = "created"
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
	RunStatusIncomplete     RunStatus = "incomplete"
)

// Pending reports whether the run is still making progress and should be polled again.
func (s RunStatus) Pending() bool {
	switch s {
	case RunStatusCreated, RunStatusQueued, RunStatusInProgress, RunStatusCancelling:
		return true
	}
	return false
}

// Role of a thread message author.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// RunState is the backend's view of one run. It is never persisted.
type RunState struct {
	ID        string
	Status    RunStatus
	LastError *RunFailure
}

// RunFailure is the error a backend attaches to an unsuccessful run.
type RunFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ThreadMessage is one message of a thread as listed by the backend, newest first.
type ThreadMessage struct {
	ID        string
	RunID     string
	Role      string
	Text      string
	CreatedAt time.Time
}

// Reply is the outcome of a successful invocation.
type Reply struct {
	ThreadID string
	RunID    string
	Text     string
}

// Backend is the hosted assistant API.
type Backend interface {
	CreateThread(ctx context.Context) (string, error)
	AddMessage(ctx context.Context, threadID, role, text string) error
	CreateRun(ctx context.Context, threadID, assistantID, instructions string) (RunState, error)
	GetRun(ctx context.Context, threadID, runID string) (RunState, error)
	ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error)
}
