package assistant

import (
	"errors"
	"fmt"
)

var (
	// ErrAssistantBackend marks a failure reported by, or while talking to, the backend.
	ErrAssistantBackend = errors.New("assistant backend error")
	// ErrAssistantRunFailed marks a run that reached an unsuccessful terminal status.
	ErrAssistantRunFailed = errors.New("assistant run failed")
	// ErrAssistantActionRequired marks a run waiting for tool outputs, which are not supported.
	ErrAssistantActionRequired = errors.New("assistant run requires action")
	// ErrAssistantTimeout marks a run that did not finish within the poll budget.
	ErrAssistantTimeout = errors.New("assistant run timed out")
)

// BackendError wraps a failed backend call.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("assistant %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrAssistantBackend) match any BackendError.
func (e *BackendError) Is(target error) bool {
	return target == ErrAssistantBackend
}

// RunError reports a run that ended as failed, cancelled, expired or incomplete.
type RunError struct {
	RunID   string
	Status  RunStatus
	Code    string
	Message string
}

func (e *RunError) Error() string {
	if e.Code == "" && e.Message == "" {
		return fmt.Sprintf("assistant run %s ended %s", e.RunID, e.Status)
	}
	return fmt.Sprintf("assistant run %s ended %s: %s: %s", e.RunID, e.Status, e.Code, e.Message)
}

// Is makes errors.Is(err, ErrAssistantRunFailed) match any RunError.
func (e *RunError) Is(target error) bool {
	return target == ErrAssistantRunFailed
}

func backendErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}
