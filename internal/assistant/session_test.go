package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/memohai/courier/internal/channel"
	"github.com/memohai/courier/internal/conversation"
	"github.com/memohai/courier/internal/threads"
)

type fakeBackend struct {
	mu            sync.Mutex
	createThreads int
	added         []string
	runStatuses   []RunStatus
	runFailure    *RunFailure
	getRunCalls   int
	messages      []ThreadMessage

	createThreadErr error
	addMessageErr   error
	getRunErr       error
}

func (f *fakeBackend) CreateThread(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createThreadErr != nil {
		return "", f.createThreadErr
	}
	f.createThreads++
	return fmt.Sprintf("thread_%d", f.createThreads), nil
}

func (f *fakeBackend) AddMessage(_ context.Context, threadID, role, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addMessageErr != nil {
		return f.addMessageErr
	}
	f.added = append(f.added, threadID+"|"+role+"|"+text)
	return nil
}

func (f *fakeBackend) CreateRun(context.Context, string, string, string) (RunState, error) {
	return RunState{ID: "run_1", Status: f.status(0)}, nil
}

func (f *fakeBackend) GetRun(context.Context, string, string) (RunState, error) {
	f.mu.Lock()
	f.getRunCalls++
	call := f.getRunCalls
	f.mu.Unlock()
	if f.getRunErr != nil {
		return RunState{}, f.getRunErr
	}
	status := f.status(call)
	state := RunState{ID: "run_1", Status: status}
	if !status.Pending() && status != RunStatusCompleted {
		state.LastError = f.runFailure
	}
	return state, nil
}

func (f *fakeBackend) ListMessages(context.Context, string) ([]ThreadMessage, error) {
	return f.messages, nil
}

func (f *fakeBackend) status(i int) RunStatus {
	if len(f.runStatuses) == 0 {
		return RunStatusCompleted
	}
	if i >= len(f.runStatuses) {
		return f.runStatuses[len(f.runStatuses)-1]
	}
	return f.runStatuses[i]
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

var testKey = conversation.Key{Platform: channel.ChannelTypeInstagram, OwnerID: "42", SenderID: "7"}

func newTestSession(backend *fakeBackend, store threads.Store, cfg SessionConfig) (*Session, *fakeClock) {
	s := NewSession(nil, backend, store, cfg)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s.now = clock.Now
	s.sleep = clock.Sleep
	return s, clock
}

func TestRunAndAwaitReturnsNewestAssistantMessage(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		runStatuses: []RunStatus{RunStatusCreated, RunStatusInProgress, RunStatusInProgress, RunStatusCompleted},
		messages: []ThreadMessage{
			{ID: "m3", RunID: "run_1", Role: RoleAssistant, Text: " newest reply "},
			{ID: "m2", Role: RoleUser, Text: "hi"},
			{ID: "m1", RunID: "run_0", Role: RoleAssistant, Text: "older reply"},
		},
	}
	s, clock := newTestSession(backend, threads.NewMemoryStore(), SessionConfig{})

	reply, err := s.RunAndAwait(context.Background(), "thread_1", "asst_1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Text != "newest reply" || reply.RunID != "run_1" || reply.ThreadID != "thread_1" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if backend.getRunCalls != 3 {
		t.Fatalf("expected 3 polls, got %d", backend.getRunCalls)
	}
	for _, d := range clock.sleeps {
		if d != DefaultPollInterval {
			t.Fatalf("unexpected poll interval %v", d)
		}
	}
}

func TestRunAndAwaitIgnoresRepliesFromEarlierRuns(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		runStatuses: []RunStatus{RunStatusQueued, RunStatusCompleted},
		messages: []ThreadMessage{
			{ID: "m3", Role: RoleUser, Text: "hi"},
			{ID: "m2", RunID: "run_0", Role: RoleAssistant, Text: "hello from turn one"},
			{ID: "m1", Role: RoleUser, Text: "bye"},
		},
	}
	s, _ := newTestSession(backend, threads.NewMemoryStore(), SessionConfig{})

	reply, err := s.RunAndAwait(context.Background(), "thread_1", "asst_1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Text != "" || reply.RunID != "run_1" {
		t.Fatalf("expected an empty reply for run_1, got %+v", reply)
	}
}

func TestRunAndAwaitKeepsPollingWhileCancelling(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		runStatuses: []RunStatus{RunStatusQueued, RunStatusCancelling, RunStatusCancelled},
	}
	s, _ := newTestSession(backend, threads.NewMemoryStore(), SessionConfig{})

	_, err := s.RunAndAwait(context.Background(), "thread_1", "asst_1", "")
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Status != RunStatusCancelled {
		t.Fatalf("expected cancelled RunError, got %v", err)
	}
	if backend.getRunCalls != 2 {
		t.Fatalf("expected 2 polls, got %d", backend.getRunCalls)
	}
}

func TestRunAndAwaitTerminalFailures(t *testing.T) {
	t.Parallel()

	for _, status := range []RunStatus{RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete} {
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()
			backend := &fakeBackend{
				runStatuses: []RunStatus{RunStatusQueued, status},
				runFailure:  &RunFailure{Code: "server_error", Message: "model overloaded"},
			}
			s, _ := newTestSession(backend, threads.NewMemoryStore(), SessionConfig{})

			_, err := s.RunAndAwait(context.Background(), "thread_1", "asst_1", "")
			if !errors.Is(err, ErrAssistantRunFailed) {
				t.Fatalf("expected ErrAssistantRunFailed, got %v", err)
			}
			var runErr *RunError
			if !errors.As(err, &runErr) || runErr.Code != "server_error" || runErr.Message != "model overloaded" {
				t.Fatalf("expected failure details, got %+v", runErr)
			}
		})
	}
}

func TestRunAndAwaitRequiresAction(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{runStatuses: []RunStatus{RunStatusInProgress, RunStatusRequiresAction}}
	s, _ := newTestSession(backend, threads.NewMemoryStore(), SessionConfig{})

	if _, err := s.RunAndAwait(context.Background(), "thread_1", "asst_1", ""); !errors.Is(err, ErrAssistantActionRequired) {
		t.Fatalf("expected ErrAssistantActionRequired, got %v", err)
	}
}

func TestRunAndAwaitTimesOut(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{runStatuses: []RunStatus{RunStatusInProgress}}
	s, clock := newTestSession(backend, threads.NewMemoryStore(), SessionConfig{
		PollInterval:    time.Second,
		MaxPollDuration: 5 * time.Second,
	})

	_, err := s.RunAndAwait(context.Background(), "thread_1", "asst_1", "")
	if !errors.Is(err, ErrAssistantTimeout) {
		t.Fatalf("expected ErrAssistantTimeout, got %v", err)
	}
	if len(clock.sleeps) != 5 {
		t.Fatalf("expected 5 polls before timing out, got %d", len(clock.sleeps))
	}
}

func TestRunAndAwaitHonoursContext(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{runStatuses: []RunStatus{RunStatusInProgress}}
	s, _ := newTestSession(backend, threads.NewMemoryStore(), SessionConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.RunAndAwait(ctx, "thread_1", "asst_1", ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunAndAwaitPollFailureIsBackendError(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		runStatuses: []RunStatus{RunStatusQueued},
		getRunErr:   &channel.HTTPStatusError{StatusCode: 500},
	}
	s, _ := newTestSession(backend, threads.NewMemoryStore(), SessionConfig{})

	_, err := s.RunAndAwait(context.Background(), "thread_1", "asst_1", "")
	var be *BackendError
	if !errors.As(err, &be) || be.Op != "get run" || !errors.Is(err, ErrAssistantBackend) {
		t.Fatalf("expected BackendError, got %v", err)
	}
}

func TestInvokeReusesThreadPerConversation(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{messages: []ThreadMessage{{RunID: "run_1", Role: RoleAssistant, Text: "ok"}}}
	store := threads.NewMemoryStore()
	s, _ := newTestSession(backend, store, SessionConfig{})

	for _, text := range []string{"hi", "bye"} {
		if _, err := s.Invoke(context.Background(), testKey, "asst_1", text); err != nil {
			t.Fatalf("invoke %q: %v", text, err)
		}
	}
	other := testKey
	other.SenderID = "8"
	if _, err := s.Invoke(context.Background(), other, "asst_1", "hello"); err != nil {
		t.Fatalf("invoke other: %v", err)
	}

	if backend.createThreads != 2 {
		t.Fatalf("expected one thread per conversation, got %d", backend.createThreads)
	}
	want := []string{"thread_1|user|hi", "thread_1|user|bye", "thread_2|user|hello"}
	if fmt.Sprint(backend.added) != fmt.Sprint(want) {
		t.Fatalf("unexpected messages: %v", backend.added)
	}
	stored, err := store.GetThread(context.Background(), testKey)
	if err != nil || stored.ThreadID != "thread_1" || stored.AssistantID != "asst_1" {
		t.Fatalf("unexpected stored thread: %+v, %v", stored, err)
	}
}

type racingStore struct {
	threads.Store
	winner threads.Thread
	once   sync.Once
}

func (r *racingStore) SaveThread(ctx context.Context, thread threads.Thread) error {
	r.once.Do(func() {
		_ = r.Store.SaveThread(ctx, r.winner)
	})
	return r.Store.SaveThread(ctx, thread)
}

func TestResolveThreadKeepsStoredThreadOnConflict(t *testing.T) {
	t.Parallel()

	store := &racingStore{
		Store:  threads.NewMemoryStore(),
		winner: threads.Thread{Key: testKey, AssistantID: "asst_1", ThreadID: "thread_winner"},
	}
	s, _ := newTestSession(&fakeBackend{}, store, SessionConfig{})

	threadID, err := s.ResolveThread(context.Background(), testKey, "asst_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if threadID != "thread_winner" {
		t.Fatalf("expected stored thread to win, got %s", threadID)
	}
}

func TestInvokeSurfacesBackendRejection(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{addMessageErr: &channel.HTTPStatusError{StatusCode: 400, Body: "run active"}}
	s, _ := newTestSession(backend, threads.NewMemoryStore(), SessionConfig{})

	_, err := s.Invoke(context.Background(), testKey, "asst_1", "hi")
	if !errors.Is(err, ErrAssistantBackend) {
		t.Fatalf("expected ErrAssistantBackend, got %v", err)
	}
	var statusErr *channel.HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != 400 {
		t.Fatalf("expected wrapped status error, got %v", err)
	}
}

func TestInvokeCreateThreadFailure(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{createThreadErr: errors.New("dial tcp: connection refused")}
	store := threads.NewMemoryStore()
	s, _ := newTestSession(backend, store, SessionConfig{})

	if _, err := s.Invoke(context.Background(), testKey, "asst_1", "hi"); !errors.Is(err, ErrAssistantBackend) {
		t.Fatalf("expected ErrAssistantBackend, got %v", err)
	}
	if _, err := store.GetThread(context.Background(), testKey); !errors.Is(err, threads.ErrThreadNotFound) {
		t.Fatalf("no thread should be recorded, got %v", err)
	}
}
