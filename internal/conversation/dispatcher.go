// Package conversation serializes inbound events per conversation and runs each conversation's
// backlog on its own worker, with unbounded parallelism across conversations.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/courier/internal/channel"
	"github.com/memohai/courier/internal/channel/adapters/common"
)

// ErrDispatcherClosed is returned by Submit after Shutdown has begun.
var ErrDispatcherClosed = errors.New("dispatcher is closed")

// Handler processes one pending message to completion.
type Handler interface {
	Handle(ctx context.Context, msg PendingMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg PendingMessage) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg PendingMessage) error {
	return f(ctx, msg)
}

// Options configures a Dispatcher.
type Options struct {
	// MaxActiveWorkers caps how many workers drain concurrently. Zero means unbounded.
	MaxActiveWorkers int
}

// Stats is a point-in-time view of the dispatcher. RunningWorkers never exceeds
// MaxActiveWorkers; WaitingWorkers are spawned but still waiting for a slot.
type Stats struct {
	RunningWorkers int `json:"running_workers"`
	WaitingWorkers int `json:"waiting_workers"`
	QueuedMessages int `json:"queued_messages"`
	Keys           int `json:"keys"`
}

// Dispatcher owns the per-conversation queues. A key has at most one worker at any time and
// its queue is evicted as soon as the worker finds it empty.
type Dispatcher struct {
	handler Handler
	logger  *slog.Logger
	sem     chan struct{}
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	queues  map[Key]*Queue
	workers int
	running int
	closed  bool
}

// NewDispatcher creates a Dispatcher that hands every message to handler.
func NewDispatcher(log *slog.Logger, handler Handler, opts Options) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		handler: handler,
		logger:  log.With(slog.String("component", "dispatcher")),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		queues:  map[Key]*Queue{},
	}
	if opts.MaxActiveWorkers > 0 {
		d.sem = make(chan struct{}, opts.MaxActiveWorkers)
	}
	return d
}

// Submit enqueues an inbound event on its conversation's queue and starts a worker for the
// conversation when none is running. It never waits for the handler. Malformed events are
// logged and rejected with channel.ErrInvalidConversationEvent.
func (d *Dispatcher) Submit(ctx context.Context, msg channel.InboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := channel.ValidateInbound(msg); err != nil {
		d.logger.Warn("drop invalid conversation event",
			slog.String("channel", msg.Channel.String()),
			slog.String("source", msg.Source),
			slog.Any("error", err),
		)
		return err
	}
	key := KeyFor(msg)
	if err := key.Validate(); err != nil {
		d.logger.Warn("drop invalid conversation event", slog.String("key", key.String()), slog.Any("error", err))
		return err
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = d.now()
	}
	pending := PendingMessage{
		ID:         uuid.NewString(),
		Key:        key,
		Event:      msg,
		EnqueuedAt: d.now(),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	q, ok := d.queues[key]
	if !ok {
		q = newQueue(key)
		d.queues[key] = q
	}
	q.push(pending)
	spawn := !q.active
	if spawn {
		q.active = true
		d.workers++
		d.wg.Add(1)
	}
	depth := q.len()
	d.mu.Unlock()

	d.logger.Debug("conversation event queued",
		slog.String("key", key.String()),
		slog.String("dispatch_id", pending.ID),
		slog.Int("depth", depth),
		slog.Bool("spawned_worker", spawn),
	)
	if spawn {
		go d.runWorker(key)
	}
	return nil
}

// Stats reports the current worker counts, queued messages and tracked keys.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := Stats{
		RunningWorkers: d.running,
		WaitingWorkers: d.workers - d.running,
		Keys:           len(d.queues),
	}
	for _, q := range d.queues {
		stats.QueuedMessages += q.len()
	}
	return stats
}

// Shutdown stops accepting submissions, cancels the context handed to in-flight handlers and
// waits for every worker to exit. Messages still queued are dropped. It returns ctx.Err() if
// ctx expires first.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func summarize(msg PendingMessage) string {
	return common.SummarizeText(msg.Event.Message.Text)
}
