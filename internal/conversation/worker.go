package conversation

import (
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/panics"
)

// runWorker drains key's queue one message at a time until it observes the queue empty.
func (d *Dispatcher) runWorker(key Key) {
	defer d.wg.Done()

	if d.sem != nil {
		select {
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
		case <-d.ctx.Done():
			d.retire(key)
			return
		}
	}
	d.mu.Lock()
	d.running++
	d.mu.Unlock()

	for {
		msg, ok := d.next(key)
		if !ok {
			return
		}
		d.process(msg)
	}
}

// next pops the head of key's queue. When the queue is empty, or the dispatcher is shutting
// down, it clears the active flag and evicts the queue in the same critical section, so a
// concurrent Submit either lands before and is drained here or lands after and starts a new
// worker. The running count drops before the worker gives its slot back.
func (d *Dispatcher) next(key Key) (PendingMessage, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.queues[key]
	if q == nil {
		d.workers--
		d.running--
		return PendingMessage{}, false
	}
	if d.ctx.Err() == nil {
		if msg, ok := q.pop(); ok {
			return msg, true
		}
	}
	d.evictLocked(q)
	d.running--
	return PendingMessage{}, false
}

func (d *Dispatcher) retire(key Key) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q := d.queues[key]; q != nil {
		d.evictLocked(q)
		return
	}
	d.workers--
}

func (d *Dispatcher) evictLocked(q *Queue) {
	if dropped := q.len(); dropped > 0 {
		d.logger.Warn("drop queued messages on shutdown",
			slog.String("key", q.key.String()),
			slog.Int("count", dropped),
		)
	}
	q.active = false
	q.items = nil
	delete(d.queues, q.key)
	d.workers--
}

// process runs the handler for one message. Handler errors and panics are logged and never
// stop the worker.
func (d *Dispatcher) process(msg PendingMessage) {
	start := time.Now()
	var err error
	var pc panics.Catcher
	pc.Try(func() {
		err = d.handler.Handle(d.ctx, msg)
	})
	if r := pc.Recovered(); r != nil {
		d.logger.Error("conversation handler panicked",
			slog.String("key", msg.Key.String()),
			slog.String("dispatch_id", msg.ID),
			slog.String("text", summarize(msg)),
			slog.Any("panic", r.Value),
			slog.String("stack", string(r.Stack)),
		)
		return
	}
	if err != nil {
		d.logger.Error("conversation handler failed",
			slog.String("key", msg.Key.String()),
			slog.String("dispatch_id", msg.ID),
			slog.String("text", summarize(msg)),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err),
		)
		return
	}
	d.logger.Debug("conversation message handled",
		slog.String("key", msg.Key.String()),
		slog.String("dispatch_id", msg.ID),
		slog.Duration("latency", time.Since(start)),
		slog.Duration("queued_for", start.Sub(msg.EnqueuedAt)),
	)
}
