package conversation

import (
	"time"

	"github.com/memohai/courier/internal/channel"
)

// PendingMessage is an inbound event waiting for its conversation's worker.
type PendingMessage struct {
	ID         string
	Key        Key
	Event      channel.InboundMessage
	EnqueuedAt time.Time
}

// Queue is the FIFO backlog of a single conversation. It carries no lock of its own: every
// field is guarded by the owning Dispatcher's mutex.
type Queue struct {
	key    Key
	items  []PendingMessage
	active bool
}

func newQueue(key Key) *Queue {
	return &Queue{key: key}
}

func (q *Queue) push(msg PendingMessage) {
	q.items = append(q.items, msg)
}

func (q *Queue) pop() (PendingMessage, bool) {
	if len(q.items) == 0 {
		return PendingMessage{}, false
	}
	msg := q.items[0]
	q.items[0] = PendingMessage{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return msg, true
}

func (q *Queue) len() int {
	return len(q.items)
}
