package jms

import (
	"sync"

	"github.com/qpidgo/jmscore/pkg/jmserr"
)

// dispatchQueueCapacity is the fixed bound on how many envelopes a
// stopped session will buffer before delivery.
const dispatchQueueCapacity = 10000

// dispatchQueue is a session's FIFO buffer of inbound envelopes that
// arrive while the session is stopped. Overflow is treated as a fatal
// programming error: Push returns an error rather than dropping the
// envelope silently.
type dispatchQueue struct {
	mu    sync.Mutex
	items []*InboundEnvelope
}

func newDispatchQueue() *dispatchQueue {
	return &dispatchQueue{items: make([]*InboundEnvelope, 0, 64)}
}

// Push enqueues env, failing if the queue is already at capacity.
func (q *dispatchQueue) Push(env *InboundEnvelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= dispatchQueueCapacity {
		return jmserr.NewIllegalState("dispatch queue overflow: capacity %d exceeded", dispatchQueueCapacity)
	}
	q.items = append(q.items, env)
	return nil
}

// Drain removes and returns every buffered envelope in FIFO order, for
// delivery on start() before any live envelope arriving after start
// completes (ordering guarantee).
func (q *dispatchQueue) Drain() []*InboundEnvelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	drained := q.items
	q.items = make([]*InboundEnvelope, 0, 64)
	return drained
}

func (q *dispatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
