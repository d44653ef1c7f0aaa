package jms

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/qpidgo/jmscore/pkg/jmserr"
)

// Consumer is a session-owned message consumer.
type Consumer struct {
	info    ConsumerInfo
	session *Session
	tempDest *TemporaryDestination // set iff Destination is temporary

	listenerMu sync.Mutex
	listener   MessageListener

	pull *pullQueue

	started atomic.Bool
	closed  atomic.Bool
	failed  atomic.Pointer[error]

	// suspendMu/suspended/pending implement the rollback-time pause:
	// suspend every consumer, then resume them once rollback finishes.
	// This is deliberately a separate buffer from the session's
	// dispatchQueue (which exists for session-stopped buffering) since
	// suspension here is per-consumer and much shorter-lived.
	suspendMu sync.Mutex
	suspended bool
	pending   []*InboundEnvelope
}

func newConsumer(session *Session, info ConsumerInfo, tempDest *TemporaryDestination) *Consumer {
	c := &Consumer{
		info:     info,
		session:  session,
		tempDest: tempDest,
		pull:     newPullQueue(),
	}
	if tempDest != nil {
		tempDest.addConsumer()
	}
	return c
}

func (c *Consumer) ID() ConsumerID             { return c.info.ID }
func (c *Consumer) Destination() Destination   { return c.info.Destination }
func (c *Consumer) Selector() string           { return c.info.Selector }
func (c *Consumer) DurableName() string        { return c.info.DurableName }
func (c *Consumer) isStarted() bool            { return c.started.Load() }
func (c *Consumer) isClosed() bool             { return c.closed.Load() }

// SetMessageListener installs an async delivery callback. Once set, all
// delivery for this consumer goes through the session's lazily allocated
// executor instead of through Receive.
func (c *Consumer) SetMessageListener(l MessageListener) {
	c.listenerMu.Lock()
	c.listener = l
	c.listenerMu.Unlock()
	if l != nil {
		c.session.ensureListenerExecutor()
	}
}

func (c *Consumer) hasListener() bool {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	return c.listener != nil
}

// Receive blocks for the next envelope when no MessageListener is
// installed, honoring ctx cancellation. It first asks the provider for a
// credit via Pull (timeoutMillis 0: block until one arrives or ctx ends),
// then waits on the local buffer for whatever OnInboundMessage delivers
// against that credit.
func (c *Consumer) Receive(ctx context.Context) (*InboundEnvelope, error) {
	if c.hasListener() {
		return nil, jmserr.NewIllegalState("consumer %s has a message listener installed", c.info.ID)
	}
	if c.isClosed() {
		return nil, jmserr.NewIllegalState("consumer %s is closed", c.info.ID)
	}
	if err := c.session.requestPull(ctx, c.info.ID, 0); err != nil {
		return nil, err
	}
	return c.pull.pop(ctx)
}

// offer is called by the owning Session's dispatch path once it has
// decided this envelope is eligible for live delivery (i.e. the session
// is started). It implements the per-consumer suspend/resume buffering
// used by rollback and by connection interruption/restoration.
func (c *Consumer) offer(env *InboundEnvelope) {
	c.suspendMu.Lock()
	if c.suspended {
		c.pending = append(c.pending, env)
		c.suspendMu.Unlock()
		return
	}
	c.suspendMu.Unlock()
	c.deliverNow(env)
}

func (c *Consumer) deliverNow(env *InboundEnvelope) {
	c.listenerMu.Lock()
	l := c.listener
	c.listenerMu.Unlock()

	if l != nil {
		c.session.listenerExecutor().Submit(func() { l(env) })
		return
	}
	c.pull.push(env)
}

// suspend pauses live delivery; envelopes offered while suspended queue
// in FIFO order until resume.
func (c *Consumer) suspend() {
	c.suspendMu.Lock()
	c.suspended = true
	c.suspendMu.Unlock()
}

// resume un-pauses delivery and flushes anything buffered while
// suspended, in order.
func (c *Consumer) resume() {
	c.suspendMu.Lock()
	pending := c.pending
	c.pending = nil
	c.suspended = false
	c.suspendMu.Unlock()

	for _, env := range pending {
		c.deliverNow(env)
	}
}

func (c *Consumer) markFailed(cause error) {
	c.failed.Store(&cause)
}

func (c *Consumer) failureCause() error {
	if p := c.failed.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *Consumer) markClosed() {
	c.closed.Store(true)
	c.pull.close()
	if c.tempDest != nil {
		c.tempDest.removeConsumer()
	}
}

// Close removes this consumer from its session and destroys it remotely.
func (c *Consumer) Close() error {
	return c.session.closeConsumer(c)
}

// pullQueue is an unbounded FIFO blocking queue backing Consumer.Receive.
type pullQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*InboundEnvelope
	closed bool
}

func newPullQueue() *pullQueue {
	q := &pullQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *pullQueue) push(env *InboundEnvelope) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, env)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *pullQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *pullQueue) pop(ctx context.Context) (*InboundEnvelope, error) {
	done := make(chan struct{})
	var stop atomic.Bool
	go func() {
		select {
		case <-ctx.Done():
			stop.Store(true)
			q.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed && !stop.Load() {
		q.cond.Wait()
	}
	if len(q.items) > 0 {
		env := q.items[0]
		q.items = q.items[1:]
		return env, nil
	}
	if q.closed {
		return nil, jmserr.NewIllegalState("consumer closed")
	}
	return nil, ctx.Err()
}
