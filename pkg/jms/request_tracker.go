package jms

import "sync"

// requestTracker maintains the set of pending asynchronous request
// futures so they can all be failed at once on provider loss,
// generalized from "wait on one shared timestamp" to "register/deregister
// many independent futures and mass-fail them."
type requestTracker struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*Future
}

func newRequestTracker() *requestTracker {
	return &requestTracker{pending: make(map[uint64]*Future)}
}

// register records f as in-flight and returns a handle to deregister it.
func (t *requestTracker) register(f *Future) uint64 {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.pending[id] = f
	t.mu.Unlock()
	return id
}

// deregister removes the future for id, regardless of how the call that
// registered it completed (success or failure).
func (t *requestTracker) deregister(id uint64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// failAll completes every currently-registered future with cause and
// clears the set. Safe to call more than once (Future.Complete is
// idempotent): once inline from the failing goroutine to unblock
// synchronous waiters immediately, and once again from the executor to
// catch any future registered in the race window between the two calls.
func (t *requestTracker) failAll(cause error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[uint64]*Future)
	t.mu.Unlock()

	for _, f := range pending {
		f.Complete(cause)
	}
}

// count reports how many requests are currently tracked; used by tests
// asserting that no future is left pending after a mass failure.
func (t *requestTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
