package jms

import (
	"context"
	"sync"
)

// Synchronization is the optional pre/post-complete hook a Future owns,
// fired immediately before and after a Future transitions to resolved.
type Synchronization interface {
	BeforeComplete()
	AfterComplete(err error)
}

// Future is a single-producer single-consumer completion primitive
// carrying either success or a typed error. It is the concrete type
// the RequestTracker registers and every provider call awaits.
type Future struct {
	done chan struct{}
	mu   sync.Mutex
	err  error
	set  bool

	sync Synchronization
}

// NewFuture constructs an unresolved Future, optionally with a
// Synchronization hook.
func NewFuture(s Synchronization) *Future {
	return &Future{done: make(chan struct{}), sync: s}
}

// Complete resolves the future with err (nil for success). Safe to call
// more than once — duplicate completion is idempotent, which matters
// because the RequestTracker may fail the same future twice (once inline,
// once from the executor).
func (f *Future) Complete(err error) {
	f.mu.Lock()
	if f.set {
		f.mu.Unlock()
		return
	}
	f.set = true
	f.err = err
	if f.sync != nil {
		f.sync.BeforeComplete()
	}
	f.mu.Unlock()
	close(f.done)
	if f.sync != nil {
		f.sync.AfterComplete(err)
	}
}

// Wait blocks until the future is resolved or ctx is done. A canceled ctx
// returns ctx.Err() rather than being swallowed, so the caller can observe
// its own cancellation even if the future never resolves.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		f.mu.Lock()
		err := f.err
		f.mu.Unlock()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsDone reports whether the future has already been resolved, without
// blocking.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
