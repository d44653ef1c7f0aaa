package jms

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestTrackerRegisterDeregister(t *testing.T) {
	tr := newRequestTracker()
	f := NewFuture(nil)
	id := tr.register(f)
	require.Equal(t, 1, tr.count())

	tr.deregister(id)
	require.Equal(t, 0, tr.count())
}

func TestRequestTrackerFailAllIsIdempotent(t *testing.T) {
	tr := newRequestTracker()
	f1 := NewFuture(nil)
	f2 := NewFuture(nil)
	tr.register(f1)
	tr.register(f2)

	cause := errors.New("provider lost")
	tr.failAll(cause)
	require.Equal(t, 0, tr.count())

	// Second failAll (simulating the inline + Executor double-fail) must
	// not panic and must not re-fail anything already deregistered by
	// the first call.
	tr.failAll(cause)

	require.ErrorIs(t, f1.Wait(context.Background()), cause)
	require.ErrorIs(t, f2.Wait(context.Background()), cause)
}

func TestRequestTrackerFailAllUnblocksLateRegistration(t *testing.T) {
	tr := newRequestTracker()
	cause := errors.New("provider lost")
	tr.failAll(cause)

	// A future registered after the first failAll (the race window
	// between the inline and executor calls) must still be caught by a
	// second failAll.
	f := NewFuture(nil)
	tr.register(f)
	tr.failAll(cause)

	require.True(t, f.IsDone())
}
