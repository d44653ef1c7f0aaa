package jms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFutureCompleteIsIdempotent(t *testing.T) {
	f := NewFuture(nil)
	boom := errors.New("boom")

	f.Complete(boom)
	f.Complete(errors.New("second call must be ignored"))

	err := f.Wait(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestFutureWaitPreservesCancellation(t *testing.T) {
	f := NewFuture(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, f.IsDone())
}

func TestFutureIsDone(t *testing.T) {
	f := NewFuture(nil)
	require.False(t, f.IsDone())
	f.Complete(nil)
	require.True(t, f.IsDone())
}

type recordingSync struct {
	before int
	after  int
	err    error
}

func (s *recordingSync) BeforeComplete()    { s.before++ }
func (s *recordingSync) AfterComplete(err error) { s.after++; s.err = err }

func TestFutureSynchronizationHook(t *testing.T) {
	sync := &recordingSync{}
	f := NewFuture(sync)
	f.Complete(nil)

	require.Equal(t, 1, sync.before)
	require.Equal(t, 1, sync.after)
	require.NoError(t, sync.err)
}

func TestFutureWaitTimesOut(t *testing.T) {
	f := NewFuture(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
