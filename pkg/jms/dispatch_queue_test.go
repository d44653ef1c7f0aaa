package jms

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatchQueuePushAndDrainFIFO(t *testing.T) {
	q := newDispatchQueue()
	e1 := &InboundEnvelope{DispatchID: 1}
	e2 := &InboundEnvelope{DispatchID: 2}

	require.NoError(t, q.Push(e1))
	require.NoError(t, q.Push(e2))
	require.Equal(t, 2, q.Len())

	drained := q.Drain()
	require.Equal(t, []*InboundEnvelope{e1, e2}, drained)
	require.Equal(t, 0, q.Len())
}

func TestDispatchQueueOverflowReturnsError(t *testing.T) {
	q := newDispatchQueue()
	for i := 0; i < dispatchQueueCapacity; i++ {
		require.NoError(t, q.Push(&InboundEnvelope{DispatchID: uint64(i)}))
	}
	err := q.Push(&InboundEnvelope{DispatchID: dispatchQueueCapacity})
	require.Error(t, err)
	require.Equal(t, dispatchQueueCapacity, q.Len())
}

func TestDispatchQueueDrainEmpty(t *testing.T) {
	q := newDispatchQueue()
	require.Nil(t, q.Drain())
}
