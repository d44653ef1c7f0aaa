package jms

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDSequenceIsMonotonicAndDense(t *testing.T) {
	var seq idSequence
	for i := uint64(1); i <= 5; i++ {
		require.Equal(t, i, seq.nextSeq())
	}
}

func TestConnectionIDsAreUnique(t *testing.T) {
	a := NewConnectionID()
	b := NewConnectionID()
	require.NotEqual(t, a, b)
	require.NotEmpty(t, string(a))
}

func TestCompositeIDStringsIncludeParent(t *testing.T) {
	conn := NewConnectionID()
	sid := SessionID{Conn: conn, Seq: 1}
	pid := ProducerID{Session: sid, Seq: 2}
	require.Contains(t, pid.String(), sid.String())
}
