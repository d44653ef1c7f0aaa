package jms

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTemporaryDestinationInUseTracking(t *testing.T) {
	td := newTemporaryDestination(ConnectionID("c1"), Queue, "c1:1")
	require.False(t, td.inUse())

	td.addConsumer()
	require.True(t, td.inUse())

	td.addConsumer()
	td.removeConsumer()
	require.True(t, td.inUse(), "one of two consumers remains")

	td.removeConsumer()
	require.False(t, td.inUse())
}

func TestTemporaryDestinationNameIncludesOwner(t *testing.T) {
	name := tempDestinationName(ConnectionID("conn-1"), 7)
	require.Equal(t, "conn-1:7", name)
}

func TestTemporaryDestinationDeletedFlag(t *testing.T) {
	td := newTemporaryDestination(ConnectionID("c1"), Topic, "c1:1")
	require.False(t, td.isDeleted())
	td.deleted.Store(true)
	require.True(t, td.isDeleted())
}
