package jms

import (
	"fmt"
	"sync/atomic"
)

// DestinationKind distinguishes point-to-point and publish-subscribe
// destinations. Destination type hierarchy and name parsing beyond this
// flag are out of scope: destinations are treated as values with identity
// and a temporary flag.
type DestinationKind int8

const (
	Queue DestinationKind = iota
	Topic
)

// Destination is a value type: identity (Name) plus a Temporary flag. The
// wire-level name grammar belongs to the provider.
type Destination struct {
	Kind      DestinationKind
	Name      string
	Temporary bool
}

func (d Destination) String() string { return d.Name }

// TemporaryDestination augments Destination with the owning connection
// reference and deletion bookkeeping. It lives in the owning Connection's
// temp-destination set until deleteTemporaryDestination or connection
// close.
type TemporaryDestination struct {
	Destination
	Owner ConnectionID

	// consumers is a count of active consumers subscribed to this temp
	// destination on the owning connection; deleteTemporaryDestination
	// refuses while > 0.
	consumers atomic.Int64

	// deleted marks this destination so any late send sees it as gone
	// rather than racing the provider-side destroy.
	deleted atomic.Bool
}

func newTemporaryDestination(owner ConnectionID, kind DestinationKind, name string) *TemporaryDestination {
	return &TemporaryDestination{
		Destination: Destination{Kind: kind, Name: name, Temporary: true},
		Owner:       owner,
	}
}

// tempDestinationName builds the "{connectionId}:{monotonic-counter}" name
// a temporary destination is registered under.
func tempDestinationName(owner ConnectionID, seq uint64) string {
	return fmt.Sprintf("%s:%d", owner, seq)
}

func (t *TemporaryDestination) addConsumer()    { t.consumers.Add(1) }
func (t *TemporaryDestination) removeConsumer() { t.consumers.Add(-1) }
func (t *TemporaryDestination) inUse() bool     { return t.consumers.Load() > 0 }
func (t *TemporaryDestination) isDeleted() bool { return t.deleted.Load() }
