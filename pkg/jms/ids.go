package jms

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// ConnectionID is an opaque, globally unique identifier for a connection.
// Generation strategy is this core's own concern (unlike provider-assigned
// message ids, which this core treats as opaque); minting an opaque unique
// id uses google/uuid rather than hand-rolled randomness.
type ConnectionID string

// NewConnectionID mints a fresh ConnectionID.
func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

// SessionID is (ConnectionID, monotonic sequence).
type SessionID struct {
	Conn ConnectionID
	Seq  uint64
}

func (s SessionID) String() string {
	return fmt.Sprintf("%s:%d", s.Conn, s.Seq)
}

// ProducerID is (SessionID, monotonic sequence).
type ProducerID struct {
	Session SessionID
	Seq     uint64
}

func (p ProducerID) String() string {
	return fmt.Sprintf("%s:%d", p.Session, p.Seq)
}

// ConsumerID is (SessionID, monotonic sequence).
type ConsumerID struct {
	Session SessionID
	Seq     uint64
}

func (c ConsumerID) String() string {
	return fmt.Sprintf("%s:%d", c.Session, c.Seq)
}

// TransactionID is (ConnectionID, monotonic sequence).
type TransactionID struct {
	Conn ConnectionID
	Seq  uint64
}

func (t TransactionID) String() string {
	return fmt.Sprintf("%s:tx:%d", t.Conn, t.Seq)
}

// idSequence is a dense, totally-ordered-within-parent monotonic counter,
// shared by sessions/producers/consumers/transactions.
type idSequence struct {
	next atomic.Uint64
}

func (s *idSequence) nextSeq() uint64 {
	return s.next.Add(1)
}
