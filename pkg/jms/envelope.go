package jms

import "time"

// AckType enumerates the settlement/acknowledgement kinds a provider
// accepts. The core forwards these without enforcing which kinds are
// valid in which ack mode.
type AckType int8

const (
	Delivered AckType = iota
	Accepted
	Released
	Rejected
	ModifiedFailed
	ModifiedFailedUndeliverable
	Poisoned
)

// Message is the minimal view of a message the core needs: setters for
// the headers it stamps plus the redelivered flag; encoding is out of
// scope. Concrete message implementations are supplied by the
// application/provider layer.
type Message interface {
	// The setters cover the JMS-style headers this core stamps during
	// send: delivery mode, priority, redelivered, destination,
	// timestamp, expiration, message id, user id.
	SetDeliveryMode(persistent bool)
	SetPriority(priority int)
	SetRedelivered(redelivered bool)
	SetDestination(dest Destination)
	SetTimestamp(t time.Time)
	SetExpiration(t time.Time)
	SetMessageID(id string)
	SetUserID(userID string)

	Redelivered() bool
}

// InboundEnvelope wraps an arriving message with routing metadata.
type InboundEnvelope struct {
	Consumer   ConsumerID
	Tx         *TransactionID // nil if not part of a transaction
	Message    Message
	DispatchID uint64

	// ackFunc is the hook the owning session installs when it dispatches
	// this envelope, so Acknowledge settles it through
	// Session.AcknowledgeEnvelope without the caller needing to reach
	// into provider internals.
	ackFunc func(AckType) error
}

// Acknowledge settles this envelope with the given AckType, forwarding to
// whatever hook the owning session installed; it returns nil when no
// hook is installed.
func (e *InboundEnvelope) Acknowledge(ack AckType) error {
	if e.ackFunc == nil {
		return nil
	}
	return e.ackFunc(ack)
}

// OutboundEnvelope wraps a prepared send.
type OutboundEnvelope struct {
	Producer    ProducerID
	Destination Destination
	Message     Message
	DispatchID  uint64
	Presettle   bool
	Async       bool
	Tx          *TransactionID // nil if not part of a transaction
}
